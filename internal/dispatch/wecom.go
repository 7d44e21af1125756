package dispatch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultWeComBaseURL = "https://qyapi.weixin.qq.com"
	// Refresh this long before the gateway says the token expires.
	weComTokenMargin = 5 * time.Minute
)

// errcodes meaning the access token is invalid, expired or missing.
var weComAuthCodes = []int{40014, 42001, 41001}

// WeComConfig configures the WeCom application message gateway.
type WeComConfig struct {
	CorpID  string
	Secret  string
	AgentID int
	ToUser  string
	BaseURL string
	Timeout time.Duration
}

// WeCom sends textcard application messages.
type WeCom struct {
	cfg    WeComConfig
	http   *resty.Client
	tokens *TokenCache
	log    logx.Logger
}

func NewWeCom(cfg WeComConfig, log logx.Logger) *WeCom {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeComBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ToUser == "" {
		cfg.ToUser = "@all"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &WeCom{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.Timeout).SetBaseURL(cfg.BaseURL),
		log:  log,
	}
	w.tokens = NewTokenCache(w.fetchToken, weComTokenMargin)
	return w
}

func (w *WeCom) Name() string { return "wecom" }

type weComResult struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (w *WeCom) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var res weComResult
	resp, err := w.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"corpid": w.cfg.CorpID, "corpsecret": w.cfg.Secret}).
		SetResult(&res).
		Get("/cgi-bin/gettoken")
	if err != nil {
		return "", 0, fmt.Errorf("%w: gettoken: %w", ErrDispatch, err)
	}
	if resp.IsError() {
		return "", 0, fmt.Errorf("%w: gettoken: status %d", ErrDispatch, resp.StatusCode())
	}
	if res.ErrCode != 0 || res.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: %w: gettoken errcode %d: %s", ErrDispatch, ErrAuth, res.ErrCode, res.ErrMsg)
	}
	ttl := time.Duration(res.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	w.log.Debug("wecom token refreshed", logx.Duration("ttl", ttl))
	return res.AccessToken, ttl, nil
}

type weComTextcard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type weComMessage struct {
	ToUser                 string        `json:"touser"`
	MsgType                string        `json:"msgtype"`
	AgentID                int           `json:"agentid"`
	Textcard               weComTextcard `json:"textcard"`
	EnableIDTrans          int           `json:"enable_id_trans"`
	EnableDuplicateCheck   int           `json:"enable_duplicate_check"`
	DuplicateCheckInterval int           `json:"duplicate_check_interval"`
}

func (w *WeCom) Dispatch(ctx context.Context, msg model.Message) error {
	token, err := w.tokens.Get(ctx)
	if err != nil {
		return err
	}
	body := weComMessage{
		ToUser:                 w.cfg.ToUser,
		MsgType:                "textcard",
		AgentID:                w.cfg.AgentID,
		Textcard:               weComTextcard{Title: msg.Title, Description: msg.Body, URL: msg.URL},
		DuplicateCheckInterval: 600,
	}
	var res weComResult
	resp, err := w.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(body).
		SetResult(&res).
		Post("/cgi-bin/message/send")
	if err != nil {
		return fmt.Errorf("%w: send: %w", ErrDispatch, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: send: status %d", ErrDispatch, resp.StatusCode())
	}
	if res.ErrCode == 0 {
		return nil
	}
	if slices.Contains(weComAuthCodes, res.ErrCode) {
		w.tokens.Invalidate()
		return fmt.Errorf("%w: %w: errcode %d: %s", ErrDispatch, ErrAuth, res.ErrCode, res.ErrMsg)
	}
	return fmt.Errorf("%w: errcode %d: %s", ErrDispatch, res.ErrCode, res.ErrMsg)
}
