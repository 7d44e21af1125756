// Package fetch retrieves provider payloads and normalizes them into
// model.Raw values. Every response is decoded against an explicit schema;
// anything that does not fit is reported as ErrMalformedPayload.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

var (
	// ErrFetch covers transport failures, timeouts and non-2xx statuses.
	ErrFetch = errors.New("fetch failed")
	// ErrMalformedPayload means the response arrived but did not match the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Fetcher retrieves one provider's view of an account.
type Fetcher interface {
	Provider() model.Provider
	Enabled(a model.Account) bool
	Fetch(ctx context.Context, a model.Account) (*model.Raw, error)
}

// Cookies are optional per-site session cookies.
type Cookies struct {
	Bilibili string
	Douyin   string
	Weibo    string
}

// Endpoints are the base URLs of each upstream. Tests point them at httptest servers.
type Endpoints struct {
	BiliAPI    string
	BiliLive   string
	BiliVC     string
	Weibo      string
	Douyin     string
	DouyinLive string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		BiliAPI:    "https://api.bilibili.com",
		BiliLive:   "https://api.live.bilibili.com",
		BiliVC:     "https://api.vc.bilibili.com",
		Weibo:      "https://m.weibo.cn",
		Douyin:     "https://www.douyin.com",
		DouyinLive: "https://webcast.amemv.com",
	}
}

const (
	DefaultDesktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/95.0.4638.69 Safari/537.36"
	DefaultMobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1"
	DefaultTimeout   = 15 * time.Second
)

// Config configures every fetcher.
type Config struct {
	Timeout   time.Duration
	DesktopUA string
	MobileUA  string
	// RateLimitProxy is used for about half of the bilibili requests.
	RateLimitProxy string
	Cookies        Cookies
	Endpoints      Endpoints
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DesktopUA == "" {
		c.DesktopUA = DefaultDesktopUA
	}
	if c.MobileUA == "" {
		c.MobileUA = DefaultMobileUA
	}
	def := DefaultEndpoints()
	e := &c.Endpoints
	orDefault(&e.BiliAPI, def.BiliAPI)
	orDefault(&e.BiliLive, def.BiliLive)
	orDefault(&e.BiliVC, def.BiliVC)
	orDefault(&e.Weibo, def.Weibo)
	orDefault(&e.Douyin, def.Douyin)
	orDefault(&e.DouyinLive, def.DouyinLive)
	return c
}

func orDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// New builds every fetcher in provider processing order.
func New(cfg Config, log logx.Logger) []Fetcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	bili := newBiliClients(cfg)
	return []Fetcher{
		&BiliBio{clients: bili, base: cfg.Endpoints, log: log.With(logx.String("provider", string(model.ProviderBiliBio))), now: time.Now},
		&BiliMblog{clients: bili, base: cfg.Endpoints, log: log.With(logx.String("provider", string(model.ProviderBiliMblog))), now: time.Now},
		&DouyinLive{http: newClient(cfg.Timeout, cfg.MobileUA, cfg.Cookies.Douyin, ""), base: cfg.Endpoints, now: time.Now},
		&Douyin{http: newClient(cfg.Timeout, cfg.DesktopUA, cfg.Cookies.Douyin, ""), base: cfg.Endpoints, now: time.Now},
		&Weibo{http: newClient(cfg.Timeout, cfg.DesktopUA, cfg.Cookies.Weibo, ""), base: cfg.Endpoints, log: log.With(logx.String("provider", string(model.ProviderWeibo))), now: time.Now},
	}
}

func fetchErr(p model.Provider, err error) error {
	return fmt.Errorf("%s: %w: %w", p, ErrFetch, err)
}

func malformed(p model.Provider, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", p, ErrMalformedPayload, fmt.Sprintf(format, args...))
}
