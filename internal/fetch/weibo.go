package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

const weiboTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Weibo fetches the status list of a Weibo account. The profile is taken from
// the first status, which saves a request.
type Weibo struct {
	http *resty.Client
	base Endpoints
	log  logx.Logger
	now  func() time.Time
}

func (f *Weibo) Provider() model.Provider       { return model.ProviderWeibo }
func (f *Weibo) Enabled(a model.Account) bool { return a.WeiboID != "" }

// flag accepts 0/1, true/false or a missing value.
type flag bool

func (b *flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "1", `"1"`:
		*b = true
	default:
		*b = false
	}
	return nil
}

type weiboUser struct {
	ID              json.Number `json:"id"`
	ScreenName      string      `json:"screen_name"`
	Description     string      `json:"description"`
	AvatarHD        string      `json:"avatar_hd"`
	CoverImagePhone string      `json:"cover_image_phone"`
}

type weiboStatus struct {
	CreatedAt       string       `json:"created_at"`
	Bid             string       `json:"bid"`
	Text            string       `json:"text"`
	RawText         string       `json:"raw_text"`
	IsLongText      bool         `json:"isLongText"`
	IsTop           flag         `json:"isTop"`
	User            *weiboUser   `json:"user"`
	RetweetedStatus *weiboStatus `json:"retweeted_status"`
}

type weiboIndex struct {
	OK   int `json:"ok"`
	Data struct {
		Cards []struct {
			CardType int          `json:"card_type"`
			Mblog    *weiboStatus `json:"mblog"`
		} `json:"cards"`
	} `json:"data"`
}

type weiboExtend struct {
	OK   int `json:"ok"`
	Data struct {
		LongTextContent string `json:"longTextContent"`
	} `json:"data"`
}

func (f *Weibo) Fetch(ctx context.Context, a model.Account) (*model.Raw, error) {
	p := f.Provider()
	// 107603 + uid is the status container.
	query := map[string]string{
		"type":        "uid",
		"value":       a.WeiboID,
		"containerid": "107603" + a.WeiboID,
	}
	var idx weiboIndex
	if err := getJSON(ctx, f.http, p, f.base.Weibo+"/api/container/getIndex", query, &idx); err != nil {
		return nil, err
	}
	if idx.OK != 1 {
		return nil, malformed(p, "ok=%d", idx.OK)
	}

	var statuses []*weiboStatus
	for _, c := range idx.Data.Cards {
		// card_type 9 is a regular status; the rest are banners and the like.
		if c.CardType == 9 && c.Mblog != nil {
			statuses = append(statuses, c.Mblog)
		}
	}
	if len(statuses) == 0 {
		return nil, malformed(p, "no statuses")
	}
	u := statuses[0].User
	if u == nil {
		return nil, malformed(p, "status without user")
	}
	uid := weiboUID(u.ID)

	raw := &model.Raw{
		Provider:  p,
		ScrapedAt: f.now(),
		User: &model.Profile{
			UID:       uid,
			Nickname:  u.ScreenName,
			Signature: u.Description,
			Avatar:    u.AvatarHD,
			Cover:     u.CoverImagePhone,
		},
	}

	for i, s := range statuses {
		ts, err := time.Parse(weiboTimeLayout, s.CreatedAt)
		if err != nil {
			return nil, malformed(p, "created_at %q: %v", s.CreatedAt, err)
		}
		if s.Bid == "" {
			return nil, malformed(p, "status without bid")
		}
		it := model.ContentItem{
			ID:            s.Bid,
			Kind:          model.KindText,
			TimestampUnix: ts.UnixMilli(),
			Text:          statusText(s),
			Link:          "https://weibo.com/" + uid + "/" + s.Bid,
		}
		// Only the candidates for "latest" are worth the extra request.
		if s.IsLongText && i < 2 {
			it.Text = f.longText(ctx, s.Bid, it.Text)
		}
		if rt := s.RetweetedStatus; rt != nil {
			it.Kind = model.KindRepost
			origin := &model.Origin{Kind: model.KindText, Text: stripHTML(rt.Text)}
			if rt.User != nil {
				origin.Author = rt.User.ScreenName
			}
			it.Origin = origin
		}
		raw.Items = append(raw.Items, model.RawItem{ContentItem: it, Pinned: bool(s.IsTop)})
	}
	return raw, nil
}

func statusText(s *weiboStatus) string {
	if s.RawText != "" {
		return s.RawText
	}
	return stripHTML(s.Text)
}

// longText fetches the full text of a truncated status, falling back to the
// truncated text on any failure.
func (f *Weibo) longText(ctx context.Context, bid, fallback string) string {
	var ext weiboExtend
	err := getJSON(ctx, f.http, f.Provider(), f.base.Weibo+"/statuses/extend", map[string]string{"id": bid}, &ext)
	if err != nil || ext.OK != 1 || ext.Data.LongTextContent == "" {
		f.log.Debug("weibo extended text unavailable", logx.String("bid", bid), logx.Err(err))
		return fallback
	}
	return stripHTML(ext.Data.LongTextContent)
}

// weiboUID normalizes a numeric user id that may arrive as a float.
func weiboUID(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return n.String()
}
