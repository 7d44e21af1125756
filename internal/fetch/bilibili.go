package fetch

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

// BiliBio fetches the bilibili space profile and, for accounts with a live
// room, the live state including the room_init detail.
type BiliBio struct {
	clients *biliClients
	base    Endpoints
	log     logx.Logger
	now     func() time.Time
}

func (f *BiliBio) Provider() model.Provider       { return model.ProviderBiliBio }
func (f *BiliBio) Enabled(a model.Account) bool { return a.BiliID != "" }

type biliEnvelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type biliSpaceInfo struct {
	Mid      int64  `json:"mid"`
	Name     string `json:"name"`
	Sign     string `json:"sign"`
	Face     string `json:"face"`
	LiveRoom *struct {
		LiveStatus int    `json:"liveStatus"`
		RoomID     int64  `json:"roomid"`
		URL        string `json:"url"`
		Title      string `json:"title"`
		Cover      string `json:"cover"`
	} `json:"live_room"`
}

type biliRoomInit struct {
	LiveStatus int   `json:"live_status"`
	LiveTime   int64 `json:"live_time"`
}

// decodeBili unwraps the {code, data} envelope shared by every bilibili API.
func decodeBili(p model.Provider, env biliEnvelope, out any) error {
	if env.Code == nil {
		return malformed(p, "missing code")
	}
	if *env.Code != 0 {
		return malformed(p, "code %d: %s", *env.Code, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return malformed(p, "missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return malformed(p, "decode data: %v", err)
	}
	return nil
}

func (f *BiliBio) Fetch(ctx context.Context, a model.Account) (*model.Raw, error) {
	p := f.Provider()
	c := f.clients.pick()

	var env biliEnvelope
	if err := getJSON(ctx, c, p, f.base.BiliAPI+"/x/space/acc/info", map[string]string{"mid": a.BiliID}, &env); err != nil {
		return nil, err
	}
	var info biliSpaceInfo
	if err := decodeBili(p, env, &info); err != nil {
		return nil, err
	}
	// The space API occasionally answers with a placeholder account.
	if info.Name == "bilibili" || info.Name == "" {
		return nil, malformed(p, "placeholder profile %q", info.Name)
	}

	raw := &model.Raw{
		Provider:  p,
		ScrapedAt: f.now(),
		User: &model.Profile{
			UID:       strconv.FormatInt(info.Mid, 10),
			Nickname:  info.Name,
			Signature: info.Sign,
			Avatar:    avatarPath(info.Face),
		},
	}

	if a.BiliLiveID == "" {
		return raw, nil
	}
	live := &model.RawLive{Status: model.NotLive, RoomID: a.BiliLiveID}
	raw.Live = live
	room := info.LiveRoom
	if room == nil {
		return raw, nil
	}
	if room.RoomID != 0 {
		live.RoomID = strconv.FormatInt(room.RoomID, 10)
	}
	live.Title = room.Title
	live.Cover = room.Cover
	live.URL = room.URL
	if room.LiveStatus != 1 {
		return raw, nil
	}

	live.Status = model.Live
	live.DetailRequired = true
	detail, err := f.roomInit(ctx, c, live.RoomID)
	if err != nil {
		live.DetailErr = err
		f.log.Warn("room_init failed", logx.String("room", live.RoomID), logx.Err(err))
		return raw, nil
	}
	live.Detail = detail
	return raw, nil
}

func (f *BiliBio) roomInit(ctx context.Context, c *resty.Client, roomID string) (*model.LiveDetail, error) {
	p := f.Provider()
	var env biliEnvelope
	if err := getJSON(ctx, c, p, f.base.BiliLive+"/room/v1/Room/room_init", map[string]string{"id": roomID}, &env); err != nil {
		return nil, err
	}
	var ri biliRoomInit
	if err := decodeBili(p, env, &ri); err != nil {
		return nil, err
	}
	// live_time is a large negative sentinel until the stream has started.
	if ri.LiveStatus != 1 || ri.LiveTime <= 0 {
		return &model.LiveDetail{Status: model.NotLive}, nil
	}
	return &model.LiveDetail{Status: model.Live, StartedAtUnix: ri.LiveTime * 1000}, nil
}

// avatarPath keeps only the path of a CDN image URL since the host rotates.
func avatarPath(face string) string {
	if face == "" {
		return ""
	}
	u, err := url.Parse(face)
	if err != nil || u.Path == "" {
		return face
	}
	return u.Path
}

// BiliMblog fetches the bilibili dynamics feed.
type BiliMblog struct {
	clients *biliClients
	base    Endpoints
	log     logx.Logger
	now     func() time.Time
}

func (f *BiliMblog) Provider() model.Provider       { return model.ProviderBiliMblog }
func (f *BiliMblog) Enabled(a model.Account) bool { return a.BiliID != "" }

type biliHistory struct {
	Cards []struct {
		Desc struct {
			Type         int    `json:"type"`
			Rid          int64  `json:"rid"`
			DynamicIDStr string `json:"dynamic_id_str"`
			Timestamp    int64  `json:"timestamp"`
		} `json:"desc"`
		Card string `json:"card"`
	} `json:"cards"`
}

// biliCard is the union of the per-type card bodies we read.
type biliCard struct {
	Item *struct {
		Content     string            `json:"content"`
		Description string            `json:"description"`
		Pictures    []json.RawMessage `json:"pictures"`
	} `json:"item"`
	Origin    string `json:"origin"`
	Title     string `json:"title"`
	Dynamic   string `json:"dynamic"`
	Desc      string `json:"desc"`
	Summary   string `json:"summary"`
	ShortLink string `json:"short_link"`
	Intro     string `json:"intro"`
	Vest      *struct {
		Content string `json:"content"`
	} `json:"vest"`
}

type biliOrigin struct {
	OriginImageURLs []string `json:"origin_image_urls"`
	Author          *struct {
		Name string `json:"name"`
	} `json:"author"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Item    *struct {
		Description string            `json:"description"`
		Pictures    []json.RawMessage `json:"pictures"`
		Content     string            `json:"content"`
	} `json:"item"`
	User *struct {
		Name  string `json:"name"`
		Uname string `json:"uname"`
	} `json:"user"`
	Duration int `json:"duration"`
	Videos   int `json:"videos"`
	Owner    *struct {
		Name string `json:"name"`
	} `json:"owner"`
	Desc      string `json:"desc"`
	ShortLink string `json:"short_link"`
}

func (f *BiliMblog) Fetch(ctx context.Context, a model.Account) (*model.Raw, error) {
	p := f.Provider()
	var env biliEnvelope
	query := map[string]string{
		"host_uid":          a.BiliID,
		"offset_dynamic_id": "0",
		"need_top":          "0",
		"platform":          "web",
	}
	if err := getJSON(ctx, f.clients.pick(), p, f.base.BiliVC+"/dynamic_svr/v1/dynamic_svr/space_history", query, &env); err != nil {
		return nil, err
	}
	var hist biliHistory
	if err := decodeBili(p, env, &hist); err != nil {
		return nil, err
	}
	if len(hist.Cards) == 0 {
		return nil, malformed(p, "empty card list")
	}

	raw := &model.Raw{Provider: p, ScrapedAt: f.now()}
	for _, c := range hist.Cards {
		d := c.Desc
		if d.DynamicIDStr == "" {
			return nil, malformed(p, "card without dynamic id")
		}
		it := model.ContentItem{
			ID:            d.DynamicIDStr,
			TypeCode:      d.Type,
			TimestampUnix: d.Timestamp * 1000,
			Link:          "https://t.bilibili.com/" + d.DynamicIDStr,
		}
		var card biliCard
		if err := json.Unmarshal([]byte(c.Card), &card); err != nil {
			f.log.Debug("card body undecodable", logx.String("id", it.ID), logx.Int("type", d.Type), logx.Err(err))
			it.Kind = model.KindUnknown
		} else {
			classifyBili(&it, d.Rid, card)
		}
		raw.Items = append(raw.Items, model.RawItem{ContentItem: it})
	}
	return raw, nil
}

func classifyBili(it *model.ContentItem, rid int64, card biliCard) {
	switch it.TypeCode {
	case 1:
		it.Kind = model.KindRepost
		if card.Item != nil {
			it.Text = strings.TrimSpace(card.Item.Content)
		}
		it.Origin = biliRepostOrigin(card.Origin)
	case 2:
		it.Kind = model.KindText
		if card.Item != nil {
			it.Text = card.Item.Description
			if len(card.Item.Pictures) > 0 {
				it.Kind = model.KindGallery
			}
		}
	case 4:
		it.Kind = model.KindText
		if card.Item != nil {
			it.Text = strings.TrimSpace(card.Item.Content)
		}
	case 8:
		it.Kind = model.KindVideo
		it.Title = card.Title
		it.Text = card.Dynamic
		it.Desc = card.Desc
		if card.ShortLink != "" {
			it.Link = card.ShortLink
		}
	case 64:
		it.Kind = model.KindArticle
		it.Title = card.Title
		it.Desc = card.Summary
		it.Link = "https://www.bilibili.com/read/cv" + strconv.FormatInt(rid, 10)
	case 256:
		it.Kind = model.KindAudio
		it.Title = card.Title
		it.Desc = card.Intro
		it.Link = "https://www.bilibili.com/audio/au" + strconv.FormatInt(rid, 10)
	case 2048:
		it.Kind = model.KindBookmark
		if card.Vest != nil {
			it.Text = strings.TrimSpace(card.Vest.Content)
		}
	default:
		it.Kind = model.KindUnknown
	}
}

func biliRepostOrigin(s string) *model.Origin {
	if s == "" {
		return nil
	}
	var o biliOrigin
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return &model.Origin{Kind: model.KindUnknown, Label: "动态"}
	}
	switch {
	case len(o.OriginImageURLs) > 0:
		out := &model.Origin{Kind: model.KindArticle, Label: "专栏", Title: o.Title, Text: o.Summary}
		if o.Author != nil {
			out.Author = o.Author.Name
		}
		return out
	case o.Item != nil && o.Item.Description != "" && len(o.Item.Pictures) > 0:
		out := &model.Origin{Kind: model.KindGallery, Label: "动态", Text: o.Item.Description}
		if o.User != nil {
			out.Author = o.User.Name
		}
		return out
	case o.Duration > 0 && o.Videos > 0:
		out := &model.Origin{Kind: model.KindVideo, Label: "视频", Title: o.Title, Text: o.Desc, Link: o.ShortLink}
		if o.Owner != nil {
			out.Author = o.Owner.Name
		}
		return out
	default:
		out := &model.Origin{Kind: model.KindText, Label: "动态"}
		if o.Item != nil {
			out.Text = o.Item.Content
		}
		if o.User != nil {
			out.Author = o.User.Uname
		}
		return out
	}
}
