package fetch

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"feedwatch/internal/model"
)

// Douyin fetches a user's post list from the server-rendered user page.
type Douyin struct {
	http *resty.Client
	base Endpoints
	now  func() time.Time
}

func (f *Douyin) Provider() model.Provider       { return model.ProviderDouyin }
func (f *Douyin) Enabled(a model.Account) bool { return a.DouyinID != "" }

// douyinUserBlock is the part of RENDER_DATA that carries the profile and the
// post list. The surrounding keys are build-specific, so blocks are matched
// by shape.
type douyinUserBlock struct {
	User *struct {
		User *struct {
			UID       string `json:"uid"`
			SecUID    string `json:"secUid"`
			Nickname  string `json:"nickname"`
			Desc      string `json:"desc"`
			AvatarURL string `json:"avatarUrl"`
		} `json:"user"`
	} `json:"user"`
	Post *struct {
		Data []struct {
			AwemeID    string `json:"awemeId"`
			Desc       string `json:"desc"`
			CreateTime int64  `json:"createTime"`
			IsTop      flag   `json:"isTop"`
		} `json:"data"`
	} `json:"post"`
}

func (f *Douyin) Fetch(ctx context.Context, a model.Account) (*model.Raw, error) {
	p := f.Provider()
	doc, err := getDocument(ctx, f.http, p, f.base.Douyin+"/user/"+url.PathEscape(a.DouyinID))
	if err != nil {
		return nil, err
	}
	sel := doc.Find("#RENDER_DATA")
	if sel.Length() == 0 {
		return nil, malformed(p, "RENDER_DATA not found")
	}
	decoded, err := url.PathUnescape(strings.TrimSpace(sel.First().Text()))
	if err != nil {
		return nil, malformed(p, "RENDER_DATA unescape: %v", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(decoded), &top); err != nil {
		return nil, malformed(p, "RENDER_DATA decode: %v", err)
	}
	block, ok := findDouyinUserBlock(top)
	if !ok {
		return nil, malformed(p, "no user/post block in RENDER_DATA")
	}

	u := block.User.User
	raw := &model.Raw{
		Provider:  p,
		ScrapedAt: f.now(),
		User: &model.Profile{
			UID:       firstNonEmpty(u.SecUID, u.UID, a.DouyinID),
			Nickname:  u.Nickname,
			Signature: u.Desc,
			Avatar:    u.AvatarURL,
		},
	}
	for _, post := range block.Post.Data {
		if post.AwemeID == "" {
			continue
		}
		raw.Items = append(raw.Items, model.RawItem{
			ContentItem: model.ContentItem{
				ID:            post.AwemeID,
				Kind:          model.KindVideo,
				TimestampUnix: post.CreateTime * 1000,
				Text:          post.Desc,
				Link:          "https://www.douyin.com/video/" + post.AwemeID,
			},
			Pinned: bool(post.IsTop),
		})
	}
	return raw, nil
}

func findDouyinUserBlock(top map[string]json.RawMessage) (douyinUserBlock, bool) {
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var b douyinUserBlock
		if err := json.Unmarshal(top[k], &b); err != nil {
			continue
		}
		if b.User != nil && b.User.User != nil && b.Post != nil {
			return b, true
		}
	}
	return douyinUserBlock{}, false
}

// DouyinLive fetches a live room from the mobile reflow page.
type DouyinLive struct {
	http *resty.Client
	base Endpoints
	now  func() time.Time
}

func (f *DouyinLive) Provider() model.Provider       { return model.ProviderDouyinLive }
func (f *DouyinLive) Enabled(a model.Account) bool { return a.DouyinLiveID != "" }

var initPropsRe = regexp.MustCompile(`(?m)^window\.__INIT_PROPS__ ?= ?(\{.*)`)

type douyinRoom struct {
	IDStr      string `json:"id_str"`
	Status     int    `json:"status"`
	Title      string `json:"title"`
	CreateTime int64  `json:"create_time"`
	Cover      *struct {
		URLList []string `json:"url_list"`
	} `json:"cover"`
	Owner *struct {
		Nickname string `json:"nickname"`
	} `json:"owner"`
}

// douyinRoomStatusLive is the reflow room status while streaming.
const douyinRoomStatusLive = 2

func (f *DouyinLive) Fetch(ctx context.Context, a model.Account) (*model.Raw, error) {
	p := f.Provider()
	reflow := f.base.DouyinLive + "/webcast/reflow/" + url.PathEscape(a.DouyinLiveID)
	doc, err := getDocument(ctx, f.http, p, reflow)
	if err != nil {
		return nil, err
	}
	props, ok := initProps(doc)
	if !ok {
		return nil, malformed(p, "__INIT_PROPS__ not found")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(props), &top); err != nil {
		return nil, malformed(p, "__INIT_PROPS__ decode: %v", err)
	}
	room, ok := findDouyinRoom(top)
	if !ok {
		return nil, malformed(p, "no room in __INIT_PROPS__")
	}

	live := &model.RawLive{
		Status: model.NotLive,
		RoomID: room.IDStr,
		Title:  room.Title,
		URL:    reflow,
	}
	if room.Cover != nil && len(room.Cover.URLList) > 0 {
		live.Cover = room.Cover.URLList[0]
	}
	if room.Status == douyinRoomStatusLive {
		live.Status = model.Live
		live.StartedAtUnix = room.CreateTime * 1000
	}
	return &model.Raw{Provider: p, ScrapedAt: f.now(), Live: live}, nil
}

func initProps(doc *goquery.Document) (string, bool) {
	var out string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := initPropsRe.FindStringSubmatch(s.Text())
		if len(m) < 2 {
			return true
		}
		out = strings.TrimSuffix(strings.TrimSpace(m[1]), ";")
		return false
	})
	return out, out != ""
}

func findDouyinRoom(top map[string]json.RawMessage) (douyinRoom, bool) {
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var b struct {
			Room *douyinRoom `json:"room"`
		}
		if err := json.Unmarshal(top[k], &b); err != nil {
			continue
		}
		if b.Room != nil && b.Room.IDStr != "" {
			return *b.Room, true
		}
	}
	return douyinRoom{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
