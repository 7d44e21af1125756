// Package format renders change events into notification messages.
package format

import (
	"strings"

	"feedwatch/internal/model"
)

const biliImageHost = "https://i1.hdslb.com"

// Format renders ev for account. ok is false for events that are log-only
// (unknown content kinds, live ended).
func Format(ev model.ChangeEvent, account model.Account) (model.Message, bool) {
	var (
		msg model.Message
		ok  bool
	)
	switch ev.Kind {
	case model.EventProfileChanged:
		if ev.Profile != nil {
			msg, ok = profile(ev.Provider, *ev.Profile)
		}
	case model.EventNewContent:
		if ev.Content != nil {
			msg, ok = content(ev.Provider, *ev.Content)
		}
	case model.EventLiveStarted:
		if ev.Live != nil {
			msg, ok = live(ev.Provider, *ev.Live, account)
		}
	}
	if !ok {
		return model.Message{}, false
	}
	if account.ShowSlug && account.Slug != "" {
		msg.Title = account.Slug + " · " + msg.Title
	}
	return msg, true
}

func platform(p model.Provider) string {
	switch p {
	case model.ProviderBiliBio, model.ProviderBiliMblog:
		return "B站"
	case model.ProviderWeibo:
		return "微博"
	case model.ProviderDouyin, model.ProviderDouyinLive:
		return "抖音"
	}
	return string(p)
}

func profileURL(p model.Provider, uid string) string {
	switch p {
	case model.ProviderBiliBio, model.ProviderBiliMblog:
		return "https://space.bilibili.com/" + uid + "/dynamic"
	case model.ProviderWeibo:
		return "https://weibo.com/" + uid
	case model.ProviderDouyin, model.ProviderDouyinLive:
		return "https://www.douyin.com/user/" + uid
	}
	return ""
}

// imageURL turns a stored image reference into a clickable link. Bilibili
// avatars are stored as CDN paths since the host rotates.
func imageURL(p model.Provider, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if p == model.ProviderBiliBio || p == model.ProviderBiliMblog {
		return biliImageHost + "/" + strings.TrimPrefix(ref, "/")
	}
	return ref
}

func profile(p model.Provider, c model.ProfileChange) (model.Message, bool) {
	name := platform(p)
	switch c.Field {
	case model.FieldNickname:
		return model.Message{
			Title: "更新" + name + "昵称",
			Body:  "新：" + c.NewValue + "\n旧：" + c.OldValue,
			URL:   profileURL(p, c.UID),
		}, true
	case model.FieldSignature:
		return model.Message{
			Title: "更新" + name + "签名",
			Body:  "新：" + c.NewValue + "\n旧：" + c.OldValue,
			URL:   profileURL(p, c.UID),
		}, true
	case model.FieldAvatar:
		old := imageURL(p, c.OldValue)
		return model.Message{
			Title: "更新" + name + "头像",
			Body:  "旧：" + old + "\n点击卡片查看",
			URL:   old,
		}, true
	case model.FieldCover:
		old := imageURL(p, c.OldValue)
		return model.Message{
			Title: "更新" + name + "封面",
			Body:  "旧：" + old + "\n点击卡片查看",
			URL:   old,
		}, true
	}
	return model.Message{}, false
}

func content(p model.Provider, it model.ContentItem) (model.Message, bool) {
	switch p {
	case model.ProviderBiliMblog, model.ProviderBiliBio:
		return biliContent(it)
	case model.ProviderWeibo:
		return weiboContent(it)
	case model.ProviderDouyin:
		return model.Message{
			Title: "发布抖音视频",
			Body:  strings.TrimSpace(it.Text) + "\n\n视频链接：" + it.Link,
			URL:   it.Link,
		}, true
	}
	return model.Message{}, false
}

func biliContent(it model.ContentItem) (model.Message, bool) {
	text := strings.TrimSpace(it.Text)
	switch it.Kind {
	case model.KindRepost:
		label := "动态"
		var origin string
		if it.Origin != nil {
			if it.Origin.Label != "" {
				label = it.Origin.Label
			}
			origin = "\n\n" + biliOrigin(*it.Origin)
		}
		return model.Message{
			Title: "转发B站" + label,
			Body:  text + "\n\n动态链接：" + it.Link + origin,
			URL:   it.Link,
		}, true
	case model.KindGallery:
		return model.Message{
			Title: "更新B站相册",
			Body:  text + "\n\n动态链接：" + it.Link,
			URL:   it.Link,
		}, true
	case model.KindText, model.KindBookmark:
		return model.Message{
			Title: "更新B站动态",
			Body:  text,
			URL:   it.Link,
		}, true
	case model.KindVideo:
		return model.Message{
			Title: "发布B站视频：" + it.Title,
			Body:  it.Title + "\n" + text + "\n" + it.Desc + "\n\n视频链接：" + it.Link,
			URL:   it.Link,
		}, true
	case model.KindArticle:
		return model.Message{
			Title: "发布B站专栏：" + it.Title,
			Body:  it.Title + "\n\n" + it.Desc + "\n\n专栏链接：" + it.Link,
			URL:   it.Link,
		}, true
	case model.KindAudio:
		return model.Message{
			Title: "发布B站音频：" + it.Title,
			Body:  it.Title + "\n\n音频链接：" + it.Link,
			URL:   it.Link,
		}, true
	}
	return model.Message{}, false
}

func biliOrigin(o model.Origin) string {
	head := "@" + o.Author + "："
	switch o.Kind {
	case model.KindArticle:
		return head + o.Title + "\n\n" + o.Text
	case model.KindVideo:
		return head + o.Title + "\n\n" + o.Text + "\n\n" + o.Link
	default:
		return head + o.Text
	}
}

func weiboContent(it model.ContentItem) (model.Message, bool) {
	var b strings.Builder
	if it.Kind == model.KindRepost {
		b.WriteString("转发：")
	} else {
		b.WriteString("动态：")
	}
	b.WriteString(it.Text)
	if it.Kind == model.KindRepost && it.Origin != nil {
		b.WriteString("\n\n@" + it.Origin.Author + "：" + it.Origin.Text)
	}
	return model.Message{
		Title: "发布微博动态",
		Body:  b.String(),
		URL:   it.Link,
	}, true
}

func live(p model.Provider, l model.LiveState, account model.Account) (model.Message, bool) {
	if p != model.ProviderBiliBio && p != model.ProviderDouyinLive {
		return model.Message{}, false
	}
	return model.Message{
		Title: platform(p) + "开播：" + l.Title,
		Body:  "你关注的" + account.Slug + "开播了，去看看叭：" + l.URL,
		URL:   l.URL,
	}, true
}
