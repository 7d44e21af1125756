// Package throttle decides whether a detected change is still timely enough
// to notify about.
package throttle

import (
	"time"

	"feedwatch/internal/model"
)

// Throttle keys. Each one has its own window.
const (
	KeyBilibili     = "bilibili"
	KeyBilibiliLive = "bilibili_live"
	KeyDouyin       = "douyin"
	KeyDouyinLive   = "douyin_live"
	KeyWeibo        = "weibo"
)

// Windows maps a throttle key to the maximum content age that still notifies.
type Windows map[string]time.Duration

// DefaultWindows returns the stock windows.
func DefaultWindows() Windows {
	return Windows{
		KeyBilibili:     65 * time.Minute,
		KeyBilibiliLive: 65 * time.Minute,
		KeyDouyin:       24 * time.Hour,
		KeyDouyinLive:   20 * time.Minute,
		KeyWeibo:        time.Hour,
	}
}

// Key returns the throttle key for ev, or "" for events that are never
// throttled by age (profile changes) or never notify (live ended).
func Key(ev model.ChangeEvent) string {
	switch ev.Kind {
	case model.EventNewContent:
		switch ev.Provider {
		case model.ProviderBiliMblog:
			return KeyBilibili
		case model.ProviderDouyin:
			return KeyDouyin
		case model.ProviderWeibo:
			return KeyWeibo
		}
	case model.EventLiveStarted:
		switch ev.Provider {
		case model.ProviderBiliBio:
			return KeyBilibiliLive
		case model.ProviderDouyinLive:
			return KeyDouyinLive
		}
	}
	return ""
}

// For returns the window configured for ev.
func (w Windows) For(ev model.ChangeEvent) time.Duration {
	return w[Key(ev)]
}

// ShouldNotify reports whether ev may notify at now.
//
// Profile changes always pass. New content and live starts pass while their
// age is strictly below window. Live ends never notify.
func ShouldNotify(ev model.ChangeEvent, now time.Time, window time.Duration) bool {
	switch ev.Kind {
	case model.EventProfileChanged:
		return true
	case model.EventNewContent, model.EventLiveStarted:
		age := now.UnixMilli() - ev.TimestampUnix()
		return age < window.Milliseconds()
	default:
		return false
	}
}

// Allow applies ShouldNotify with the window configured for ev.
func (w Windows) Allow(ev model.ChangeEvent, now time.Time) bool {
	return ShouldNotify(ev, now, w.For(ev))
}
