package model

import "time"

// ContentKind classifies a feed item for formatting.
type ContentKind string

const (
	KindRepost   ContentKind = "repost"
	KindGallery  ContentKind = "gallery"
	KindText     ContentKind = "text"
	KindVideo    ContentKind = "video"
	KindArticle  ContentKind = "article"
	KindAudio    ContentKind = "audio"
	KindBookmark ContentKind = "bookmark"
	KindUnknown  ContentKind = "unknown"
)

// LiveStatus is the normalized live flag. Providers map their own status codes
// onto it at the fetch boundary.
type LiveStatus int

const (
	NotLive LiveStatus = 0
	Live    LiveStatus = 1
)

func (s LiveStatus) IsLive() bool { return s == Live }

// Profile is the observable account metadata on one provider.
type Profile struct {
	UID       string `json:"uid,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Signature string `json:"signature,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Cover     string `json:"cover,omitempty"`
}

// Origin describes the reposted item inside a repost.
type Origin struct {
	Kind   ContentKind `json:"kind"`
	Label  string      `json:"label,omitempty"`
	Author string      `json:"author,omitempty"`
	Title  string      `json:"title,omitempty"`
	Text   string      `json:"text,omitempty"`
	Link   string      `json:"link,omitempty"`
}

// ContentItem is a single post. TimestampUnix is in milliseconds.
type ContentItem struct {
	ID            string      `json:"id"`
	Kind          ContentKind `json:"kind"`
	TypeCode      int         `json:"typeCode,omitempty"`
	TimestampUnix int64       `json:"timestampUnix"`
	Title         string      `json:"title,omitempty"`
	Text          string      `json:"text,omitempty"`
	Desc          string      `json:"desc,omitempty"`
	Link          string      `json:"link,omitempty"`
	Origin        *Origin     `json:"origin,omitempty"`
}

func (c *ContentItem) Time() time.Time { return time.UnixMilli(c.TimestampUnix) }

// LiveState is the last known live-room state. Notified is tied to the
// occurrence identified by RoomID + StartedAtUnix.
type LiveState struct {
	Status        LiveStatus `json:"status"`
	RoomID        string     `json:"roomId,omitempty"`
	Title         string     `json:"title,omitempty"`
	Cover         string     `json:"cover,omitempty"`
	URL           string     `json:"url,omitempty"`
	StartedAtUnix int64      `json:"startedAtUnix,omitempty"`
	Notified      bool       `json:"notifiedForThisOccurrence"`
}

// Snapshot is the persisted last-known state for one account/provider pair.
type Snapshot struct {
	Provider   Provider     `json:"provider"`
	ScrapedAt  time.Time    `json:"scrapedAt"`
	User       *Profile     `json:"user,omitempty"`
	LatestItem *ContentItem `json:"latestItem,omitempty"`
	Live       *LiveState   `json:"liveState,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the store.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.User != nil {
		u := *s.User
		cp.User = &u
	}
	if s.LatestItem != nil {
		it := *s.LatestItem
		if s.LatestItem.Origin != nil {
			o := *s.LatestItem.Origin
			it.Origin = &o
		}
		cp.LatestItem = &it
	}
	if s.Live != nil {
		l := *s.Live
		cp.Live = &l
	}
	return &cp
}

// RawItem is one entry of a fetched listing, in listing order.
type RawItem struct {
	ContentItem
	Pinned bool
}

// LiveDetail is the result of the second, room-detail fetch.
type LiveDetail struct {
	Status        LiveStatus
	StartedAtUnix int64
}

// RawLive is the live-room part of a fetched payload.
//
// DetailRequired marks providers whose primary payload is not authoritative
// (bilibili). Detail is nil when the second fetch was not made or failed.
type RawLive struct {
	Status         LiveStatus
	RoomID         string
	Title          string
	Cover          string
	URL            string
	StartedAtUnix  int64
	DetailRequired bool
	Detail         *LiveDetail
	DetailErr      error
}

// Raw is what a fetcher returns for one account/provider: a freshly parsed,
// schema-checked view of the provider payload.
type Raw struct {
	Provider  Provider
	ScrapedAt time.Time
	User      *Profile
	Items     []RawItem
	Live      *RawLive
}
