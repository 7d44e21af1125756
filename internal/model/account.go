package model

// Account is one tracked person/organisation. Accounts are loaded once from
// config and never change during a run.
type Account struct {
	Slug     string `json:"slug"`
	ShowSlug bool   `json:"show_slug"`
	Enabled  bool   `json:"enabled"`
	Color    string `json:"color,omitempty"`

	BiliID       string `json:"bili_id,omitempty"`
	BiliLiveID   string `json:"bili_live_id,omitempty"`
	DouyinID     string `json:"douyin_id,omitempty"`
	DouyinLiveID string `json:"douyin_live_id,omitempty"`
	WeiboID      string `json:"weibo_id,omitempty"`
}

// Provider identifies one polled endpoint family. The value doubles as the
// key under an account in the persisted state document.
type Provider string

const (
	ProviderBiliBio    Provider = "bilibili_bio"
	ProviderBiliMblog  Provider = "bilibili_mblog"
	ProviderDouyinLive Provider = "douyin_live"
	ProviderDouyin     Provider = "douyin"
	ProviderWeibo      Provider = "weibo"
)

// ProviderOrder is the fixed per-account processing order.
var ProviderOrder = []Provider{
	ProviderBiliBio,
	ProviderBiliMblog,
	ProviderDouyinLive,
	ProviderDouyin,
	ProviderWeibo,
}
