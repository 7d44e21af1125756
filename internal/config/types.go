package config

import (
	"feedwatch/internal/model"
)

// Config is the on-disk configuration. YAML and JSON share the same schema.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Accounts []model.Account `json:"accounts"`

	Logging       LoggingConfig       `json:"logging"`
	Poller        PollerConfig        `json:"poller"`
	Throttle      map[string]string   `json:"throttle,omitempty"`
	Fetch         FetchConfig         `json:"fetch"`
	Storage       StorageConfig       `json:"storage"`
	WeCom         WeComConfig         `json:"wecom"`
	Telegram      TelegramConfig      `json:"telegram"`
	Notify        NotifyConfig        `json:"notify"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PollerConfig controls the cycle cadence.
//
// Schedule, when set, is a cron expression and takes precedence over Interval.
// The next run is always computed after the previous cycle has finished.
//
// Defaults:
//   - interval: "60s"
//   - jitter_min: "1s"
//   - jitter_max: "3s"
type PollerConfig struct {
	Interval  string `json:"interval,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	JitterMin string `json:"jitter_min,omitempty"`
	JitterMax string `json:"jitter_max,omitempty"`
}

type FetchConfig struct {
	Timeout        string        `json:"timeout,omitempty"`
	DesktopUA      string        `json:"desktop_ua,omitempty"`
	MobileUA       string        `json:"mobile_ua,omitempty"`
	RateLimitProxy string        `json:"rate_limit_proxy,omitempty"`
	Cookies        CookiesConfig `json:"cookies"`
}

// CookiesConfig holds per-site session cookies (do not log).
// BILI_COOKIE, DOUYIN_COOKIE and WEIBO_COOKIE override these.
type CookiesConfig struct {
	Bilibili string `json:"bilibili,omitempty"`
	Douyin   string `json:"douyin,omitempty"`
	Weibo    string `json:"weibo,omitempty"`
}

// StorageConfig selects the state store.
//
// Driver is "file" (default, a single JSON document) or "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// PruneRemoved drops state of accounts that are no longer configured.
	PruneRemoved bool `json:"prune_removed,omitempty"`
}

// WeComConfig is the application message gateway. It is enabled when
// corp_id and secret are set (directly or via WECOM_CORPID / WECOM_SECRET).
type WeComConfig struct {
	CorpID  string `json:"corp_id,omitempty"`
	Secret  string `json:"secret,omitempty"` // do not log
	AgentID int    `json:"agent_id,omitempty"`
	ToUser  string `json:"to_user,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

func (c WeComConfig) Enabled() bool { return c.CorpID != "" && c.Secret != "" }

// TelegramConfig is an optional second gateway, enabled when token and chat_id are set.
type TelegramConfig struct {
	Token          string `json:"token,omitempty"` // do not log
	ChatID         int64  `json:"chat_id,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

func (c TelegramConfig) Enabled() bool { return c.Token != "" && c.ChatID != 0 }

// NotifyConfig wraps every gateway with a rate limit and a duplicate filter.
//
// Defaults:
//   - rate_per_sec: 3
//   - timeout: "15s"
//   - dedup_window: "0s" (off; a positive window drops a message identical
//     to one sent within it, including a stream that restarts inside it)
//   - dedup_max_entries: 2000
type NotifyConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server exposing /metrics,
// /healthz and /debug/pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
