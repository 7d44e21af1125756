package config

import (
	"dario.cat/mergo"
)

const (
	DefaultInterval      = "60s"
	DefaultJitterMin     = "1s"
	DefaultJitterMax     = "3s"
	DefaultFetchTimeout  = "15s"
	DefaultStorageDriver = "file"
	DefaultStoragePath   = "./db/db.json"
	DefaultObservability = "127.0.0.1:9090"
)

// Default returns the values used for every field left empty in the file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Poller: PollerConfig{
			Interval:  DefaultInterval,
			JitterMin: DefaultJitterMin,
			JitterMax: DefaultJitterMax,
		},
		Throttle: map[string]string{
			"bilibili":      "65m",
			"bilibili_live": "65m",
			"douyin":        "24h",
			"douyin_live":   "20m",
			"weibo":         "1h",
		},
		Fetch:   FetchConfig{Timeout: DefaultFetchTimeout},
		Storage: StorageConfig{Driver: DefaultStorageDriver, Path: DefaultStoragePath},
		WeCom:   WeComConfig{ToUser: "@all"},
		Notify: NotifyConfig{
			RatePerSec:      3,
			Timeout:         "15s",
			DedupWindow:     "0s",
			DedupMaxEntries: 2000,
		},
		Observability: ObservabilityConfig{Addr: DefaultObservability},
	}
}

// applyDefaults fills zero fields of cfg. Throttle keys present in the file
// keep their value; missing keys get the default window.
func applyDefaults(cfg *Config) error {
	return mergo.Merge(cfg, Default())
}
