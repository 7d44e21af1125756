package config

import (
	"reflect"

	logx "feedwatch/pkg/logx"
)

// LiveSections are applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange returns the changed top-level sections and safe log attrs
// describing them. Secrets (cookies, wecom secret, tokens) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)
	restart := false
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !LiveSections[section] {
			restart = true
		}
	}

	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		mark("accounts", logx.Int("accounts.count", len(newCfg.Accounts)))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Poller != newCfg.Poller {
		mark("poller",
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.String("poller.schedule", newCfg.Poller.Schedule),
		)
	}
	if !reflect.DeepEqual(oldCfg.Throttle, newCfg.Throttle) {
		mark("throttle")
	}
	if oldCfg.Fetch != newCfg.Fetch {
		mark("fetch", logx.Bool("fetch.proxy_set", newCfg.Fetch.RateLimitProxy != ""))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.WeCom != newCfg.WeCom {
		mark("wecom", logx.Bool("wecom.enabled", newCfg.WeCom.Enabled()))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram", logx.Bool("telegram.enabled", newCfg.Telegram.Enabled()))
	}
	if oldCfg.Notify != newCfg.Notify {
		mark("notify")
	}
	if oldCfg.Observability != newCfg.Observability {
		mark("observability",
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
		)
	}

	if restart {
		attrs = append(attrs, logx.Bool("restart_required", true))
	}
	return changed, attrs
}
