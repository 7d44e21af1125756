package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var knownThrottleKeys = map[string]bool{
	"bilibili":      true,
	"bilibili_live": true,
	"douyin":        true,
	"douyin_live":   true,
	"weibo":         true,
}

// Validate checks a defaulted config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		slug := strings.TrimSpace(a.Slug)
		if slug == "" {
			add(fmt.Errorf("accounts[%d].slug: required", i))
			continue
		}
		if seen[slug] {
			add(fmt.Errorf("accounts[%d].slug: duplicate %q", i, slug))
		}
		seen[slug] = true
	}

	_, err := ParseDurationField("poller.interval", cfg.Poller.Interval)
	add(err)
	jmin, err := ParseDurationField("poller.jitter_min", cfg.Poller.JitterMin)
	add(err)
	jmax, err := ParseDurationField("poller.jitter_max", cfg.Poller.JitterMax)
	add(err)
	if err == nil && jmax < jmin {
		add(fmt.Errorf("poller.jitter_max: must be >= jitter_min"))
	}
	if tz := strings.TrimSpace(cfg.Poller.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("poller.timezone: %w", err))
		}
	}

	for k, v := range cfg.Throttle {
		if !knownThrottleKeys[k] {
			add(fmt.Errorf("throttle.%s: unknown key", k))
			continue
		}
		d, err := ParseDurationField("throttle."+k, v)
		if err == nil && d == 0 && strings.TrimSpace(v) != "" {
			err = fmt.Errorf("throttle.%s: window must be > 0", k)
		}
		add(err)
	}

	_, err = ParseDurationField("fetch.timeout", cfg.Fetch.Timeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if cfg.WeCom.Enabled() && cfg.WeCom.AgentID == 0 {
		add(errors.New("wecom.agent_id: required when wecom is configured"))
	}

	if cfg.Notify.RatePerSec < 0 {
		add(errors.New("notify.rate_per_sec: must be >= 0"))
	}
	_, err = ParseDurationField("notify.timeout", cfg.Notify.Timeout)
	add(err)
	_, err = ParseDurationField("notify.dedup_window", cfg.Notify.DedupWindow)
	add(err)

	if o := cfg.Observability; o.Enabled {
		add(validateListenAddr(o))
		for name, raw := range map[string]string{
			"observability.read_timeout":  o.ReadTimeout,
			"observability.write_timeout": o.WriteTimeout,
			"observability.idle_timeout":  o.IdleTimeout,
		} {
			_, err := ParseDurationField(name, raw)
			add(err)
		}
	}

	return errors.Join(errs...)
}

func validateListenAddr(o ObservabilityConfig) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(o.Addr))
	if err != nil {
		return fmt.Errorf("observability.addr: %w", err)
	}
	if isLoopback(host) || o.Token != "" || o.AllowInsecure {
		return nil
	}
	return fmt.Errorf("observability.addr: %q is not loopback; set token or allow_insecure", o.Addr)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
