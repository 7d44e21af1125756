package app

import (
	"fmt"
	"strings"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/fetch"
	"feedwatch/internal/observability"
	"feedwatch/internal/poller"
	"feedwatch/internal/throttle"
	logx "feedwatch/pkg/logx"
)

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
	}
}

func mapFetchConfig(fc config.FetchConfig) (fetch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", fc.Timeout, fetch.DefaultTimeout)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{
		Timeout:        timeout,
		DesktopUA:      strings.TrimSpace(fc.DesktopUA),
		MobileUA:       strings.TrimSpace(fc.MobileUA),
		RateLimitProxy: strings.TrimSpace(fc.RateLimitProxy),
		Cookies: fetch.Cookies{
			Bilibili: fc.Cookies.Bilibili,
			Douyin:   fc.Cookies.Douyin,
			Weibo:    fc.Cookies.Weibo,
		},
	}, nil
}

// mapThrottleWindows overlays configured windows on the stock ones. An empty
// value keeps the stock window.
func mapThrottleWindows(raw map[string]string) (throttle.Windows, error) {
	w := throttle.DefaultWindows()
	for k, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		d, err := config.ParseDurationField("throttle."+k, v)
		if err != nil {
			return nil, err
		}
		if d == 0 {
			return nil, fmt.Errorf("throttle.%s: window must be > 0", k)
		}
		w[k] = d
	}
	return w, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, poller.Cadence, error) {
	pc := cfg.Poller
	windows, err := mapThrottleWindows(cfg.Throttle)
	if err != nil {
		return poller.Config{}, poller.Cadence{}, err
	}
	jmin, err := config.ParseDurationField("poller.jitter_min", pc.JitterMin)
	if err != nil {
		return poller.Config{}, poller.Cadence{}, err
	}
	jmax, err := config.ParseDurationField("poller.jitter_max", pc.JitterMax)
	if err != nil {
		return poller.Config{}, poller.Cadence{}, err
	}
	interval, err := config.ParseDurationField("poller.interval", pc.Interval)
	if err != nil {
		return poller.Config{}, poller.Cadence{}, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(pc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return poller.Config{}, poller.Cadence{}, fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	cad, err := poller.NewCadence(interval, pc.Schedule, loc)
	if err != nil {
		return poller.Config{}, poller.Cadence{}, fmt.Errorf("poller: %w", err)
	}

	return poller.Config{
		Accounts:     cfg.Accounts,
		Windows:      windows,
		JitterMin:    jmin,
		JitterMax:    jmax,
		PruneRemoved: cfg.Storage.PruneRemoved,
	}, cad, nil
}

func mapLimitConfig(nc config.NotifyConfig) (dispatch.LimitConfig, error) {
	timeout, err := config.ParseDurationOrDefault("notify.timeout", nc.Timeout, 15*time.Second)
	if err != nil {
		return dispatch.LimitConfig{}, err
	}
	dedup, err := config.ParseDurationField("notify.dedup_window", nc.DedupWindow)
	if err != nil {
		return dispatch.LimitConfig{}, err
	}
	return dispatch.LimitConfig{
		RatePerSec:      nc.RatePerSec,
		Timeout:         timeout,
		DedupWindow:     dedup,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

// buildDispatcher wraps every enabled gateway in a RateLimited and fans out
// to all of them. With no gateway configured messages are discarded.
func buildDispatcher(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (dispatch.Dispatcher, []string, error) {
	limit, err := mapLimitConfig(cfg.Notify)
	if err != nil {
		return nil, nil, err
	}

	var gateways []dispatch.Dispatcher
	if cfg.WeCom.Enabled() {
		gateways = append(gateways, dispatch.NewWeCom(dispatch.WeComConfig{
			CorpID:  cfg.WeCom.CorpID,
			Secret:  cfg.WeCom.Secret,
			AgentID: cfg.WeCom.AgentID,
			ToUser:  cfg.WeCom.ToUser,
			BaseURL: cfg.WeCom.BaseURL,
			Timeout: limit.Timeout,
		}, log.With(logx.String("dispatcher", "wecom"))))
	}
	if cfg.Telegram.Enabled() {
		tg, err := dispatch.NewTelegram(dispatch.TelegramConfig{
			Token:          cfg.Telegram.Token,
			ChatID:         cfg.Telegram.ChatID,
			ThreadID:       cfg.Telegram.ThreadID,
			DisablePreview: cfg.Telegram.DisablePreview,
			Timeout:        limit.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: %w", err)
		}
		gateways = append(gateways, tg)
	}

	if len(gateways) == 0 {
		return dispatch.Discard{}, nil, nil
	}
	names := make([]string, 0, len(gateways))
	out := make(dispatch.Fanout, 0, len(gateways))
	for _, g := range gateways {
		names = append(names, g.Name())
		out = append(out, dispatch.NewRateLimited(g, limit, log.With(logx.String("dispatcher", g.Name())), bus))
	}
	if len(out) == 1 {
		return out[0], names, nil
	}
	return out, names, nil
}

func mapObservabilityConfig(oc config.ObservabilityConfig) (observability.Config, error) {
	read, err := config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("observability.write_timeout", oc.WriteTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
