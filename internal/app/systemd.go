package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "feedwatch/pkg/logx"
)

// notifyFunc reports a service state to the init system.
type notifyFunc func(state string)

// systemdNotify sends sd_notify states. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
func systemdNotify(log logx.Logger) notifyFunc {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Trace("sd_notify sent", logx.String("state", state))
		}
	}
}

// watchdogInterval is WATCHDOG_USEC for this process, or 0.
func watchdogInterval(log logx.Logger) time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return 0
	}
	return d
}

// runWatchdog pings at half the watchdog interval while healthy. A stuck
// poll loop turns unhealthy and lets systemd restart the unit.
func runWatchdog(ctx context.Context, every time.Duration, health func() error, notify notifyFunc) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if health() == nil {
				notify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
