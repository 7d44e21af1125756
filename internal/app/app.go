// Package app wires configuration, storage, fetchers, gateways and the
// poller into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedwatch/internal/config"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/fetch"
	"feedwatch/internal/metrics"
	"feedwatch/internal/observability"
	"feedwatch/internal/poller"
	"feedwatch/internal/runtime/supervisor"
	"feedwatch/internal/storage"
	logx "feedwatch/pkg/logx"
)

// minStaleAfter is the lower bound on how long the poll loop may go without
// finishing a cycle before /healthz reports unhealthy.
const minStaleAfter = 5 * time.Minute

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	poller  *poller.Poller
	cadence poller.Cadence
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	obs     *observability.Server

	notify notifyFunc
	now    func() time.Time

	started    atomic.Int64 // unix nanos
	lastCycle  atomic.Int64 // unix nanos
	staleAfter time.Duration

	sup      *supervisor.Supervisor
	stopOnce sync.Once
}

// New loads cfgPath (plus .env files next to it) and builds every component.
// Nothing runs until Start or RunOnce.
func New(cfgPath string) (*App, error) {
	m := config.NewManager(cfgPath)
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLoggingConfig(cfg.Logging))
	m.SetLogger(log.With(logx.String("comp", "config")))

	a, err := build(m, cfg, logs, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func build(m *config.Manager, cfg *config.Config, logs *logx.Service, log logx.Logger) (*App, error) {
	a := &App{
		cfgm:   m,
		cfg:    cfg,
		logs:   logs,
		log:    log,
		bus:    eventbus.New(),
		notify: systemdNotify(log.With(logx.String("comp", "systemd"))),
		now:    time.Now,
	}

	sc, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	fc, err := mapFetchConfig(cfg.Fetch)
	if err != nil {
		return nil, err
	}
	pc, cad, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	out, gateways, err := buildDispatcher(cfg, log, a.bus)
	if err != nil {
		return nil, err
	}
	if len(gateways) == 0 {
		log.Warn("no notification gateway configured; changes are only logged")
	}

	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.cadence = cad
	a.staleAfter = max(3*(cad.Next(a.now()).Sub(a.now())), minStaleAfter)
	a.poller = poller.New(pc, fetch.New(fc, log.With(logx.String("comp", "fetch"))), a.store, out, log, a.bus)
	a.poller.OnCycle = a.onCycle

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.reg, a.bus)

	if cfg.Observability.Enabled {
		oc, err := mapObservabilityConfig(cfg.Observability)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.obs = observability.New(oc, a.reg, a.Health, log)
	}

	log.Info("feedwatch configured",
		logx.String("config", m.Path()),
		logx.Int("accounts", len(cfg.Accounts)),
		logx.String("cadence", cad.String()),
		logx.String("storage", sc.Driver),
		logx.String("gateways", strings.Join(gateways, ",")),
		logx.Bool("observability", a.obs != nil),
	)
	return a, nil
}

func (a *App) onCycle(st poller.Stats) {
	a.lastCycle.Store(a.now().UnixNano())
	a.notify(daemon.SdNotifyWatchdog)
}

// Health fails when no cycle has finished within the stale window, counted
// from the last finished cycle or from Start.
func (a *App) Health() error {
	ref := a.lastCycle.Load()
	if ref == 0 {
		ref = a.started.Load()
	}
	if ref == 0 {
		return nil
	}
	if age := a.now().Sub(time.Unix(0, ref)); age > a.staleAfter {
		return fmt.Errorf("no cycle finished for %s", age.Round(time.Second))
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce runs a single cycle. It fails when any account state could not be
// loaded or saved.
func (a *App) RunOnce(ctx context.Context) (poller.Stats, error) {
	st := a.poller.RunCycle(context.WithoutCancel(ctx))
	if st.PersistErrors > 0 {
		return st, fmt.Errorf("%w: %d account(s)", poller.ErrPersistence, st.PersistErrors)
	}
	return st, nil
}

// Start launches the poll loop and its companions and returns immediately.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.started.Store(a.now().UnixNano())

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("poller", func(c context.Context) error { return a.poller.Run(c, a.cadence) })

	updates := a.cfgm.Subscribe(4)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyReload(cfg)
			}
		}
	})

	if a.obs != nil {
		a.sup.GoRestart("observability", a.obs.Serve, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if wd := watchdogInterval(a.log); wd > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return runWatchdog(c, wd/2, a.Health, a.notify)
		})
	}

	a.notify(daemon.SdNotifyReady)
	a.log.Info("started", logx.String("cadence", a.cadence.String()))
	return nil
}

// applyReload re-applies the live sections of cfg. Everything else needs a
// restart and is only reported.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	sections, _ := config.SummarizeChange(a.cfg, cfg)
	if len(sections) == 0 {
		return
	}
	var pending []string
	for _, s := range sections {
		if config.LiveSections[s] {
			continue
		}
		pending = append(pending, s)
	}
	if a.cfg == nil || a.cfg.Logging != cfg.Logging {
		a.logs.Apply(mapLoggingConfig(cfg.Logging))
		a.log.Info("logging reconfigured", logx.String("level", cfg.Logging.Level))
	}
	if len(pending) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
	a.cfg = cfg
}

// Stop cancels every goroutine, lets a running cycle finish within its step
// bound, then closes the store and log sinks.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	stopped := false
	a.stopOnce.Do(func() { stopped = true })
	if !stopped {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	if a.sup != nil {
		a.sup.Cancel()
		a.step(ctx, "supervisor", 30*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
