// Package poller drives the fetch → detect → throttle → format → dispatch →
// persist pipeline for every configured account.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"feedwatch/internal/detect"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/fetch"
	"feedwatch/internal/format"
	"feedwatch/internal/model"
	"feedwatch/internal/storage"
	"feedwatch/internal/throttle"
	logx "feedwatch/pkg/logx"
)

// ErrPersistence wraps state store failures.
var ErrPersistence = errors.New("persistence failed")

// Config is the resolved poller configuration.
type Config struct {
	// Accounts in processing order. Disabled accounts are skipped but their
	// state is kept.
	Accounts  []model.Account
	Windows   throttle.Windows
	JitterMin time.Duration
	JitterMax time.Duration
	// PruneRemoved drops state of slugs no longer in Accounts after each cycle.
	PruneRemoved bool
}

// Stats summarizes one cycle.
type Stats struct {
	ID            string
	Accounts      int
	Events        int
	Notified      int
	Throttled     int
	Suppressed    int
	FetchErrors   int
	NotifyErrors  int
	PersistErrors int
	Took          time.Duration
}

// Poller runs cycles. At most one cycle is in flight; RunCycle must not be
// called concurrently.
type Poller struct {
	cfg      Config
	fetchers []fetch.Fetcher
	store    storage.Store
	out      dispatch.Dispatcher
	log      logx.Logger
	bus      eventbus.Bus

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// OnCycle, when set, is called after every finished cycle.
	OnCycle func(Stats)
}

func New(cfg Config, fetchers []fetch.Fetcher, store storage.Store, out dispatch.Dispatcher, log logx.Logger, bus eventbus.Bus) *Poller {
	if cfg.Windows == nil {
		cfg.Windows = throttle.DefaultWindows()
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if out == nil {
		out = dispatch.Discard{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Poller{
		cfg:      cfg,
		fetchers: fetchers,
		store:    store,
		out:      out,
		log:      log.With(logx.String("comp", "poller")),
		bus:      bus,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes a cycle immediately and then one per cadence tick until ctx
// is done. Each cycle runs on a context detached from ctx, so an interrupt
// lets the running cycle finish and is observed between cycles.
func (p *Poller) Run(ctx context.Context, cad Cadence) error {
	cycleCtx := context.WithoutCancel(ctx)
	for {
		p.RunCycle(cycleCtx)
		if ctx.Err() != nil {
			return nil
		}

		next := cad.Next(p.now())
		p.log.Debug("next cycle scheduled",
			logx.Time("at", next),
			logx.String("in", humanize.RelTime(next, p.now(), "ago", "from now")),
		)
		if err := p.sleep(ctx, time.Until(next)); err != nil {
			return nil
		}
	}
}

// cycle carries per-cycle bookkeeping.
type cycle struct {
	id    string
	stats Stats
	log   logx.Logger
}

// RunCycle processes every enabled account once, in order.
func (p *Poller) RunCycle(ctx context.Context) Stats {
	start := p.now()
	c := &cycle{id: uuid.NewString()}
	c.stats.ID = c.id
	c.log = p.log.With(logx.String("cycle", c.id))

	enabled := 0
	for _, a := range p.cfg.Accounts {
		if a.Enabled {
			enabled++
		}
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleStarted, Data: eventbus.CycleEvent{ID: c.id, Accounts: enabled}})
	c.log.Debug("cycle started", logx.Int("accounts", enabled))

	for _, acc := range p.cfg.Accounts {
		if !acc.Enabled {
			continue
		}
		if err := p.sleep(ctx, p.jitter()); err != nil {
			c.log.Warn("cycle interrupted", logx.Err(err))
			break
		}
		p.runAccount(ctx, c, acc)
		c.stats.Accounts++
	}

	if p.cfg.PruneRemoved {
		p.prune(ctx, c)
	}

	c.stats.Took = p.now().Sub(start)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: eventbus.CycleEvent{ID: c.id, Accounts: c.stats.Accounts, Took: c.stats.Took}})
	c.log.Info("cycle finished",
		logx.Int("accounts", c.stats.Accounts),
		logx.Int("events", c.stats.Events),
		logx.Int("notified", c.stats.Notified),
		logx.Int("throttled", c.stats.Throttled),
		logx.Int("suppressed", c.stats.Suppressed),
		logx.Int("fetch_errors", c.stats.FetchErrors),
		logx.Duration("took", c.stats.Took),
	)
	if p.OnCycle != nil {
		p.OnCycle(c.stats)
	}
	return c.stats
}

func (p *Poller) jitter() time.Duration {
	lo, hi := p.cfg.JitterMin, p.cfg.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// runAccount loads the state once, runs every provider and saves once.
func (p *Poller) runAccount(ctx context.Context, c *cycle, acc model.Account) {
	log := c.log.With(logx.String("account", acc.Slug))

	state, err := p.store.Load(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		c.stats.PersistErrors++
		p.publishProvider(eventbus.TypePersistFailed, c, acc, "", "", 0, err)
		log.Error("state load failed; skipping account", logx.Err(err))
		return
	}

	for _, f := range p.fetchers {
		if !f.Enabled(acc) {
			continue
		}
		p.runProvider(ctx, c, log, state, acc, f)
	}

	if err := p.store.Save(ctx, state); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		c.stats.PersistErrors++
		p.publishProvider(eventbus.TypePersistFailed, c, acc, "", "", 0, err)
		log.Error("state save failed", logx.Err(err))
	}
}

func (p *Poller) runProvider(ctx context.Context, c *cycle, log logx.Logger, state storage.State, acc model.Account, f fetch.Fetcher) {
	prov := f.Provider()
	log = log.With(logx.String("provider", string(prov)))

	start := p.now()
	raw, err := f.Fetch(ctx, acc)
	took := p.now().Sub(start)
	if err != nil {
		c.stats.FetchErrors++
		p.publishProvider(eventbus.TypeFetchFailed, c, acc, prov, "", took, err)
		if errors.Is(err, fetch.ErrMalformedPayload) {
			log.Warn("unexpected payload; keeping previous snapshot", logx.Err(err))
		} else {
			log.Warn("fetch failed; keeping previous snapshot", logx.Err(err))
		}
		return
	}
	p.publishProvider(eventbus.TypeFetchOK, c, acc, prov, "", took, nil)

	res := detect.Detect(state.Get(acc.Slug, prov), raw)
	if res.Stale && res.Latest != nil {
		log.Debug("latest item is not newer than stored one",
			logx.String("id", res.Latest.ID),
			logx.String("posted", humanize.Time(res.Latest.Time())),
		)
	}
	switch res.Live {
	case detect.LiveDetailMissing:
		log.Warn("live detail unavailable; keeping previous occurrence")
	case detect.LiveDetailDisagrees:
		log.Info("live detail says not started; treating as not live")
	case detect.LiveAlreadyNotified:
		log.Debug("live occurrence already notified")
	}

	for _, ev := range res.Events {
		p.handle(ctx, c, log, acc, ev, res.Next)
	}

	state.Put(acc.Slug, res.Next)
}

// handle throttles, formats and dispatches one event. Dispatch failures are
// logged; the snapshot is committed regardless.
func (p *Poller) handle(ctx context.Context, c *cycle, log logx.Logger, acc model.Account, ev model.ChangeEvent, next *model.Snapshot) {
	c.stats.Events++
	p.publishProvider(eventbus.TypeChange, c, acc, ev.Provider, string(ev.Kind), 0, nil)
	log = log.With(logx.String("kind", string(ev.Kind)))

	if ev.Kind == model.EventLiveEnded {
		log.Info("live ended")
		return
	}

	now := p.now()
	if !p.cfg.Windows.Allow(ev, now) {
		c.stats.Throttled++
		p.publishProvider(eventbus.TypeThrottled, c, acc, ev.Provider, string(ev.Kind), 0, nil)
		log.Info("notification throttled",
			logx.String("posted", humanize.RelTime(time.UnixMilli(ev.TimestampUnix()), now, "ago", "from now")),
			logx.Duration("window", p.cfg.Windows.For(ev)),
		)
		return
	}
	if ev.Kind == model.EventLiveStarted {
		detect.MarkNotified(next)
	}

	msg, ok := format.Format(ev, acc)
	if !ok {
		log.Info("no template for event; not notifying")
		return
	}
	err := p.out.Dispatch(ctx, msg)
	if errors.Is(err, dispatch.ErrDuplicate) {
		c.stats.Suppressed++
		log.Info("duplicate notification suppressed", logx.String("title", msg.Title))
		return
	}
	if err != nil {
		c.stats.NotifyErrors++
		log.Error("dispatch failed", logx.Err(err), logx.String("title", msg.Title))
		return
	}
	c.stats.Notified++
	log.Info("notified", logx.String("title", msg.Title))
}

func (p *Poller) prune(ctx context.Context, c *cycle) {
	state, err := p.store.Load(ctx)
	if err != nil {
		c.log.Error("state load for prune failed", logx.Err(fmt.Errorf("%w: %w", ErrPersistence, err)))
		return
	}
	keep := make([]string, 0, len(p.cfg.Accounts))
	for _, a := range p.cfg.Accounts {
		keep = append(keep, a.Slug)
	}
	removed := state.Prune(keep)
	if len(removed) == 0 {
		return
	}
	if err := p.store.Save(ctx, state); err != nil {
		c.stats.PersistErrors++
		c.log.Error("state save after prune failed", logx.Err(fmt.Errorf("%w: %w", ErrPersistence, err)))
		return
	}
	c.log.Info("pruned state of removed accounts", logx.Any("slugs", removed))
}

func (p *Poller) publishProvider(typ string, c *cycle, acc model.Account, prov model.Provider, kind string, took time.Duration, err error) {
	ev := eventbus.ProviderEvent{
		CycleID:  c.id,
		Account:  acc.Slug,
		Provider: string(prov),
		Kind:     kind,
		Took:     took,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
