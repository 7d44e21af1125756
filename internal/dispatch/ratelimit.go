package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

// LimitConfig controls RateLimited.
type LimitConfig struct {
	RatePerSec int
	// Timeout bounds a single Dispatch call to the wrapped gateway.
	Timeout time.Duration
	// DedupWindow suppresses an identical message seen within the window and
	// reports it as ErrDuplicate. 0 disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// RateLimited wraps a dispatcher with a token bucket, a per-call timeout and
// an in-memory duplicate filter, and reports outcomes on the event bus.
type RateLimited struct {
	next    Dispatcher
	cfg     LimitConfig
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	mu    sync.Mutex
	dedup map[string]time.Time // key -> suppress until
}

func NewRateLimited(next Dispatcher, cfg LimitConfig, log logx.Logger, bus eventbus.Bus) *RateLimited {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &RateLimited{
		next: next,
		cfg:  cfg,
		// burst = rate so a handful of events from one poll go out together.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		bus:     bus,
		now:     time.Now,
		dedup:   map[string]time.Time{},
	}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Dispatch(ctx context.Context, msg model.Message) error {
	key := dedupKey(msg)
	if r.cfg.DedupWindow > 0 && !r.dedupAllow(key) {
		r.log.Debug("duplicate message suppressed", logx.String("key", key))
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyDeduped, Data: eventbus.NotifyEvent{Dispatcher: r.Name(), Key: key}})
		return ErrDuplicate
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	start := r.now()
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	err := r.next.Dispatch(callCtx, msg)
	cancel()
	took := r.now().Sub(start)

	if err != nil {
		// Let the next identical message through.
		r.forget(key)
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: eventbus.NotifyEvent{Dispatcher: r.Name(), Key: key, Took: took, Error: err.Error()}})
		return err
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: eventbus.NotifyEvent{Dispatcher: r.Name(), Key: key, Took: took}})
	return nil
}

func dedupKey(msg model.Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msg.Title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(msg.Body))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(msg.URL))
	return fmt.Sprintf("%x", h.Sum64())
}

func (r *RateLimited) dedupAllow(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if until, ok := r.dedup[key]; ok && now.Before(until) {
		return false
	}
	r.dedup[key] = now.Add(r.cfg.DedupWindow)

	for k, until := range r.dedup {
		if !now.Before(until) {
			delete(r.dedup, k)
		}
	}
	// Over cap: evict the entries that expire first.
	for len(r.dedup) > r.cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range r.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(r.dedup, minKey)
	}
	return true
}

func (r *RateLimited) forget(key string) {
	r.mu.Lock()
	delete(r.dedup, key)
	r.mu.Unlock()
}
