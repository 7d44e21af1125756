// Package metrics turns event bus traffic into prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feedwatch/internal/eventbus"
)

const namespace = "feedwatch"

// Metrics holds the collectors. Observe is safe for concurrent use.
type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	changes       *prometheus.CounterVec
	throttled     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	notifyLatency *prometheus.HistogramVec
	persistErrors prometheus.Counter
	busDropped    prometheus.GaugeFunc
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, bus eventbus.Bus) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full poll cycle in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last poll cycle finished",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Provider fetches by result",
		}, []string{"provider", "result"}), // result: ok, error
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Detected change events",
		}, []string{"provider", "kind"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Change events suppressed by the age window",
		}, []string{"provider", "kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by dispatcher and result",
		}, []string{"dispatcher", "result"}), // result: sent, failed, deduped
		notifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Gateway call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dispatcher"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "State load/save failures",
		}),
	}
	if bus != nil {
		m.busDropped = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped",
			Help:      "Events dropped because a subscriber was full",
		}, func() float64 { return float64(bus.Dropped()) })
	}

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	cs := []prometheus.Collector{
		m.cycles, m.cycleDuration, m.lastCycle,
		m.fetches, m.fetchDuration,
		m.changes, m.throttled,
		m.notifications, m.notifyLatency,
		m.persistErrors,
	}
	if m.busDropped != nil {
		cs = append(cs, m.busDropped)
	}
	return cs
}

// Observe updates collectors for one event. Unknown event types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.CycleEvent:
		if e.Type == eventbus.TypeCycleFinished {
			m.cycles.Inc()
			m.cycleDuration.Observe(d.Took.Seconds())
			m.lastCycle.Set(float64(e.Time.Unix()))
		}
	case eventbus.ProviderEvent:
		switch e.Type {
		case eventbus.TypeFetchOK:
			m.fetches.WithLabelValues(d.Provider, "ok").Inc()
			m.fetchDuration.WithLabelValues(d.Provider).Observe(d.Took.Seconds())
		case eventbus.TypeFetchFailed:
			m.fetches.WithLabelValues(d.Provider, "error").Inc()
			m.fetchDuration.WithLabelValues(d.Provider).Observe(d.Took.Seconds())
		case eventbus.TypeChange:
			m.changes.WithLabelValues(d.Provider, d.Kind).Inc()
		case eventbus.TypeThrottled:
			m.throttled.WithLabelValues(d.Provider, d.Kind).Inc()
		case eventbus.TypePersistFailed:
			m.persistErrors.Inc()
		}
	case eventbus.NotifyEvent:
		switch e.Type {
		case eventbus.TypeNotifySent:
			m.notifications.WithLabelValues(d.Dispatcher, "sent").Inc()
			m.notifyLatency.WithLabelValues(d.Dispatcher).Observe(d.Took.Seconds())
		case eventbus.TypeNotifyFailed:
			m.notifications.WithLabelValues(d.Dispatcher, "failed").Inc()
			m.notifyLatency.WithLabelValues(d.Dispatcher).Observe(d.Took.Seconds())
		case eventbus.TypeNotifyDeduped:
			m.notifications.WithLabelValues(d.Dispatcher, "deduped").Inc()
		}
	}
}

// Run feeds bus events into the collectors until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Time.IsZero() {
				e.Time = time.Now()
			}
			m.Observe(e)
		}
	}
}
