package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/eventbus"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg, eventbus.New())

	at := time.Unix(1714564800, 0)
	for _, e := range []eventbus.Event{
		{Type: eventbus.TypeCycleFinished, Time: at, Data: eventbus.CycleEvent{ID: "c", Took: 3 * time.Second}},
		{Type: eventbus.TypeFetchOK, Data: eventbus.ProviderEvent{Provider: "weibo", Took: time.Second}},
		{Type: eventbus.TypeFetchFailed, Data: eventbus.ProviderEvent{Provider: "weibo", Error: "x"}},
		{Type: eventbus.TypeFetchFailed, Data: eventbus.ProviderEvent{Provider: "douyin", Error: "x"}},
		{Type: eventbus.TypeChange, Data: eventbus.ProviderEvent{Provider: "weibo", Kind: "new_content"}},
		{Type: eventbus.TypeThrottled, Data: eventbus.ProviderEvent{Provider: "weibo", Kind: "new_content"}},
		{Type: eventbus.TypeNotifySent, Data: eventbus.NotifyEvent{Dispatcher: "wecom"}},
		{Type: eventbus.TypeNotifyDeduped, Data: eventbus.NotifyEvent{Dispatcher: "wecom"}},
		{Type: eventbus.TypePersistFailed, Data: eventbus.ProviderEvent{Account: "a"}},
		{Type: "something.else", Data: 42},
	} {
		m.Observe(e)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastCycle))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("weibo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("weibo", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("weibo", "new_content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttled.WithLabelValues("weibo", "new_content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("wecom", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("wecom", "deduped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistErrors))

	n, err := testutil.GatherAndCount(reg, "feedwatch_fetches_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRunConsumesBus(t *testing.T) {
	bus := eventbus.New()
	m := New(prometheus.NewRegistry(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: eventbus.CycleEvent{ID: "x"}})
		return testutil.ToFloat64(m.cycles) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
