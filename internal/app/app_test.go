package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/model"
	"feedwatch/internal/poller"
	"feedwatch/internal/storage"
	"feedwatch/internal/throttle"
	logx "feedwatch/pkg/logx"
)

func clearSecrets(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvBiliCookie, config.EnvDouyinCookie, config.EnvWeiboCookie,
		config.EnvWeComCorpID, config.EnvWeComSecret, config.EnvWeComAgentID, config.EnvTelegramToken,
	} {
		t.Setenv(k, "")
	}
}

// writeConfig writes a config whose only account is disabled, so no cycle
// ever reaches the network.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
accounts:
  - slug: keep
    enabled: false
    weibo_id: "7595051004"
logging:
  level: error
storage:
  path: %q
  prune_removed: true
`, filepath.Join(dir, "db.json"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func seedState(t *testing.T, path string, slugs ...string) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	state := storage.State{}
	for _, s := range slugs {
		state.Put(s, &model.Snapshot{
			Provider:   model.ProviderWeibo,
			LatestItem: &model.ContentItem{ID: "1", Kind: model.KindText, TimestampUnix: 1714564800000},
		})
	}
	require.NoError(t, st.Save(context.Background(), state))
}

func loadSlugs(t *testing.T, path string) []string {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	state, err := st.Load(context.Background())
	require.NoError(t, err)
	var out []string
	for s := range state {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func TestRunOncePrunesRemovedAccounts(t *testing.T) {
	clearSecrets(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	dbPath := filepath.Join(dir, "db.json")
	seedState(t, dbPath, "keep", "gone")

	a, err := New(cfgPath)
	require.NoError(t, err)

	st, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Accounts)
	require.NoError(t, a.Stop(context.Background(), StopOnceDone))

	if diff := cmp.Diff([]string{"keep"}, loadSlugs(t, dbPath)); diff != "" {
		t.Fatalf("state slugs mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	clearSecrets(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poller:\n  interval: soon\n"), 0o600))

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poller.interval")
}

func TestStartStop(t *testing.T) {
	clearSecrets(t)
	t.Setenv("WATCHDOG_USEC", "")
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir))
	require.NoError(t, err)

	var mu sync.Mutex
	var states []string
	a.notify = func(s string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	require.NoError(t, a.Start(context.Background()))
	require.Error(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return a.lastCycle.Load() != 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, a.Health())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
	require.NoError(t, a.Stop(ctx, StopSignal))

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, a.Err())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, daemon.SdNotifyReady)
	assert.Contains(t, states, daemon.SdNotifyWatchdog)
	assert.Equal(t, daemon.SdNotifyStopping, states[len(states)-1])
}

func TestHealth(t *testing.T) {
	now := time.Unix(1714564800, 0)
	a := &App{
		now:        func() time.Time { return now },
		notify:     func(string) {},
		staleAfter: 5 * time.Minute,
	}
	assert.NoError(t, a.Health())

	a.started.Store(now.Add(-10 * time.Minute).UnixNano())
	err := a.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10m0s")

	a.onCycle(poller.Stats{})
	assert.NoError(t, a.Health())

	now = now.Add(6 * time.Minute)
	assert.Error(t, a.Health())
}

func TestApplyReloadLogging(t *testing.T) {
	logs, log := logx.New(logx.Config{Level: "error"})
	defer logs.Close()
	old := &config.Config{Logging: config.LoggingConfig{Level: "error"}}
	a := &App{cfg: old, logs: logs, log: log}

	next := &config.Config{
		Logging: config.LoggingConfig{Level: "debug"},
		Poller:  config.PollerConfig{Interval: "5m"},
	}
	a.applyReload(next)
	assert.Same(t, next, a.cfg)
	assert.True(t, log.Enabled(logx.LevelDebug))
}

func TestMapThrottleWindows(t *testing.T) {
	w, err := mapThrottleWindows(map[string]string{"weibo": "30m", "douyin": ""})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, w[throttle.KeyWeibo])
	assert.Equal(t, 24*time.Hour, w[throttle.KeyDouyin])
	assert.Equal(t, 65*time.Minute, w[throttle.KeyBilibili])

	_, err = mapThrottleWindows(map[string]string{"weibo": "-1m"})
	assert.Error(t, err)

	_, err = mapThrottleWindows(map[string]string{"weibo": "0s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttle.weibo")
}

func TestDefaultNotifyConfigKeepsDedupOff(t *testing.T) {
	limit, err := mapLimitConfig(config.Default().Notify)
	require.NoError(t, err)
	assert.Zero(t, limit.DedupWindow)
	assert.Equal(t, 15*time.Second, limit.Timeout)
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(config.StorageConfig{})
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "file", Path: storage.DefaultPath}, sc)

	sc, err = mapStorageConfig(config.StorageConfig{Driver: "SQLite3", Path: "x.db"})
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, sc)

	_, err = mapStorageConfig(config.StorageConfig{Driver: "redis"})
	assert.Error(t, err)
}

func TestMapPollerConfig(t *testing.T) {
	cfg := &config.Config{
		Accounts: []model.Account{{Slug: "a", Enabled: true}},
		Poller:   config.PollerConfig{Interval: "60s", Schedule: "*/5 * * * *", Timezone: "UTC", JitterMin: "1s", JitterMax: "3s"},
		Storage:  config.StorageConfig{PruneRemoved: true},
	}
	pc, cad, err := mapPollerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Second, pc.JitterMin)
	assert.Equal(t, 3*time.Second, pc.JitterMax)
	assert.True(t, pc.PruneRemoved)
	assert.Len(t, pc.Accounts, 1)

	next := cad.Next(time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC))
	assert.Equal(t, 0, next.Minute()%5)

	cfg.Poller.Timezone = "Mars/Base"
	_, _, err = mapPollerConfig(cfg)
	assert.Error(t, err)
}

func TestBuildDispatcher(t *testing.T) {
	cfg := &config.Config{}
	out, names, err := buildDispatcher(cfg, logx.Nop(), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.IsType(t, dispatch.Discard{}, out)

	cfg.WeCom = config.WeComConfig{CorpID: "ww1", Secret: "s", AgentID: 1000002}
	out, names, err = buildDispatcher(cfg, logx.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wecom"}, names)
	assert.IsType(t, &dispatch.RateLimited{}, out)

	cfg.Telegram = config.TelegramConfig{Token: "123:abc", ChatID: -100}
	out, names, err = buildDispatcher(cfg, logx.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wecom", "telegram"}, names)
	require.IsType(t, dispatch.Fanout{}, out)
	assert.Len(t, out.(dispatch.Fanout), 2)

	cfg.Notify.DedupWindow = "later"
	_, _, err = buildDispatcher(cfg, logx.Nop(), nil)
	assert.Error(t, err)
}

func TestRunWatchdog(t *testing.T) {
	var mu sync.Mutex
	pings := 0
	notify := func(s string) {
		if s == daemon.SdNotifyWatchdog {
			mu.Lock()
			pings++
			mu.Unlock()
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWatchdog(ctx, 5*time.Millisecond, func() error { return nil }, notify) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
