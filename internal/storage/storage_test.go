package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

func sampleState() State {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	st := State{}
	st.Put("nene", &model.Snapshot{
		Provider:  model.ProviderBiliBio,
		ScrapedAt: at,
		User:      &model.Profile{UID: "1", Nickname: "n", Avatar: "/bfs/face/a.jpg"},
		Live:      &model.LiveState{Status: model.Live, RoomID: "42", StartedAtUnix: 1000, Notified: true},
	})
	st.Put("nene", &model.Snapshot{
		Provider:  model.ProviderBiliMblog,
		ScrapedAt: at,
		LatestItem: &model.ContentItem{
			ID: "9", Kind: model.KindRepost, TimestampUnix: 500, Link: "https://t.bilibili.com/9",
			Origin: &model.Origin{Kind: model.KindVideo, Author: "up"},
		},
	})
	st.Put("mio", &model.Snapshot{Provider: model.ProviderWeibo, ScrapedAt: at})
	return st
}

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "db", "db.json")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "db", "state.sqlite"), BusyTimeout: time.Second},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer s.Close()

			empty, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			want := sampleState()
			require.NoError(t, s.Save(ctx, want))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("state mismatch (-want +got):\n%s", diff)
			}

			// save(load()) is a no-op.
			require.NoError(t, s.Save(ctx, got))
			again, err := s.Load(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(got, again); diff != "" {
				t.Fatalf("state drifted (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileStoreStableBytes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleState()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	st, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, st))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestStoreClosed(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "db.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestStateHelpers(t *testing.T) {
	st := sampleState()

	snap := st.Get("nene", model.ProviderBiliBio)
	require.NotNil(t, snap)
	snap.User.Nickname = "changed"
	assert.Equal(t, "n", st.Get("nene", model.ProviderBiliBio).User.Nickname)

	assert.Nil(t, st.Get("nobody", model.ProviderWeibo))
	assert.Nil(t, State(nil).Get("nene", model.ProviderWeibo))

	removed := st.Prune([]string{"nene"})
	assert.Equal(t, []string{"mio"}, removed)
	assert.Len(t, st, 1)
	assert.Empty(t, st.Prune([]string{"nene", "mio"}))
}
