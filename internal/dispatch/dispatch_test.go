package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/model"
	logx "feedwatch/pkg/logx"
)

var testMsg = model.Message{Title: "nene · B站开播：t", Body: "body", URL: "https://live.bilibili.com/1"}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fakeWeCom struct {
	tokenCalls atomic.Int32
	sendCodes  []int // errcode per send call, last one repeats

	mu    sync.Mutex
	sends []map[string]any
	seen  []string // access tokens used
}

func (f *fakeWeCom) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/gettoken", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corp", r.URL.Query().Get("corpid"))
		assert.Equal(t, "sec", r.URL.Query().Get("corpsecret"))
		n := f.tokenCalls.Add(1)
		writeJSON(w, map[string]any{"errcode": 0, "access_token": "tok" + string(rune('0'+n)), "expires_in": 7200})
	})
	mux.HandleFunc("/cgi-bin/message/send", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.sends = append(f.sends, body)
		f.seen = append(f.seen, r.URL.Query().Get("access_token"))
		i := len(f.sends) - 1
		f.mu.Unlock()
		code := 0
		if len(f.sendCodes) > 0 {
			code = f.sendCodes[min(i, len(f.sendCodes)-1)]
		}
		writeJSON(w, map[string]any{"errcode": code, "errmsg": "x"})
	})
	return mux
}

func newWeCom(t *testing.T, f *fakeWeCom) *WeCom {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewWeCom(WeComConfig{CorpID: "corp", Secret: "sec", AgentID: 1000002, BaseURL: srv.URL}, logx.Nop())
}

func TestWeComSendsTextcard(t *testing.T) {
	f := &fakeWeCom{}
	w := newWeCom(t, f)

	require.NoError(t, w.Dispatch(context.Background(), testMsg))
	require.NoError(t, w.Dispatch(context.Background(), testMsg))

	assert.Equal(t, int32(1), f.tokenCalls.Load(), "token should be cached")
	require.Len(t, f.sends, 2)
	body := f.sends[0]
	assert.Equal(t, "@all", body["touser"])
	assert.Equal(t, "textcard", body["msgtype"])
	assert.Equal(t, float64(1000002), body["agentid"])
	assert.Equal(t, float64(600), body["duplicate_check_interval"])
	card := body["textcard"].(map[string]any)
	assert.Equal(t, testMsg.Title, card["title"])
	assert.Equal(t, testMsg.Body, card["description"])
	assert.Equal(t, testMsg.URL, card["url"])
}

func TestWeComAuthErrorInvalidatesToken(t *testing.T) {
	f := &fakeWeCom{sendCodes: []int{42001, 0}}
	w := newWeCom(t, f)

	err := w.Dispatch(context.Background(), testMsg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Len(t, f.sends, 1, "no retry within a call")

	require.NoError(t, w.Dispatch(context.Background(), testMsg))
	assert.Equal(t, int32(2), f.tokenCalls.Load())
	assert.Equal(t, []string{"tok1", "tok2"}, f.seen)
}

func TestWeComOtherErrorKeepsToken(t *testing.T) {
	f := &fakeWeCom{sendCodes: []int{45009, 0}}
	w := newWeCom(t, f)

	err := w.Dispatch(context.Background(), testMsg)
	require.ErrorIs(t, err, ErrDispatch)
	assert.NotErrorIs(t, err, ErrAuth)
	require.NoError(t, w.Dispatch(context.Background(), testMsg))
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestTokenCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		calls++
		return "t", time.Hour, nil
	}, 5*time.Minute)
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	now = now.Add(54 * time.Minute)
	_, _ = c.Get(context.Background())
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, _ = c.Get(context.Background())
	assert.Equal(t, 2, calls)

	c.Invalidate()
	_, _ = c.Get(context.Background())
	assert.Equal(t, 3, calls)
}

func TestTokenCacheFetchError(t *testing.T) {
	boom := errors.New("boom")
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) { return "", 0, boom }, 0)
	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, boom)
}

type recorder struct {
	name string
	err  error
	got  []model.Message
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) Dispatch(_ context.Context, m model.Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{name: "a"}
	b := &recorder{name: "b", err: boom}
	c := &recorder{name: "c"}

	err := Fanout{a, b, c}.Dispatch(context.Background(), testMsg)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1)

	assert.NoError(t, Fanout{a, c}.Dispatch(context.Background(), testMsg))
}

func TestFanoutDuplicateOnlyWhenAllSuppress(t *testing.T) {
	dup := &recorder{name: "dup", err: ErrDuplicate}
	ok := &recorder{name: "ok"}

	assert.NoError(t, Fanout{dup, ok}.Dispatch(context.Background(), testMsg))
	assert.ErrorIs(t, Fanout{dup, dup}.Dispatch(context.Background(), testMsg), ErrDuplicate)

	err := Fanout{dup, &recorder{name: "down", err: errors.New("down")}}.Dispatch(context.Background(), testMsg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
}

func TestRateLimitedDedupAndEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	rec := &recorder{name: "rec"}
	r := NewRateLimited(rec, LimitConfig{RatePerSec: 100, DedupWindow: time.Minute}, logx.Nop(), bus)

	require.NoError(t, r.Dispatch(context.Background(), testMsg))
	require.ErrorIs(t, r.Dispatch(context.Background(), testMsg), ErrDuplicate)
	other := testMsg
	other.Body = "different"
	require.NoError(t, r.Dispatch(context.Background(), other))

	assert.Len(t, rec.got, 2)
	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypeNotifySent, eventbus.TypeNotifyDeduped, eventbus.TypeNotifySent}, types)
}

func TestRateLimitedFailureAllowsResend(t *testing.T) {
	rec := &recorder{name: "rec", err: errors.New("down")}
	r := NewRateLimited(rec, LimitConfig{RatePerSec: 100, DedupWindow: time.Minute}, logx.Nop(), nil)

	assert.Error(t, r.Dispatch(context.Background(), testMsg))
	rec.err = nil
	assert.NoError(t, r.Dispatch(context.Background(), testMsg))
	assert.Len(t, rec.got, 2)
}

func TestRateLimitedCancelled(t *testing.T) {
	rec := &recorder{name: "rec"}
	r := NewRateLimited(rec, LimitConfig{RatePerSec: 1}, logx.Nop(), nil)
	require.NoError(t, r.Dispatch(context.Background(), testMsg))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, r.Dispatch(ctx, model.Message{Title: "x"}))
	assert.Len(t, rec.got, 1)
}

func TestTelegram(t *testing.T) {
	var gotText, gotChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText, _ = body["text"].(string)
		gotChat, _ = body["chat_id"].(string)
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{
			"message_id": 7, "date": 0, "chat": map[string]any{"id": 42, "type": "private"},
		}})
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, tg.Dispatch(context.Background(), testMsg))
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, testMsg.Title+"\n\nbody\n\n"+testMsg.URL, gotText)
}

func TestNewTelegramValidates(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}
