package detect

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwatch/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func item(id string, ts int64) model.RawItem {
	return model.RawItem{ContentItem: model.ContentItem{ID: id, Kind: model.KindText, TimestampUnix: ts}}
}

func TestDetectFirstObservationEmitsNothing(t *testing.T) {
	raw := &model.Raw{
		Provider:  model.ProviderBiliMblog,
		ScrapedAt: t0,
		User:      &model.Profile{UID: "1", Nickname: "a"},
		Items:     []model.RawItem{item("x", 10)},
	}
	res := Detect(nil, raw)
	assert.Empty(t, res.Events)
	require.NotNil(t, res.Next.LatestItem)
	assert.Equal(t, "x", res.Next.LatestItem.ID)
	assert.Equal(t, "a", res.Next.User.Nickname)
}

func TestDetectProfileChanges(t *testing.T) {
	prev := &model.Snapshot{User: &model.Profile{UID: "1", Nickname: "old", Signature: "", Avatar: "a1", Cover: "c"}}
	raw := &model.Raw{
		Provider: model.ProviderWeibo,
		User:     &model.Profile{UID: "1", Nickname: "new", Signature: "hello", Avatar: "a2", Cover: "c"},
	}
	res := Detect(prev, raw)

	var got []model.ProfileChange
	for _, ev := range res.Events {
		require.Equal(t, model.EventProfileChanged, ev.Kind)
		got = append(got, *ev.Profile)
	}
	want := []model.ProfileChange{
		{Field: model.FieldNickname, OldValue: "old", NewValue: "new", UID: "1"},
		{Field: model.FieldAvatar, OldValue: "a1", NewValue: "a2", UID: "1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("profile events mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectNewContent(t *testing.T) {
	prev := &model.Snapshot{LatestItem: &model.ContentItem{ID: "a", TimestampUnix: 100}}
	raw := &model.Raw{Provider: model.ProviderBiliMblog, Items: []model.RawItem{item("b", 200), item("c", 300)}}

	res := Detect(prev, raw)
	require.Len(t, res.Events, 1)
	assert.Equal(t, model.EventNewContent, res.Events[0].Kind)
	assert.Equal(t, "c", res.Events[0].Content.ID)
	assert.Equal(t, "c", res.Next.LatestItem.ID)
	assert.False(t, res.Stale)
}

func TestDetectSameItemNoEvent(t *testing.T) {
	prev := &model.Snapshot{LatestItem: &model.ContentItem{ID: "a", TimestampUnix: 100}}
	raw := &model.Raw{Provider: model.ProviderDouyin, Items: []model.RawItem{item("a", 100)}}

	res := Detect(prev, raw)
	assert.Empty(t, res.Events)
	assert.Equal(t, "a", res.Next.LatestItem.ID)
}

func TestDetectStaleItemKeepsPointer(t *testing.T) {
	prev := &model.Snapshot{LatestItem: &model.ContentItem{ID: "a", TimestampUnix: 500}}
	raw := &model.Raw{
		Provider: model.ProviderBiliMblog,
		User:     &model.Profile{Nickname: "n"},
		Items:    []model.RawItem{item("b", 400)},
	}

	res := Detect(prev, raw)
	assert.Empty(t, res.Events)
	assert.True(t, res.Stale)
	assert.Equal(t, "a", res.Next.LatestItem.ID)
	assert.Equal(t, int64(500), res.Next.LatestItem.TimestampUnix)
	assert.Equal(t, "b", res.Latest.ID)
	assert.Equal(t, "n", res.Next.User.Nickname)
}

func TestDetectEmptyListingKeepsPreviousItem(t *testing.T) {
	prev := &model.Snapshot{LatestItem: &model.ContentItem{ID: "a", TimestampUnix: 500}}
	res := Detect(prev, &model.Raw{Provider: model.ProviderDouyin})
	assert.Empty(t, res.Events)
	require.NotNil(t, res.Next.LatestItem)
	assert.Equal(t, "a", res.Next.LatestItem.ID)
}

func TestSelectLatest(t *testing.T) {
	pinned := func(id string, ts int64) model.RawItem {
		it := item(id, ts)
		it.Pinned = true
		return it
	}
	tests := []struct {
		name     string
		provider model.Provider
		items    []model.RawItem
		want     string
	}{
		{"weibo pinned older", model.ProviderWeibo, []model.RawItem{pinned("p", 10), item("n", 20)}, "n"},
		{"weibo pinned newer", model.ProviderWeibo, []model.RawItem{pinned("p", 30), item("n", 20)}, "p"},
		{"weibo unpinned first", model.ProviderWeibo, []model.RawItem{item("a", 10), item("b", 20)}, "a"},
		{"weibo single", model.ProviderWeibo, []model.RawItem{pinned("p", 10)}, "p"},
		{"max timestamp", model.ProviderBiliMblog, []model.RawItem{item("a", 10), item("b", 30), item("c", 20)}, "b"},
		{"tie keeps first", model.ProviderDouyin, []model.RawItem{item("a", 30), item("b", 30)}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectLatest(tt.provider, tt.items)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
	assert.Nil(t, SelectLatest(model.ProviderWeibo, nil))
}

func liveRaw(status model.LiveStatus, start int64) *model.Raw {
	return &model.Raw{
		Provider:  model.ProviderDouyinLive,
		ScrapedAt: t0,
		Live:      &model.RawLive{Status: status, RoomID: "r1", Title: "t", StartedAtUnix: start},
	}
}

func TestDetectLiveStartedOncePerOccurrence(t *testing.T) {
	res := Detect(nil, liveRaw(model.Live, 1000))
	require.Len(t, res.Events, 1)
	assert.Equal(t, model.EventLiveStarted, res.Events[0].Kind)
	assert.Equal(t, LiveStarted, res.Live)
	assert.False(t, res.Next.Live.Notified)

	MarkNotified(res.Next)
	prev := res.Next

	res = Detect(prev, liveRaw(model.Live, 1000))
	assert.Empty(t, res.Events)
	assert.Equal(t, LiveAlreadyNotified, res.Live)
	assert.True(t, res.Next.Live.Notified)
}

func TestDetectLiveUnnotifiedRetries(t *testing.T) {
	// Throttled or failed occurrences are offered again on the next poll.
	prev := Detect(nil, liveRaw(model.Live, 1000)).Next
	res := Detect(prev, liveRaw(model.Live, 1000))
	require.Len(t, res.Events, 1)
	assert.Equal(t, model.EventLiveStarted, res.Events[0].Kind)
}

func TestDetectLiveNewOccurrenceResets(t *testing.T) {
	prev := Detect(nil, liveRaw(model.Live, 1000)).Next
	MarkNotified(prev)

	res := Detect(prev, liveRaw(model.Live, 9000))
	require.Len(t, res.Events, 1)
	assert.Equal(t, int64(9000), res.Events[0].Live.StartedAtUnix)
	assert.False(t, res.Next.Live.Notified)
}

func TestDetectLiveEnded(t *testing.T) {
	prev := Detect(nil, liveRaw(model.Live, 1000)).Next
	MarkNotified(prev)

	res := Detect(prev, liveRaw(model.NotLive, 0))
	require.Len(t, res.Events, 1)
	assert.Equal(t, model.EventLiveEnded, res.Events[0].Kind)
	assert.False(t, res.Next.Live.Notified)
	assert.Equal(t, model.NotLive, res.Next.Live.Status)

	res = Detect(res.Next, liveRaw(model.NotLive, 0))
	assert.Empty(t, res.Events)
	assert.Equal(t, LiveNotStarted, res.Live)
}

func TestDetectLiveUnknownStartUsesScrapeTime(t *testing.T) {
	res := Detect(nil, liveRaw(model.Live, 0))
	require.Len(t, res.Events, 1)
	assert.Equal(t, t0.UnixMilli(), res.Next.Live.StartedAtUnix)

	MarkNotified(res.Next)
	later := liveRaw(model.Live, 0)
	later.ScrapedAt = t0.Add(time.Minute)
	res = Detect(res.Next, later)
	assert.Empty(t, res.Events)
	assert.Equal(t, t0.UnixMilli(), res.Next.Live.StartedAtUnix)
}

func biliLive(detail *model.LiveDetail) *model.Raw {
	return &model.Raw{
		Provider:  model.ProviderBiliBio,
		ScrapedAt: t0,
		User:      &model.Profile{UID: "1", Nickname: "n"},
		Live: &model.RawLive{
			Status:         model.Live,
			RoomID:         "42",
			DetailRequired: true,
			Detail:         detail,
		},
	}
}

func TestDetectLiveDetailMissingKeepsFlag(t *testing.T) {
	prev := &model.Snapshot{
		User: &model.Profile{UID: "1", Nickname: "n"},
		Live: &model.LiveState{Status: model.Live, RoomID: "42", StartedAtUnix: 1000, Notified: true},
	}
	res := Detect(prev, biliLive(nil))
	assert.Empty(t, res.Events)
	assert.Equal(t, LiveDetailMissing, res.Live)
	assert.True(t, res.Next.Live.Notified)
	assert.Equal(t, int64(1000), res.Next.Live.StartedAtUnix)
}

func TestDetectLiveDetailNotLive(t *testing.T) {
	res := Detect(nil, biliLive(&model.LiveDetail{Status: model.NotLive}))
	assert.Empty(t, res.Events)
	assert.Equal(t, LiveDetailDisagrees, res.Live)
	assert.Equal(t, model.NotLive, res.Next.Live.Status)
}

func TestDetectLiveDetailStart(t *testing.T) {
	res := Detect(nil, biliLive(&model.LiveDetail{Status: model.Live, StartedAtUnix: 5000}))
	require.Len(t, res.Events, 1)
	assert.Equal(t, int64(5000), res.Events[0].Live.StartedAtUnix)
	assert.Equal(t, int64(5000), res.Events[0].TimestampUnix())
}

func TestDetectDoesNotAliasInputs(t *testing.T) {
	prev := &model.Snapshot{LatestItem: &model.ContentItem{ID: "a", TimestampUnix: 1}}
	raw := &model.Raw{Provider: model.ProviderDouyin, Items: []model.RawItem{item("b", 2)}}
	res := Detect(prev, raw)
	res.Next.LatestItem.ID = "mutated"
	assert.Equal(t, "a", prev.LatestItem.ID)
	assert.Equal(t, "b", raw.Items[0].ID)
}
