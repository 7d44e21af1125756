package detect

import "feedwatch/internal/model"

func detectLive(p model.Provider, prev *model.LiveState, raw *model.RawLive, scrapedAtMs int64) ([]model.ChangeEvent, *model.LiveState, LiveNote) {
	cur := &model.LiveState{
		Status:        raw.Status,
		RoomID:        raw.RoomID,
		Title:         raw.Title,
		Cover:         raw.Cover,
		URL:           raw.URL,
		StartedAtUnix: raw.StartedAtUnix,
	}

	if !raw.Status.IsLive() {
		return ended(p, prev, cur, LiveNotStarted)
	}

	if raw.DetailRequired {
		if raw.Detail == nil {
			// Second fetch failed: keep whatever we knew about the occurrence.
			if prev != nil {
				cur.Notified = prev.Notified
				cur.StartedAtUnix = prev.StartedAtUnix
			}
			return nil, cur, LiveDetailMissing
		}
		if !raw.Detail.Status.IsLive() {
			return ended(p, prev, cur, LiveDetailDisagrees)
		}
		cur.StartedAtUnix = raw.Detail.StartedAtUnix
	}

	startKnown := cur.StartedAtUnix > 0
	same := prev != nil && prev.Status.IsLive() && prev.RoomID == cur.RoomID &&
		(!startKnown || prev.StartedAtUnix <= 0 || prev.StartedAtUnix == cur.StartedAtUnix)

	if !startKnown {
		if same && prev.StartedAtUnix > 0 {
			cur.StartedAtUnix = prev.StartedAtUnix
		} else {
			cur.StartedAtUnix = scrapedAtMs
		}
	}

	if same && prev.Notified {
		cur.Notified = true
		return nil, cur, LiveAlreadyNotified
	}

	started := *cur
	return []model.ChangeEvent{{
		Kind:     model.EventLiveStarted,
		Provider: p,
		Live:     &started,
	}}, cur, LiveStarted
}

func ended(p model.Provider, prev, cur *model.LiveState, note LiveNote) ([]model.ChangeEvent, *model.LiveState, LiveNote) {
	cur.Status = model.NotLive
	cur.Notified = false
	cur.StartedAtUnix = 0
	if prev == nil || !prev.Status.IsLive() {
		return nil, cur, note
	}
	last := *prev
	return []model.ChangeEvent{{
		Kind:     model.EventLiveEnded,
		Provider: p,
		Live:     &last,
	}}, cur, note
}
