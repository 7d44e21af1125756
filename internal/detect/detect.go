// Package detect compares a freshly fetched provider payload against the last
// stored snapshot and decides what changed.
//
// Everything here is a pure function of its inputs: no I/O, no clock, no
// hidden state. The orchestrator owns fetching, throttling and persistence.
package detect

import (
	"feedwatch/internal/model"
)

// LiveNote explains the live decision for logging.
type LiveNote string

const (
	LiveNone            LiveNote = ""
	LiveNotStarted      LiveNote = "not_live"
	LiveDetailMissing   LiveNote = "detail_missing"
	LiveDetailDisagrees LiveNote = "detail_not_live"
	LiveAlreadyNotified LiveNote = "already_notified"
	LiveStarted         LiveNote = "started"
)

// Result is the outcome of one Detect call.
type Result struct {
	Events []model.ChangeEvent
	// Next is the snapshot to commit once the pipeline for this provider completes.
	Next *model.Snapshot
	// Latest is the item selected from the listing (nil for providers without a feed).
	Latest *model.ContentItem
	// Stale is set when Latest has a new id but is not newer than the stored item.
	Stale bool
	Live  LiveNote
}

// Detect runs profile, feed and live detection for one provider payload.
// prev is nil on the first observation of an account/provider pair.
func Detect(prev *model.Snapshot, raw *model.Raw) Result {
	next := &model.Snapshot{
		Provider:  raw.Provider,
		ScrapedAt: raw.ScrapedAt,
	}
	if raw.User != nil {
		u := *raw.User
		next.User = &u
	}

	var res Result
	res.Next = next

	if prev != nil {
		res.Events = append(res.Events, diffProfile(raw.Provider, prev.User, raw.User)...)
	}

	if len(raw.Items) > 0 {
		var prevItem *model.ContentItem
		if prev != nil {
			prevItem = prev.LatestItem
		}
		latest := SelectLatest(raw.Provider, raw.Items)
		ev, stored, stale := detectContent(raw.Provider, prevItem, latest)
		if ev != nil {
			res.Events = append(res.Events, *ev)
		}
		next.LatestItem = stored
		res.Latest = cloneItem(latest)
		res.Stale = stale
	} else if prev != nil {
		next.LatestItem = cloneItem(prev.LatestItem)
	}

	if raw.Live != nil {
		var prevLive *model.LiveState
		if prev != nil {
			prevLive = prev.Live
		}
		evs, live, note := detectLive(raw.Provider, prevLive, raw.Live, raw.ScrapedAt.UnixMilli())
		res.Events = append(res.Events, evs...)
		next.Live = live
		res.Live = note
	}

	return res
}

// MarkNotified records that the live occurrence in snap has been notified.
func MarkNotified(snap *model.Snapshot) {
	if snap != nil && snap.Live != nil {
		snap.Live.Notified = true
	}
}

func diffProfile(p model.Provider, prev, cur *model.Profile) []model.ChangeEvent {
	if prev == nil || cur == nil {
		return nil
	}
	var out []model.ChangeEvent
	check := func(field model.ProfileField, old, now string) {
		// A field seen for the first time is not a change.
		if old == "" || old == now {
			return
		}
		out = append(out, model.ChangeEvent{
			Kind:     model.EventProfileChanged,
			Provider: p,
			Profile:  &model.ProfileChange{Field: field, OldValue: old, NewValue: now, UID: cur.UID},
		})
	}
	check(model.FieldNickname, prev.Nickname, cur.Nickname)
	check(model.FieldSignature, prev.Signature, cur.Signature)
	check(model.FieldAvatar, prev.Avatar, cur.Avatar)
	check(model.FieldCover, prev.Cover, cur.Cover)
	return out
}

func cloneItem(it *model.ContentItem) *model.ContentItem {
	if it == nil {
		return nil
	}
	cp := *it
	if it.Origin != nil {
		o := *it.Origin
		cp.Origin = &o
	}
	return &cp
}
