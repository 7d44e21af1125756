package storage

import (
	"errors"
	"slices"
	"time"

	"feedwatch/internal/model"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const DefaultPath = "./db/db.json"

// State is the whole persisted document: slug -> provider -> snapshot.
type State map[string]map[model.Provider]*model.Snapshot

// Get returns a copy of the stored snapshot, or nil.
func (s State) Get(slug string, p model.Provider) *model.Snapshot {
	if s == nil {
		return nil
	}
	return s[slug][p].Clone()
}

// Put stores a copy of snap under slug and snap.Provider.
func (s State) Put(slug string, snap *model.Snapshot) {
	if s == nil || snap == nil {
		return
	}
	scope := s[slug]
	if scope == nil {
		scope = map[model.Provider]*model.Snapshot{}
		s[slug] = scope
	}
	scope[snap.Provider] = snap.Clone()
}

// Prune drops every slug not in keep and returns the removed slugs, sorted.
func (s State) Prune(keep []string) []string {
	var removed []string
	for slug := range s {
		if !slices.Contains(keep, slug) {
			removed = append(removed, slug)
			delete(s, slug)
		}
	}
	slices.Sort(removed)
	return removed
}
