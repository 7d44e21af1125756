// Package storage persists the per-account provider snapshots between polls.
//
// Two drivers are available:
//   - file: a single pretty-printed JSON document, replaced atomically on save
//   - sqlite: one row per account/provider pair holding the snapshot JSON
package storage
