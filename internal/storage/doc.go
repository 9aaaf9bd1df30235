// Package storage persists what must survive a restart: survey responses the
// backend did not accept yet, per-chat preferences and an audit trail.
//
// Two drivers exist: "file" (JSON lines with a compacted snapshot) and
// "sqlite" (modernc.org/sqlite, pure Go).
package storage
