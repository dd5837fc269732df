package domain

import "time"

// EventKind identifies what the scanner observed.
type EventKind string

const (
	EventChanged EventKind = "changed"
	EventDeleted EventKind = "deleted"
	EventPing    EventKind = "ping"
)

// Event is produced by the scan engine and fanned out to every subscriber.
// Ping events carry no entry.
type Event struct {
	Kind     EventKind
	Category Category
	OldMTime time.Time
	NewMTime time.Time
	Entry    Entry

	// ScannedAt is when the pass that produced the event started.
	ScannedAt time.Time

	// Ping metadata.
	Passes   uint64
	Interval time.Duration
}
