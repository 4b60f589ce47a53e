// Package tradelog is a bounded, append-only ring of human-readable engine
// events. It is the only user-visible error surface of the core; observers
// read it through the emitted snapshot.
package tradelog

import (
	"fmt"
	"sync"
	"time"
)

// EntryType classifies a log line.
type EntryType string

const (
	Open  EntryType = "open"
	Close EntryType = "close"
	Stop  EntryType = "stop"
	Order EntryType = "order"
	Info  EntryType = "info"
	Error EntryType = "error"
)

type Entry struct {
	Time   time.Time
	Type   EntryType
	Detail string
}

// Log is a FIFO ring of Entries; once capacity is reached the oldest entry
// is dropped first.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

const DefaultCapacity = 200

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity}
}

// Append adds an entry, evicting the oldest when full.
func (l *Log) Append(t EntryType, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{Time: time.Now(), Type: t, Detail: detail})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Appendf is Append with fmt.Sprintf formatting.
func (l *Log) Appendf(t EntryType, format string, args ...any) {
	l.Append(t, fmt.Sprintf(format, args...))
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make([]Entry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// Len returns the current number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Restore replaces the ring contents, trimming to capacity from the front.
// Used once at startup when pre-seeding from the state store.
func (l *Log) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(entries) > l.cap {
		entries = entries[len(entries)-l.cap:]
	}
	l.entries = append(l.entries[:0], entries...)
}
