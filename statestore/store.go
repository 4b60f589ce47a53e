// Package statestore is the optional write-behind mirror of engine
// counters, the trade log and last-known open-order ids. It is never
// authoritative: the exchange-reported snapshots supersede it on the first
// successful push. Its only jobs are crash-friendlier restarts (pre-seeded
// counters) and flagging orders that vanished while the process was down.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rustyeddy/futures/tradelog"
)

// State is the mirrored slice of engine state.
type State struct {
	Strategy      string          `json:"strategy"`
	Symbol        string          `json:"symbol"`
	TotalTrades   int             `json:"totalTrades"`
	RealizedPL    float64         `json:"realizedPnl"`
	SessionVolume float64         `json:"sessionVolume"`
	OpenOrderIDs  []int64         `json:"openOrderIds"`
	Log           []tradelog.Entry `json:"log"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store debounces writes of one State to `<strategy>-<symbol>.json`.
// Put never blocks on disk; the flush happens at most once per interval.
type Store struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	pending *State
	timer   *time.Timer
	closed  bool
}

// New creates a store for the given strategy/symbol pair under dir.
// interval is clamped to 1s.
func New(dir, strategy, symbol string, interval time.Duration) *Store {
	if interval < time.Second {
		interval = time.Second
	}
	return &Store{
		path:     filepath.Join(dir, fmt.Sprintf("%s-%s.json", strategy, symbol)),
		interval: interval,
	}
}

func (s *Store) Path() string { return s.path }

// Load reads the mirrored state once at startup. ok is false when no file
// exists yet; that is not an error.
func (s *Store) Load() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := sonic.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parse state: %w", err)
	}
	return st, true, nil
}

// Put schedules st to be written. Consecutive Puts within the debounce
// window collapse into one write of the latest state.
func (s *Store) Put(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	st.UpdatedAt = time.Now()
	s.pending = &st
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval, s.flush)
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	st := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if st == nil {
		return
	}
	_ = s.write(*st)
}

func (s *Store) write(st State) error {
	data, err := sonic.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the mirror.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Close flushes any pending state synchronously and stops the debounce
// timer.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	st := s.pending
	s.pending = nil
	s.mu.Unlock()

	if st != nil {
		return s.write(*st)
	}
	return nil
}
