package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Scheduled is one event waiting in a ManualScheduler.
type Scheduled struct {
	Due   time.Time
	Event domain.Event
	seq   int
}

// ManualScheduler holds scheduled events until the test releases them.
// Due times are computed from the shared clock.
type ManualScheduler struct {
	mu      sync.Mutex
	clock   domain.Clock
	pending []Scheduled
	seq     int
}

// NewManualScheduler creates a scheduler reading time from clock.
func NewManualScheduler(clock domain.Clock) *ManualScheduler {
	return &ManualScheduler{clock: clock}
}

// After records ev to be released once the clock reaches now+d.
func (s *ManualScheduler) After(d time.Duration, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = append(s.pending, Scheduled{Due: s.clock.Now().Add(d), Event: ev, seq: s.seq})
}

// Due removes and returns the events due at the current clock time,
// earliest first.
func (s *ManualScheduler) Due() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].Due.Equal(s.pending[j].Due) {
			return s.pending[i].seq < s.pending[j].seq
		}
		return s.pending[i].Due.Before(s.pending[j].Due)
	})
	var due []domain.Event
	keep := s.pending[:0]
	for _, p := range s.pending {
		if !now.Before(p.Due) {
			due = append(due, p.Event)
			continue
		}
		keep = append(keep, p)
	}
	s.pending = keep
	return due
}

// Pending returns a copy of the events not yet released.
func (s *ManualScheduler) Pending() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.pending...)
}

// Release pushes every due event into sub and returns how many were submitted.
func (s *ManualScheduler) Release(sub domain.EventSubmitter) int {
	n := 0
	for _, ev := range s.Due() {
		if sub.Submit(ev) {
			n++
		}
	}
	return n
}
