package daemon

import (
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// TimerScheduler delivers events back into the pipeline after a delay.
// Callbacks only enqueue; they never touch state. Timers are not cancelled:
// handlers drop stale deliveries.
type TimerScheduler struct {
	sub domain.EventSubmitter
}

// NewTimerScheduler creates a scheduler that submits to sub.
func NewTimerScheduler(sub domain.EventSubmitter) *TimerScheduler {
	return &TimerScheduler{sub: sub}
}

// After submits ev once d has elapsed.
func (s *TimerScheduler) After(d time.Duration, ev domain.Event) {
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() {
		s.sub.Submit(ev)
	})
}

// Ensure TimerScheduler implements domain.Scheduler.
var _ domain.Scheduler = (*TimerScheduler)(nil)
