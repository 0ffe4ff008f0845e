package domain

import "time"

// Event is an input to the event pipeline. The set of events is closed:
// only types in this package implement it.
type Event interface {
	isPipelineEvent()
}

// eventBase can be embedded to satisfy Event.
type eventBase struct{}

func (eventBase) isPipelineEvent() {}

// EntryEvent reports that a target came to the foreground.
// Forced marks an explicit user re-entry that bypasses suppression windows.
type EntryEvent struct {
	eventBase
	Target Target
	At     time.Time
	Forced bool
}

// ExitEvent reports that a target left the foreground.
type ExitEvent struct {
	eventBase
	Target Target
	At     time.Time
}

// TimerExpiredEvent fires when a scheduled deadline passes. Expected is the
// deadline at schedule time; a mismatch with the stored deadline makes it stale.
type TimerExpiredEvent struct {
	eventBase
	Target   Target
	Kind     TimerKind
	Expected time.Time
}

// UserActionEvent carries a renderer action.
type UserActionEvent struct {
	eventBase
	Action UserAction
	At     time.Time
}

// OverlayConfirmedEvent reports that the renderer actually showed the overlay.
type OverlayConfirmedEvent struct {
	eventBase
	SessionID string
}

// WatchdogEvent re-checks a session that may be stuck in STARTING.
type WatchdogEvent struct {
	eventBase
	SessionID string
}

// RecheckEvent is a bounded, deferred re-evaluation of the foreground target.
type RecheckEvent struct {
	eventBase
	Target  Target
	Attempt int
}

// WakeEvent reports that the device woke up; it opens a suppression window.
type WakeEvent struct {
	eventBase
	At time.Time
}

// LockEvent schedules a hard break for a target.
type LockEvent struct {
	eventBase
	Target Target
	Until  time.Time
}

// NewEntryEvent builds an EntryEvent.
func NewEntryEvent(target Target, at time.Time, forced bool) EntryEvent {
	return EntryEvent{Target: target, At: at, Forced: forced}
}

// NewExitEvent builds an ExitEvent.
func NewExitEvent(target Target, at time.Time) ExitEvent {
	return ExitEvent{Target: target, At: at}
}

// NewTimerExpiredEvent builds a TimerExpiredEvent.
func NewTimerExpiredEvent(target Target, kind TimerKind, expected time.Time) TimerExpiredEvent {
	return TimerExpiredEvent{Target: target, Kind: kind, Expected: expected}
}

// NewUserActionEvent builds a UserActionEvent.
func NewUserActionEvent(action UserAction, at time.Time) UserActionEvent {
	return UserActionEvent{Action: action, At: at}
}

// NewOverlayConfirmedEvent builds an OverlayConfirmedEvent.
func NewOverlayConfirmedEvent(sessionID string) OverlayConfirmedEvent {
	return OverlayConfirmedEvent{SessionID: sessionID}
}

// NewWatchdogEvent builds a WatchdogEvent.
func NewWatchdogEvent(sessionID string) WatchdogEvent {
	return WatchdogEvent{SessionID: sessionID}
}

// NewRecheckEvent builds a RecheckEvent.
func NewRecheckEvent(target Target, attempt int) RecheckEvent {
	return RecheckEvent{Target: target, Attempt: attempt}
}

// NewWakeEvent builds a WakeEvent.
func NewWakeEvent(at time.Time) WakeEvent {
	return WakeEvent{At: at}
}

// NewLockEvent builds a LockEvent.
func NewLockEvent(target Target, until time.Time) LockEvent {
	return LockEvent{Target: target, Until: until}
}
