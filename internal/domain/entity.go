// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Target identifies a monitored app or site. All per-target state is keyed by it.
type Target string

// TimerKind names one of the four per-target deadlines.
type TimerKind string

const (
	TimerIntention      TimerKind = "intention"
	TimerQuickTask      TimerKind = "quickTask"
	TimerHardBreak      TimerKind = "hardBreak"
	TimerEmergencyAllow TimerKind = "emergencyAllow"
)

// AllTimerKinds lists every timer kind in a stable order.
var AllTimerKinds = []TimerKind{TimerIntention, TimerQuickTask, TimerHardBreak, TimerEmergencyAllow}

// TimerState holds the per-target deadlines. A zero time means unset.
// An expired deadline stays in place until explicitly cleared.
type TimerState struct {
	IntentionUntil      time.Time
	QuickTaskUntil      time.Time
	HardBreakUntil      time.Time
	EmergencyAllowUntil time.Time
}

// Deadline returns the deadline stored for kind.
func (t TimerState) Deadline(kind TimerKind) time.Time {
	switch kind {
	case TimerIntention:
		return t.IntentionUntil
	case TimerQuickTask:
		return t.QuickTaskUntil
	case TimerHardBreak:
		return t.HardBreakUntil
	case TimerEmergencyAllow:
		return t.EmergencyAllowUntil
	}
	return time.Time{}
}

// With returns a copy with the deadline for kind replaced.
func (t TimerState) With(kind TimerKind, deadline time.Time) TimerState {
	switch kind {
	case TimerIntention:
		t.IntentionUntil = deadline
	case TimerQuickTask:
		t.QuickTaskUntil = deadline
	case TimerHardBreak:
		t.HardBreakUntil = deadline
	case TimerEmergencyAllow:
		t.EmergencyAllowUntil = deadline
	}
	return t
}

// Active reports whether the timer is set and now is before its deadline.
func (t TimerState) Active(kind TimerKind, now time.Time) bool {
	d := t.Deadline(kind)
	return !d.IsZero() && now.Before(d)
}

// Remaining returns the time left on the timer, or zero when inactive.
func (t TimerState) Remaining(kind TimerKind, now time.Time) time.Duration {
	if !t.Active(kind, now) {
		return 0
	}
	return t.Deadline(kind).Sub(now)
}

// QuotaState is the per-target quick task allowance for the current window.
type QuotaState struct {
	QuickTaskRemaining int
	WindowStart        time.Time
}

// GlobalQuota holds counters shared by all targets.
// Reset dates use the local "2006-01-02" layout.
type GlobalQuota struct {
	DailyChallengeUsedToday bool
	DailyChallengeResetDate string
	EmergencyPassBalance    int
	EmergencyPassUsedToday  int
	EmergencyPassResetDate  string
}

// MaxRecentPurposes bounds RunContext.RecentPurposes.
const MaxRecentPurposes = 2

// RunContext carries progress markers for the current intervention attempt.
type RunContext struct {
	CheckpointCount int
	RootCause       string
	Purpose         string
	LastPurpose     string
	RecentPurposes  []string
}

// TargetRecord is everything the state store keeps for one target.
type TargetRecord struct {
	Enabled                  *bool // nil means "use the target policy default"
	Timers                   TimerState
	Quota                    QuotaState
	Run                      RunContext
	WeeklyOverrideLastUsedAt time.Time
}

// SessionKind describes what the overlay is showing.
type SessionKind string

const (
	SessionIntervention SessionKind = "intervention"
	SessionQuickTask    SessionKind = "quickTask"
	SessionHardBreak    SessionKind = "hardBreak"
)

// OverlayState is the lifecycle of the single system-wide overlay.
type OverlayState string

const (
	OverlayInactive OverlayState = "inactive"
	OverlayStarting OverlayState = "starting"
	OverlayActive   OverlayState = "active"
)

// Session is the single active overlay, if any.
type Session struct {
	ID        string
	Target    Target
	Kind      SessionKind
	State     OverlayState
	StartedAt time.Time
}

// FlowState is one node of the intervention flow.
type FlowState string

const (
	FlowIdle            FlowState = "idle"
	FlowBreathing       FlowState = "breathing"
	FlowPurposePicker   FlowState = "purpose_picker"
	FlowFastLaneEntry   FlowState = "fast_lane_entry"
	FlowTimebox         FlowState = "timebox"
	FlowActiveIntention FlowState = "active_intention"
	FlowCheckpoint      FlowState = "checkpoint"
	FlowSupportTrigger  FlowState = "support_trigger"
	FlowSupportDetail   FlowState = "support_detail"
	FlowHardBreak       FlowState = "hard_break"
)

// Preserved reports whether the step survives a background/foreground cycle.
// Only the in-progress timed activity (ActiveIntention) does.
func (s FlowState) Preserved() bool {
	return s == FlowActiveIntention
}

// FlowContext is the flow machine's per-target progress.
type FlowContext struct {
	Target           Target
	State            FlowState
	SessionID        string
	CheckpointNumber int
	TimeboxMinutes   int       // chosen on the Timebox step, used by PurposePicker
	LastEmittedAt    time.Time // last time a surface for this flow was presented
}

// Props are the surface parameters. Values must be scalars
// (string, bool, int, int64, float64).
type Props map[string]any

// SurfaceModel is everything the renderer needs to draw one screen.
type SurfaceModel struct {
	SurfaceID string `json:"surfaceId"`
	Target    Target `json:"target"`
	SessionID string `json:"sessionId"`
	Props     Props  `json:"props"`
}

// UserAction is a renderer-originated choice on a surface.
type UserAction struct {
	SurfaceID string            `json:"surfaceId"`
	ActionID  string            `json:"actionId"`
	SessionID string            `json:"sessionId"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// RenderCommandType tells the renderer what to do.
type RenderCommandType string

const (
	RenderPresent    RenderCommandType = "present"
	RenderClose      RenderCommandType = "close"
	RenderReturnHome RenderCommandType = "home"
)

// RenderCommand is the outbound message to the renderer.
type RenderCommand struct {
	Type      RenderCommandType `json:"type"`
	Target    Target            `json:"target"`
	SessionID string            `json:"sessionId"`
	Surface   *SurfaceModel     `json:"surface,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// PendingReturn is a deferred surface owed to a target, honored at most once
// on the next entry if it has not expired.
type PendingReturn struct {
	Target    Target
	State     FlowState
	SessionID string
	ExpiresAt time.Time
}
