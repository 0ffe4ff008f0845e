package usecase

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Action ids accepted by the flow machine.
const (
	ActionConfirm        = "confirm"
	ActionIntervene      = "intervene"
	ActionQuit           = "quit"
	ActionComplete       = "complete"
	ActionSelect         = "select"
	ActionSupport        = "support"
	ActionBack           = "back"
	ActionSetTimer       = "set_timer"
	ActionTakeBreak      = "take_break"
	ActionDismiss        = "dismiss"
	ActionChallenge      = "challenge"
	ActionContinue       = "continue"
	ActionEmergency      = "emergency"
	ActionWeeklyOverride = "weekly_override"
	ActionHome           = "home"
)

// Payload keys.
const (
	PayloadMinutes = "minutes"
	PayloadPurpose = "purpose"
	PayloadCause   = "cause"
)

// FlowConfig holds the durations and choices offered on the flow surfaces.
type FlowConfig struct {
	IntentionPresets       []int // minutes offered on Timebox and Checkpoint
	MaxIntentionMinutes    int
	QuickTaskDuration      time.Duration
	HardBreakDuration      time.Duration
	EmergencyAllowDuration time.Duration
	BreathingDuration      time.Duration
	SupportCauses          []string
}

// DefaultFlowConfig returns sensible defaults.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		IntentionPresets:       []int{5, 15, 30},
		MaxIntentionMinutes:    120,
		QuickTaskDuration:      3 * time.Minute,
		HardBreakDuration:      30 * time.Minute,
		EmergencyAllowDuration: 5 * time.Minute,
		BreathingDuration:      5 * time.Second,
		SupportCauses:          []string{"bored", "stressed", "lonely", "tired", "habit"},
	}
}

// View is the state the flow reads to build surfaces and validate choices.
type View struct {
	Now                     time.Time
	Quota                   domain.QuotaState
	Global                  domain.GlobalQuota
	Run                     domain.RunContext
	Timers                  domain.TimerState
	EmergencyPassAvailable  bool
	WeeklyOverrideAvailable bool
}

// Effect is a state change the flow asks the pipeline to apply.
type Effect interface {
	isFlowEffect()
}

type effectBase struct{}

func (effectBase) isFlowEffect() {}

// SetTimerEffect sets kind to now+Duration and schedules its expiry.
type SetTimerEffect struct {
	effectBase
	Kind     domain.TimerKind
	Duration time.Duration
}

// ClearTimerEffect unsets a timer.
type ClearTimerEffect struct {
	effectBase
	Kind domain.TimerKind
}

// DecrementQuickTaskEffect spends one quick task.
type DecrementQuickTaskEffect struct{ effectBase }

// RecordPurposeEffect stores the stated purpose.
type RecordPurposeEffect struct {
	effectBase
	Purpose string
}

// RecordRootCauseEffect stores the chosen root cause.
type RecordRootCauseEffect struct {
	effectBase
	Cause string
}

// IncrementCheckpointEffect bumps the checkpoint count.
type IncrementCheckpointEffect struct{ effectBase }

// ClearRunContextEffect ends the current attempt's run context.
type ClearRunContextEffect struct{ effectBase }

// ConsumeDailyChallengeEffect marks the daily challenge used.
type ConsumeDailyChallengeEffect struct{ effectBase }

// ConsumeEmergencyPassEffect spends an emergency pass.
type ConsumeEmergencyPassEffect struct{ effectBase }

// RecordWeeklyOverrideEffect stamps the weekly override.
type RecordWeeklyOverrideEffect struct{ effectBase }

// Output is what a flow step produces. At most one of Surface, Close and
// ReturnHome is set. Close and ReturnHome end the session.
type Output struct {
	Target     domain.Target
	SessionID  string
	Surface    *domain.SurfaceModel
	Effects    []Effect
	Close      bool
	ReturnHome bool
}

// Ends reports whether the output ends the session.
func (o Output) Ends() bool {
	return o.Close || o.ReturnHome
}

// FlowMachine keeps per-target intervention progress. Only the
// ActiveIntention step is kept after its session ends; every other step is
// discarded. It is owned by the event pipeline and is not safe for
// concurrent use.
type FlowMachine struct {
	cfg    FlowConfig
	logger *zap.Logger
	flows  map[domain.Target]*domain.FlowContext
}

// NewFlowMachine creates an empty flow machine.
func NewFlowMachine(cfg FlowConfig, logger *zap.Logger) *FlowMachine {
	return &FlowMachine{
		cfg:    cfg,
		logger: logger,
		flows:  make(map[domain.Target]*domain.FlowContext),
	}
}

// Get returns a copy of the target's flow context.
func (m *FlowMachine) Get(target domain.Target) (domain.FlowContext, bool) {
	fc, ok := m.flows[target]
	if !ok {
		return domain.FlowContext{}, false
	}
	return *fc, true
}

// Flows returns copies of all flow contexts.
func (m *FlowMachine) Flows() []domain.FlowContext {
	out := make([]domain.FlowContext, 0, len(m.flows))
	for _, fc := range m.flows {
		out = append(out, *fc)
	}
	return out
}

// Parked reports whether target has a preserved flow waiting to resume.
func (m *FlowMachine) Parked(target domain.Target) (domain.FlowContext, bool) {
	fc, ok := m.flows[target]
	if !ok || !fc.State.Preserved() {
		return domain.FlowContext{}, false
	}
	return *fc, true
}

// MidStep reports whether target has a non-preserved step in progress.
func (m *FlowMachine) MidStep(target domain.Target) (domain.FlowContext, bool) {
	fc, ok := m.flows[target]
	if !ok || fc.State.Preserved() || fc.State == domain.FlowIdle {
		return domain.FlowContext{}, false
	}
	return *fc, true
}

// Begin starts a flow at entry for a freshly started session.
func (m *FlowMachine) Begin(target domain.Target, sessionID string, entry domain.FlowState, v View) Output {
	fc := &domain.FlowContext{
		Target:           target,
		State:            entry,
		SessionID:        sessionID,
		CheckpointNumber: v.Run.CheckpointCount,
	}
	m.flows[target] = fc
	m.logger.Debug("flow begin",
		zap.String("target", string(target)),
		zap.String("session", sessionID),
		zap.String("state", string(entry)))
	return m.present(fc, v, nil)
}

// Resume continues the target's flow under sessionID. A preserved step moves
// on to Checkpoint; a mid-step flow is presented again where it stopped.
func (m *FlowMachine) Resume(target domain.Target, sessionID string, v View) (Output, bool) {
	fc, ok := m.flows[target]
	if !ok {
		return Output{}, false
	}
	fc.SessionID = sessionID
	if fc.State.Preserved() {
		return m.toCheckpoint(fc, v), true
	}
	return m.present(fc, v, nil), true
}

// OnIntentionExpired moves a parked ActiveIntention flow to Checkpoint.
func (m *FlowMachine) OnIntentionExpired(target domain.Target, sessionID string, v View) (Output, bool) {
	fc, ok := m.flows[target]
	if !ok || fc.State != domain.FlowActiveIntention {
		return Output{}, false
	}
	fc.SessionID = sessionID
	return m.toCheckpoint(fc, v), true
}

// OnExit handles the target leaving the foreground. Preserved steps stay;
// everything else resets to the beginning on the next entry.
func (m *FlowMachine) OnExit(target domain.Target) {
	fc, ok := m.flows[target]
	if !ok || fc.State.Preserved() {
		return
	}
	m.logger.Debug("flow reset on exit",
		zap.String("target", string(target)),
		zap.String("state", string(fc.State)))
	delete(m.flows, target)
}

// Discard drops the target's flow regardless of state.
func (m *FlowMachine) Discard(target domain.Target) {
	delete(m.flows, target)
}

// MarkEmitted records when a surface for target was last presented.
func (m *FlowMachine) MarkEmitted(target domain.Target, at time.Time) {
	if fc, ok := m.flows[target]; ok {
		fc.LastEmittedAt = at
	}
}

// Handle applies a renderer action. It returns false when the action does
// not belong to a live flow step (unknown session, wrong surface or action).
func (m *FlowMachine) Handle(a domain.UserAction, v View) (Output, bool) {
	fc := m.bySession(a.SessionID)
	if fc == nil {
		m.logger.Debug("ignoring action for unknown session",
			zap.String("session", a.SessionID),
			zap.String("action", a.ActionID))
		return Output{}, false
	}
	if a.SurfaceID != string(fc.State) {
		m.logger.Debug("ignoring action for stale surface",
			zap.String("session", a.SessionID),
			zap.String("surface", a.SurfaceID),
			zap.String("state", string(fc.State)))
		return Output{}, false
	}

	out, ok := m.step(fc, a, v)
	if !ok {
		m.logger.Debug("ignoring action not valid on step",
			zap.String("state", string(fc.State)),
			zap.String("action", a.ActionID))
		return Output{}, false
	}
	if out.Ends() && !fc.State.Preserved() {
		delete(m.flows, fc.Target)
	}
	return out, true
}

func (m *FlowMachine) bySession(sessionID string) *domain.FlowContext {
	if sessionID == "" {
		return nil
	}
	for _, fc := range m.flows {
		if fc.SessionID == sessionID && !fc.State.Preserved() {
			return fc
		}
	}
	return nil
}

func (m *FlowMachine) step(fc *domain.FlowContext, a domain.UserAction, v View) (Output, bool) {
	switch fc.State {
	case domain.FlowFastLaneEntry:
		switch a.ActionID {
		case ActionConfirm:
			if v.Quota.QuickTaskRemaining <= 0 {
				return Output{}, false
			}
			return m.closeWith(fc,
				DecrementQuickTaskEffect{},
				SetTimerEffect{Kind: domain.TimerQuickTask, Duration: m.cfg.QuickTaskDuration}), true
		case ActionIntervene:
			return m.moveTo(fc, domain.FlowBreathing, v), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		}

	case domain.FlowBreathing:
		switch a.ActionID {
		case ActionComplete:
			return m.moveTo(fc, domain.FlowTimebox, v), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		}

	case domain.FlowTimebox:
		switch a.ActionID {
		case ActionSelect:
			minutes, ok := m.minutes(a)
			if !ok {
				return Output{}, false
			}
			fc.TimeboxMinutes = minutes
			return m.moveTo(fc, domain.FlowPurposePicker, v), true
		case ActionSupport:
			return m.moveTo(fc, domain.FlowSupportTrigger, v), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		}

	case domain.FlowPurposePicker:
		switch a.ActionID {
		case ActionSelect:
			purpose := strings.TrimSpace(a.Payload[PayloadPurpose])
			if purpose == "" || strings.Contains(purpose, ",") || fc.TimeboxMinutes <= 0 {
				return Output{}, false
			}
			return m.startIntention(fc, fc.TimeboxMinutes, RecordPurposeEffect{Purpose: purpose}), true
		case ActionBack:
			return m.moveTo(fc, domain.FlowTimebox, v), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		}

	case domain.FlowCheckpoint:
		switch a.ActionID {
		case ActionSetTimer:
			minutes, ok := m.minutes(a)
			if !ok {
				return Output{}, false
			}
			return m.startIntention(fc, minutes), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		case ActionSupport:
			return m.moveTo(fc, domain.FlowSupportTrigger, v), true
		case ActionTakeBreak:
			out := m.moveTo(fc, domain.FlowHardBreak, v)
			out.Effects = []Effect{
				ClearTimerEffect{Kind: domain.TimerIntention},
				SetTimerEffect{Kind: domain.TimerHardBreak, Duration: m.cfg.HardBreakDuration},
				ClearRunContextEffect{},
			}
			out.Surface.Props["remainingSeconds"] = int64(m.cfg.HardBreakDuration / time.Second)
			return out, true
		}

	case domain.FlowSupportTrigger:
		switch a.ActionID {
		case ActionSelect:
			cause := strings.TrimSpace(a.Payload[PayloadCause])
			if cause == "" {
				return Output{}, false
			}
			v.Run.RootCause = cause
			out := m.moveTo(fc, domain.FlowSupportDetail, v)
			out.Effects = []Effect{RecordRootCauseEffect{Cause: cause}}
			return out, true
		case ActionDismiss:
			return m.moveTo(fc, domain.FlowTimebox, v), true
		}

	case domain.FlowSupportDetail:
		switch a.ActionID {
		case ActionChallenge:
			if v.Global.DailyChallengeUsedToday {
				return Output{}, false
			}
			return m.home(fc, ConsumeDailyChallengeEffect{}, ClearRunContextEffect{}), true
		case ActionContinue:
			return m.moveTo(fc, domain.FlowTimebox, v), true
		case ActionQuit:
			return m.home(fc, ClearRunContextEffect{}), true
		}

	case domain.FlowHardBreak:
		switch a.ActionID {
		case ActionEmergency:
			if !v.EmergencyPassAvailable {
				return Output{}, false
			}
			return m.closeWith(fc,
				ConsumeEmergencyPassEffect{},
				SetTimerEffect{Kind: domain.TimerEmergencyAllow, Duration: m.cfg.EmergencyAllowDuration}), true
		case ActionWeeklyOverride:
			if !v.WeeklyOverrideAvailable {
				return Output{}, false
			}
			return m.closeWith(fc,
				RecordWeeklyOverrideEffect{},
				ClearTimerEffect{Kind: domain.TimerHardBreak},
				ClearTimerEffect{Kind: domain.TimerEmergencyAllow}), true
		case ActionHome:
			return m.home(fc, ClearRunContextEffect{}), true
		}
	}
	return Output{}, false
}

func (m *FlowMachine) minutes(a domain.UserAction) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(a.Payload[PayloadMinutes]))
	if err != nil || n <= 0 || n > m.cfg.MaxIntentionMinutes {
		return 0, false
	}
	return n, true
}

// startIntention parks the flow in ActiveIntention and closes the overlay.
func (m *FlowMachine) startIntention(fc *domain.FlowContext, minutes int, extra ...Effect) Output {
	fc.State = domain.FlowActiveIntention
	effects := append(extra, SetTimerEffect{
		Kind:     domain.TimerIntention,
		Duration: time.Duration(minutes) * time.Minute,
	})
	return Output{Target: fc.Target, SessionID: fc.SessionID, Effects: effects, Close: true}
}

func (m *FlowMachine) toCheckpoint(fc *domain.FlowContext, v View) Output {
	fc.State = domain.FlowCheckpoint
	fc.CheckpointNumber = v.Run.CheckpointCount + 1
	return m.present(fc, v, []Effect{IncrementCheckpointEffect{}})
}

func (m *FlowMachine) moveTo(fc *domain.FlowContext, next domain.FlowState, v View) Output {
	fc.State = next
	return m.present(fc, v, nil)
}

func (m *FlowMachine) closeWith(fc *domain.FlowContext, effects ...Effect) Output {
	return Output{Target: fc.Target, SessionID: fc.SessionID, Effects: effects, Close: true}
}

func (m *FlowMachine) home(fc *domain.FlowContext, effects ...Effect) Output {
	return Output{Target: fc.Target, SessionID: fc.SessionID, Effects: effects, ReturnHome: true}
}

func (m *FlowMachine) present(fc *domain.FlowContext, v View, effects []Effect) Output {
	return Output{
		Target:    fc.Target,
		SessionID: fc.SessionID,
		Surface: &domain.SurfaceModel{
			SurfaceID: string(fc.State),
			Target:    fc.Target,
			SessionID: fc.SessionID,
			Props:     m.props(fc, v),
		},
		Effects: effects,
	}
}

// props builds the scalar parameters for the surface of fc's current step.
func (m *FlowMachine) props(fc *domain.FlowContext, v View) domain.Props {
	p := domain.Props{}
	switch fc.State {
	case domain.FlowFastLaneEntry:
		p["quickTaskRemaining"] = v.Quota.QuickTaskRemaining
		p["quickTaskSeconds"] = int64(m.cfg.QuickTaskDuration / time.Second)
	case domain.FlowBreathing:
		p["durationSeconds"] = int64(m.cfg.BreathingDuration / time.Second)
	case domain.FlowTimebox:
		p["presets"] = joinInts(m.cfg.IntentionPresets)
		p["maxMinutes"] = m.cfg.MaxIntentionMinutes
	case domain.FlowPurposePicker:
		p["minutes"] = fc.TimeboxMinutes
		p["recentPurposes"] = joinPurposes(v.Run.RecentPurposes)
		p["lastPurpose"] = v.Run.LastPurpose
	case domain.FlowCheckpoint:
		p["checkpointNumber"] = fc.CheckpointNumber
		p["purpose"] = v.Run.Purpose
		p["presets"] = joinInts(m.cfg.IntentionPresets)
		p["hardBreakMinutes"] = int(m.cfg.HardBreakDuration / time.Minute)
	case domain.FlowSupportTrigger:
		p["causes"] = strings.Join(m.cfg.SupportCauses, ",")
	case domain.FlowSupportDetail:
		p["rootCause"] = v.Run.RootCause
		p["challengeAvailable"] = !v.Global.DailyChallengeUsedToday
	case domain.FlowHardBreak:
		p["remainingSeconds"] = int64(v.Timers.Remaining(domain.TimerHardBreak, v.Now) / time.Second)
		p["emergencyPassAvailable"] = v.EmergencyPassAvailable
		p["emergencyPassBalance"] = v.Global.EmergencyPassBalance
		p["weeklyOverrideAvailable"] = v.WeeklyOverrideAvailable
	}
	return p
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
