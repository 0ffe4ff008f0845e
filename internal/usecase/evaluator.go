package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Action is the evaluator's outcome. The set is closed: NoAction,
// ShowHardBreak, StartQuickTask and StartIntervention.
type Action interface {
	isAction()
	String() string
}

type actionBase struct{}

func (actionBase) isAction() {}

// NoAction leaves the target alone.
type NoAction struct{ actionBase }

// ShowHardBreak presents the lockout screen.
type ShowHardBreak struct{ actionBase }

// StartQuickTask offers a quick task.
type StartQuickTask struct{ actionBase }

// StartIntervention starts the intervention flow. Resume continues an
// existing flow for the target instead of beginning a new one.
type StartIntervention struct {
	actionBase
	Resume bool
}

func (NoAction) String() string       { return "no_action" }
func (ShowHardBreak) String() string  { return "show_hard_break" }
func (StartQuickTask) String() string { return "start_quick_task" }
func (a StartIntervention) String() string {
	if a.Resume {
		return "resume_intervention"
	}
	return "start_intervention"
}

// Reason explains which rule produced a decision.
type Reason string

const (
	ReasonNotMonitored        Reason = "not_monitored"
	ReasonHardBreak           Reason = "hard_break_active"
	ReasonEmergencyAllow      Reason = "emergency_allow_active"
	ReasonSessionActive       Reason = "session_active_for_target"
	ReasonPostChoiceLock      Reason = "post_choice_lock"
	ReasonOfferingShown       Reason = "offering_shown"
	ReasonIntentionActive     Reason = "intention_active"
	ReasonResumePreserved     Reason = "resume_preserved_step"
	ReasonResumeDebounced     Reason = "resume_debounced"
	ReasonResumeMidStep       Reason = "resume_mid_step"
	ReasonQuickTaskRunning    Reason = "quick_task_running"
	ReasonQuitSuppression     Reason = "quit_suppression"
	ReasonWakeSuppression     Reason = "wake_suppression"
	ReasonOverlayBusy         Reason = "overlay_busy"
	ReasonQuickTaskAvailable  Reason = "quick_task_available"
	ReasonInterventionDefault Reason = "intervention"
)

// Decision pairs an Action with the rule that produced it.
type Decision struct {
	Action Action
	Reason Reason
}

// Snapshot is the read-only view the evaluator decides on.
// The pipeline assembles it from the state store, the coordinator
// and its own markers.
type Snapshot struct {
	Monitored bool
	Timers    domain.TimerState

	// SessionActive is true when the current overlay belongs to this target.
	SessionActive bool
	// OverlayOwner is the target holding the overlay, empty when free.
	OverlayOwner domain.Target

	PostChoiceLocked bool
	OfferingShown    bool

	// PreservedFlow marks a parked flow whose step survives background cycles.
	PreservedFlow bool
	LastEmittedAt time.Time
	FlowMidStep   bool

	QuitSuppressRemaining time.Duration
	WakeSuppressRemaining time.Duration
	Forced                bool

	QuickTaskRemaining int
	QuickTaskAllowed   bool
}

// EvaluatorConfig holds evaluator tuning.
type EvaluatorConfig struct {
	// ResumeDebounce is the minimum gap between two emissions of a preserved step.
	ResumeDebounce time.Duration
}

// DefaultEvaluatorConfig returns sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{ResumeDebounce: 800 * time.Millisecond}
}

// Evaluator applies the ordered rule list. It has no side effects.
type Evaluator struct {
	cfg EvaluatorConfig
}

// NewEvaluator creates an evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() EvaluatorConfig {
	return e.cfg
}

// Evaluate decides what to show for target at now.
// The rule order is part of the contract; do not reorder.
func (e *Evaluator) Evaluate(target domain.Target, now time.Time, s Snapshot) Decision {
	// 1
	if !s.Monitored {
		return Decision{NoAction{}, ReasonNotMonitored}
	}

	// 2, 3
	if s.Timers.Active(domain.TimerHardBreak, now) {
		if !s.Timers.Active(domain.TimerEmergencyAllow, now) {
			return Decision{ShowHardBreak{}, ReasonHardBreak}
		}
		return Decision{NoAction{}, ReasonEmergencyAllow}
	}

	// 4
	if s.SessionActive {
		return Decision{NoAction{}, ReasonSessionActive}
	}

	// 5
	if s.PostChoiceLocked {
		return Decision{NoAction{}, ReasonPostChoiceLock}
	}
	if s.OfferingShown {
		return Decision{NoAction{}, ReasonOfferingShown}
	}

	// 6
	if s.Timers.Active(domain.TimerIntention, now) {
		return Decision{NoAction{}, ReasonIntentionActive}
	}

	// 7
	if s.PreservedFlow {
		if !s.LastEmittedAt.IsZero() && now.Sub(s.LastEmittedAt) < e.cfg.ResumeDebounce {
			return Decision{NoAction{}, ReasonResumeDebounced}
		}
		return Decision{StartIntervention{Resume: true}, ReasonResumePreserved}
	}

	// 8
	if s.FlowMidStep {
		return Decision{StartIntervention{Resume: true}, ReasonResumeMidStep}
	}

	// 9
	if s.Timers.Active(domain.TimerQuickTask, now) {
		return Decision{NoAction{}, ReasonQuickTaskRunning}
	}

	// 10
	if !s.Forced {
		if s.QuitSuppressRemaining > 0 {
			return Decision{NoAction{}, ReasonQuitSuppression}
		}
		if s.WakeSuppressRemaining > 0 {
			return Decision{NoAction{}, ReasonWakeSuppression}
		}
	}

	// 11
	if s.OverlayOwner != "" && s.OverlayOwner != target {
		return Decision{NoAction{}, ReasonOverlayBusy}
	}

	// 12
	if s.QuickTaskAllowed && s.QuickTaskRemaining > 0 {
		return Decision{StartQuickTask{}, ReasonQuickTaskAvailable}
	}

	// 13
	return Decision{StartIntervention{}, ReasonInterventionDefault}
}
