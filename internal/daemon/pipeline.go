// Package daemon implements the event pipeline and the process detector.
package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/policy"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

// PipelineConfig holds event pipeline timing configuration.
type PipelineConfig struct {
	WatchdogTimeout  time.Duration // Bound on a STARTING overlay (default 3s)
	PostChoiceLock   time.Duration // Quiet period after the user closes the overlay
	QuitSuppression  time.Duration // Quiet period after the user quits to home
	WakeSuppression  time.Duration // Quiet period after the device wakes
	ReturnContextTTL time.Duration // How long a deferred checkpoint stays owed
	RecheckDelay     time.Duration // Delay before a deferred re-evaluation
	MaxRechecks      int           // Cap on chained re-evaluations per trigger
}

// DefaultPipelineConfig returns default pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WatchdogTimeout:  3 * time.Second,
		PostChoiceLock:   time.Second,
		QuitSuppression:  3 * time.Second,
		WakeSuppression:  2 * time.Second,
		ReturnContextTTL: 5 * time.Minute,
		RecheckDelay:     300 * time.Millisecond,
		MaxRechecks:      3,
	}
}

// PipelineDeps are the collaborators the pipeline drives.
// Scheduler may be nil, in which case real timers re-enter the queue.
type PipelineDeps struct {
	Store       *usecase.StateStore
	Evaluator   *usecase.Evaluator
	Coordinator *usecase.Coordinator
	Flow        *usecase.FlowMachine
	Policies    *policy.Registry
	Sink        domain.SurfaceSink
	Clock       domain.Clock
	Scheduler   domain.Scheduler
	Logger      *zap.Logger
}

// targetMarks are the pipeline's short-lived per-target markers.
type targetMarks struct {
	postChoiceUntil   time.Time
	quitSuppressUntil time.Time
	offeringShown     bool
}

// Pipeline is the single serialization point for every decision-affecting
// event. Events are handled one at a time in arrival order by Run (or Drain);
// the state store, coordinator and flow machine are only touched from there.
type Pipeline struct {
	config    PipelineConfig
	store     *usecase.StateStore
	evaluator *usecase.Evaluator
	coord     *usecase.Coordinator
	flow      *usecase.FlowMachine
	policies  *policy.Registry
	sink      domain.SurfaceSink
	clock     domain.Clock
	scheduler domain.Scheduler
	logger    *zap.Logger

	queue    *eventQueue
	inspects chan chan Status

	foreground  domain.Target
	marks       map[domain.Target]*targetMarks
	wakeUntil   time.Time
	pending     map[domain.Target]domain.PendingReturn
	handled     uint64
	lastHandled time.Time
}

// NewPipeline creates a pipeline. Call Run to start processing.
func NewPipeline(config PipelineConfig, deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		config:    config,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		coord:     deps.Coordinator,
		flow:      deps.Flow,
		policies:  deps.Policies,
		sink:      deps.Sink,
		clock:     deps.Clock,
		scheduler: deps.Scheduler,
		logger:    deps.Logger,
		queue:     newEventQueue(),
		inspects:  make(chan chan Status),
		marks:     make(map[domain.Target]*targetMarks),
		pending:   make(map[domain.Target]domain.PendingReturn),
	}
	if p.scheduler == nil {
		p.scheduler = NewTimerScheduler(p)
	}
	return p
}

// Submit enqueues ev. Safe for concurrent use. Returns false after shutdown.
func (p *Pipeline) Submit(ev domain.Event) bool {
	return p.queue.Enqueue(ev)
}

// Ensure Pipeline implements domain.EventSubmitter.
var _ domain.EventSubmitter = (*Pipeline)(nil)

// Run processes events until ctx is canceled.
// This blocks until context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("event pipeline started")
	p.Rearm()

	for {
		p.Drain()

		select {
		case <-ctx.Done():
			p.queue.Close()
			p.logger.Info("event pipeline stopping", zap.Int("dropped", p.queue.Len()))
			return ctx.Err()

		case _, ok := <-p.queue.Wait():
			if !ok {
				return nil
			}

		case reply := <-p.inspects:
			reply <- p.Status()
		}
	}
}

// Drain handles every queued event on the calling goroutine and returns how
// many were handled. It must not be called while Run is active.
func (p *Pipeline) Drain() int {
	n := 0
	for {
		ev, ok := p.queue.TryDequeue()
		if !ok {
			return n
		}
		p.dispatch(ev)
		n++
	}
}

// Rearm schedules expiry events for every timer still active in the store,
// so that deadlines restored at startup are observed.
func (p *Pipeline) Rearm() {
	now := p.clock.Now()
	for _, target := range p.store.Targets() {
		timers := p.store.Timers(target)
		for _, kind := range domain.AllTimerKinds {
			if timers.Active(kind, now) {
				deadline := timers.Deadline(kind)
				p.scheduler.After(deadline.Sub(now), domain.NewTimerExpiredEvent(target, kind, deadline))
			}
		}
	}
}

// Inspect returns a status snapshot taken on the pipeline goroutine.
func (p *Pipeline) Inspect(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case p.inspects <- reply:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (p *Pipeline) dispatch(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked",
				zap.String("event", fmt.Sprintf("%T", ev)),
				zap.Any("panic", r))
		}
	}()

	p.handled++
	p.lastHandled = p.clock.Now()

	switch e := ev.(type) {
	case domain.EntryEvent:
		p.handleEntry(e)
	case domain.ExitEvent:
		p.handleExit(e)
	case domain.TimerExpiredEvent:
		p.handleTimerExpired(e)
	case domain.UserActionEvent:
		p.handleUserAction(e)
	case domain.OverlayConfirmedEvent:
		p.coord.OnOverlayConfirmed(e.SessionID)
	case domain.WatchdogEvent:
		p.handleWatchdog(e)
	case domain.RecheckEvent:
		p.handleRecheck(e)
	case domain.WakeEvent:
		p.handleWake(e)
	case domain.LockEvent:
		p.handleLock(e)
	default:
		p.logger.Warn("unknown event type", zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

// --- handlers ---

func (p *Pipeline) handleEntry(e domain.EntryEvent) {
	now := p.clock.Now()
	p.foreground = e.Target
	p.logger.Debug("target entered", zap.String("target", string(e.Target)), zap.Bool("forced", e.Forced))

	if p.honorPendingReturn(e.Target, now) {
		return
	}
	p.evaluate(e.Target, now, e.Forced, 1)
}

func (p *Pipeline) handleExit(e domain.ExitEvent) {
	now := p.clock.Now()
	if p.foreground == e.Target {
		p.foreground = ""
	}
	p.logger.Debug("target exited", zap.String("target", string(e.Target)))

	// An unconfirmed offering is cleared silently, never deferred.
	p.mark(e.Target).offeringShown = false
	p.flow.OnExit(e.Target)

	if cur, ok := p.coord.Current(); ok && cur.Target == e.Target {
		p.publish(domain.RenderCommand{Type: domain.RenderClose, Target: cur.Target, SessionID: cur.ID, Reason: "target_exit"})
		p.endSession(cur.ID, "target_exit", now)
	}
}

func (p *Pipeline) handleTimerExpired(e domain.TimerExpiredEvent) {
	now := p.clock.Now()
	stored := p.store.Timers(e.Target).Deadline(e.Kind)
	if stored.IsZero() || !stored.Equal(e.Expected) {
		p.logger.Debug("dropping stale timer expiry",
			zap.String("target", string(e.Target)),
			zap.String("kind", string(e.Kind)),
			zap.Time("expected", e.Expected),
			zap.Time("stored", stored))
		return
	}
	if now.Before(stored) {
		// Fired early relative to our clock; try again at the deadline.
		p.scheduler.After(stored.Sub(now), e)
		return
	}

	p.store.ClearTimer(e.Target, e.Kind)

	if p.foreground != e.Target {
		if e.Kind == domain.TimerIntention {
			p.discardParked(e.Target)
			p.store.ResetCheckpoints(e.Target)
		}
		p.logger.Info("timer expired in background, cleared",
			zap.String("target", string(e.Target)),
			zap.String("kind", string(e.Kind)))
		return
	}

	p.logger.Info("timer expired in foreground",
		zap.String("target", string(e.Target)),
		zap.String("kind", string(e.Kind)))

	switch e.Kind {
	case domain.TimerIntention:
		p.checkpoint(e.Target, now)
	case domain.TimerHardBreak:
		if cur, ok := p.coord.Current(); ok && cur.Target == e.Target && cur.Kind == domain.SessionHardBreak {
			p.publish(domain.RenderCommand{Type: domain.RenderClose, Target: cur.Target, SessionID: cur.ID, Reason: "hard_break_over"})
			p.flow.Discard(e.Target)
			p.endSession(cur.ID, "hard_break_over", now)
		}
		p.evaluate(e.Target, now, false, 1)
	default:
		p.evaluate(e.Target, now, false, 1)
	}
}

func (p *Pipeline) handleUserAction(e domain.UserActionEvent) {
	now := p.clock.Now()
	cur, ok := p.coord.Current()
	if !ok || cur.ID != e.Action.SessionID {
		p.logger.Debug("ignoring action for inactive session",
			zap.String("session", e.Action.SessionID),
			zap.String("action", e.Action.ActionID))
		return
	}
	// An action proves the overlay is on screen.
	p.coord.OnOverlayConfirmed(cur.ID)

	out, handled := p.flow.Handle(e.Action, p.view(cur.Target, now))
	if !handled {
		return
	}
	p.logger.Info("user action",
		zap.String("target", string(cur.Target)),
		zap.String("surface", e.Action.SurfaceID),
		zap.String("action", e.Action.ActionID))
	p.emit(out, now)
}

func (p *Pipeline) handleWatchdog(e domain.WatchdogEvent) {
	reset := p.checkWatchdog(p.clock.Now())
	if reset == nil {
		return
	}
	p.logger.Warn("overlay never confirmed, session reset",
		zap.String("session", reset.ID),
		zap.String("watchdog_for", e.SessionID))
}

func (p *Pipeline) handleRecheck(e domain.RecheckEvent) {
	if e.Target != p.foreground {
		p.logger.Debug("dropping recheck for background target", zap.String("target", string(e.Target)))
		return
	}
	p.evaluate(e.Target, p.clock.Now(), false, e.Attempt)
}

func (p *Pipeline) handleWake(e domain.WakeEvent) {
	now := p.clock.Now()
	p.wakeUntil = now.Add(p.config.WakeSuppression)
	p.logger.Info("device wake, suppressing prompts", zap.Time("until", p.wakeUntil))
}

func (p *Pipeline) handleLock(e domain.LockEvent) {
	now := p.clock.Now()
	if !now.Before(e.Until) {
		p.logger.Warn("ignoring lock in the past", zap.String("target", string(e.Target)))
		return
	}
	p.setTimer(e.Target, domain.TimerHardBreak, e.Until, now)
	p.logger.Info("hard break scheduled",
		zap.String("target", string(e.Target)),
		zap.Time("until", e.Until))

	if cur, ok := p.coord.Current(); ok && cur.Target == e.Target && cur.Kind != domain.SessionHardBreak {
		p.publish(domain.RenderCommand{Type: domain.RenderClose, Target: cur.Target, SessionID: cur.ID, Reason: "hard_break"})
		p.flow.Discard(e.Target)
		p.endSession(cur.ID, "hard_break", now)
	}
	if p.foreground == e.Target {
		p.evaluate(e.Target, now, false, 1)
	}
}

// --- decision routing ---

// evaluate runs the rule list for target and routes the decision.
// attempt numbers chained re-evaluations.
func (p *Pipeline) evaluate(target domain.Target, now time.Time, forced bool, attempt int) {
	p.checkWatchdog(now)
	snap := p.snapshot(target, now, forced)
	d := p.evaluator.Evaluate(target, now, snap)
	p.logger.Debug("decision",
		zap.String("target", string(target)),
		zap.String("action", d.Action.String()),
		zap.String("reason", string(d.Reason)))

	switch a := d.Action.(type) {
	case usecase.NoAction:
		if d.Reason == usecase.ReasonResumeDebounced {
			wait := snap.LastEmittedAt.Add(p.evaluator.Config().ResumeDebounce).Sub(now)
			p.scheduleRecheck(target, attempt+1, wait)
		}
	case usecase.ShowHardBreak:
		p.start(target, domain.SessionHardBreak, domain.FlowHardBreak, now)
	case usecase.StartQuickTask:
		if p.start(target, domain.SessionQuickTask, domain.FlowFastLaneEntry, now) {
			p.mark(target).offeringShown = true
		}
	case usecase.StartIntervention:
		if a.Resume {
			p.resume(target, now)
			return
		}
		p.start(target, domain.SessionIntervention, domain.FlowBreathing, now)
	}
}

func (p *Pipeline) snapshot(target domain.Target, now time.Time, forced bool) usecase.Snapshot {
	m := p.mark(target)
	parked, isParked := p.flow.Parked(target)
	_, midStep := p.flow.MidStep(target)
	return usecase.Snapshot{
		Monitored:             p.monitored(target),
		Timers:                p.store.Timers(target),
		SessionActive:         p.coord.OwnsSession(target),
		OverlayOwner:          p.coord.Owner(),
		PostChoiceLocked:      now.Before(m.postChoiceUntil),
		OfferingShown:         m.offeringShown,
		PreservedFlow:         isParked,
		LastEmittedAt:         parked.LastEmittedAt,
		FlowMidStep:           midStep,
		QuitSuppressRemaining: remaining(m.quitSuppressUntil, now),
		WakeSuppressRemaining: remaining(p.wakeUntil, now),
		Forced:                forced,
		QuickTaskRemaining:    p.store.Quota(target).QuickTaskRemaining,
		QuickTaskAllowed:      p.policies.QuickTaskAllowed(target),
	}
}

// start claims the overlay and begins a new flow at entry.
func (p *Pipeline) start(target domain.Target, kind domain.SessionKind, entry domain.FlowState, now time.Time) bool {
	outcome := p.tryStart(target, kind, now, "")
	started, ok := outcome.(usecase.Started)
	if !ok {
		return false
	}
	out := p.flow.Begin(target, started.SessionID, entry, p.view(target, now))
	p.emit(out, now)
	p.scheduler.After(p.config.WatchdogTimeout, domain.NewWatchdogEvent(started.SessionID))
	return true
}

// resume continues the target's existing flow under its original session id.
func (p *Pipeline) resume(target domain.Target, now time.Time) bool {
	fc, ok := p.flow.Get(target)
	if !ok {
		return false
	}
	outcome := p.tryStart(target, sessionKindFor(fc.State), now, fc.SessionID)
	started, ok := outcome.(usecase.Started)
	if !ok {
		return false
	}
	out, ok := p.flow.Resume(target, started.SessionID, p.view(target, now))
	if !ok {
		p.coord.End(started.SessionID, "nothing_to_resume")
		return false
	}
	delete(p.pending, target)
	p.emit(out, now)
	p.scheduler.After(p.config.WatchdogTimeout, domain.NewWatchdogEvent(started.SessionID))
	return true
}

// discardParked drops the target's flow only while it is parked between
// sessions. A flow driving the overlay on screen is left alone.
func (p *Pipeline) discardParked(target domain.Target) bool {
	fc, ok := p.flow.Parked(target)
	if !ok {
		return false
	}
	if cur, live := p.coord.Current(); live && cur.ID == fc.SessionID {
		return false
	}
	p.flow.Discard(target)
	return true
}

// checkpoint handles an intention expiry while the target is on screen.
func (p *Pipeline) checkpoint(target domain.Target, now time.Time) {
	if p.hardLocked(target, now) {
		p.discardParked(target)
		p.evaluate(target, now, false, 1)
		return
	}
	fc, parked := p.flow.Parked(target)
	if !parked {
		p.evaluate(target, now, false, 1)
		return
	}

	outcome := p.tryStart(target, domain.SessionIntervention, now, fc.SessionID)
	if s, ok := outcome.(usecase.Suppressed); ok {
		pr := domain.PendingReturn{
			Target:    target,
			State:     domain.FlowCheckpoint,
			SessionID: fc.SessionID,
			ExpiresAt: now.Add(p.config.ReturnContextTTL),
		}
		p.pending[target] = pr
		p.logger.Info("checkpoint deferred",
			zap.String("target", string(target)),
			zap.String("reason", s.Reason),
			zap.Time("expires_at", pr.ExpiresAt))
		return
	}
	id := outcome.(usecase.Started).SessionID
	out, _ := p.flow.OnIntentionExpired(target, id, p.view(target, now))
	p.emit(out, now)
	p.scheduler.After(p.config.WatchdogTimeout, domain.NewWatchdogEvent(id))
}

// honorPendingReturn consumes the target's pending return, if any, and
// resumes it ahead of the rule list when still valid.
func (p *Pipeline) honorPendingReturn(target domain.Target, now time.Time) bool {
	pr, ok := p.pending[target]
	if !ok {
		return false
	}
	delete(p.pending, target)

	if !now.Before(pr.ExpiresAt) {
		p.logger.Info("pending return expired",
			zap.String("target", string(target)),
			zap.String("session", pr.SessionID))
		if p.discardParked(target) {
			p.store.ResetCheckpoints(target)
		}
		return false
	}
	if !p.monitored(target) || p.hardLocked(target, now) {
		return false
	}
	if _, parked := p.flow.Parked(target); !parked {
		return false
	}
	p.logger.Info("honoring pending return",
		zap.String("target", string(target)),
		zap.String("state", string(pr.State)))
	return p.resume(target, now)
}

// emit applies a flow output: effects, then the render command.
func (p *Pipeline) emit(out usecase.Output, now time.Time) {
	p.applyEffects(out.Target, out.Effects, now)

	switch {
	case out.Surface != nil:
		p.publish(domain.RenderCommand{
			Type:      domain.RenderPresent,
			Target:    out.Target,
			SessionID: out.SessionID,
			Surface:   out.Surface,
		})
		p.flow.MarkEmitted(out.Target, now)

	case out.Close:
		p.publish(domain.RenderCommand{Type: domain.RenderClose, Target: out.Target, SessionID: out.SessionID, Reason: "choice"})
		p.mark(out.Target).postChoiceUntil = now.Add(p.config.PostChoiceLock)
		p.endSession(out.SessionID, "choice", now)

	case out.ReturnHome:
		p.publish(domain.RenderCommand{Type: domain.RenderReturnHome, Target: out.Target, SessionID: out.SessionID, Reason: "quit"})
		p.mark(out.Target).quitSuppressUntil = now.Add(p.config.QuitSuppression)
		p.endSession(out.SessionID, "quit", now)
	}
}

func (p *Pipeline) applyEffects(target domain.Target, effects []usecase.Effect, now time.Time) {
	for _, eff := range effects {
		var err error
		switch e := eff.(type) {
		case usecase.SetTimerEffect:
			p.setTimer(target, e.Kind, now.Add(e.Duration), now)
		case usecase.ClearTimerEffect:
			p.store.ClearTimer(target, e.Kind)
		case usecase.DecrementQuickTaskEffect:
			_, err = p.store.DecrementQuickTask(target)
		case usecase.RecordPurposeEffect:
			p.store.SetPurpose(target, e.Purpose)
		case usecase.RecordRootCauseEffect:
			p.store.SetRootCause(target, e.Cause)
		case usecase.IncrementCheckpointEffect:
			p.store.IncrementCheckpoint(target)
		case usecase.ClearRunContextEffect:
			p.store.ClearRunContext(target)
		case usecase.ConsumeDailyChallengeEffect:
			err = p.store.ConsumeDailyChallenge()
		case usecase.ConsumeEmergencyPassEffect:
			err = p.store.ConsumeEmergencyPass()
		case usecase.RecordWeeklyOverrideEffect:
			err = p.store.RecordWeeklyOverrideUse(target)
		default:
			p.logger.Warn("unknown flow effect", zap.String("effect", fmt.Sprintf("%T", eff)))
		}
		if err != nil {
			p.logger.Warn("flow effect rejected",
				zap.String("target", string(target)),
				zap.String("effect", fmt.Sprintf("%T", eff)),
				zap.Error(err))
		}
	}
}

// setTimer stores a deadline and schedules its expiry event.
func (p *Pipeline) setTimer(target domain.Target, kind domain.TimerKind, deadline, now time.Time) {
	deadline = deadline.Round(0)
	p.store.SetTimer(target, kind, deadline)
	p.scheduler.After(deadline.Sub(now), domain.NewTimerExpiredEvent(target, kind, deadline))
}

// endSession releases the overlay and resolves any offering it showed.
// Another target on screen is re-evaluated shortly: it may have been
// waiting on the overlay.
func (p *Pipeline) endSession(sessionID, reason string, now time.Time) {
	ended := p.coord.End(sessionID, reason)
	if ended == nil {
		return
	}
	p.mark(ended.Target).offeringShown = false
	if p.foreground != "" && p.foreground != ended.Target {
		p.scheduleRecheck(p.foreground, 1, p.config.RecheckDelay)
	}
}

func (p *Pipeline) scheduleRecheck(target domain.Target, attempt int, wait time.Duration) {
	if attempt > p.config.MaxRechecks {
		p.logger.Debug("recheck limit reached", zap.String("target", string(target)))
		return
	}
	if wait < p.config.RecheckDelay {
		wait = p.config.RecheckDelay
	}
	p.scheduler.After(wait, domain.NewRecheckEvent(target, attempt))
}

func (p *Pipeline) checkWatchdog(now time.Time) *domain.Session {
	reset := p.coord.CheckWatchdog(now)
	if reset != nil {
		p.publish(domain.RenderCommand{Type: domain.RenderClose, Target: reset.Target, SessionID: reset.ID, Reason: "watchdog"})
	}
	return reset
}

// tryStart claims the overlay. A session stuck in STARTING is reset here
// first so the renderer hears about it before anything new is presented.
func (p *Pipeline) tryStart(target domain.Target, kind domain.SessionKind, now time.Time, reuseID string) usecase.StartOutcome {
	p.checkWatchdog(now)
	return p.coord.TryStart(target, kind, now, reuseID)
}

func (p *Pipeline) publish(cmd domain.RenderCommand) {
	p.sink.Publish(cmd)
}

// --- helpers ---

func (p *Pipeline) mark(target domain.Target) *targetMarks {
	m, ok := p.marks[target]
	if !ok {
		m = &targetMarks{}
		p.marks[target] = m
	}
	return m
}

// monitored applies the stored enable switch over the policy default.
func (p *Pipeline) monitored(target domain.Target) bool {
	pol, ok := p.policies.Get(target)
	if !ok {
		return false
	}
	if enabled, set := p.store.Enabled(target); set {
		return enabled
	}
	return pol.Enabled()
}

func (p *Pipeline) hardLocked(target domain.Target, now time.Time) bool {
	t := p.store.Timers(target)
	return t.Active(domain.TimerHardBreak, now) && !t.Active(domain.TimerEmergencyAllow, now)
}

func (p *Pipeline) view(target domain.Target, now time.Time) usecase.View {
	return usecase.View{
		Now:                     now,
		Quota:                   p.store.Quota(target),
		Global:                  p.store.Global(),
		Run:                     p.store.Run(target),
		Timers:                  p.store.Timers(target),
		EmergencyPassAvailable:  p.store.EmergencyPassAvailable(),
		WeeklyOverrideAvailable: p.store.WeeklyOverrideAvailable(target),
	}
}

func sessionKindFor(state domain.FlowState) domain.SessionKind {
	switch state {
	case domain.FlowFastLaneEntry:
		return domain.SessionQuickTask
	case domain.FlowHardBreak:
		return domain.SessionHardBreak
	}
	return domain.SessionIntervention
}

func remaining(until, now time.Time) time.Duration {
	if until.IsZero() || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// targetsOf returns policy targets plus any target with stored state, sorted.
func (p *Pipeline) targetsOf() []domain.Target {
	seen := make(map[domain.Target]struct{})
	for _, t := range p.policies.List() {
		seen[t] = struct{}{}
	}
	for _, t := range p.store.Targets() {
		seen[t] = struct{}{}
	}
	out := make([]domain.Target, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
