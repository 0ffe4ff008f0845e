package daemon

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/policy"
	"github.com/eliteGoblin/focusd/app_gate/internal/testutil"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

const (
	steam domain.Target = "steam"
	dota  domain.Target = "dota2"
)

// harness drives a pipeline synchronously with a fake clock and a manual
// scheduler so tests control exactly when timers fire.
type harness struct {
	t     *testing.T
	clock *testutil.FakeClock
	sched *testutil.ManualScheduler
	sink  *testutil.RecordingSink
	store *usecase.StateStore
	p     *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	sched := testutil.NewManualScheduler(clock)
	sink := testutil.NewRecordingSink()
	logger := zap.NewNop()

	storeCfg := usecase.DefaultStoreConfig()
	storeCfg.Location = time.UTC
	store := usecase.NewStateStore(infra.NewMemoryKV(), clock, storeCfg, logger)
	require.NoError(t, store.Restore())
	t.Cleanup(store.Close)

	p := NewPipeline(DefaultPipelineConfig(), PipelineDeps{
		Store:       store,
		Evaluator:   usecase.NewEvaluator(usecase.DefaultEvaluatorConfig()),
		Coordinator: usecase.NewCoordinator(usecase.DefaultCoordinatorConfig(), testutil.NewSequentialIDs("s"), logger),
		Flow:        usecase.NewFlowMachine(usecase.DefaultFlowConfig(), logger),
		Policies:    policy.NewRegistry(),
		Sink:        sink,
		Clock:       clock,
		Scheduler:   sched,
		Logger:      logger,
	})
	return &harness{t: t, clock: clock, sched: sched, sink: sink, store: store, p: p}
}

func (h *harness) send(ev domain.Event) {
	h.t.Helper()
	require.True(h.t, h.p.Submit(ev))
	h.p.Drain()
}

func (h *harness) enter(target domain.Target) {
	h.send(domain.NewEntryEvent(target, h.clock.Now(), false))
}

func (h *harness) exit(target domain.Target) {
	h.send(domain.NewExitEvent(target, h.clock.Now()))
}

// advance moves the clock and delivers every scheduled event that came due,
// including events scheduled by the handlers themselves.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	for i := 0; i < 100; i++ {
		if h.sched.Release(h.p) == 0 {
			return
		}
		h.p.Drain()
	}
	h.t.Fatal("scheduler did not settle")
}

func (h *harness) session() domain.Session {
	h.t.Helper()
	cur, ok := h.p.coord.Current()
	require.True(h.t, ok, "expected an active session")
	return cur
}

func (h *harness) confirm() {
	h.send(domain.NewOverlayConfirmedEvent(h.session().ID))
}

func (h *harness) act(surface domain.FlowState, action string, payload map[string]string) {
	h.t.Helper()
	h.send(domain.NewUserActionEvent(domain.UserAction{
		SurfaceID: string(surface),
		ActionID:  action,
		SessionID: h.session().ID,
		Payload:   payload,
	}, h.clock.Now()))
}

func (h *harness) last() domain.RenderCommand {
	h.t.Helper()
	cmd, ok := h.sink.Last()
	require.True(h.t, ok, "nothing published")
	return cmd
}

func (h *harness) requirePresented(target domain.Target, surface domain.FlowState) domain.RenderCommand {
	h.t.Helper()
	cmd := h.last()
	require.Equal(h.t, domain.RenderPresent, cmd.Type)
	require.Equal(h.t, target, cmd.Target)
	require.NotNil(h.t, cmd.Surface)
	require.Equal(h.t, string(surface), cmd.Surface.SurfaceID)
	return cmd
}

// startIntention walks a fresh intervention from Breathing to ActiveIntention.
func (h *harness) startIntention(target domain.Target, minutes int, purpose string) string {
	h.t.Helper()
	h.store.SetQuickTaskRemaining(target, 0)
	h.enter(target)
	h.requirePresented(target, domain.FlowBreathing)
	id := h.session().ID
	h.act(domain.FlowBreathing, usecase.ActionComplete, nil)
	h.act(domain.FlowTimebox, usecase.ActionSelect, map[string]string{usecase.PayloadMinutes: strconv.Itoa(minutes)})
	h.act(domain.FlowPurposePicker, usecase.ActionSelect, map[string]string{usecase.PayloadPurpose: purpose})
	require.Equal(h.t, domain.RenderClose, h.last().Type)
	return id
}

func TestPipeline_ScenarioA_QuickTaskOffer(t *testing.T) {
	h := newHarness(t)

	h.enter(steam)
	h.requirePresented(steam, domain.FlowFastLaneEntry)
	assert.Equal(t, 3, h.store.Quota(steam).QuickTaskRemaining, "offering alone does not spend quota")

	h.act(domain.FlowFastLaneEntry, usecase.ActionConfirm, nil)
	assert.Equal(t, domain.RenderClose, h.last().Type)
	assert.Equal(t, 2, h.store.Quota(steam).QuickTaskRemaining)
	assert.Equal(t, h.clock.Now().Add(3*time.Minute), h.store.Timers(steam).QuickTaskUntil)
	_, active := h.p.coord.Current()
	assert.False(t, active)
}

func TestPipeline_ScenarioB_QuickTaskSurvivesExit(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.act(domain.FlowFastLaneEntry, usecase.ActionConfirm, nil)
	deadline := h.store.Timers(steam).QuickTaskUntil

	h.advance(3*time.Minute - 15*time.Second)
	published := len(h.sink.Commands())

	h.exit(steam)
	h.enter(steam)

	assert.Len(t, h.sink.Commands(), published, "no surface while the quick task runs")
	assert.Equal(t, deadline, h.store.Timers(steam).QuickTaskUntil, "timer neither paused nor reset")
}

func TestPipeline_ForegroundQuickTaskExpiryReevaluates(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	first := h.session().ID
	h.act(domain.FlowFastLaneEntry, usecase.ActionConfirm, nil)

	h.advance(3 * time.Minute)

	assert.True(t, h.store.Timers(steam).QuickTaskUntil.IsZero())
	cmd := h.requirePresented(steam, domain.FlowFastLaneEntry)
	assert.NotEqual(t, first, cmd.SessionID)
	assert.Equal(t, 2, cmd.Surface.Props["quickTaskRemaining"])
}

func TestPipeline_ScenarioC_HardBreakAndEmergencyGrace(t *testing.T) {
	h := newHarness(t)
	h.store.SetTimer(steam, domain.TimerHardBreak, h.clock.Now().Add(10*time.Minute))

	h.enter(steam)
	cmd := h.requirePresented(steam, domain.FlowHardBreak)
	assert.Equal(t, int64(600), cmd.Surface.Props["remainingSeconds"])
	assert.Equal(t, true, cmd.Surface.Props["emergencyPassAvailable"])

	h.act(domain.FlowHardBreak, usecase.ActionEmergency, nil)
	require.Equal(t, domain.RenderClose, h.last().Type)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), h.store.Timers(steam).EmergencyAllowUntil)
	assert.Equal(t, 1, h.store.Global().EmergencyPassBalance)

	h.advance(2 * time.Second)
	published := len(h.sink.Commands())
	h.exit(steam)
	h.enter(steam)
	assert.Len(t, h.sink.Commands(), published, "emergency allow is a grace period")
}

func TestPipeline_ScenarioD_BackgroundIntentionExpiry(t *testing.T) {
	h := newHarness(t)
	h.startIntention(steam, 5, "reply to friend")
	h.exit(steam)

	h.advance(5 * time.Minute)

	assert.True(t, h.store.Timers(steam).IntentionUntil.IsZero(), "cleared silently")
	_, ok := h.p.flow.Get(steam)
	assert.False(t, ok, "parked flow discarded")
	for _, c := range h.sink.Commands() {
		if c.Type == domain.RenderPresent {
			assert.NotEqual(t, string(domain.FlowCheckpoint), c.Surface.SurfaceID)
		}
	}

	h.enter(steam)
	h.requirePresented(steam, domain.FlowBreathing)
}

func TestPipeline_ScenarioE_OverlayBusy(t *testing.T) {
	h := newHarness(t)
	h.store.SetQuickTaskRemaining(steam, 0)
	h.enter(steam)
	h.requirePresented(steam, domain.FlowBreathing)
	h.confirm()

	published := len(h.sink.Commands())
	h.enter(dota)
	assert.Len(t, h.sink.Commands(), published, "overlay belongs to steam")
	assert.Equal(t, steam, h.p.coord.Owner())

	h.act(domain.FlowBreathing, usecase.ActionQuit, nil)
	assert.Equal(t, domain.RenderReturnHome, h.last().Type)

	h.advance(DefaultPipelineConfig().RecheckDelay)
	h.requirePresented(dota, domain.FlowBreathing)
}

func TestPipeline_IntentionExpiryInForegroundShowsCheckpoint(t *testing.T) {
	h := newHarness(t)
	id := h.startIntention(steam, 5, "homework")

	h.advance(5 * time.Minute)

	cmd := h.requirePresented(steam, domain.FlowCheckpoint)
	assert.Equal(t, id, cmd.SessionID, "preserved step keeps its session")
	assert.Equal(t, 1, cmd.Surface.Props["checkpointNumber"])
	assert.Equal(t, "homework", cmd.Surface.Props["purpose"])
	assert.Equal(t, 1, h.store.Run(steam).CheckpointCount)

	h.act(domain.FlowCheckpoint, usecase.ActionSetTimer, map[string]string{usecase.PayloadMinutes: "15"})
	assert.Equal(t, domain.RenderClose, h.last().Type)
	assert.Equal(t, h.clock.Now().Add(15*time.Minute), h.store.Timers(steam).IntentionUntil)
}

func TestPipeline_NonPreservedStepResetsOnExit(t *testing.T) {
	h := newHarness(t)
	h.store.SetQuickTaskRemaining(steam, 0)
	h.enter(steam)
	first := h.session().ID
	h.act(domain.FlowBreathing, usecase.ActionComplete, nil)
	h.requirePresented(steam, domain.FlowTimebox)

	h.exit(steam)
	assert.Equal(t, domain.RenderClose, h.last().Type)

	h.enter(steam)
	cmd := h.requirePresented(steam, domain.FlowBreathing)
	assert.NotEqual(t, first, cmd.SessionID)
}

func TestPipeline_StaleTimerDropped(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.act(domain.FlowFastLaneEntry, usecase.ActionConfirm, nil)
	deadline := h.store.Timers(steam).QuickTaskUntil

	h.clock.Advance(4 * time.Minute)
	h.send(domain.NewTimerExpiredEvent(steam, domain.TimerQuickTask, deadline.Add(-time.Minute)))

	assert.Equal(t, deadline, h.store.Timers(steam).QuickTaskUntil)
}

func TestPipeline_EarlyTimerIsRescheduled(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.act(domain.FlowFastLaneEntry, usecase.ActionConfirm, nil)
	deadline := h.store.Timers(steam).QuickTaskUntil

	h.send(domain.NewTimerExpiredEvent(steam, domain.TimerQuickTask, deadline))

	assert.Equal(t, deadline, h.store.Timers(steam).QuickTaskUntil)
	var rescheduled int
	for _, s := range h.sched.Pending() {
		if ev, ok := s.Event.(domain.TimerExpiredEvent); ok && ev.Expected.Equal(deadline) {
			rescheduled++
		}
	}
	assert.Equal(t, 2, rescheduled, "original plus the retry")
}

func TestPipeline_WatchdogResetsUnconfirmedOverlay(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	first := h.session().ID

	h.advance(3 * time.Second)

	cmd := h.last()
	assert.Equal(t, domain.RenderClose, cmd.Type)
	assert.Equal(t, "watchdog", cmd.Reason)
	assert.Equal(t, first, cmd.SessionID)
	_, active := h.p.coord.Current()
	assert.False(t, active)

	// The offering marker survives the reset until the target leaves.
	published := len(h.sink.Commands())
	h.enter(steam)
	assert.Len(t, h.sink.Commands(), published)

	h.exit(steam)
	h.enter(steam)
	next := h.requirePresented(steam, domain.FlowFastLaneEntry)
	assert.NotEqual(t, first, next.SessionID)
}

func TestPipeline_WatchdogSparesConfirmedOverlay(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.confirm()

	h.advance(10 * time.Second)

	assert.True(t, h.p.coord.OwnsSession(steam))
	assert.Equal(t, domain.RenderPresent, h.last().Type)
}

func TestPipeline_PendingReturnHonoredOnEntry(t *testing.T) {
	h := newHarness(t)
	id := h.startIntention(steam, 5, "homework")

	// dota2 takes the overlay while steam stays on screen.
	h.enter(dota)
	h.requirePresented(dota, domain.FlowBreathing)
	h.confirm()
	h.enter(steam)

	h.advance(5 * time.Minute)
	assert.Equal(t, dota, h.p.coord.Owner(), "checkpoint deferred")
	_, pending := h.p.pending[steam]
	assert.True(t, pending)

	h.exit(steam)
	h.act(domain.FlowBreathing, usecase.ActionQuit, nil)

	h.enter(steam)
	cmd := h.requirePresented(steam, domain.FlowCheckpoint)
	assert.Equal(t, id, cmd.SessionID)
	_, pending = h.p.pending[steam]
	assert.False(t, pending, "honored at most once")
}

func TestPipeline_PendingReturnExpires(t *testing.T) {
	h := newHarness(t)
	h.startIntention(steam, 5, "homework")
	h.enter(dota)
	h.confirm()
	h.enter(steam)
	h.advance(5 * time.Minute)
	h.exit(steam)
	h.act(domain.FlowBreathing, usecase.ActionQuit, nil)

	h.advance(6 * time.Minute)
	h.store.SetQuickTaskRemaining(steam, 1)
	h.enter(steam)

	h.requirePresented(steam, domain.FlowFastLaneEntry)
	_, ok := h.p.flow.Get(steam)
	assert.True(t, ok)
	assert.Equal(t, 0, h.store.Run(steam).CheckpointCount)
}

func TestPipeline_QuitSuppression(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.act(domain.FlowFastLaneEntry, usecase.ActionQuit, nil)
	assert.Equal(t, domain.RenderReturnHome, h.last().Type)

	published := len(h.sink.Commands())
	h.exit(steam)
	h.enter(steam)
	assert.Len(t, h.sink.Commands(), published, "suppressed right after quitting")

	h.send(domain.NewEntryEvent(steam, h.clock.Now(), true))
	h.requirePresented(steam, domain.FlowFastLaneEntry)
}

func TestPipeline_WakeSuppression(t *testing.T) {
	h := newHarness(t)
	h.send(domain.NewWakeEvent(h.clock.Now()))

	h.enter(steam)
	assert.Empty(t, h.sink.Commands())

	h.exit(steam)
	h.advance(2 * time.Second)
	h.enter(steam)
	h.requirePresented(steam, domain.FlowFastLaneEntry)
}

func TestPipeline_LockShowsHardBreakThenReleases(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.requirePresented(steam, domain.FlowFastLaneEntry)

	h.send(domain.NewLockEvent(steam, h.clock.Now().Add(30*time.Minute)))

	cmd := h.requirePresented(steam, domain.FlowHardBreak)
	assert.Equal(t, int64(1800), cmd.Surface.Props["remainingSeconds"])
	h.confirm()

	h.advance(30 * time.Minute)
	h.requirePresented(steam, domain.FlowFastLaneEntry)
	assert.True(t, h.store.Timers(steam).HardBreakUntil.IsZero())
}

func TestPipeline_LockInThePastIgnored(t *testing.T) {
	h := newHarness(t)
	h.send(domain.NewLockEvent(steam, h.clock.Now().Add(-time.Minute)))
	assert.True(t, h.store.Timers(steam).HardBreakUntil.IsZero())
}

func TestPipeline_DisabledTargetIgnored(t *testing.T) {
	h := newHarness(t)
	h.store.SetEnabled(steam, false)
	h.enter(steam)
	assert.Empty(t, h.sink.Commands())

	h.enter("unknown-app")
	assert.Empty(t, h.sink.Commands())
}

func TestPipeline_ActionForOldSessionIgnored(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	h.send(domain.NewUserActionEvent(domain.UserAction{
		SurfaceID: string(domain.FlowFastLaneEntry),
		ActionID:  usecase.ActionConfirm,
		SessionID: "s-99",
	}, h.clock.Now()))

	assert.Equal(t, 3, h.store.Quota(steam).QuickTaskRemaining)
	assert.True(t, h.p.coord.OwnsSession(steam))
}

func TestPipeline_SingleOverlayAcrossTargets(t *testing.T) {
	h := newHarness(t)
	targets := []domain.Target{steam, dota, steam, dota}
	for _, target := range targets {
		h.enter(target)
		h.advance(time.Second)
	}

	owners := map[string]domain.Target{}
	open := 0
	for _, c := range h.sink.Commands() {
		switch c.Type {
		case domain.RenderPresent:
			if _, seen := owners[c.SessionID]; !seen {
				open++
			}
			owners[c.SessionID] = c.Target
		case domain.RenderClose, domain.RenderReturnHome:
			open--
		}
		assert.LessOrEqual(t, open, 1)
	}
}

func TestPipeline_RecheckIsBounded(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultPipelineConfig()

	h.p.scheduleRecheck(steam, cfg.MaxRechecks+1, 0)
	assert.Empty(t, h.sched.Pending())

	h.p.scheduleRecheck(steam, 1, 0)
	pending := h.sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, h.clock.Now().Add(cfg.RecheckDelay), pending[0].Due)
}

func TestPipeline_RecheckForBackgroundTargetDropped(t *testing.T) {
	h := newHarness(t)
	h.send(domain.NewRecheckEvent(steam, 1))
	assert.Empty(t, h.sink.Commands())
}

func TestPipeline_RearmSchedulesRestoredDeadlines(t *testing.T) {
	h := newHarness(t)
	deadline := h.clock.Now().Add(10 * time.Minute)
	h.store.SetTimer(steam, domain.TimerIntention, deadline)
	h.store.SetTimer(dota, domain.TimerQuickTask, h.clock.Now().Add(-time.Minute))

	h.p.Rearm()

	pending := h.sched.Pending()
	require.Len(t, pending, 1)
	ev, ok := pending[0].Event.(domain.TimerExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, steam, ev.Target)
	assert.Equal(t, domain.TimerIntention, ev.Kind)
	assert.Equal(t, deadline, ev.Expected)
}

func TestPipeline_Status(t *testing.T) {
	h := newHarness(t)
	h.startIntention(steam, 15, "homework")

	s := h.p.Status()
	assert.Equal(t, steam, s.Foreground)
	assert.Nil(t, s.Session)
	require.NotEmpty(t, s.Targets)

	var st TargetStatus
	for _, ts := range s.Targets {
		if ts.Target == steam {
			st = ts
		}
	}
	assert.True(t, st.Monitored)
	assert.Equal(t, domain.FlowActiveIntention, st.Flow)
	assert.Equal(t, "homework", st.Purpose)
	assert.Equal(t, "15m0s", st.Timers[domain.TimerIntention])
}

func TestPipeline_RunAndInspect(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	require.True(t, h.p.Submit(domain.NewEntryEvent(steam, h.clock.Now(), false)))

	require.Eventually(t, func() bool {
		s, err := h.p.Inspect(ctx)
		return err == nil && s.Session != nil && s.Session.Target == steam
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, h.p.Submit(domain.NewExitEvent(steam, h.clock.Now())), "closed after shutdown")
}

func TestPipeline_IntentionExpiryKeepsLiveHardBreak(t *testing.T) {
	h := newHarness(t)
	h.startIntention(steam, 5, "homework")

	h.send(domain.NewLockEvent(steam, h.clock.Now().Add(30*time.Minute)))
	brk := h.requirePresented(steam, domain.FlowHardBreak)
	h.confirm()

	h.advance(5 * time.Minute)

	assert.True(t, h.store.Timers(steam).IntentionUntil.IsZero())
	require.True(t, h.p.coord.OwnsSession(steam))
	fc, ok := h.p.flow.Get(steam)
	require.True(t, ok, "hard break flow still drives the overlay")
	assert.Equal(t, domain.FlowHardBreak, fc.State)
	assert.Equal(t, brk.SessionID, fc.SessionID)

	h.act(domain.FlowHardBreak, usecase.ActionEmergency, nil)
	assert.Equal(t, domain.RenderClose, h.last().Type)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), h.store.Timers(steam).EmergencyAllowUntil)
	assert.Equal(t, 1, h.store.Global().EmergencyPassBalance)
}

func TestPipeline_UnmonitoredEntryStoresNothing(t *testing.T) {
	h := newHarness(t)

	h.enter("com.apple.springboard")
	h.enter("random-app")

	assert.Empty(t, h.sink.Commands())
	assert.Empty(t, h.store.Targets())
	for _, ts := range h.p.Status().Targets {
		assert.NotContains(t, []domain.Target{"com.apple.springboard", "random-app"}, ts.Target)
	}
}

func TestPipeline_StuckSessionResetOnRecheckPublishesClose(t *testing.T) {
	h := newHarness(t)
	h.enter(steam)
	stuck := h.session().ID

	// Past the watchdog timeout without delivering the watchdog event.
	h.clock.Advance(4 * time.Second)
	h.send(domain.NewRecheckEvent(steam, 1))

	var closed *domain.RenderCommand
	for _, c := range h.sink.Commands() {
		if c.Type == domain.RenderClose && c.SessionID == stuck {
			c := c
			closed = &c
		}
	}
	require.NotNil(t, closed, "renderer told to drop the stuck surface")
	assert.Equal(t, "watchdog", closed.Reason)
	_, active := h.p.coord.Current()
	assert.False(t, active)
}
