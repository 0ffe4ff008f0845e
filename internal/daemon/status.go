package daemon

import (
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// TargetStatus is one target's state as seen by the pipeline.
type TargetStatus struct {
	Target             domain.Target               `json:"target"`
	Monitored          bool                        `json:"monitored"`
	Timers             map[domain.TimerKind]string `json:"timers,omitempty"`
	QuickTaskRemaining int                         `json:"quickTaskRemaining"`
	Flow               domain.FlowState            `json:"flow,omitempty"`
	CheckpointCount    int                         `json:"checkpointCount"`
	Purpose            string                      `json:"purpose,omitempty"`
	PendingReturn      bool                        `json:"pendingReturn,omitempty"`
}

// Status is a point-in-time view of the pipeline for the status command.
type Status struct {
	Now         time.Time          `json:"now"`
	Foreground  domain.Target      `json:"foreground,omitempty"`
	Session     *domain.Session    `json:"session,omitempty"`
	Global      domain.GlobalQuota `json:"global"`
	Targets     []TargetStatus     `json:"targets"`
	Queued      int                `json:"queued"`
	Handled     uint64             `json:"handled"`
	LastHandled time.Time          `json:"lastHandled,omitempty"`
}

// Status builds a snapshot directly. It must be called from the pipeline
// goroutine or while Run is not active; use Inspect otherwise.
func (p *Pipeline) Status() Status {
	now := p.clock.Now()
	s := Status{
		Now:         now,
		Foreground:  p.foreground,
		Global:      p.store.Global(),
		Queued:      p.queue.Len(),
		Handled:     p.handled,
		LastHandled: p.lastHandled,
	}
	if cur, ok := p.coord.Current(); ok {
		s.Session = &cur
	}

	for _, target := range p.targetsOf() {
		run := p.store.Run(target)
		ts := TargetStatus{
			Target:             target,
			Monitored:          p.monitored(target),
			QuickTaskRemaining: p.store.Quota(target).QuickTaskRemaining,
			CheckpointCount:    run.CheckpointCount,
			Purpose:            run.Purpose,
		}
		timers := p.store.Timers(target)
		for _, kind := range domain.AllTimerKinds {
			if left := timers.Remaining(kind, now); left > 0 {
				if ts.Timers == nil {
					ts.Timers = make(map[domain.TimerKind]string)
				}
				ts.Timers[kind] = left.Round(time.Second).String()
			}
		}
		if fc, ok := p.flow.Get(target); ok {
			ts.Flow = fc.State
		}
		_, ts.PendingReturn = p.pending[target]
		s.Targets = append(s.Targets, ts)
	}
	return s
}
