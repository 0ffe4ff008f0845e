package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// StartOutcome is the result of TryStart: Started or Suppressed.
type StartOutcome interface {
	isStartOutcome()
}

// Started means a new session now owns the overlay.
type Started struct {
	SessionID string
}

// Suppressed means the start was refused; the caller must not show anything.
type Suppressed struct {
	Reason string
}

func (Started) isStartOutcome()    {}
func (Suppressed) isStartOutcome() {}

// Suppression reasons.
const (
	SuppressOverlayBusy = "overlay_busy"
	SuppressSameTarget  = "session_already_active_for_target"
	SuppressEmptyTarget = "empty_target"
)

// CoordinatorConfig holds session coordinator configuration.
type CoordinatorConfig struct {
	// WatchdogTimeout bounds how long a session may stay STARTING.
	WatchdogTimeout time.Duration
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{WatchdogTimeout: 3 * time.Second}
}

// Coordinator enforces the single-overlay rule. It holds at most one
// session. It is owned by the event pipeline and is not safe for concurrent use.
type Coordinator struct {
	cfg     CoordinatorConfig
	ids     domain.IDGenerator
	logger  *zap.Logger
	current *domain.Session
}

// NewCoordinator creates a coordinator with no active session.
func NewCoordinator(cfg CoordinatorConfig, ids domain.IDGenerator, logger *zap.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, ids: ids, logger: logger}
}

// TryStart claims the overlay for target. reuseID, when non-empty, resumes a
// preserved flow under its original session id.
func (c *Coordinator) TryStart(target domain.Target, kind domain.SessionKind, now time.Time, reuseID string) StartOutcome {
	if target == "" {
		return Suppressed{Reason: SuppressEmptyTarget}
	}

	c.CheckWatchdog(now)

	if c.current != nil {
		reason := SuppressOverlayBusy
		if c.current.Target == target {
			reason = SuppressSameTarget
		}
		c.logger.Warn("session start suppressed",
			zap.String("target", string(target)),
			zap.String("kind", string(kind)),
			zap.String("owner", string(c.current.Target)),
			zap.String("owner_session", c.current.ID),
			zap.String("reason", reason))
		return Suppressed{Reason: reason}
	}

	id := reuseID
	if id == "" {
		id = c.ids.NewID()
	}
	c.current = &domain.Session{
		ID:        id,
		Target:    target,
		Kind:      kind,
		State:     domain.OverlayStarting,
		StartedAt: now,
	}
	c.logger.Info("session starting",
		zap.String("session", id),
		zap.String("target", string(target)),
		zap.String("kind", string(kind)),
		zap.Bool("resumed", reuseID != ""))
	return Started{SessionID: id}
}

// OnOverlayConfirmed moves the matching session from STARTING to ACTIVE.
// A mismatched or unknown id is ignored.
func (c *Coordinator) OnOverlayConfirmed(sessionID string) bool {
	if c.current == nil || c.current.ID != sessionID {
		c.logger.Debug("ignoring stale overlay confirmation", zap.String("session", sessionID))
		return false
	}
	if c.current.State != domain.OverlayStarting {
		return false
	}
	c.current.State = domain.OverlayActive
	c.logger.Info("session active", zap.String("session", sessionID))
	return true
}

// End releases the overlay if sessionID matches the current session and
// returns the ended session. Mismatched ids return nil.
func (c *Coordinator) End(sessionID, reason string) *domain.Session {
	if c.current == nil || c.current.ID != sessionID {
		c.logger.Debug("ignoring stale session end",
			zap.String("session", sessionID),
			zap.String("reason", reason))
		return nil
	}
	ended := *c.current
	c.current = nil
	c.logger.Info("session ended",
		zap.String("session", ended.ID),
		zap.String("target", string(ended.Target)),
		zap.String("reason", reason))
	return &ended
}

// CheckWatchdog force-resets a session stuck in STARTING past the timeout and
// returns it, or nil when nothing was reset.
func (c *Coordinator) CheckWatchdog(now time.Time) *domain.Session {
	if c.current == nil || c.current.State != domain.OverlayStarting {
		return nil
	}
	if now.Sub(c.current.StartedAt) < c.cfg.WatchdogTimeout {
		return nil
	}
	reset := *c.current
	c.current = nil
	c.logger.Warn("watchdog reset session stuck in starting",
		zap.String("session", reset.ID),
		zap.String("target", string(reset.Target)),
		zap.Duration("age", now.Sub(reset.StartedAt)))
	return &reset
}

// Current returns a copy of the active session.
func (c *Coordinator) Current() (domain.Session, bool) {
	if c.current == nil {
		return domain.Session{}, false
	}
	return *c.current, true
}

// Owner returns the target holding the overlay, or "" when free.
func (c *Coordinator) Owner() domain.Target {
	if c.current == nil {
		return ""
	}
	return c.current.Target
}

// OwnsSession reports whether target holds the overlay.
func (c *Coordinator) OwnsSession(target domain.Target) bool {
	return c.current != nil && c.current.Target == target
}
