package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// MaxEmergencyPassesPerDay is the hard ceiling on emergency passes.
const MaxEmergencyPassesPerDay = 2

// StoreConfig holds quota configuration for the state store.
type StoreConfig struct {
	QuickTaskCount         int           // Quick tasks per window
	QuickTaskWindow        time.Duration // Fixed wall-clock window size
	EmergencyPassesPerDay  int           // Capped at MaxEmergencyPassesPerDay
	WeeklyOverrideCooldown time.Duration // Minimum gap between weekly overrides
	Location               *time.Location
}

// DefaultStoreConfig returns default quota configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		QuickTaskCount:         3,
		QuickTaskWindow:        time.Hour,
		EmergencyPassesPerDay:  MaxEmergencyPassesPerDay,
		WeeklyOverrideCooldown: 7 * 24 * time.Hour,
		Location:               time.Local,
	}
}

// StateStore holds per-target timers, quotas and run context plus global counters.
//
// In-memory state is the decision authority. Every mutation is applied in
// memory before returning and is eventually persisted: changed keys are handed
// to a write-behind committer that writes to the KVStore off the caller's
// goroutine. Flush waits for pending writes. A failed write only affects
// durability across restarts.
//
// StateStore is not safe for concurrent use; the event pipeline owns it.
type StateStore struct {
	cfg     StoreConfig
	kv      domain.KVStore
	clock   domain.Clock
	logger  *zap.Logger
	targets map[domain.Target]*domain.TargetRecord
	global  domain.GlobalQuota
	writer  *writeBehind
}

// NewStateStore creates an empty store backed by kv. Call Restore to load.
func NewStateStore(kv domain.KVStore, clock domain.Clock, cfg StoreConfig, logger *zap.Logger) *StateStore {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.EmergencyPassesPerDay <= 0 || cfg.EmergencyPassesPerDay > MaxEmergencyPassesPerDay {
		cfg.EmergencyPassesPerDay = MaxEmergencyPassesPerDay
	}
	return &StateStore{
		cfg:     cfg,
		kv:      kv,
		clock:   clock,
		logger:  logger,
		targets: make(map[domain.Target]*domain.TargetRecord),
		writer:  newWriteBehind(kv, logger),
	}
}

// Restore loads all entries from the KVStore, prunes deadlines already in the
// past and resets global counters whose reset date is not today.
func (s *StateStore) Restore() error {
	entries, err := s.kv.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	s.targets = make(map[domain.Target]*domain.TargetRecord)
	s.global = domain.GlobalQuota{}

	for key, value := range entries {
		owner, field, ok := splitKey(key)
		if !ok {
			s.logger.Warn("skipping malformed state key", zap.String("key", key))
			continue
		}
		if owner == globalPrefix {
			err = applyGlobalField(&s.global, field, value)
		} else {
			err = applyTargetField(s.record(domain.Target(owner)), field, value)
		}
		if errors.Is(err, errUnknownField) {
			s.logger.Debug("ignoring unknown state field", zap.String("key", key))
		} else if err != nil {
			s.logger.Warn("skipping unreadable state entry",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	now := s.clock.Now()
	var pruned []string
	for target, rec := range s.targets {
		for _, kind := range domain.AllTimerKinds {
			d := rec.Timers.Deadline(kind)
			if !d.IsZero() && !now.Before(d) {
				rec.Timers = rec.Timers.With(kind, time.Time{})
				pruned = append(pruned, targetKey(target, timerFields[kind]))
			}
		}
	}
	if len(pruned) > 0 {
		sort.Strings(pruned)
		s.logger.Info("pruned expired timers on restore", zap.Strings("keys", pruned))
		s.writer.stage(nil, pruned)
	}

	s.rollGlobal(now)
	for target := range s.targets {
		s.rollQuota(target, now)
	}

	s.logger.Info("state restored",
		zap.Int("entries", len(entries)),
		zap.Int("targets", len(s.targets)),
		zap.String("location", s.kv.Location()))
	return nil
}

// record returns the mutable record for target, creating it if needed.
func (s *StateStore) record(target domain.Target) *domain.TargetRecord {
	rec, ok := s.targets[target]
	if !ok {
		rec = &domain.TargetRecord{
			Quota: domain.QuotaState{QuickTaskRemaining: s.cfg.QuickTaskCount},
		}
		s.targets[target] = rec
	}
	return rec
}

// Targets returns every target that has stored state, sorted.
func (s *StateStore) Targets() []domain.Target {
	out := make([]domain.Target, 0, len(s.targets))
	for t := range s.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Record returns a copy of everything stored for target.
func (s *StateStore) Record(target domain.Target) domain.TargetRecord {
	rec, ok := s.targets[target]
	if !ok {
		return domain.TargetRecord{Quota: domain.QuotaState{QuickTaskRemaining: s.cfg.QuickTaskCount}}
	}
	cp := *rec
	cp.Run.RecentPurposes = append([]string(nil), rec.Run.RecentPurposes...)
	return cp
}

// --- timers ---

// Timers returns the target's deadlines.
func (s *StateStore) Timers(target domain.Target) domain.TimerState {
	if rec, ok := s.targets[target]; ok {
		return rec.Timers
	}
	return domain.TimerState{}
}

// SetTimer stores a deadline for the target.
func (s *StateStore) SetTimer(target domain.Target, kind domain.TimerKind, deadline time.Time) {
	deadline = deadline.Round(0)
	rec := s.record(target)
	rec.Timers = rec.Timers.With(kind, deadline)
	s.writer.stage(map[string]string{targetKey(target, timerFields[kind]): formatTime(deadline)}, nil)
}

// ClearTimer unsets a deadline.
func (s *StateStore) ClearTimer(target domain.Target, kind domain.TimerKind) {
	rec, ok := s.targets[target]
	if !ok || rec.Timers.Deadline(kind).IsZero() {
		return
	}
	rec.Timers = rec.Timers.With(kind, time.Time{})
	s.writer.stage(nil, []string{targetKey(target, timerFields[kind])})
}

// --- quotas ---

func (s *StateStore) windowStart(now time.Time) time.Time {
	if s.cfg.QuickTaskWindow <= 0 {
		return time.Time{}
	}
	return now.Truncate(s.cfg.QuickTaskWindow).UTC()
}

// rollQuota refills the quick task quota when a window boundary has passed.
func (s *StateStore) rollQuota(target domain.Target, now time.Time) *domain.TargetRecord {
	rec := s.record(target)
	start := s.windowStart(now)
	if !rec.Quota.WindowStart.Equal(start) {
		rec.Quota = domain.QuotaState{QuickTaskRemaining: s.cfg.QuickTaskCount, WindowStart: start}
		s.writer.stage(encodeQuota(target, rec.Quota), nil)
	}
	return rec
}

// Quota returns the target's quick task quota for the current window.
// A target with no stored state reads a full quota without creating a record.
func (s *StateStore) Quota(target domain.Target) domain.QuotaState {
	now := s.clock.Now()
	if _, ok := s.targets[target]; !ok {
		return domain.QuotaState{QuickTaskRemaining: s.cfg.QuickTaskCount, WindowStart: s.windowStart(now)}
	}
	return s.rollQuota(target, now).Quota
}

// SetQuickTaskRemaining overrides the quota for the current window.
func (s *StateStore) SetQuickTaskRemaining(target domain.Target, n int) {
	rec := s.rollQuota(target, s.clock.Now())
	if n < 0 {
		n = 0
	}
	rec.Quota.QuickTaskRemaining = n
	s.writer.stage(encodeQuota(target, rec.Quota), nil)
}

// DecrementQuickTask spends one quick task. Call only on a confirmed start.
func (s *StateStore) DecrementQuickTask(target domain.Target) (int, error) {
	rec := s.rollQuota(target, s.clock.Now())
	if rec.Quota.QuickTaskRemaining <= 0 {
		return 0, ErrNoQuickTask
	}
	rec.Quota.QuickTaskRemaining--
	s.writer.stage(encodeQuota(target, rec.Quota), nil)
	return rec.Quota.QuickTaskRemaining, nil
}

// rollGlobal resets the daily counters when the local date changed.
func (s *StateStore) rollGlobal(now time.Time) {
	today := now.In(s.cfg.Location).Format(dateLayout)
	changed := false
	if s.global.DailyChallengeResetDate != today {
		s.global.DailyChallengeUsedToday = false
		s.global.DailyChallengeResetDate = today
		changed = true
	}
	if s.global.EmergencyPassResetDate != today {
		s.global.EmergencyPassBalance = s.cfg.EmergencyPassesPerDay
		s.global.EmergencyPassUsedToday = 0
		s.global.EmergencyPassResetDate = today
		changed = true
	}
	if changed {
		s.writer.stage(encodeGlobal(s.global), nil)
	}
}

// Global returns the shared counters for today.
func (s *StateStore) Global() domain.GlobalQuota {
	s.rollGlobal(s.clock.Now())
	return s.global
}

// EmergencyPassAvailable reports whether an emergency pass can be consumed.
func (s *StateStore) EmergencyPassAvailable() bool {
	g := s.Global()
	return g.EmergencyPassBalance > 0 && g.EmergencyPassUsedToday < s.cfg.EmergencyPassesPerDay
}

// ConsumeEmergencyPass spends one of today's emergency passes.
func (s *StateStore) ConsumeEmergencyPass() error {
	if !s.EmergencyPassAvailable() {
		return ErrNoEmergencyPass
	}
	s.global.EmergencyPassBalance--
	s.global.EmergencyPassUsedToday++
	s.writer.stage(encodeGlobal(s.global), nil)
	return nil
}

// ConsumeDailyChallenge marks today's challenge as used.
func (s *StateStore) ConsumeDailyChallenge() error {
	if s.Global().DailyChallengeUsedToday {
		return ErrDailyChallengeUsed
	}
	s.global.DailyChallengeUsedToday = true
	s.writer.stage(encodeGlobal(s.global), nil)
	return nil
}

// WeeklyOverrideAvailable reports whether the target may use its weekly override.
func (s *StateStore) WeeklyOverrideAvailable(target domain.Target) bool {
	last := s.Record(target).WeeklyOverrideLastUsedAt
	return last.IsZero() || s.clock.Now().Sub(last) >= s.cfg.WeeklyOverrideCooldown
}

// RecordWeeklyOverrideUse stamps the target's weekly override.
func (s *StateStore) RecordWeeklyOverrideUse(target domain.Target) error {
	if !s.WeeklyOverrideAvailable(target) {
		return ErrWeeklyOverrideUsed
	}
	now := s.clock.Now().Round(0)
	s.record(target).WeeklyOverrideLastUsedAt = now
	s.writer.stage(map[string]string{targetKey(target, fieldWeeklyOverrideLastUsedAt): formatTime(now)}, nil)
	return nil
}

// --- monitoring switch ---

// Enabled returns the stored monitoring override, if any.
func (s *StateStore) Enabled(target domain.Target) (enabled bool, set bool) {
	rec, ok := s.targets[target]
	if !ok || rec.Enabled == nil {
		return false, false
	}
	return *rec.Enabled, true
}

// SetEnabled overrides the target policy's monitoring default.
func (s *StateStore) SetEnabled(target domain.Target, enabled bool) {
	s.record(target).Enabled = &enabled
	s.writer.stage(map[string]string{targetKey(target, fieldEnabled): strconv.FormatBool(enabled)}, nil)
}

// --- run context ---

// Run returns a copy of the target's run context.
func (s *StateStore) Run(target domain.Target) domain.RunContext {
	return s.Record(target).Run
}

func (s *StateStore) stageRun(target domain.Target) {
	set, del := encodeRun(target, s.record(target).Run)
	s.writer.stage(set, del)
}

// SetPurpose records the stated purpose and pushes it onto the recent ring.
func (s *StateStore) SetPurpose(target domain.Target, purpose string) {
	run := &s.record(target).Run
	if run.Purpose != "" {
		run.LastPurpose = run.Purpose
	}
	run.Purpose = purpose

	recent := []string{purpose}
	for _, p := range run.RecentPurposes {
		if p != purpose && len(recent) < domain.MaxRecentPurposes {
			recent = append(recent, p)
		}
	}
	run.RecentPurposes = recent
	s.stageRun(target)
}

// SetRootCause records why the user keeps coming back.
func (s *StateStore) SetRootCause(target domain.Target, cause string) {
	s.record(target).Run.RootCause = cause
	s.stageRun(target)
}

// IncrementCheckpoint bumps and returns the checkpoint count.
func (s *StateStore) IncrementCheckpoint(target domain.Target) int {
	run := &s.record(target).Run
	run.CheckpointCount++
	s.stageRun(target)
	return run.CheckpointCount
}

// ResetCheckpoints zeroes the checkpoint count.
func (s *StateStore) ResetCheckpoints(target domain.Target) {
	rec, ok := s.targets[target]
	if !ok || rec.Run.CheckpointCount == 0 {
		return
	}
	rec.Run.CheckpointCount = 0
	s.stageRun(target)
}

// ClearRunContext ends the current attempt. The stated purpose moves to
// LastPurpose and the recent-purpose ring is kept for the next picker.
func (s *StateStore) ClearRunContext(target domain.Target) {
	run := &s.record(target).Run
	if run.Purpose != "" {
		run.LastPurpose = run.Purpose
	}
	run.Purpose = ""
	run.RootCause = ""
	run.CheckpointCount = 0
	s.stageRun(target)
}

// Flush blocks until all staged changes are committed.
func (s *StateStore) Flush() error {
	return s.writer.flush()
}

// Close flushes pending writes and stops the committer. It does not close the KVStore.
func (s *StateStore) Close() {
	s.writer.close()
}
