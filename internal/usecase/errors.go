// Package usecase contains application business logic: the state store,
// the decision evaluator, the session coordinator and the intervention flow.
package usecase

import "errors"

var (
	// ErrNoQuickTask means the target's quick task quota for this window is spent.
	ErrNoQuickTask = errors.New("no quick task remaining in this window")

	// ErrNoEmergencyPass means today's emergency passes are used up.
	ErrNoEmergencyPass = errors.New("no emergency pass available today")

	// ErrDailyChallengeUsed means the daily challenge was already taken today.
	ErrDailyChallengeUsed = errors.New("daily challenge already used today")

	// ErrWeeklyOverrideUsed means the target's weekly override is still cooling down.
	ErrWeeklyOverrideUsed = errors.New("weekly override already used this week")

	errUnknownField = errors.New("unknown field")
)
