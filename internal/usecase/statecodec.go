package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Persisted layout: one "target|field" key per value. Globals live under globalPrefix.
const (
	keySeparator = "|"
	globalPrefix = "$global"

	fieldEnabled                  = "enabled"
	fieldIntentionUntil           = "intentionUntil"
	fieldQuickTaskUntil           = "quickTaskUntil"
	fieldHardBreakUntil           = "hardBreakUntil"
	fieldEmergencyAllowUntil      = "emergencyAllowUntil"
	fieldWeeklyOverrideLastUsedAt = "weeklyOverrideLastUsedAt"
	fieldQuickTaskRemaining       = "quickTaskRemaining"
	fieldQuickTaskWindowStart     = "quickTaskWindowStart"
	fieldCheckpointCount          = "checkpointCount"
	fieldRootCause                = "rootCause"
	fieldPurpose                  = "purpose"
	fieldLastPurpose              = "lastPurpose"
	fieldRecentPurposes           = "recentPurposes"

	fieldDailyChallengeUsedToday = "dailyChallengeUsedToday"
	fieldDailyChallengeResetDate = "dailyChallengeResetDate"
	fieldEmergencyPassBalance    = "emergencyPassBalance"
	fieldEmergencyPassUsedToday  = "emergencyPassUsedToday"
	fieldEmergencyPassResetDate  = "emergencyPassResetDate"

	timeLayout = time.RFC3339Nano
	dateLayout = "2006-01-02"
)

var timerFields = map[domain.TimerKind]string{
	domain.TimerIntention:      fieldIntentionUntil,
	domain.TimerQuickTask:      fieldQuickTaskUntil,
	domain.TimerHardBreak:      fieldHardBreakUntil,
	domain.TimerEmergencyAllow: fieldEmergencyAllowUntil,
}

func entryKey(owner, field string) string {
	return owner + keySeparator + field
}

func targetKey(target domain.Target, field string) string {
	return entryKey(string(target), field)
}

func globalKey(field string) string {
	return entryKey(globalPrefix, field)
}

// splitKey splits on the last separator so targets may contain "|".
func splitKey(key string) (owner, field string, ok bool) {
	i := strings.LastIndex(key, keySeparator)
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func joinPurposes(p []string) string {
	return strings.Join(p, ",")
}

func splitPurposes(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, domain.MaxRecentPurposes)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == domain.MaxRecentPurposes {
			break
		}
	}
	return out
}

// applyTargetField decodes one persisted field into rec.
func applyTargetField(rec *domain.TargetRecord, field, value string) error {
	switch field {
	case fieldEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		rec.Enabled = &b
	case fieldIntentionUntil, fieldQuickTaskUntil, fieldHardBreakUntil, fieldEmergencyAllowUntil:
		t, err := parseTime(value)
		if err != nil {
			return err
		}
		for kind, f := range timerFields {
			if f == field {
				rec.Timers = rec.Timers.With(kind, t)
			}
		}
	case fieldWeeklyOverrideLastUsedAt:
		t, err := parseTime(value)
		if err != nil {
			return err
		}
		rec.WeeklyOverrideLastUsedAt = t
	case fieldQuickTaskRemaining:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		rec.Quota.QuickTaskRemaining = n
	case fieldQuickTaskWindowStart:
		t, err := parseTime(value)
		if err != nil {
			return err
		}
		rec.Quota.WindowStart = t
	case fieldCheckpointCount:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		rec.Run.CheckpointCount = n
	case fieldRootCause:
		rec.Run.RootCause = value
	case fieldPurpose:
		rec.Run.Purpose = value
	case fieldLastPurpose:
		rec.Run.LastPurpose = value
	case fieldRecentPurposes:
		rec.Run.RecentPurposes = splitPurposes(value)
	default:
		return errUnknownField
	}
	return nil
}

// applyGlobalField decodes one persisted global field into g.
func applyGlobalField(g *domain.GlobalQuota, field, value string) error {
	switch field {
	case fieldDailyChallengeUsedToday:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		g.DailyChallengeUsedToday = b
	case fieldDailyChallengeResetDate:
		g.DailyChallengeResetDate = value
	case fieldEmergencyPassBalance:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		g.EmergencyPassBalance = n
	case fieldEmergencyPassUsedToday:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		g.EmergencyPassUsedToday = n
	case fieldEmergencyPassResetDate:
		g.EmergencyPassResetDate = value
	default:
		return errUnknownField
	}
	return nil
}

// encodeRun returns the run-context entries; empty strings are deleted.
func encodeRun(target domain.Target, run domain.RunContext) (set map[string]string, del []string) {
	set = map[string]string{
		targetKey(target, fieldCheckpointCount): strconv.Itoa(run.CheckpointCount),
	}
	text := map[string]string{
		fieldRootCause:      run.RootCause,
		fieldPurpose:        run.Purpose,
		fieldLastPurpose:    run.LastPurpose,
		fieldRecentPurposes: joinPurposes(run.RecentPurposes),
	}
	for field, v := range text {
		if v == "" {
			del = append(del, targetKey(target, field))
			continue
		}
		set[targetKey(target, field)] = v
	}
	return set, del
}

func encodeGlobal(g domain.GlobalQuota) map[string]string {
	return map[string]string{
		globalKey(fieldDailyChallengeUsedToday): strconv.FormatBool(g.DailyChallengeUsedToday),
		globalKey(fieldDailyChallengeResetDate): g.DailyChallengeResetDate,
		globalKey(fieldEmergencyPassBalance):    strconv.Itoa(g.EmergencyPassBalance),
		globalKey(fieldEmergencyPassUsedToday):  strconv.Itoa(g.EmergencyPassUsedToday),
		globalKey(fieldEmergencyPassResetDate):  g.EmergencyPassResetDate,
	}
}

func encodeQuota(target domain.Target, q domain.QuotaState) map[string]string {
	return map[string]string{
		targetKey(target, fieldQuickTaskRemaining):   strconv.Itoa(q.QuickTaskRemaining),
		targetKey(target, fieldQuickTaskWindowStart): formatTime(q.WindowStart),
	}
}
