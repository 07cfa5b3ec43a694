package intake

import (
	"time"
)

// Guard constants for the intake state machine
const (
	// DoubleIntakeWindow is the clinically-unsafe window within which a
	// second dose of the same medicine must be rejected
	DoubleIntakeWindow = 2 * time.Hour
	// MissedGrace is how far past the scheduled time a dose may run
	// before the sweep escalates it to missed
	MissedGrace = 60 * time.Minute
	// MaxSnoozes bounds notification churn per record
	MaxSnoozes = 3
	// DefaultSnoozeMinutes applies when a snooze request omits the deferral
	DefaultSnoozeMinutes = 10
	// MinSnoozeMinutes and MaxSnoozeMinutes clamp requested deferrals
	MinSnoozeMinutes = 1
	MaxSnoozeMinutes = 60
)

// MarkTaken transitions the record to taken. lastSiblingTaken is the most
// recent TakenAt across all records for the same (prescription, medicine
// index); the double-intake guard is evaluated against the full record set,
// not just this record.
func (l *IntakeLog) MarkTaken(now time.Time, takenAt *time.Time, notes string, lastSiblingTaken *time.Time) error {
	if l.Status == StatusTaken {
		return ruleErrorf("already taken")
	}
	if l.Status.IsTerminal() {
		return ruleErrorf("cannot mark a %s dose as taken", l.Status)
	}

	at := now
	if takenAt != nil {
		at = *takenAt
	}
	if lastSiblingTaken != nil && at.Sub(*lastSiblingTaken) < DoubleIntakeWindow {
		return ruleErrorf("%s taken less than 2 hours ago", l.MedicineName)
	}

	l.Status = StatusTaken
	l.TakenAt = &at
	if notes != "" {
		l.Notes = notes
	}
	l.UpdatedAt = now
	return nil
}

// Snooze defers the record by minutes, bounded by the snooze cap. Exceeding
// the cap is a rejection, not a clamp. The deferral deadline is stored so
// the sweep can evaluate it exactly, independent of later record touches.
func (l *IntakeLog) Snooze(now time.Time, minutes int) error {
	if l.Status.IsTerminal() {
		return ruleErrorf("cannot snooze a %s dose", l.Status)
	}
	if l.SnoozeCount >= MaxSnoozes {
		return ruleErrorf("maximum snooze limit reached")
	}

	until := now.Add(time.Duration(minutes) * time.Minute)
	l.Status = StatusSnoozed
	l.SnoozeCount++
	l.SnoozedUntil = &until
	l.UpdatedAt = now
	return nil
}

// Skip marks the record skipped with an optional reason
func (l *IntakeLog) Skip(now time.Time, reason string) error {
	if l.Status.IsTerminal() {
		return ruleErrorf("cannot skip a %s dose", l.Status)
	}

	l.Status = StatusSkipped
	l.SkipReason = reason
	l.UpdatedAt = now
	return nil
}

// SweepMissed escalates an overdue record to missed. Safe to invoke
// repeatedly: a record already terminal is rejected by the guard, and a
// record not yet past the grace window is left untouched.
func (l *IntakeLog) SweepMissed(now time.Time) error {
	if l.Status.IsTerminal() {
		return ruleErrorf("cannot mark a %s dose as missed", l.Status)
	}

	scheduledAt, err := l.ScheduledAt()
	if err != nil {
		return err
	}
	if now.Sub(scheduledAt) <= MissedGrace {
		return ruleErrorf("dose at %s not yet past the missed grace window", l.ScheduledTime)
	}
	// A snoozed dose keeps its deferral before the sweep may reclaim it.
	// Rows predating the snoozed_until column fall back to the update
	// timestamp.
	if l.Status == StatusSnoozed {
		if l.SnoozedUntil != nil {
			if now.Before(*l.SnoozedUntil) {
				return ruleErrorf("snoozed dose still within its deferral")
			}
		} else if now.Sub(l.UpdatedAt) <= MissedGrace {
			return ruleErrorf("snoozed dose still within its deferral")
		}
	}

	l.Status = StatusMissed
	l.UpdatedAt = now
	return nil
}

// ClampSnoozeMinutes resolves the effective snooze deferral for a request
func ClampSnoozeMinutes(requested int) int {
	if requested <= 0 {
		return DefaultSnoozeMinutes
	}
	if requested < MinSnoozeMinutes {
		return MinSnoozeMinutes
	}
	if requested > MaxSnoozeMinutes {
		return MaxSnoozeMinutes
	}
	return requested
}
