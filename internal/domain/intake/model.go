// Package intake implements the medication intake ledger: schedule
// expansion, the dose-taking state machine, and adherence aggregation.
package intake

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of an intake record
type Status string

const (
	StatusPending Status = "pending"
	StatusSnoozed Status = "snoozed"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether the status accepts no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusTaken, StatusMissed, StatusSkipped:
		return true
	}
	return false
}

// Active returns the statuses a transition may start from
func Active() []Status {
	return []Status{StatusPending, StatusSnoozed}
}

// Origin distinguishes how an intake record came to exist
type Origin string

const (
	OriginPrescription Origin = "prescription"
	OriginManual       Origin = "manual"
)

// Frequency is a declared dosing frequency category
type Frequency string

const (
	FrequencyOnceDaily     Frequency = "once_daily"
	FrequencyTwiceDaily    Frequency = "twice_daily"
	FrequencyThriceDaily   Frequency = "three_times_daily"
	FrequencyFourTimesDaily Frequency = "four_times_daily"
	FrequencyWeekly        Frequency = "weekly"
	FrequencyAsNeeded      Frequency = "as_needed"
)

// FrequencySlots maps each frequency to its default slot template.
// An explicit table instead of free-text matching keeps slot counts
// deterministic.
var FrequencySlots = map[Frequency][]TimeSlot{
	FrequencyOnceDaily: {
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
	},
	FrequencyTwiceDaily: {
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
		{Label: "Night", WindowStart: "19:00", WindowEnd: "21:00"},
	},
	FrequencyThriceDaily: {
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
		{Label: "Afternoon", WindowStart: "12:00", WindowEnd: "14:00"},
		{Label: "Night", WindowStart: "19:00", WindowEnd: "21:00"},
	},
	FrequencyFourTimesDaily: {
		{Label: "Morning", WindowStart: "06:00", WindowEnd: "08:00"},
		{Label: "Noon", WindowStart: "11:00", WindowEnd: "13:00"},
		{Label: "Evening", WindowStart: "16:00", WindowEnd: "18:00"},
		{Label: "Night", WindowStart: "21:00", WindowEnd: "23:00"},
	},
	FrequencyWeekly: {
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
	},
	FrequencyAsNeeded: nil,
}

// TimeSlot is a named same-day clock-time window a dose may be taken in
type TimeSlot struct {
	Label       string `json:"label"`
	WindowStart string `json:"windowStart"`
	WindowEnd   string `json:"windowEnd"`
}

// ChosenTime is the patient-selected clock time for a slot
type ChosenTime struct {
	Label     string `json:"label"`
	ClockTime string `json:"clockTime"`
}

// Medication describes one medicine within a prescription
type Medication struct {
	Name         string       `json:"name"`
	Dosage       string       `json:"dosage"`
	Frequency    Frequency    `json:"frequency"`
	DurationDays int          `json:"durationDays"`
	TimeSlots    []TimeSlot   `json:"timeSlots"`
	ChosenTimes  []ChosenTime `json:"chosenTimes"`
}

// IntakeLog is one scheduled-dose record in the ledger.
// At most one record exists per (prescription, medicine index, slot label,
// scheduled date).
type IntakeLog struct {
	ID             string     `json:"id"`
	PrescriptionID string     `json:"prescriptionId"`
	PatientID      string     `json:"patientId"`
	MedicineIndex  int        `json:"medicineIndex"`
	MedicineName   string     `json:"medicineName"`
	SlotLabel      string     `json:"slotLabel"`
	ScheduledTime  string     `json:"scheduledTime"` // "HH:MM"
	ScheduledDate  time.Time  `json:"scheduledDate"` // calendar date, UTC midnight
	Status         Status     `json:"status"`
	Origin         Origin     `json:"origin"`
	NotificationID *string    `json:"notificationId,omitempty"`
	SnoozeCount    int        `json:"snoozeCount"`
	SnoozedUntil   *time.Time `json:"snoozedUntil,omitempty"`
	TakenAt        *time.Time `json:"takenAt,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	SkipReason     string     `json:"skipReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ScheduledAt reconstructs the full dose timestamp from the record's
// scheduled date and clock time, in UTC.
func (l *IntakeLog) ScheduledAt() (time.Time, error) {
	mins, err := parseClock(l.ScheduledTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("record %s: %w", l.ID, err)
	}
	d := l.ScheduledDate.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), mins/60, mins%60, 0, 0, time.UTC), nil
}
