package intake

import (
	"time"

	"github.com/google/uuid"
)

// ExpandInput describes one medication to expand into dated intake records
type ExpandInput struct {
	PrescriptionID string
	PatientID      string
	MedicineIndex  int
	MedicineName   string
	DurationDays   int
	StartDate      time.Time
	TimeSlots      []TimeSlot
	ChosenTimes    []ChosenTime
	Origin         Origin
}

// ExpandResult reports the created ledger span
type ExpandResult struct {
	TotalReminders int       `json:"totalReminders"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
}

// Expand validates every chosen time and builds one pending record per
// (calendar date x chosen time) over the medication's duration. All
// violations are collected before anything is built.
func Expand(in ExpandInput, now time.Time) ([]*IntakeLog, *ExpandResult, error) {
	if in.DurationDays <= 0 {
		return nil, nil, ruleErrorf("duration must be at least one day")
	}
	if len(in.ChosenTimes) == 0 {
		return nil, nil, ruleErrorf("at least one chosen time is required")
	}
	if violations := ValidateChosenTimes(in.ChosenTimes, in.TimeSlots); violations != nil {
		return nil, nil, violations
	}

	start := in.StartDate
	if start.IsZero() {
		start = now
	}
	start = midnightUTC(start)
	end := start.AddDate(0, 0, in.DurationDays-1)

	origin := in.Origin
	if origin == "" {
		origin = OriginPrescription
	}

	logs := make([]*IntakeLog, 0, in.DurationDays*len(in.ChosenTimes))
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		for _, ct := range in.ChosenTimes {
			logs = append(logs, &IntakeLog{
				ID:             uuid.NewString(),
				PrescriptionID: in.PrescriptionID,
				PatientID:      in.PatientID,
				MedicineIndex:  in.MedicineIndex,
				MedicineName:   in.MedicineName,
				SlotLabel:      ct.Label,
				ScheduledTime:  ct.ClockTime,
				ScheduledDate:  date,
				Status:         StatusPending,
				Origin:         origin,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}

	return logs, &ExpandResult{
		TotalReminders: len(logs),
		StartDate:      start,
		EndDate:        end,
	}, nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
