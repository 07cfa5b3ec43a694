package intake

import (
	"testing"
	"time"
)

var expandSlots = []TimeSlot{
	{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
	{Label: "Night", WindowStart: "19:00", WindowEnd: "21:00"},
}

func expandInput() ExpandInput {
	return ExpandInput{
		PrescriptionID: "rx-1",
		PatientID:      "patient-1",
		MedicineIndex:  0,
		MedicineName:   "Amoxicillin",
		DurationDays:   3,
		StartDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeSlots:      expandSlots,
		ChosenTimes: []ChosenTime{
			{Label: "Morning", ClockTime: "08:00"},
			{Label: "Night", ClockTime: "20:00"},
		},
	}
}

func TestExpandProducesDateTimesCross(t *testing.T) {
	now := time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC)

	logs, result, err := Expand(expandInput(), now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	// 3 days x 2 chosen times
	if len(logs) != 6 {
		t.Fatalf("got %d records, want 6", len(logs))
	}
	if result.TotalReminders != 6 {
		t.Errorf("TotalReminders = %d, want 6", result.TotalReminders)
	}

	wantStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	if !result.StartDate.Equal(wantStart) {
		t.Errorf("StartDate = %v, want %v", result.StartDate, wantStart)
	}
	if !result.EndDate.Equal(wantEnd) {
		t.Errorf("EndDate = %v, want %v", result.EndDate, wantEnd)
	}

	dates := map[string]int{}
	for _, l := range logs {
		if l.Status != StatusPending {
			t.Errorf("record %s status = %s, want pending", l.ID, l.Status)
		}
		if l.Origin != OriginPrescription {
			t.Errorf("record %s origin = %s, want prescription", l.ID, l.Origin)
		}
		if l.SnoozeCount != 0 {
			t.Errorf("record %s snooze count = %d, want 0", l.ID, l.SnoozeCount)
		}
		dates[l.ScheduledDate.Format("2006-01-02")]++
	}
	for _, day := range []string{"2026-01-01", "2026-01-02", "2026-01-03"} {
		if dates[day] != 2 {
			t.Errorf("date %s has %d records, want 2", day, dates[day])
		}
	}
	if len(dates) != 3 {
		t.Errorf("records span %d dates, want 3", len(dates))
	}
}

func TestExpandDefaultsStartDateToToday(t *testing.T) {
	in := expandInput()
	in.StartDate = time.Time{}
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	_, result, err := Expand(in, now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !result.StartDate.Equal(want) {
		t.Errorf("StartDate = %v, want %v", result.StartDate, want)
	}
}

func TestExpandRejectsInvalidDuration(t *testing.T) {
	in := expandInput()
	in.DurationDays = 0

	if _, _, err := Expand(in, time.Now()); !IsRuleError(err) {
		t.Fatalf("expected rule error, got %v", err)
	}
}

func TestExpandRejectsEmptyChosenTimes(t *testing.T) {
	in := expandInput()
	in.ChosenTimes = nil

	if _, _, err := Expand(in, time.Now()); !IsRuleError(err) {
		t.Fatalf("expected rule error, got %v", err)
	}
}

func TestExpandReturnsViolationBatch(t *testing.T) {
	in := expandInput()
	in.ChosenTimes = []ChosenTime{
		{Label: "Morning", ClockTime: "06:00"},
		{Label: "Night", ClockTime: "22:00"},
	}

	_, _, err := Expand(in, time.Now())
	violations, ok := AsValidationErrors(err)
	if !ok {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("got %d violations, want 2: %v", len(violations), violations)
	}
}

func TestExpandManualOrigin(t *testing.T) {
	in := expandInput()
	in.Origin = OriginManual

	logs, _, err := Expand(in, time.Now())
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	for _, l := range logs {
		if l.Origin != OriginManual {
			t.Fatalf("origin = %s, want manual", l.Origin)
		}
	}
}
