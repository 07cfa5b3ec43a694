package intake

import (
	"strings"
	"testing"
)

func TestValidateChosenTimeWithinWindow(t *testing.T) {
	slot := TimeSlot{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"}

	for _, clock := range []string{"07:00", "08:00", "09:00"} {
		if err := ValidateChosenTime(ChosenTime{Label: "Morning", ClockTime: clock}, slot); err != nil {
			t.Errorf("expected %s to be accepted: %v", clock, err)
		}
	}
}

func TestValidateChosenTimeOutsideWindow(t *testing.T) {
	slot := TimeSlot{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"}

	err := ValidateChosenTime(ChosenTime{Label: "Morning", ClockTime: "06:00"}, slot)
	if err == nil {
		t.Fatal("expected rejection for 06:00")
	}
	want := "06:00 outside 07:00–09:00 for Morning"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}

	if err := ValidateChosenTime(ChosenTime{Label: "Morning", ClockTime: "09:01"}, slot); err == nil {
		t.Error("expected rejection for 09:01")
	}
}

func TestValidateChosenTimeMalformed(t *testing.T) {
	slot := TimeSlot{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"}

	for _, clock := range []string{"8am", "25:00", "07:61", "0700", ""} {
		if err := ValidateChosenTime(ChosenTime{Label: "Morning", ClockTime: clock}, slot); err == nil {
			t.Errorf("expected rejection for %q", clock)
		}
	}
}

func TestValidateChosenTimesCollectsAllViolations(t *testing.T) {
	slots := []TimeSlot{
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
		{Label: "Night", WindowStart: "19:00", WindowEnd: "21:00"},
	}
	chosen := []ChosenTime{
		{Label: "Morning", ClockTime: "06:00"},
		{Label: "Afternoon", ClockTime: "13:00"},
	}

	violations := ValidateChosenTimes(chosen, slots)
	if violations == nil {
		t.Fatal("expected violations")
	}
	// Out-of-window Morning, unknown Afternoon, and Night left unchosen
	if len(violations) != 3 {
		t.Fatalf("got %d violations, want 3: %v", len(violations), violations)
	}

	if violations[0].Message != "06:00 outside 07:00–09:00 for Morning" {
		t.Errorf("unexpected first violation: %q", violations[0].Message)
	}
	if !strings.Contains(violations[1].Message, "unknown slot") {
		t.Errorf("unexpected second violation: %q", violations[1].Message)
	}
	if !strings.Contains(violations[2].Message, "no chosen time for slot Night") {
		t.Errorf("unexpected third violation: %q", violations[2].Message)
	}
}

func TestValidateChosenTimesClean(t *testing.T) {
	slots := []TimeSlot{
		{Label: "Morning", WindowStart: "07:00", WindowEnd: "09:00"},
		{Label: "Night", WindowStart: "19:00", WindowEnd: "21:00"},
	}
	chosen := []ChosenTime{
		{Label: "Morning", ClockTime: "08:00"},
		{Label: "Night", ClockTime: "20:30"},
	}

	if violations := ValidateChosenTimes(chosen, slots); violations != nil {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateChosenTimesNoSlots(t *testing.T) {
	chosen := []ChosenTime{{Label: "Morning", ClockTime: "08:00"}}

	violations := ValidateChosenTimes(chosen, nil)
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	if !strings.Contains(violations[0].Message, "unknown slot") {
		t.Errorf("unexpected violation: %q", violations[0].Message)
	}
}
