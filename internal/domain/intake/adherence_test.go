package intake

import "testing"

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || s.Taken != 0 || s.Missed != 0 || s.AdherenceRate != 0 {
		t.Fatalf("unexpected summary for empty ledger: %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	logs := []*IntakeLog{
		{Status: StatusTaken},
		{Status: StatusTaken},
		{Status: StatusMissed},
		{Status: StatusSkipped},
		{Status: StatusPending},
		{Status: StatusSnoozed},
	}

	s := Summarize(logs)
	if s.Total != 6 {
		t.Errorf("total = %d, want 6", s.Total)
	}
	if s.Taken != 2 {
		t.Errorf("taken = %d, want 2", s.Taken)
	}
	if s.Missed != 1 {
		t.Errorf("missed = %d, want 1", s.Missed)
	}
	// 2/6 = 33.33, rounds to 33
	if s.AdherenceRate != 33 {
		t.Errorf("rate = %d, want 33", s.AdherenceRate)
	}
}

func TestSummarizeRounding(t *testing.T) {
	logs := []*IntakeLog{
		{Status: StatusTaken},
		{Status: StatusTaken},
		{Status: StatusMissed},
	}

	// 2/3 = 66.67, rounds to 67
	if s := Summarize(logs); s.AdherenceRate != 67 {
		t.Errorf("rate = %d, want 67", s.AdherenceRate)
	}
}

func TestSummarizeAllTaken(t *testing.T) {
	logs := []*IntakeLog{{Status: StatusTaken}, {Status: StatusTaken}}
	if s := Summarize(logs); s.AdherenceRate != 100 {
		t.Errorf("rate = %d, want 100", s.AdherenceRate)
	}
}
