package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/medtrack/go-intake/internal/domain/intake"
	"github.com/medtrack/go-intake/internal/infrastructure/memory"
)

type cancelRecorder struct {
	cancelled []string
}

func (n *cancelRecorder) ScheduleFor(context.Context, *intake.IntakeLog)            {}
func (n *cancelRecorder) RescheduleSnoozed(context.Context, *intake.IntakeLog, int) {}
func (n *cancelRecorder) CancelFor(_ context.Context, l *intake.IntakeLog) {
	n.cancelled = append(n.cancelled, l.ID)
}

func seed(t *testing.T, repo *memory.IntakeRepo, logs ...*intake.IntakeLog) {
	t.Helper()
	for _, l := range logs {
		if err := repo.ReplaceForMedicine(context.Background(), l.PrescriptionID, l.MedicineIndex, []*intake.IntakeLog{l}, nil); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func record(id string, medicineIndex int, date time.Time, clock string, status intake.Status) *intake.IntakeLog {
	return &intake.IntakeLog{
		ID:             id,
		PrescriptionID: "rx-1",
		PatientID:      "patient-1",
		MedicineIndex:  medicineIndex,
		MedicineName:   "Metformin",
		SlotLabel:      "Morning",
		ScheduledTime:  clock,
		ScheduledDate:  date,
		Status:         status,
	}
}

func TestSweepEscalatesOverdue(t *testing.T) {
	repo := memory.NewIntakeRepo()
	notifier := &cancelRecorder{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	overdue := record("overdue", 0, day, "08:00", intake.StatusPending)
	handle := "notif-1"
	overdue.NotificationID = &handle
	inGrace := record("in-grace", 1, day, "11:30", intake.StatusPending)
	future := record("future", 2, day, "19:00", intake.StatusPending)
	seed(t, repo, overdue, inGrace, future)

	sweeper := New(repo, notifier, nil).WithClock(func() time.Time { return now })

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Missed != 1 {
		t.Fatalf("missed = %d, want 1", report.Missed)
	}
	if report.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", report.Skipped)
	}

	got, _ := repo.GetByID(context.Background(), "overdue")
	if got.Status != intake.StatusMissed {
		t.Errorf("overdue status = %s, want missed", got.Status)
	}
	got, _ = repo.GetByID(context.Background(), "in-grace")
	if got.Status != intake.StatusPending {
		t.Errorf("in-grace status = %s, want pending", got.Status)
	}

	if len(notifier.cancelled) != 1 || notifier.cancelled[0] != "overdue" {
		t.Errorf("cancelled = %v, want [overdue]", notifier.cancelled)
	}

	found := false
	for _, evt := range repo.Events {
		if evt.EventType == intake.EventDoseMissed {
			found = true
		}
	}
	if !found {
		t.Error("expected a dose-missed event")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	repo := memory.NewIntakeRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seed(t, repo, record("overdue", 0, day, "08:00", intake.StatusPending))

	sweeper := New(repo, nil, nil).WithClock(func() time.Time { return now })

	first, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Missed != 1 {
		t.Fatalf("first run missed = %d, want 1", first.Missed)
	}

	second, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Missed != 0 {
		t.Errorf("second run missed = %d, want 0", second.Missed)
	}
	if second.Examined != 0 {
		t.Errorf("second run examined %d records, want 0 (missed is terminal)", second.Examined)
	}
}

func TestSweepSparesFreshSnooze(t *testing.T) {
	repo := memory.NewIntakeRepo()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fresh := record("fresh-snooze", 0, day, "08:00", intake.StatusSnoozed)
	fresh.SnoozeCount = 1
	freshUntil := now.Add(5 * time.Minute)
	fresh.SnoozedUntil = &freshUntil

	stale := record("stale-snooze", 1, day, "08:00", intake.StatusSnoozed)
	stale.SnoozeCount = 2
	staleUntil := now.Add(-2 * time.Hour)
	stale.SnoozedUntil = &staleUntil

	seed(t, repo, fresh, stale)

	sweeper := New(repo, nil, nil).WithClock(func() time.Time { return now })

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Missed != 1 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want 1 missed 1 skipped", report)
	}

	got, _ := repo.GetByID(context.Background(), "fresh-snooze")
	if got.Status != intake.StatusSnoozed {
		t.Errorf("fresh snooze status = %s, want snoozed", got.Status)
	}
	got, _ = repo.GetByID(context.Background(), "stale-snooze")
	if got.Status != intake.StatusMissed {
		t.Errorf("stale snooze status = %s, want missed", got.Status)
	}
}

func TestSweepCoversEarlierDates(t *testing.T) {
	repo := memory.NewIntakeRepo()
	now := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)

	// A dose from two days ago that a downed worker never swept
	old := record("old", 0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "20:00", intake.StatusPending)
	seed(t, repo, old)

	sweeper := New(repo, nil, nil).WithClock(func() time.Time { return now })

	report, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Missed != 1 {
		t.Fatalf("missed = %d, want 1", report.Missed)
	}
}
