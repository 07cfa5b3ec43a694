package intake

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier mirrors ledger transitions onto the external device-notification
// capability. Failures are the notifier's to absorb: the ledger stays
// authoritative even when no notification ever fires.
type Notifier interface {
	ScheduleFor(ctx context.Context, l *IntakeLog)
	RescheduleSnoozed(ctx context.Context, l *IntakeLog, snoozeMinutes int)
	CancelFor(ctx context.Context, l *IntakeLog)
}

// NopNotifier is a Notifier that does nothing
type NopNotifier struct{}

func (NopNotifier) ScheduleFor(context.Context, *IntakeLog)            {}
func (NopNotifier) RescheduleSnoozed(context.Context, *IntakeLog, int) {}
func (NopNotifier) CancelFor(context.Context, *IntakeLog)              {}

// Service drives user-facing ledger operations: schedule expansion and the
// state-machine transitions, with notification side effects applied after
// the ledger mutation commits.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new intake service
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Schedule expands a medication into its intake ledger and schedules a
// device notification for every created record. Persistence is atomic:
// prior ledger rows for the medicine are cleared in the same transaction as
// the bulk insert, so re-invoking never duplicates the ledger.
func (s *Service) Schedule(ctx context.Context, in ExpandInput) (*ExpandResult, error) {
	now := s.now().UTC()
	logs, result, err := Expand(in, now)
	if err != nil {
		return nil, err
	}

	evt, err := NewEvent(in.PrescriptionID, EventScheduleCreated, &ScheduleCreatedData{
		PrescriptionID: in.PrescriptionID,
		MedicineIndex:  in.MedicineIndex,
		MedicineName:   in.MedicineName,
		TotalReminders: result.TotalReminders,
		StartDate:      result.StartDate,
		EndDate:        result.EndDate,
	})
	if err != nil {
		return nil, err
	}
	evt.WithPatient(in.PrescriptionID, in.PatientID)

	if err := s.repo.ReplaceForMedicine(ctx, in.PrescriptionID, in.MedicineIndex, logs, evt); err != nil {
		return nil, err
	}

	for _, l := range logs {
		s.notifier.ScheduleFor(ctx, l)
	}

	s.logger.Info("intake schedule created",
		zap.String("prescription_id", in.PrescriptionID),
		zap.Int("medicine_index", in.MedicineIndex),
		zap.Int("total", result.TotalReminders))
	return result, nil
}

// MarkTaken records a dose as taken, enforcing the double-intake guard
// against the full sibling record set.
func (s *Service) MarkTaken(ctx context.Context, id string, takenAt *time.Time, notes string) (*IntakeLog, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	lastTaken, err := s.repo.LastTakenAt(ctx, l.PrescriptionID, l.MedicineIndex)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := l.MarkTaken(now, takenAt, notes, lastTaken); err != nil {
		return nil, err
	}

	evt, err := TransitionEvent(l, EventDoseTaken)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTransition(ctx, l, Active(), evt); err != nil {
		return nil, err
	}

	s.notifier.CancelFor(ctx, l)
	return l, nil
}

// Snooze defers a dose and reschedules its notification. Returns the record
// and the effective snooze minutes.
func (s *Service) Snooze(ctx context.Context, id string, requestedMinutes int) (*IntakeLog, int, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	now := s.now().UTC()
	minutes := ClampSnoozeMinutes(requestedMinutes)
	if err := l.Snooze(now, minutes); err != nil {
		return nil, 0, err
	}

	evt, err := TransitionEvent(l, EventDoseSnoozed)
	if err != nil {
		return nil, 0, err
	}
	if err := s.repo.UpdateTransition(ctx, l, Active(), evt); err != nil {
		return nil, 0, err
	}

	s.notifier.RescheduleSnoozed(ctx, l, minutes)
	return l, minutes, nil
}

// Skip marks a dose skipped and cancels its notification
func (s *Service) Skip(ctx context.Context, id, reason string) (*IntakeLog, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := l.Skip(now, reason); err != nil {
		return nil, err
	}

	evt, err := TransitionEvent(l, EventDoseSkipped)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTransition(ctx, l, Active(), evt); err != nil {
		return nil, err
	}

	s.notifier.CancelFor(ctx, l)
	return l, nil
}

// AttachNotification persists a device handle the client scheduled locally
func (s *Service) AttachNotification(ctx context.Context, id, handle string) (*IntakeLog, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetNotificationID(ctx, id, &handle); err != nil {
		return nil, err
	}
	l.NotificationID = &handle
	return l, nil
}

// Upcoming lists a patient's records over the next days
func (s *Service) Upcoming(ctx context.Context, patientID string, days int) ([]*IntakeLog, error) {
	if days <= 0 {
		days = 7
	}
	from := midnightUTC(s.now())
	to := from.AddDate(0, 0, days)
	return s.repo.ListUpcoming(ctx, patientID, from, to)
}

// Today lists a patient's records for the current calendar date
func (s *Service) Today(ctx context.Context, patientID string) ([]*IntakeLog, error) {
	return s.repo.ListOnDate(ctx, patientID, midnightUTC(s.now()))
}

// History lists a patient's full ledger with its adherence summary
func (s *Service) History(ctx context.Context, patientID string) ([]*IntakeLog, Summary, error) {
	logs, err := s.repo.ListHistory(ctx, patientID)
	if err != nil {
		return nil, Summary{}, err
	}
	return logs, Summarize(logs), nil
}
