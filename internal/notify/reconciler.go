package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medtrack/go-intake/internal/domain/intake"
	"github.com/medtrack/go-intake/pkg/workerpool"
)

// Lead is how far before the scheduled intake time the reminder fires.
const Lead = 5 * time.Minute

// ReconcileWindow is how far ahead reconciliation looks for records that
// should have a live notification.
const ReconcileWindow = 30 * 24 * time.Hour

// EventRecorder records reconciliation events for downstream consumers.
// May be nil when eventing is not wired.
type EventRecorder interface {
	Record(ctx context.Context, evt *intake.Event) error
}

// Reconciler keeps device notification handles consistent with the intake
// ledger. The ledger is authoritative: handles the gateway lost get
// rescheduled, handles the ledger no longer claims get cancelled.
type Reconciler struct {
	repo    intake.Repository
	gateway DeviceGateway
	events  EventRecorder
	logger  *zap.Logger
	now     func() time.Time

	poolConfig workerpool.Config
}

// NewReconciler creates a reconciler. events may be nil.
func NewReconciler(repo intake.Repository, gateway DeviceGateway, events EventRecorder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:       repo,
		gateway:    gateway,
		events:     events,
		logger:     logger,
		now:        time.Now,
		poolConfig: workerpool.DefaultConfig(),
	}
}

// WithClock overrides the reconciler clock
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// ScheduleFor schedules the reminder for a freshly created ledger record.
// Gateway failures are logged and absorbed: the reconciler's next run will
// repair the missing handle.
func (r *Reconciler) ScheduleFor(ctx context.Context, l *intake.IntakeLog) {
	at, err := l.ScheduledAt()
	if err != nil {
		r.logger.Error("unschedulable record", zap.String("id", l.ID), zap.Error(err))
		return
	}
	fireAt := at.Add(-Lead)
	if !fireAt.After(r.now().UTC()) {
		return
	}

	handle, err := r.gateway.Schedule(ctx, fireAt, r.payloadFor(l))
	if err != nil {
		r.logger.Warn("schedule notification failed",
			zap.String("id", l.ID), zap.Error(err))
		return
	}
	if err := r.repo.SetNotificationID(ctx, l.ID, &handle); err != nil {
		r.logger.Error("persist notification handle failed",
			zap.String("id", l.ID), zap.Error(err))
		return
	}
	l.NotificationID = &handle
}

// RescheduleSnoozed replaces the record's reminder with one firing after
// the snooze interval. No lead is applied: the patient asked for exactly
// that delay.
func (r *Reconciler) RescheduleSnoozed(ctx context.Context, l *intake.IntakeLog, snoozeMinutes int) {
	if l.NotificationID != nil {
		if err := r.gateway.Cancel(ctx, *l.NotificationID); err != nil {
			r.logger.Warn("cancel before snooze failed",
				zap.String("id", l.ID), zap.Error(err))
		}
	}

	fireAt := r.now().UTC().Add(time.Duration(snoozeMinutes) * time.Minute)
	handle, err := r.gateway.Schedule(ctx, fireAt, r.payloadFor(l))
	if err != nil {
		r.logger.Warn("reschedule snoozed notification failed",
			zap.String("id", l.ID), zap.Error(err))
		return
	}
	if err := r.repo.SetNotificationID(ctx, l.ID, &handle); err != nil {
		r.logger.Error("persist notification handle failed",
			zap.String("id", l.ID), zap.Error(err))
		return
	}
	l.NotificationID = &handle
}

// CancelFor revokes the record's reminder and clears the stored handle.
func (r *Reconciler) CancelFor(ctx context.Context, l *intake.IntakeLog) {
	if l.NotificationID == nil {
		return
	}
	if err := r.gateway.Cancel(ctx, *l.NotificationID); err != nil {
		r.logger.Warn("cancel notification failed",
			zap.String("id", l.ID), zap.Error(err))
	}
	if err := r.repo.SetNotificationID(ctx, l.ID, nil); err != nil {
		r.logger.Error("clear notification handle failed",
			zap.String("id", l.ID), zap.Error(err))
		return
	}
	l.NotificationID = nil
}

// Report summarizes a reconciliation run.
type Report struct {
	Examined  int
	Repaired  int
	Cancelled int
	Failed    int
}

type repairTask struct {
	log    *intake.IntakeLog
	fireAt time.Time
}

type cancelTask struct {
	patientID string
	handle    string
}

// Reconcile diffs the ledger's expected notifications against the handles
// the gateway actually holds, repairing lost reminders and cancelling
// orphaned handles. Individual failures never abort the run.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	now := r.now().UTC()

	logs, err := r.repo.ListScheduledWindow(ctx, now.AddDate(0, 0, -1), now.Add(ReconcileWindow))
	if err != nil {
		return Report{}, fmt.Errorf("list scheduled window: %w", err)
	}

	report := Report{Examined: len(logs)}

	byPatient := make(map[string][]*intake.IntakeLog)
	for _, l := range logs {
		byPatient[l.PatientID] = append(byPatient[l.PatientID], l)
	}

	var repairs []repairTask
	var cancels []cancelTask

	for patientID, patientLogs := range byPatient {
		live, err := r.gateway.LiveHandles(ctx, patientID)
		if err != nil {
			r.logger.Warn("live handles lookup failed, skipping patient",
				zap.String("patient_id", patientID), zap.Error(err))
			report.Failed += len(patientLogs)
			continue
		}
		liveSet := make(map[string]bool, len(live))
		for _, h := range live {
			liveSet[h] = true
		}

		claimed := make(map[string]bool)
		for _, l := range patientLogs {
			fireAt, err := fireTimeFor(l, now)
			if err != nil {
				r.logger.Error("unschedulable record", zap.String("id", l.ID), zap.Error(err))
				report.Failed++
				continue
			}
			if !fireAt.After(now) {
				// Past fire time: the missed-dose sweep owns it now
				if l.NotificationID != nil {
					claimed[*l.NotificationID] = true
				}
				continue
			}

			if l.NotificationID != nil && liveSet[*l.NotificationID] {
				claimed[*l.NotificationID] = true
				continue
			}
			repairs = append(repairs, repairTask{log: l, fireAt: fireAt})
		}

		// Handles the gateway holds but no ledger record claims
		for _, h := range live {
			if !claimed[h] {
				cancels = append(cancels, cancelTask{patientID: patientID, handle: h})
			}
		}
	}

	if len(repairs) == 0 && len(cancels) == 0 {
		return report, nil
	}

	cfg := r.poolConfig
	cfg.QueueSize = len(repairs) + len(cancels)
	pool, err := workerpool.New(cfg, r.runTask, r.logger)
	if err != nil {
		return report, fmt.Errorf("create repair pool: %w", err)
	}
	pool.Start()

	for _, t := range repairs {
		task := t
		if err := pool.Submit(&workerpool.Task{ID: uuid.NewString(), Payload: &task, Context: ctx}); err != nil {
			report.Failed++
		}
	}
	for _, t := range cancels {
		task := t
		if err := pool.Submit(&workerpool.Task{ID: uuid.NewString(), Payload: &task, Context: ctx}); err != nil {
			report.Failed++
		}
	}

	if err := pool.Stop(); err != nil {
		r.logger.Warn("repair pool stop", zap.Error(err))
	}

	for result := range pool.Results() {
		if !result.Success {
			report.Failed++
			continue
		}
		switch result.Data.(string) {
		case "repaired":
			report.Repaired++
		case "cancelled":
			report.Cancelled++
		}
	}

	r.logger.Info("reconciliation complete",
		zap.Int("examined", report.Examined),
		zap.Int("repaired", report.Repaired),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("failed", report.Failed))
	return report, nil
}

// fireTimeFor resolves when a record's reminder should fire. Pending doses
// fire Lead before the scheduled time. A snoozed dose whose deferral
// deadline is still ahead fires at that deadline; once the deadline has
// lapsed the scheduled-time reminder applies again.
func fireTimeFor(l *intake.IntakeLog, now time.Time) (time.Time, error) {
	if l.Status == intake.StatusSnoozed && l.SnoozedUntil != nil && l.SnoozedUntil.After(now) {
		return *l.SnoozedUntil, nil
	}
	at, err := l.ScheduledAt()
	if err != nil {
		return time.Time{}, err
	}
	return at.Add(-Lead), nil
}

func (r *Reconciler) runTask(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	switch t := task.Payload.(type) {
	case *repairTask:
		if err := r.repair(ctx, t); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true, Data: "repaired"}
	case *cancelTask:
		if err := r.gateway.Cancel(ctx, t.handle); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true, Data: "cancelled"}
	default:
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unknown task payload %T", task.Payload)}
	}
}

func (r *Reconciler) repair(ctx context.Context, t *repairTask) error {
	l := t.log

	handle, err := r.gateway.Schedule(ctx, t.fireAt, r.payloadFor(l))
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", l.ID, err)
	}
	if err := r.repo.SetNotificationID(ctx, l.ID, &handle); err != nil {
		// Best effort rollback so the gateway does not keep a handle the
		// ledger will never learn about
		if cerr := r.gateway.Cancel(ctx, handle); cerr != nil {
			r.logger.Warn("rollback cancel failed", zap.String("handle", handle), zap.Error(cerr))
		}
		return fmt.Errorf("persist repaired handle %s: %w", l.ID, err)
	}
	l.NotificationID = &handle

	if r.events != nil {
		evt, err := intake.TransitionEvent(l, intake.EventNotificationRepaired)
		if err == nil {
			if rerr := r.events.Record(ctx, evt); rerr != nil {
				r.logger.Warn("record repair event failed", zap.Error(rerr))
			}
		}
	}
	return nil
}

func (r *Reconciler) payloadFor(l *intake.IntakeLog) Payload {
	return Payload{
		IntakeLogID:  l.ID,
		PatientID:    l.PatientID,
		MedicineName: l.MedicineName,
		SlotLabel:    l.SlotLabel,
		Title:        "Medication reminder",
		Body:         fmt.Sprintf("Time to take %s (%s %s)", l.MedicineName, l.SlotLabel, l.ScheduledTime),
		ChannelID:    ChannelMedications,
	}
}
