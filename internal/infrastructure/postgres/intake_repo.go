package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medtrack/go-intake/internal/domain/intake"
)

// IntakeRepo persists the intake ledger in Postgres. Transitions are
// status-guarded UPDATEs: zero rows affected means a concurrent writer won
// and the transition is rejected with intake.ErrConflict.
type IntakeRepo struct {
	pool        *pgxpool.Pool
	eventsTopic string
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewIntakeRepo creates a new ledger repository. Domain events emitted by
// ledger mutations are written to the outbox targeting eventsTopic.
func NewIntakeRepo(pool *pgxpool.Pool, eventsTopic string, logger *zap.Logger) *IntakeRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeRepo{
		pool:        pool,
		eventsTopic: eventsTopic,
		logger:      logger,
		tracer:      otel.Tracer("intake-repo"),
	}
}

const intakeColumns = `
	id, prescription_id, patient_id, medicine_index, medicine_name,
	slot_label, scheduled_time, scheduled_date, status, origin,
	notification_id, snooze_count, snoozed_until, taken_at, notes,
	skip_reason, created_at, updated_at`

func (r *IntakeRepo) ReplaceForMedicine(ctx context.Context, prescriptionID string, medicineIndex int, logs []*intake.IntakeLog, evt *intake.Event) error {
	ctx, span := r.tracer.Start(ctx, "intake_replace_for_medicine",
		trace.WithAttributes(
			attribute.String("prescription_id", prescriptionID),
			attribute.Int("medicine_index", medicineIndex),
			attribute.Int("records", len(logs)),
		))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM intake_logs WHERE prescription_id = $1 AND medicine_index = $2`,
		prescriptionID, medicineIndex)
	if err != nil {
		return fmt.Errorf("clear prior ledger: %w", err)
	}

	rows := make([][]interface{}, len(logs))
	for i, l := range logs {
		rows[i] = []interface{}{
			l.ID, l.PrescriptionID, l.PatientID, l.MedicineIndex, l.MedicineName,
			l.SlotLabel, l.ScheduledTime, l.ScheduledDate, l.Status, l.Origin,
			l.NotificationID, l.SnoozeCount, l.SnoozedUntil, l.TakenAt, l.Notes,
			l.SkipReason, l.CreatedAt, l.UpdatedAt,
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"intake_logs"},
		[]string{
			"id", "prescription_id", "patient_id", "medicine_index", "medicine_name",
			"slot_label", "scheduled_time", "scheduled_date", "status", "origin",
			"notification_id", "snooze_count", "snoozed_until", "taken_at", "notes",
			"skip_reason", "created_at", "updated_at",
		},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}

	if evt != nil {
		if err := r.writeEvent(ctx, tx, evt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *IntakeRepo) GetByID(ctx context.Context, id string) (*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + ` FROM intake_logs WHERE id = $1`

	l, err := scanIntake(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, intake.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

func (r *IntakeRepo) LastTakenAt(ctx context.Context, prescriptionID string, medicineIndex int) (*time.Time, error) {
	query := `
		SELECT MAX(taken_at)
		FROM intake_logs
		WHERE prescription_id = $1
		  AND medicine_index = $2
		  AND status = 'taken'
	`

	var last *time.Time
	if err := r.pool.QueryRow(ctx, query, prescriptionID, medicineIndex).Scan(&last); err != nil {
		return nil, fmt.Errorf("last taken query: %w", err)
	}
	return last, nil
}

func (r *IntakeRepo) UpdateTransition(ctx context.Context, l *intake.IntakeLog, allowed []intake.Status, evt *intake.Event) error {
	ctx, span := r.tracer.Start(ctx, "intake_update_transition",
		trace.WithAttributes(
			attribute.String("intake_id", l.ID),
			attribute.String("to_status", string(l.Status)),
		))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	statuses := make([]string, len(allowed))
	for i, st := range allowed {
		statuses[i] = string(st)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE intake_logs
		SET status = $1, snooze_count = $2, snoozed_until = $3, taken_at = $4,
		    notes = $5, skip_reason = $6, updated_at = $7
		WHERE id = $8
		  AND status = ANY($9)
	`, l.Status, l.SnoozeCount, l.SnoozedUntil, l.TakenAt, l.Notes, l.SkipReason, l.UpdatedAt, l.ID, statuses)
	if err != nil {
		return fmt.Errorf("transition update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a vanished record from a lost race.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM intake_logs WHERE id = $1)`, l.ID).Scan(&exists); err != nil {
			return fmt.Errorf("existence check: %w", err)
		}
		if !exists {
			return intake.ErrNotFound
		}
		return intake.ErrConflict
	}

	if evt != nil {
		if err := r.writeEvent(ctx, tx, evt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *IntakeRepo) SetNotificationID(ctx context.Context, id string, handle *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE intake_logs
		SET notification_id = $1, updated_at = NOW()
		WHERE id = $2
	`, handle, id)
	if err != nil {
		return fmt.Errorf("set notification id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return intake.ErrNotFound
	}
	return nil
}

func (r *IntakeRepo) ListDue(ctx context.Context, now time.Time) ([]*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + `
		FROM intake_logs
		WHERE status IN ('pending', 'snoozed')
		  AND scheduled_date <= $1
		ORDER BY scheduled_date, scheduled_time`

	cutoff := now.UTC().Truncate(24 * time.Hour)
	return r.listQuery(ctx, query, cutoff)
}

func (r *IntakeRepo) ListScheduledWindow(ctx context.Context, from, to time.Time) ([]*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + `
		FROM intake_logs
		WHERE status IN ('pending', 'snoozed')
		  AND scheduled_date BETWEEN $1 AND $2
		ORDER BY scheduled_date, scheduled_time`

	return r.listQuery(ctx, query, from, to)
}

func (r *IntakeRepo) ListUpcoming(ctx context.Context, patientID string, from, to time.Time) ([]*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + `
		FROM intake_logs
		WHERE patient_id = $1
		  AND scheduled_date BETWEEN $2 AND $3
		ORDER BY scheduled_date, scheduled_time`

	return r.listQuery(ctx, query, patientID, from, to)
}

func (r *IntakeRepo) ListOnDate(ctx context.Context, patientID string, date time.Time) ([]*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + `
		FROM intake_logs
		WHERE patient_id = $1
		  AND scheduled_date = $2
		ORDER BY scheduled_time`

	return r.listQuery(ctx, query, patientID, date)
}

func (r *IntakeRepo) ListHistory(ctx context.Context, patientID string) ([]*intake.IntakeLog, error) {
	query := `SELECT` + intakeColumns + `
		FROM intake_logs
		WHERE patient_id = $1
		ORDER BY scheduled_date, scheduled_time`

	return r.listQuery(ctx, query, patientID)
}

func (r *IntakeRepo) listQuery(ctx context.Context, query string, args ...interface{}) ([]*intake.IntakeLog, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	var logs []*intake.IntakeLog
	for rows.Next() {
		l, err := scanIntake(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *IntakeRepo) writeEvent(ctx context.Context, tx pgx.Tx, evt *intake.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		EventType:     string(evt.EventType),
		Payload:       payload,
		KafkaTopic:    r.eventsTopic,
		KafkaKey:      evt.PrescriptionID,
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntake(row rowScanner) (*intake.IntakeLog, error) {
	l := &intake.IntakeLog{}
	err := row.Scan(
		&l.ID, &l.PrescriptionID, &l.PatientID, &l.MedicineIndex, &l.MedicineName,
		&l.SlotLabel, &l.ScheduledTime, &l.ScheduledDate, &l.Status, &l.Origin,
		&l.NotificationID, &l.SnoozeCount, &l.SnoozedUntil, &l.TakenAt, &l.Notes,
		&l.SkipReason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
