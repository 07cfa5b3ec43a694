package intake

import (
	"context"
	"time"
)

// Repository persists the intake ledger. Implementations must treat
// transition updates as optimistic-concurrency guarded: a record no longer
// in one of the allowed statuses rejects the update with ErrConflict.
type Repository interface {
	// ReplaceForMedicine atomically clears prior ledger rows for the
	// (prescription, medicine index) and inserts the new set, recording
	// evt alongside in the same transaction.
	ReplaceForMedicine(ctx context.Context, prescriptionID string, medicineIndex int, logs []*IntakeLog, evt *Event) error

	GetByID(ctx context.Context, id string) (*IntakeLog, error)

	// LastTakenAt returns the most recent TakenAt across all records for
	// the medicine, or nil when none has been taken.
	LastTakenAt(ctx context.Context, prescriptionID string, medicineIndex int) (*time.Time, error)

	// UpdateTransition persists a state-machine transition, guarded on the
	// record still being in one of the allowed statuses. evt may be nil.
	UpdateTransition(ctx context.Context, l *IntakeLog, allowed []Status, evt *Event) error

	// SetNotificationID stores or clears the opaque device handle.
	SetNotificationID(ctx context.Context, id string, handle *string) error

	// ListDue returns non-terminal records scheduled on or before the
	// given instant's calendar date, for the missed-dose sweep.
	ListDue(ctx context.Context, now time.Time) ([]*IntakeLog, error)

	// ListScheduledWindow returns non-terminal records across all patients
	// with scheduled dates in [from, to], for reconciliation.
	ListScheduledWindow(ctx context.Context, from, to time.Time) ([]*IntakeLog, error)

	ListUpcoming(ctx context.Context, patientID string, from, to time.Time) ([]*IntakeLog, error)
	ListOnDate(ctx context.Context, patientID string, date time.Time) ([]*IntakeLog, error)
	ListHistory(ctx context.Context, patientID string) ([]*IntakeLog, error)
}
