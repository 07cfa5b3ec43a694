// Package memory provides an in-memory intake repository for development
// and tests, mirroring the Postgres implementation's guard semantics.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medtrack/go-intake/internal/domain/intake"
)

// IntakeRepo is a mutex-guarded map-backed intake.Repository
type IntakeRepo struct {
	mu   sync.RWMutex
	byID map[string]intake.IntakeLog

	// Events records outbox writes for inspection
	Events []*intake.Event
}

// NewIntakeRepo creates an empty in-memory repository
func NewIntakeRepo() *IntakeRepo {
	return &IntakeRepo{byID: make(map[string]intake.IntakeLog)}
}

func (r *IntakeRepo) ReplaceForMedicine(ctx context.Context, prescriptionID string, medicineIndex int, logs []*intake.IntakeLog, evt *intake.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, l := range r.byID {
		if l.PrescriptionID == prescriptionID && l.MedicineIndex == medicineIndex {
			delete(r.byID, id)
		}
	}
	for _, l := range logs {
		r.byID[l.ID] = *l
	}
	if evt != nil {
		r.Events = append(r.Events, evt)
	}
	return nil
}

func (r *IntakeRepo) GetByID(ctx context.Context, id string) (*intake.IntakeLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byID[id]
	if !ok {
		return nil, intake.ErrNotFound
	}
	return &l, nil
}

func (r *IntakeRepo) LastTakenAt(ctx context.Context, prescriptionID string, medicineIndex int) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	for _, l := range r.byID {
		if l.PrescriptionID != prescriptionID || l.MedicineIndex != medicineIndex {
			continue
		}
		if l.TakenAt == nil {
			continue
		}
		if last == nil || l.TakenAt.After(*last) {
			t := *l.TakenAt
			last = &t
		}
	}
	return last, nil
}

func (r *IntakeRepo) UpdateTransition(ctx context.Context, l *intake.IntakeLog, allowed []intake.Status, evt *intake.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[l.ID]
	if !ok {
		return intake.ErrNotFound
	}
	permitted := false
	for _, st := range allowed {
		if current.Status == st {
			permitted = true
			break
		}
	}
	if !permitted {
		return intake.ErrConflict
	}

	r.byID[l.ID] = *l
	if evt != nil {
		r.Events = append(r.Events, evt)
	}
	return nil
}

func (r *IntakeRepo) SetNotificationID(ctx context.Context, id string, handle *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byID[id]
	if !ok {
		return intake.ErrNotFound
	}
	l.NotificationID = handle
	r.byID[id] = l
	return nil
}

func (r *IntakeRepo) ListDue(ctx context.Context, now time.Time) ([]*intake.IntakeLog, error) {
	cutoff := now.UTC().Truncate(24 * time.Hour)
	return r.list(func(l intake.IntakeLog) bool {
		return !l.Status.IsTerminal() && !l.ScheduledDate.After(cutoff)
	}), nil
}

func (r *IntakeRepo) ListScheduledWindow(ctx context.Context, from, to time.Time) ([]*intake.IntakeLog, error) {
	return r.list(func(l intake.IntakeLog) bool {
		return !l.Status.IsTerminal() && !l.ScheduledDate.Before(from) && !l.ScheduledDate.After(to)
	}), nil
}

func (r *IntakeRepo) ListUpcoming(ctx context.Context, patientID string, from, to time.Time) ([]*intake.IntakeLog, error) {
	return r.list(func(l intake.IntakeLog) bool {
		return l.PatientID == patientID && !l.ScheduledDate.Before(from) && !l.ScheduledDate.After(to)
	}), nil
}

func (r *IntakeRepo) ListOnDate(ctx context.Context, patientID string, date time.Time) ([]*intake.IntakeLog, error) {
	return r.list(func(l intake.IntakeLog) bool {
		return l.PatientID == patientID && l.ScheduledDate.Equal(date)
	}), nil
}

func (r *IntakeRepo) ListHistory(ctx context.Context, patientID string) ([]*intake.IntakeLog, error) {
	return r.list(func(l intake.IntakeLog) bool {
		return l.PatientID == patientID
	}), nil
}

func (r *IntakeRepo) list(match func(intake.IntakeLog) bool) []*intake.IntakeLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*intake.IntakeLog, 0)
	for _, l := range r.byID {
		if match(l) {
			cp := l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		if out[i].ScheduledTime != out[j].ScheduledTime {
			return out[i].ScheduledTime < out[j].ScheduledTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}
