package intake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of intake domain event
type EventType string

const (
	EventScheduleCreated      EventType = "IntakeScheduleCreated"
	EventDoseTaken            EventType = "DoseTaken"
	EventDoseMissed           EventType = "DoseMissed"
	EventDoseSnoozed          EventType = "DoseSnoozed"
	EventDoseSkipped          EventType = "DoseSkipped"
	EventNotificationRepaired EventType = "NotificationRepaired"
)

// Event represents an intake domain event, written to the outbox in the
// same transaction as its ledger mutation
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	PrescriptionID string          `json:"prescription_id,omitempty"`
	PatientID      string          `json:"patient_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent creates a new intake event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "IntakeLog",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithPatient sets routing fields for downstream consumers
func (e *Event) WithPatient(prescriptionID, patientID string) *Event {
	e.PrescriptionID = prescriptionID
	e.PatientID = patientID
	return e
}

// ScheduleCreatedData describes a bulk ledger expansion
type ScheduleCreatedData struct {
	PrescriptionID string    `json:"prescription_id"`
	MedicineIndex  int       `json:"medicine_index"`
	MedicineName   string    `json:"medicine_name"`
	TotalReminders int       `json:"total_reminders"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// TransitionData describes one state-machine transition on a record
type TransitionData struct {
	IntakeID       string     `json:"intake_id"`
	PrescriptionID string     `json:"prescription_id"`
	MedicineIndex  int        `json:"medicine_index"`
	SlotLabel      string     `json:"slot_label"`
	Status         Status     `json:"status"`
	TakenAt        *time.Time `json:"taken_at,omitempty"`
	SnoozeCount    int        `json:"snooze_count,omitempty"`
	SkipReason     string     `json:"skip_reason,omitempty"`
}

// TransitionEvent builds the event for a just-applied transition
func TransitionEvent(l *IntakeLog, eventType EventType) (*Event, error) {
	data := &TransitionData{
		IntakeID:       l.ID,
		PrescriptionID: l.PrescriptionID,
		MedicineIndex:  l.MedicineIndex,
		SlotLabel:      l.SlotLabel,
		Status:         l.Status,
		TakenAt:        l.TakenAt,
		SnoozeCount:    l.SnoozeCount,
		SkipReason:     l.SkipReason,
	}
	evt, err := NewEvent(l.ID, eventType, data)
	if err != nil {
		return nil, err
	}
	return evt.WithPatient(l.PrescriptionID, l.PatientID), nil
}
