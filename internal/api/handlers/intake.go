// Package handlers provides HTTP handlers for the intake API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medtrack/go-intake/internal/api/middleware"
	"github.com/medtrack/go-intake/internal/domain/intake"
	"github.com/medtrack/go-intake/internal/observability/metrics"
	"github.com/medtrack/go-intake/internal/sweep"
	"github.com/medtrack/go-intake/pkg/idempotency"
)

// IntakeHandler handles intake ledger endpoints
type IntakeHandler struct {
	service *intake.Service
	sweeper *sweep.Sweeper
	inbox   *idempotency.Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewIntakeHandler creates a new handler. sweeper, inbox and m may be nil.
func NewIntakeHandler(service *intake.Service, sweeper *sweep.Sweeper, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) *IntakeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeHandler{
		service: service,
		sweeper: sweeper,
		inbox:   inbox,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/schedule", h.Schedule)
	r.Patch("/{id}/mark-taken", h.MarkTaken)
	r.Patch("/{id}/snooze", h.Snooze)
	r.Patch("/{id}/skip", h.Skip)
	r.Patch("/{id}/notification", h.AttachNotification)
	r.Get("/patient/{patientID}/upcoming", h.Upcoming)
	r.Get("/patient/{patientID}/today", h.Today)
	r.Get("/patient/{patientID}/history", h.History)
	r.Post("/check-missed", h.CheckMissed)
	return r
}

// ScheduleRequest is the request body for creating an intake schedule
type ScheduleRequest struct {
	PrescriptionID string              `json:"prescriptionId"`
	PatientID      string              `json:"patientId"`
	MedicineIndex  int                 `json:"medicineIndex"`
	MedicineName   string              `json:"medicineName"`
	Frequency      intake.Frequency    `json:"frequency,omitempty"`
	DurationDays   int                 `json:"durationDays"`
	StartDate      string              `json:"startDate,omitempty"` // "2006-01-02"
	TimeSlots      []intake.TimeSlot   `json:"timeSlots,omitempty"`
	ChosenTimes    []intake.ChosenTime `json:"chosenTimes"`
	Origin         intake.Origin       `json:"origin,omitempty"`
}

// ScheduleResponse is the response for creating an intake schedule
type ScheduleResponse struct {
	PrescriptionID string    `json:"prescriptionId"`
	MedicineIndex  int       `json:"medicineIndex"`
	TotalReminders int       `json:"totalReminders"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
}

// Schedule handles POST /intake/schedule
func (h *IntakeHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("intake-handler")
	ctx, span := tracer.Start(ctx, "create_schedule")
	defer span.End()

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PrescriptionID == "" || req.PatientID == "" {
		h.jsonError(w, "prescriptionId and patientId are required", http.StatusBadRequest)
		return
	}
	if req.MedicineName == "" {
		h.jsonError(w, "medicineName is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", req.PrescriptionID))

	in, err := h.expandInput(req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	process := func() ([]byte, error) {
		result, err := h.service.Schedule(ctx, in)
		if err != nil {
			return nil, err
		}
		if h.metrics != nil {
			h.metrics.RemindersScheduled.Add(float64(result.TotalReminders))
		}
		return json.Marshal(ScheduleResponse{
			PrescriptionID: req.PrescriptionID,
			MedicineIndex:  req.MedicineIndex,
			TotalReminders: result.TotalReminders,
			StartDate:      result.StartDate,
			EndDate:        result.EndDate,
		})
	}

	var body []byte
	if h.inbox != nil {
		times := make([]string, len(req.ChosenTimes))
		for i, ct := range req.ChosenTimes {
			times[i] = ct.Label + "@" + ct.ClockTime
		}
		key := idempotency.ScheduleKey(req.PrescriptionID, req.MedicineIndex, times)
		payload, _ := json.Marshal(req)

		result, err := h.inbox.Process(ctx, key, "create_schedule", payload,
			func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return process()
			})
		if err != nil {
			if errors.Is(err, idempotency.ErrRequestInProgress) {
				h.jsonError(w, "schedule request already in progress", http.StatusConflict)
				return
			}
			h.writeDomainError(w, err)
			return
		}
		body = result.Result
	} else {
		body, err = process()
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	h.logger.Info("intake schedule request complete",
		zap.String("prescription_id", req.PrescriptionID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// expandInput resolves the request into expansion input, filling slot
// templates from the frequency table when no explicit slots were sent
func (h *IntakeHandler) expandInput(req ScheduleRequest) (intake.ExpandInput, error) {
	slots := req.TimeSlots
	if len(slots) == 0 && req.Frequency != "" {
		template, ok := intake.FrequencySlots[req.Frequency]
		if !ok {
			return intake.ExpandInput{}, &intake.RuleError{Reason: "unknown frequency " + string(req.Frequency)}
		}
		slots = template
	}

	var start time.Time
	if req.StartDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
		if err != nil {
			return intake.ExpandInput{}, &intake.RuleError{Reason: "startDate must be YYYY-MM-DD"}
		}
		start = parsed
	}

	return intake.ExpandInput{
		PrescriptionID: req.PrescriptionID,
		PatientID:      req.PatientID,
		MedicineIndex:  req.MedicineIndex,
		MedicineName:   req.MedicineName,
		DurationDays:   req.DurationDays,
		StartDate:      start,
		TimeSlots:      slots,
		ChosenTimes:    req.ChosenTimes,
		Origin:         req.Origin,
	}, nil
}

// MarkTakenRequest is the request body for marking a dose taken
type MarkTakenRequest struct {
	TakenAt *time.Time `json:"takenAt,omitempty"`
	Notes   string     `json:"notes,omitempty"`
}

// MarkTaken handles PATCH /intake/{id}/mark-taken
func (h *IntakeHandler) MarkTaken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req MarkTakenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	l, err := h.service.MarkTaken(ctx, id, req.TakenAt, req.Notes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesTaken.Inc()
	}

	h.writeJSON(w, http.StatusOK, l)
}

// SnoozeRequest is the request body for snoozing a dose
type SnoozeRequest struct {
	SnoozeMinutes int `json:"snoozeMinutes,omitempty"`
}

// SnoozeResponse returns the snoozed record and the effective deferral
type SnoozeResponse struct {
	Record        *intake.IntakeLog `json:"record"`
	SnoozeMinutes int               `json:"snoozeMinutes"`
}

// Snooze handles PATCH /intake/{id}/snooze
func (h *IntakeHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SnoozeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	l, minutes, err := h.service.Snooze(ctx, id, req.SnoozeMinutes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesSnoozed.Inc()
	}

	h.writeJSON(w, http.StatusOK, SnoozeResponse{Record: l, SnoozeMinutes: minutes})
}

// SkipRequest is the request body for skipping a dose
type SkipRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Skip handles PATCH /intake/{id}/skip
func (h *IntakeHandler) Skip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SkipRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	l, err := h.service.Skip(ctx, id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesSkipped.Inc()
	}

	h.writeJSON(w, http.StatusOK, l)
}

// AttachNotificationRequest carries a device handle the client scheduled
type AttachNotificationRequest struct {
	NotificationID string `json:"notificationId"`
}

// AttachNotification handles PATCH /intake/{id}/notification
func (h *IntakeHandler) AttachNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req AttachNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NotificationID == "" {
		h.jsonError(w, "notificationId is required", http.StatusBadRequest)
		return
	}

	l, err := h.service.AttachNotification(ctx, id, req.NotificationID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, l)
}

// Upcoming handles GET /intake/patient/{patientID}/upcoming
func (h *IntakeHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.jsonError(w, "days must be a non-negative integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	logs, err := h.service.Upcoming(ctx, patientID, days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"records": logs})
}

// Today handles GET /intake/patient/{patientID}/today
func (h *IntakeHandler) Today(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	logs, err := h.service.Today(ctx, patientID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"records": logs})
}

// HistoryResponse is a patient's ledger with its adherence summary
type HistoryResponse struct {
	Records []*intake.IntakeLog `json:"records"`
	Summary intake.Summary      `json:"summary"`
}

// History handles GET /intake/patient/{patientID}/history
func (h *IntakeHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	logs, summary, err := h.service.History(ctx, patientID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{Records: logs, Summary: summary})
}

// CheckMissed handles POST /intake/check-missed, running one sweep
// immediately instead of waiting for the worker's next tick
func (h *IntakeHandler) CheckMissed(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		h.jsonError(w, "sweep not available on this instance", http.StatusServiceUnavailable)
		return
	}

	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesMissed.Add(float64(report.Missed))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"examined": report.Examined,
		"missed":   report.Missed,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	})
}

// writeDomainError maps domain errors onto HTTP statuses
func (h *IntakeHandler) writeDomainError(w http.ResponseWriter, err error) {
	if violations, ok := intake.AsValidationErrors(err); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":      "validation failed",
			"violations": violations,
		})
		return
	}

	var re *intake.RuleError
	switch {
	case errors.As(err, &re):
		h.jsonError(w, re.Reason, http.StatusBadRequest)
	case errors.Is(err, intake.ErrNotFound):
		h.jsonError(w, "intake record not found", http.StatusNotFound)
	case errors.Is(err, intake.ErrConflict):
		h.jsonError(w, "intake record modified concurrently", http.StatusConflict)
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *IntakeHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *IntakeHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
