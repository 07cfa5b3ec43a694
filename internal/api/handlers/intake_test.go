package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medtrack/go-intake/internal/domain/intake"
	"github.com/medtrack/go-intake/internal/infrastructure/memory"
	"github.com/medtrack/go-intake/internal/sweep"
)

type fixture struct {
	router chi.Router
	repo   *memory.IntakeRepo
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	repo := memory.NewIntakeRepo()
	clock := func() time.Time { return now }
	service := intake.NewService(repo, nil, nil).WithClock(clock)
	sweeper := sweep.New(repo, nil, nil).WithClock(clock)
	handler := NewIntakeHandler(service, sweeper, nil, nil, nil)

	r := chi.NewRouter()
	r.Mount("/intake", handler.Routes())
	return &fixture{router: r, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func scheduleBody() map[string]interface{} {
	return map[string]interface{}{
		"prescriptionId": "rx-1",
		"patientId":      "patient-1",
		"medicineIndex":  0,
		"medicineName":   "Amoxicillin",
		"durationDays":   3,
		"startDate":      "2026-01-01",
		"timeSlots": []map[string]string{
			{"label": "Morning", "windowStart": "07:00", "windowEnd": "09:00"},
			{"label": "Night", "windowStart": "19:00", "windowEnd": "21:00"},
		},
		"chosenTimes": []map[string]string{
			{"label": "Morning", "clockTime": "08:00"},
			{"label": "Night", "clockTime": "20:00"},
		},
	}
}

func (f *fixture) schedule(t *testing.T) []*intake.IntakeLog {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/intake/schedule", scheduleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule status = %d, body %s", rec.Code, rec.Body.String())
	}
	logs, err := f.repo.ListHistory(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return logs
}

func TestScheduleEndpoint(t *testing.T) {
	f := newFixture(t, time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodPost, "/intake/schedule", scheduleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalReminders != 6 {
		t.Errorf("totalReminders = %d, want 6", resp.TotalReminders)
	}
}

func TestScheduleEndpointFrequencyTemplate(t *testing.T) {
	f := newFixture(t, time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC))

	body := scheduleBody()
	delete(body, "timeSlots")
	body["frequency"] = "twice_daily"

	rec := f.do(t, http.MethodPost, "/intake/schedule", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestScheduleEndpointValidationBatch(t *testing.T) {
	f := newFixture(t, time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC))

	body := scheduleBody()
	body["chosenTimes"] = []map[string]string{
		{"label": "Morning", "clockTime": "06:00"},
		{"label": "Night", "clockTime": "22:00"},
	}

	rec := f.do(t, http.MethodPost, "/intake/schedule", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Error      string             `json:"error"`
		Violations []intake.Violation `json:"violations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Violations) != 2 {
		t.Fatalf("got %d violations, want 2: %s", len(resp.Violations), rec.Body.String())
	}
	if resp.Violations[0].Message != "06:00 outside 07:00–09:00 for Morning" {
		t.Errorf("unexpected violation message: %q", resp.Violations[0].Message)
	}
}

func TestScheduleEndpointMissingFields(t *testing.T) {
	f := newFixture(t, time.Now().UTC())

	body := scheduleBody()
	delete(body, "patientId")

	rec := f.do(t, http.MethodPost, "/intake/schedule", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMarkTakenEndpoint(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/mark-taken",
		map[string]string{"notes": "after breakfast"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got intake.IntakeLog
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != intake.StatusTaken {
		t.Errorf("status = %s, want taken", got.Status)
	}
	if got.Notes != "after breakfast" {
		t.Errorf("notes = %q", got.Notes)
	}
}

func TestMarkTakenEndpointNotFound(t *testing.T) {
	f := newFixture(t, time.Now().UTC())

	rec := f.do(t, http.MethodPatch, "/intake/no-such-id/mark-taken", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMarkTakenEndpointDoubleIntake(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 20, 30, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/mark-taken", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first mark-taken status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/intake/"+logs[1].ID+"/mark-taken", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second mark-taken status = %d, want 400", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "Amoxicillin taken less than 2 hours ago" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestSnoozeEndpointCap(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	logs := f.schedule(t)
	id := logs[0].ID

	for i := 0; i < intake.MaxSnoozes; i++ {
		rec := f.do(t, http.MethodPatch, "/intake/"+id+"/snooze", map[string]int{"snoozeMinutes": 10})
		if rec.Code != http.StatusOK {
			t.Fatalf("snooze %d status = %d, body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodPatch, "/intake/"+id+"/snooze", map[string]int{"snoozeMinutes": 10})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("fourth snooze status = %d, want 400", rec.Code)
	}
}

func TestSnoozeEndpointDefaultsMinutes(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/snooze", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SnoozeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SnoozeMinutes != intake.DefaultSnoozeMinutes {
		t.Errorf("snoozeMinutes = %d, want %d", resp.SnoozeMinutes, intake.DefaultSnoozeMinutes)
	}
}

func TestSnoozeEndpointHonorsRequestedMinutes(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/snooze", map[string]int{"snoozeMinutes": 45})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SnoozeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SnoozeMinutes != 45 {
		t.Errorf("snoozeMinutes = %d, want 45", resp.SnoozeMinutes)
	}
}

func TestSkipEndpoint(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/skip",
		map[string]string{"reason": "fasting"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got intake.IntakeLog
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != intake.StatusSkipped || got.SkipReason != "fasting" {
		t.Errorf("record = %s/%q", got.Status, got.SkipReason)
	}
}

func TestAttachNotificationEndpoint(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/notification",
		map[string]string{"notificationId": "os-handle-42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	stored, _ := f.repo.GetByID(context.Background(), logs[0].ID)
	if stored.NotificationID == nil || *stored.NotificationID != "os-handle-42" {
		t.Errorf("stored handle = %v", stored.NotificationID)
	}
}

func TestPatientViews(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC))
	logs := f.schedule(t)

	rec := f.do(t, http.MethodPatch, "/intake/"+logs[0].ID+"/mark-taken", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark-taken status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/intake/patient/patient-1/today", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("today status = %d", rec.Code)
	}
	var today struct {
		Records []*intake.IntakeLog `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &today)
	if len(today.Records) != 2 {
		t.Errorf("today has %d records, want 2", len(today.Records))
	}

	rec = f.do(t, http.MethodGet, "/intake/patient/patient-1/upcoming?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("upcoming status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/intake/patient/patient-1/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history HistoryResponse
	json.Unmarshal(rec.Body.Bytes(), &history)
	if history.Summary.Total != 6 || history.Summary.Taken != 1 {
		t.Errorf("summary = %+v", history.Summary)
	}
}

func TestUpcomingRejectsBadDays(t *testing.T) {
	f := newFixture(t, time.Now().UTC())

	rec := f.do(t, http.MethodGet, "/intake/patient/patient-1/upcoming?days=soon", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCheckMissedEndpoint(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC))
	f.schedule(t)

	rec := f.do(t, http.MethodPost, "/intake/check-missed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Both of today's doses are past their grace window at 23:30
	if resp["missed"] != 2 {
		t.Errorf("missed = %d, want 2: %v", resp["missed"], resp)
	}

	logs, _ := f.repo.ListHistory(context.Background(), "patient-1")
	missed := 0
	for _, l := range logs {
		if l.Status == intake.StatusMissed {
			missed++
		}
	}
	if missed != 2 {
		t.Errorf("ledger has %d missed records, want 2", missed)
	}
}

func TestScheduleEndpointIsRepeatable(t *testing.T) {
	f := newFixture(t, time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/intake/schedule", scheduleBody())
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d status = %d", i+1, rec.Code)
		}
	}

	logs, _ := f.repo.ListHistory(context.Background(), "patient-1")
	if len(logs) != 6 {
		t.Fatalf("ledger has %d records after resubmit, want 6", len(logs))
	}
}
