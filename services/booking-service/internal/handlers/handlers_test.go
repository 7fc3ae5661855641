package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agendaly/agendaly/libs/auth"
	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const testSecret = "handler-test-secret"

// stubService implements BookingService; calls to methods without a hook panic
// through the nil embedded interface.
type stubService struct {
	BookingService
	slots    func(booking.SlotQuery) (booking.SlotResult, error)
	create   func(booking.CreateRequest) (booking.CreateResult, error)
	cancel   func(orgID, id, reason string) (model.Appointment, error)
	setHours func(orgID, staffID string, hours []model.WorkingHours) ([]model.WorkingHours, error)
	calendar func(orgID, staffID, from, to string) (booking.StaffCalendar, error)
}

func (s *stubService) Slots(_ context.Context, q booking.SlotQuery) (booking.SlotResult, error) {
	return s.slots(q)
}

func (s *stubService) Create(_ context.Context, req booking.CreateRequest) (booking.CreateResult, error) {
	return s.create(req)
}

func (s *stubService) Cancel(_ context.Context, orgID, id, reason string) (model.Appointment, error) {
	return s.cancel(orgID, id, reason)
}

func (s *stubService) SetWorkingHours(_ context.Context, orgID, staffID string, hours []model.WorkingHours) ([]model.WorkingHours, error) {
	return s.setHours(orgID, staffID, hours)
}

func (s *stubService) StaffCalendar(_ context.Context, orgID, staffID, from, to string) (booking.StaffCalendar, error) {
	return s.calendar(orgID, staffID, from, to)
}

func (s *stubService) Location(model.Organization) *time.Location { return time.UTC }

func newTestMux(t *testing.T, svc BookingService) *http.ServeMux {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.VerifierConfig{HMACSecret: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	mux := http.NewServeMux()
	h.Register(mux, func(next http.Handler) http.Handler { return next }, httpx.Middleware(auth.Middleware(verifier)))
	return mux
}

func bearer(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, mux http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not json: %v (%q)", err, rec.Body.String())
		}
	}
	return rec, body
}

func TestPublicSlots(t *testing.T) {
	var got booking.SlotQuery
	svc := &stubService{slots: func(q booking.SlotQuery) (booking.SlotResult, error) {
		got = q
		return booking.SlotResult{
			Date:    q.Date,
			StaffID: q.StaffID,
			Slots: []availability.TimeSlot{
				{Time: availability.MustClock("09:00"), Available: true},
				{Time: availability.MustClock("09:30"), Available: true},
			},
			StaffByTime: map[availability.Clock][]string{availability.MustClock("09:00"): {"ana", "ben"}},
		}, nil
	}}
	mux := newTestMux(t, svc)

	rec, body := do(t, mux, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?org_id=org-1&service_id=cut&date=2026-03-02", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.StaffID != availability.AnyProfessional || got.OrgID != "org-1" {
		t.Fatalf("unexpected query %+v", got)
	}
	slots := body["slots"].([]any)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %v", slots)
	}
	first := slots[0].(map[string]any)
	if first["time"] != "09:00" || first["available"] != true {
		t.Fatalf("unexpected first slot %v", first)
	}
	if _, ok := first["staff_ids"]; ok {
		t.Fatalf("slot list must not reveal which staff are free: %v", first)
	}
}

func TestPublicBookRejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
		wantAt     string
	}{
		{"conflict", &booking.RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonSlotConflict, ConflictStart: availability.MustClock("10:00")}}, http.StatusConflict, "slot_conflict", "10:00"},
		{"off duty", &booking.RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonOffDuty}}, http.StatusUnprocessableEntity, "off_duty", ""},
		{"no schedule", &booking.RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonNoSchedule}}, http.StatusUnprocessableEntity, "no_schedule", ""},
		{"invalid", fmt.Errorf("%w: bad date", booking.ErrInvalidInput), http.StatusBadRequest, "", ""},
		{"not found", booking.ErrNotFound, http.StatusNotFound, "", ""},
		{"past", booking.ErrInPast, http.StatusUnprocessableEntity, "", ""},
		{"closed day for any", &booking.RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonOffDuty}}, http.StatusUnprocessableEntity, "off_duty", ""},
		{"fully booked for any", booking.ErrNoStaffAvailable, http.StatusConflict, "", ""},
		{"malformed id", fmt.Errorf("list staff day: %w", &pgconn.PgError{Code: "22P02"}), http.StatusBadRequest, "", ""},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{create: func(booking.CreateRequest) (booking.CreateResult, error) {
				return booking.CreateResult{}, tt.err
			}}
			mux := newTestMux(t, svc)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(
				`{"org_id":"org-1","staff_id":"ana","service_id":"cut","date":"2026-03-02","start_time":"10:00","client_name":"Zoe"}`))

			rec, body := do(t, mux, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantReason != "" && body["reason"] != tt.wantReason {
				t.Fatalf("expected reason %s, got %v", tt.wantReason, body["reason"])
			}
			if tt.wantAt != "" && body["conflict_at"] != tt.wantAt {
				t.Fatalf("expected conflict_at %s, got %v", tt.wantAt, body["conflict_at"])
			}
		})
	}
}

func TestPublicBookCreatesAndReplays(t *testing.T) {
	calls := 0
	svc := &stubService{create: func(req booking.CreateRequest) (booking.CreateResult, error) {
		calls++
		if req.IdempotencyKey != "k-1" || req.Status != "" {
			t.Fatalf("unexpected request %+v", req)
		}
		return booking.CreateResult{
			Appointment: model.Appointment{ID: "appt-1", StaffID: "ana", Date: req.Date, StartMinute: 600, Status: model.StatusPending},
			Replayed:    calls > 1,
		}, nil
	}}
	mux := newTestMux(t, svc)

	for i, want := range []int{http.StatusCreated, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(
			`{"org_id":"org-1","staff_id":"ana","service_id":"cut","date":"2026-03-02","start_time":"10:00","client_name":"Zoe"}`))
		req.Header.Set("Idempotency-Key", "k-1")
		rec, body := do(t, mux, req)
		if rec.Code != want {
			t.Fatalf("call %d: expected %d, got %d", i, want, rec.Code)
		}
		if body["id"] != "appt-1" || body["start_time"] != "10:00" || body["status"] != "PENDING" {
			t.Fatalf("unexpected body %v", body)
		}
		if replayed := rec.Header().Get(ReplayedHeader) == "true"; replayed != (i == 1) {
			t.Fatalf("call %d: unexpected %s header %q", i, ReplayedHeader, rec.Header().Get(ReplayedHeader))
		}
	}
}

func TestPublicBookRejectsStatusAndUnknownFields(t *testing.T) {
	mux := newTestMux(t, &stubService{})
	for _, payload := range []string{
		`{"org_id":"org-1","status":"CONFIRMED"}`,
		`{"org_id":"org-1","unknown":true}`,
	} {
		rec, _ := do(t, mux, httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(payload)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, rec.Code)
		}
	}
}

func TestTenantRoutesRequireToken(t *testing.T) {
	mux := newTestMux(t, &stubService{})
	rec, _ := do(t, mux, httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCancelUsesOrgFromToken(t *testing.T) {
	svc := &stubService{cancel: func(orgID, id, reason string) (model.Appointment, error) {
		if orgID != "org-9" || id != "appt-1" || reason != "sick" {
			t.Fatalf("unexpected cancel args %s %s %s", orgID, id, reason)
		}
		return model.Appointment{ID: id, Status: model.StatusCancelled, CancelReason: reason}, nil
	}}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(`{"appointment_id":"appt-1","reason":"sick"}`))
	req.Header.Set("Authorization", bearer(t, "org-9"))
	rec, body := do(t, mux, req)
	if rec.Code != http.StatusOK || body["status"] != "CANCELLED" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
}

func TestCancelInvalidTransition(t *testing.T) {
	svc := &stubService{cancel: func(string, string, string) (model.Appointment, error) {
		return model.Appointment{}, fmt.Errorf("%w: COMPLETED -> CANCELLED", booking.ErrInvalidTransition)
	}}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(`{"appointment_id":"a"}`))
	req.Header.Set("Authorization", bearer(t, "org-1"))
	rec, body := do(t, mux, req)
	if rec.Code != http.StatusConflict || body["error"] != "invalid_transition" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
}

func TestPutWorkingHoursParsesClock(t *testing.T) {
	svc := &stubService{setHours: func(orgID, staffID string, hours []model.WorkingHours) ([]model.WorkingHours, error) {
		if len(hours) != 2 || hours[0].StartMinute != 540 || hours[0].EndMinute != 1440 || hours[1].IsWorking {
			t.Fatalf("unexpected hours %+v", hours)
		}
		return hours, nil
	}}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/staff/working-hours?staff_id=ana", strings.NewReader(
		`{"hours":[{"weekday":1,"is_working":true,"start_time":"09:00","end_time":"24:00"},{"weekday":0,"is_working":false}]}`))
	req.Header.Set("Authorization", bearer(t, "org-1"))
	rec, body := do(t, mux, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first := body["hours"].([]any)[0].(map[string]any)
	if first["end_time"] != "24:00" {
		t.Fatalf("unexpected first rule %v", first)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/staff/working-hours?staff_id=ana", strings.NewReader(
		`{"hours":[{"weekday":1,"is_working":true,"start_time":"9am","end_time":"17:00"}]}`))
	req.Header.Set("Authorization", bearer(t, "org-1"))
	if rec, _ := do(t, mux, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed clock, got %d", rec.Code)
	}
}

func TestCalendarFeed(t *testing.T) {
	duration := 30
	svc := &stubService{calendar: func(orgID, staffID, from, to string) (booking.StaffCalendar, error) {
		if from != "2026-01-30" || to != "2026-08-28" {
			t.Fatalf("unexpected default range %s..%s", from, to)
		}
		return booking.StaffCalendar{
			Organization: model.Organization{ID: orgID, Name: "Salon", Timezone: "UTC"},
			Staff:        model.Staff{ID: staffID, Name: "Ana"},
			Appointments: []model.Appointment{{
				ID: "appt-1", StaffID: staffID, Date: "2026-03-02", StartMinute: 600,
				DurationMinutes: &duration, Status: model.StatusConfirmed, ClientName: "Zoe",
			}},
		}, nil
	}}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/staff/calendar.ics?staff_id=ana", nil)
	req.Header.Set("Authorization", bearer(t, "org-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "DTSTART:20260302T100000Z") {
		t.Fatalf("feed missing event start:\n%s", rec.Body.String())
	}
}
