package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

const (
	orgID  = "org-1"
	monday = "2026-03-02"
	sunday = "2026-03-01"
)

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T, now time.Time) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.addOrg(model.Organization{ID: orgID, Timezone: "UTC", SlotIntervalMinutes: 30, ReminderOffsetsMinutes: []int{1440, 60}})
	store.addService(model.Service{ID: "cut", OrganizationID: orgID, Name: "Cut", DurationMinutes: 30, IsActive: true})
	store.addService(model.Service{ID: "color", OrganizationID: orgID, Name: "Color", DurationMinutes: 60, BufferMinutes: 15, IsActive: true})

	weekday := model.WorkingHours{Weekday: 1, IsWorking: true, StartMinute: 9 * 60, EndMinute: 12 * 60}
	store.addStaff(model.Staff{ID: "ana", OrganizationID: orgID, Name: "Ana", IsActive: true, ServiceIDs: []string{"cut", "color"}},
		weekday, model.WorkingHours{Weekday: 0, IsWorking: false})
	store.addStaff(model.Staff{ID: "ben", OrganizationID: orgID, Name: "Ben", IsActive: true, ServiceIDs: []string{"cut"}},
		weekday)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, logger, Options{AggregateConcurrency: 2, Now: func() time.Time { return now }})
	return svc, store
}

func times(slots []availability.TimeSlot, onlyFree bool) []string {
	var out []string
	for _, s := range slots {
		if onlyFree && !s.Available {
			continue
		}
		out = append(out, s.Time.String())
	}
	return out
}

func TestSlots_StaffDay(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	store.addAppointment(model.Appointment{
		ID: "a1", OrganizationID: orgID, StaffID: "ana", ServiceID: "color",
		Date: monday, StartMinute: 10 * 60, Status: model.StatusConfirmed,
	})

	res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "ana", ServiceID: "cut", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if res.Closed {
		t.Fatal("working day reported as closed")
	}
	// color occupies 10:00-11:15 through its service footprint.
	want := []string{"09:00", "09:30", "11:30"}
	if got := times(res.Slots, true); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected free %v, got %v", want, got)
	}
	if len(res.Slots) != 6 {
		t.Fatalf("expected 6 slots including booked ones, got %d", len(res.Slots))
	}
}

func TestSlots_ClosedDayIsDistinctFromFullyBooked(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	tuesday := "2026-03-03"

	for _, staffID := range []string{"ana", "ben"} {
		res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: staffID, ServiceID: "cut", Date: tuesday})
		if err != nil {
			t.Fatalf("%s: Slots failed: %v", staffID, err)
		}
		if !res.Closed || len(res.Slots) != 0 {
			t.Fatalf("%s: expected closed empty day, got %+v", staffID, res)
		}
	}
}

func TestSlots_MasksPastTimesToday(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "ben", ServiceID: "cut", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if got := times(res.Slots, true); !reflect.DeepEqual(got, []string{"10:30", "11:00", "11:30"}) {
		t.Fatalf("expected only future slots, got %v", got)
	}

	res, err = svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "ben", ServiceID: "cut", Date: sunday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(times(res.Slots, true)) != 0 {
		t.Fatal("expected no free slots on a past date")
	}
}

func TestSlots_AnyProfessional(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	store.addAppointment(model.Appointment{
		ID: "a1", OrganizationID: orgID, StaffID: "ana", ServiceID: "cut",
		Date: monday, StartMinute: 9 * 60, Status: model.StatusPending,
	})
	store.addAppointment(model.Appointment{
		ID: "a2", OrganizationID: orgID, StaffID: "ben", ServiceID: "cut",
		Date: monday, StartMinute: 9 * 60, Status: model.StatusConfirmed,
	})

	res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: availability.AnyProfessional, ServiceID: "cut", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if got := times(res.Slots, false); !reflect.DeepEqual(got, []string{"09:30", "10:00", "10:30", "11:00", "11:30"}) {
		t.Fatalf("unexpected union %v", got)
	}
	if got := res.StaffByTime[availability.MustClock("09:30")]; !reflect.DeepEqual(got, []string{"ana", "ben"}) {
		t.Fatalf("expected both staff at 09:30, got %v", got)
	}

	// Only ana performs color.
	res, err = svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: availability.AnyProfessional, ServiceID: "color", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	for _, ids := range res.StaffByTime {
		if !reflect.DeepEqual(ids, []string{"ana"}) {
			t.Fatalf("ben must not be offered color, got %v", ids)
		}
	}
}

func TestSlots_AnyProfessionalSkipsFailedStaff(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	store.failHours["ana"] = errors.New("connection reset")

	res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: availability.AnyProfessional, ServiceID: "cut", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if res.Unavailable != 1 {
		t.Fatalf("expected one unavailable staff, got %d", res.Unavailable)
	}
	if len(res.Slots) != 6 {
		t.Fatalf("expected ben's 6 slots, got %v", times(res.Slots, false))
	}
	for _, ids := range res.StaffByTime {
		if !reflect.DeepEqual(ids, []string{"ben"}) {
			t.Fatalf("failed staff offered: %v", ids)
		}
	}
}

func TestSlots_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	_, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "ana", Date: "03/02/2026"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: availability.AnyProfessional, Date: monday})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without service, got %v", err)
	}
	_, err = svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "nobody", Date: monday})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func createReq(staffID, start string) CreateRequest {
	return CreateRequest{
		OrgID:       orgID,
		StaffID:     staffID,
		ServiceID:   "cut",
		Date:        monday,
		StartTime:   start,
		ClientName:  "Client",
		ClientEmail: "client@example.com",
	}
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)

	res, err := svc.Create(context.Background(), createReq("ana", "10:00"))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if res.Appointment.Status != model.StatusPending || *res.Appointment.DurationMinutes != 30 {
		t.Fatalf("unexpected appointment %+v", res.Appointment)
	}

	_, err = svc.Create(context.Background(), createReq("ana", "10:00"))
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejected.Verdict.Reason != availability.ReasonSlotConflict || rejected.Verdict.ConflictID != res.Appointment.ID {
		t.Fatalf("unexpected verdict %+v", rejected.Verdict)
	}
}

func TestCreate_ConcurrentSameSlotOnlyOneWins(t *testing.T) {
	svc, store := newTestService(t, fixedNow)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), createReq("ben", "11:00"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || len(store.appointments()) != 1 {
		t.Fatalf("expected exactly one booking, got %d successes and %d rows", ok, len(store.appointments()))
	}
}

func TestCreate_OffDutyAndNoSchedule(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	req := createReq("ana", "10:00")
	req.Date = sunday
	_, err := svc.Create(context.Background(), req)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Verdict.Reason != availability.ReasonOffDuty {
		t.Fatalf("expected off duty, got %v", err)
	}

	req.StaffID = "ben"
	_, err = svc.Create(context.Background(), req)
	if !errors.As(err, &rejected) || rejected.Verdict.Reason != availability.ReasonNoSchedule {
		t.Fatalf("expected no schedule, got %v", err)
	}
}

func TestCreate_AnyProfessionalAssignsFirstFree(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	store.addAppointment(model.Appointment{
		ID: "a1", OrganizationID: orgID, StaffID: "ana", ServiceID: "cut",
		Date: monday, StartMinute: 10 * 60, Status: model.StatusConfirmed,
	})

	res, err := svc.Create(context.Background(), createReq(availability.AnyProfessional, "10:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Appointment.StaffID != "ben" {
		t.Fatalf("expected ben assigned, got %s", res.Appointment.StaffID)
	}

	res, err = svc.Create(context.Background(), createReq(availability.AnyProfessional, "11:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Appointment.StaffID != "ana" {
		t.Fatalf("expected first eligible staff, got %s", res.Appointment.StaffID)
	}

	_, err = svc.Create(context.Background(), createReq(availability.AnyProfessional, "10:00"))
	if !errors.Is(err, ErrNoStaffAvailable) {
		t.Fatalf("expected ErrNoStaffAvailable, got %v", err)
	}
}

func TestCreate_AnyProfessionalOnClosedDay(t *testing.T) {
	svc, store := newTestService(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	store.addAppointment(model.Appointment{
		ID: "a1", OrganizationID: orgID, StaffID: "ana", ServiceID: "cut",
		Date: monday, StartMinute: 10 * 60, Status: model.StatusConfirmed,
	})
	store.addAppointment(model.Appointment{
		ID: "a2", OrganizationID: orgID, StaffID: "ben", ServiceID: "cut",
		Date: monday, StartMinute: 10 * 60, Status: model.StatusConfirmed,
	})

	req := createReq(availability.AnyProfessional, "10:00")
	req.Date = sunday
	_, closedErr := svc.Create(context.Background(), req)
	var rejected *RejectedError
	if !errors.As(closedErr, &rejected) || rejected.Verdict.Reason != availability.ReasonOffDuty {
		t.Fatalf("expected off duty for a closed day, got %v", closedErr)
	}

	_, fullErr := svc.Create(context.Background(), createReq(availability.AnyProfessional, "10:00"))
	if !errors.Is(fullErr, ErrNoStaffAvailable) {
		t.Fatalf("expected ErrNoStaffAvailable for a fully booked time, got %v", fullErr)
	}
	if errors.Is(closedErr, ErrNoStaffAvailable) {
		t.Fatalf("closed day must not report no staff available")
	}
}

func TestCreate_IdempotencyKeyReplays(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	req := createReq(availability.AnyProfessional, "09:00")
	req.IdempotencyKey = "key-1"

	first, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed || second.Appointment.ID != first.Appointment.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Appointment.ID, second)
	}
	if len(store.appointments()) != 1 {
		t.Fatalf("expected one appointment, got %d", len(store.appointments()))
	}
}

func TestCreate_EmitsBookedAndReminders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)

	if _, err := svc.Create(context.Background(), createReq("ana", "10:00")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// The 24h reminder (2026-03-01 10:00) is already past.
	want := []string{outbox.EventAppointmentBooked, outbox.EventReminderRequested}
	if got := store.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCreate_RejectsPastAndInactive(t *testing.T) {
	svc, store := newTestService(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if _, err := svc.Create(context.Background(), createReq("ana", "09:30")); !errors.Is(err, ErrInPast) {
		t.Fatalf("expected ErrInPast, got %v", err)
	}

	store.addService(model.Service{ID: "retired", OrganizationID: orgID, DurationMinutes: 30})
	req := createReq("ana", "11:00")
	req.ServiceID = "retired"
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inactive service, got %v", err)
	}
}

func TestBlock_CannotOverlapBooking(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	if _, err := svc.Create(context.Background(), createReq("ana", "10:00")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := svc.Block(context.Background(), BlockRequest{OrgID: orgID, StaffID: "ana", Date: monday, StartTime: "09:30", DurationMinutes: 45})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	blk, err := svc.Block(context.Background(), BlockRequest{OrgID: orgID, StaffID: "ana", Date: monday, StartTime: "10:30", DurationMinutes: 60, Notes: "lunch"})
	if err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if blk.Status != model.StatusBlocked {
		t.Fatalf("expected BLOCKED, got %s", blk.Status)
	}

	res, err := svc.Slots(context.Background(), SlotQuery{OrgID: orgID, StaffID: "ana", ServiceID: "cut", Date: monday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if got := times(res.Slots, true); !reflect.DeepEqual(got, []string{"09:00", "09:30", "11:30"}) {
		t.Fatalf("expected block to occupy time, got %v", got)
	}
}

func TestReschedule(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	a, err := svc.Create(context.Background(), createReq("ana", "10:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := svc.Create(context.Background(), createReq("ana", "11:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	moved, err := svc.Reschedule(context.Background(), RescheduleRequest{OrgID: orgID, AppointmentID: a.Appointment.ID, Date: monday, StartTime: "10:15"})
	if err != nil {
		t.Fatalf("overlapping itself should be allowed: %v", err)
	}
	if moved.StartMinute != 10*60+15 {
		t.Fatalf("expected 10:15, got %d", moved.StartMinute)
	}

	_, err = svc.Reschedule(context.Background(), RescheduleRequest{OrgID: orgID, AppointmentID: a.Appointment.ID, Date: monday, StartTime: "10:45"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Verdict.ConflictID != b.Appointment.ID {
		t.Fatalf("expected conflict with %s, got %v", b.Appointment.ID, err)
	}

	moved, err = svc.Reschedule(context.Background(), RescheduleRequest{OrgID: orgID, AppointmentID: a.Appointment.ID, StaffID: "ben", Date: monday, StartTime: "11:00"})
	if err != nil {
		t.Fatalf("move to other staff failed: %v", err)
	}
	if moved.StaffID != "ben" {
		t.Fatalf("expected ben, got %s", moved.StaffID)
	}
}

func TestCancelReleasesSlotAndIsIdempotent(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	res, err := svc.Create(context.Background(), createReq("ana", "10:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		appt, err := svc.Cancel(context.Background(), orgID, res.Appointment.ID, "client asked")
		if err != nil {
			t.Fatalf("cancel %d failed: %v", i, err)
		}
		if appt.Status != model.StatusCancelled {
			t.Fatalf("expected CANCELLED, got %s", appt.Status)
		}
	}
	cancelled := 0
	for _, typ := range store.eventTypes() {
		if typ == outbox.EventAppointmentCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Fatalf("expected one cancelled event, got %d", cancelled)
	}

	if _, err := svc.Create(context.Background(), createReq("ana", "10:00")); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	res, err := svc.Create(context.Background(), createReq("ana", "10:00"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := res.Appointment.ID

	if _, err := svc.SetStatus(context.Background(), orgID, id, "completed"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected PENDING -> COMPLETED to be rejected, got %v", err)
	}
	for _, st := range []string{"confirmed", "arrived", "in_progress", "completed", "archived"} {
		if _, err := svc.SetStatus(context.Background(), orgID, id, st); err != nil {
			t.Fatalf("transition to %s failed: %v", st, err)
		}
	}
	if _, err := svc.Reschedule(context.Background(), RescheduleRequest{OrgID: orgID, AppointmentID: id, Date: monday, StartTime: "11:00"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("archived appointment must not be rescheduled, got %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), orgID, id, "bogus"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), orgID, "missing", "confirmed"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetWorkingHoursValidation(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	bad := [][]model.WorkingHours{
		nil,
		{{Weekday: 7, IsWorking: true, StartMinute: 540, EndMinute: 600}},
		{{Weekday: 2, IsWorking: true, StartMinute: 600, EndMinute: 600}},
		{{Weekday: 2, IsWorking: false}, {Weekday: 2, IsWorking: false}},
	}
	for i, hours := range bad {
		if _, err := svc.SetWorkingHours(context.Background(), orgID, "ana", hours); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}

	got, err := svc.SetWorkingHours(context.Background(), orgID, "ben", []model.WorkingHours{{Weekday: 2, IsWorking: true, StartMinute: 480, EndMinute: 720}})
	if err != nil {
		t.Fatalf("SetWorkingHours failed: %v", err)
	}
	if len(got) != 2 || got[1].Weekday != 2 || got[1].StaffID != "ben" {
		t.Fatalf("unexpected hours %+v", got)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	svc, _ := newTestService(t, fixedNow)
	if _, err := svc.UpdateSettings(context.Background(), model.Organization{ID: orgID, Timezone: "Mars/Olympus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected bad timezone to be rejected, got %v", err)
	}
	if _, err := svc.UpdateSettings(context.Background(), model.Organization{ID: orgID, SlotIntervalMinutes: 3}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected bad interval to be rejected, got %v", err)
	}
	org, err := svc.UpdateSettings(context.Background(), model.Organization{ID: orgID, Name: " Salon ", Timezone: "UTC", SlotIntervalMinutes: 15})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if org.Name != "Salon" || org.SlotIntervalMinutes != 15 {
		t.Fatalf("unexpected org %+v", org)
	}
}

func TestStaffCalendarSkipsReleased(t *testing.T) {
	svc, store := newTestService(t, fixedNow)
	store.addAppointment(model.Appointment{ID: "a1", OrganizationID: orgID, StaffID: "ana", Date: monday, StartMinute: 600, DurationMinutes: intPtr(30), Status: model.StatusConfirmed})
	store.addAppointment(model.Appointment{ID: "a2", OrganizationID: orgID, StaffID: "ana", Date: monday, StartMinute: 660, DurationMinutes: intPtr(30), Status: model.StatusCancelled})

	cal, err := svc.StaffCalendar(context.Background(), orgID, "ana", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("StaffCalendar failed: %v", err)
	}
	if len(cal.Appointments) != 1 || cal.Appointments[0].ID != "a1" {
		t.Fatalf("expected only a1, got %+v", cal.Appointments)
	}
	if _, err := svc.StaffCalendar(context.Background(), orgID, "ana", "2026-03-31", "2026-03-01"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected reversed range to be rejected, got %v", err)
	}
}
