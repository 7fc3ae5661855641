package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	// AggregateConcurrency bounds the per-staff fan-out of "any professional" lookups.
	AggregateConcurrency int
	// ReminderOffsetsMinutes is used when the organization has none configured.
	ReminderOffsetsMinutes []int
	Now                    func() time.Time
}

type Service struct {
	store       Store
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	concurrency int
	reminders   []int
}

func NewService(store Store, logger *slog.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("booking-service/booking"),
		now:         opts.Now,
		concurrency: opts.AggregateConcurrency,
		reminders:   opts.ReminderOffsetsMinutes,
	}
}

type SlotQuery struct {
	OrgID     string
	StaffID   string
	ServiceID string
	Date      string
}

type SlotResult struct {
	Date    string
	StaffID string
	Slots   []availability.TimeSlot
	// Closed is true when nobody works that day, as opposed to a fully booked day.
	Closed bool
	// StaffByTime is only set for "any" queries.
	StaffByTime map[availability.Clock][]string
	// Unavailable counts staff whose schedule could not be loaded.
	Unavailable int
}

// Slots lists the start times of the requested day, computed fresh from the
// staff's working hours and appointments.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (SlotResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Slots", trace.WithAttributes(
		attribute.String("org_id", q.OrgID),
		attribute.String("staff_id", q.StaffID),
		attribute.String("date", q.Date),
	))
	defer span.End()

	if q.OrgID == "" || q.StaffID == "" {
		return SlotResult{}, invalidf("org_id and staff_id are required")
	}
	date, weekday, err := normalizeDate(q.Date)
	if err != nil {
		return SlotResult{}, asInvalid(err)
	}
	q.Date = date
	org, err := s.store.GetOrganization(ctx, q.OrgID)
	if err != nil {
		return SlotResult{}, err
	}
	services, err := s.store.ListServices(ctx, q.OrgID)
	if err != nil {
		return SlotResult{}, err
	}
	catalog := catalogFromServices(services)

	duration := availability.DefaultDurationMinutes
	if q.ServiceID != "" {
		def, ok := catalog[q.ServiceID]
		if !ok {
			return SlotResult{}, ErrNotFound
		}
		duration = def.DurationMinutes
	}

	day := dayParams{
		date:     q.Date,
		weekday:  weekday,
		interval: org.SlotIntervalMinutes,
		duration: duration,
		catalog:  catalog,
	}

	res := SlotResult{Date: q.Date, StaffID: q.StaffID}
	if q.StaffID == availability.AnyProfessional {
		if q.ServiceID == "" {
			return SlotResult{}, invalidf("service_id is required when staff_id is %q", availability.AnyProfessional)
		}
		agg, closed, err := s.aggregate(ctx, q.OrgID, q.ServiceID, day)
		if err != nil {
			return SlotResult{}, err
		}
		res.Slots = agg.Slots
		res.StaffByTime = agg.StaffByTime
		res.Unavailable = len(agg.Failures)
		res.Closed = closed
	} else {
		if _, err := s.store.GetStaff(ctx, q.OrgID, q.StaffID); err != nil {
			return SlotResult{}, err
		}
		slots, closed, err := s.staffSlots(ctx, s.store, q.StaffID, day)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "slot generation failed")
			return SlotResult{}, asInvalid(err)
		}
		res.Slots = slots
		res.Closed = closed
	}

	res.Slots = s.maskPast(org, q.Date, res.Slots)
	if res.StaffByTime != nil {
		res.Slots, res.StaffByTime = onlyAvailable(res.Slots, res.StaffByTime)
	}
	span.SetAttributes(attribute.Int("slots", len(res.Slots)), attribute.Bool("closed", res.Closed))
	return res, nil
}

type dayParams struct {
	date     string
	weekday  int
	interval int
	duration int
	catalog  availability.ServiceCatalog
}

// staffSlots evaluates one staff day. closed reports a missing or off-duty rule.
func (s *Service) staffSlots(ctx context.Context, r dayReader, staffID string, day dayParams) ([]availability.TimeSlot, bool, error) {
	wh, err := r.GetWorkingHours(ctx, staffID, day.weekday)
	if err != nil {
		return nil, false, err
	}
	if wh == nil || !wh.IsWorking {
		return []availability.TimeSlot{}, true, nil
	}
	appts, err := r.ListStaffDay(ctx, staffID, day.date)
	if err != nil {
		return nil, false, err
	}
	slots, err := availability.StaffDaySlots(availability.StaffDay{
		StaffID:         staffID,
		Date:            day.date,
		Rule:            ruleFromModel(wh),
		IntervalMinutes: day.interval,
		DurationMinutes: day.duration,
		Bookings:        bookingsFromModel(appts),
		Catalog:         day.catalog,
	})
	return slots, false, err
}

// aggregate merges the free slots of every active staff member offering serviceID.
func (s *Service) aggregate(ctx context.Context, orgID, serviceID string, day dayParams) (availability.AggregateResult, bool, error) {
	staff, err := s.store.ListStaffForService(ctx, orgID, serviceID)
	if err != nil {
		return availability.AggregateResult{}, false, err
	}
	ids := make([]string, 0, len(staff))
	for _, st := range staff {
		ids = append(ids, st.ID)
	}

	var closed atomic.Int32
	res := availability.Aggregate(ctx, ids, func(ctx context.Context, staffID string) ([]availability.TimeSlot, error) {
		slots, off, err := s.staffSlots(ctx, s.store, staffID, day)
		if off {
			closed.Add(1)
		}
		return slots, err
	}, s.concurrency)

	for _, f := range res.Failures {
		s.logger.Warn("staff excluded from aggregation", "org_id", orgID, "staff_id", f.StaffID, "date", day.date, "err", f.Err)
	}
	return res, int(closed.Load()) == len(ids), nil
}

func (s *Service) location(org model.Organization) *time.Location {
	if org.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(org.Timezone)
	if err != nil {
		s.logger.Warn("unknown organization timezone, using UTC", "org_id", org.ID, "timezone", org.Timezone)
		return time.UTC
	}
	return loc
}

// maskPast hides slots that already started in the organization's timezone.
func (s *Service) maskPast(org model.Organization, date string, slots []availability.TimeSlot) []availability.TimeSlot {
	now := s.now().In(s.location(org))
	today := availability.FormatDate(now)
	switch {
	case date < today:
		return availability.MaskBefore(slots, availability.EndOfDay)
	case date == today:
		return availability.MaskBefore(slots, availability.ClockOf(now))
	}
	return slots
}

// onlyAvailable drops masked times from an aggregated result.
func onlyAvailable(slots []availability.TimeSlot, byTime map[availability.Clock][]string) ([]availability.TimeSlot, map[availability.Clock][]string) {
	kept := slots[:0]
	for _, sl := range slots {
		if sl.Available {
			kept = append(kept, sl)
		} else {
			delete(byTime, sl.Time)
		}
	}
	return kept, byTime
}

func normalizeDate(raw string) (string, int, error) {
	d, err := availability.ParseDate(raw)
	if err != nil {
		return "", 0, err
	}
	return availability.FormatDate(d), int(d.Weekday()), nil
}

func (s *Service) inPast(org model.Organization, date string, start availability.Clock) bool {
	now := s.now().In(s.location(org))
	today := availability.FormatDate(now)
	return date < today || (date == today && start < availability.ClockOf(now))
}

type CreateRequest struct {
	OrgID          string
	StaffID        string
	ServiceID      string
	Date           string
	StartTime      string
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	Notes          string
	IdempotencyKey string
	// Status defaults to PENDING. Admin bookings may start CONFIRMED.
	Status model.Status
}

type CreateResult struct {
	Appointment model.Appointment
	// Replayed is true when the idempotency key matched an earlier booking.
	Replayed bool
}

// Create books a client appointment. With StaffID "any" the eligible staff free
// at the requested time are tried in order until one accepts.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("org_id", req.OrgID),
		attribute.String("staff_id", req.StaffID),
		attribute.String("date", req.Date),
	))
	defer span.End()

	req.ClientName = strings.TrimSpace(req.ClientName)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.OrgID == "" || req.StaffID == "" || req.ServiceID == "" {
		return CreateResult{}, invalidf("org_id, staff_id and service_id are required")
	}
	if req.ClientName == "" {
		return CreateResult{}, invalidf("client_name is required")
	}
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	if req.Status != model.StatusPending && req.Status != model.StatusConfirmed {
		return CreateResult{}, invalidf("new appointments must be PENDING or CONFIRMED")
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return CreateResult{}, asInvalid(err)
	}
	date, weekday, err := normalizeDate(req.Date)
	if err != nil {
		return CreateResult{}, asInvalid(err)
	}
	req.Date = date

	if req.IdempotencyKey != "" {
		if id, found, err := s.store.LookupIdempotency(ctx, req.OrgID, req.IdempotencyKey); err != nil {
			return CreateResult{}, err
		} else if found {
			appt, err := s.store.GetAppointment(ctx, req.OrgID, id)
			if err != nil {
				return CreateResult{}, err
			}
			return CreateResult{Appointment: appt, Replayed: true}, nil
		}
	}

	org, err := s.store.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return CreateResult{}, err
	}
	svc, err := s.store.GetService(ctx, req.OrgID, req.ServiceID)
	if err != nil {
		return CreateResult{}, err
	}
	if !svc.IsActive {
		return CreateResult{}, invalidf("service %s is not bookable", svc.ID)
	}
	if s.inPast(org, req.Date, start) {
		return CreateResult{}, ErrInPast
	}
	services, err := s.store.ListServices(ctx, req.OrgID)
	if err != nil {
		return CreateResult{}, err
	}
	catalog := catalogFromServices(services)

	candidates, err := s.candidates(ctx, org, req, start, dayParams{
		date:     req.Date,
		weekday:  weekday,
		interval: org.SlotIntervalMinutes,
		duration: svc.DurationMinutes,
		catalog:  catalog,
	})
	if err != nil {
		return CreateResult{}, err
	}

	duration, buffer := svc.DurationMinutes, svc.BufferMinutes
	var lastRejection error
	for _, staffID := range candidates {
		appt := model.Appointment{
			OrganizationID:  req.OrgID,
			StaffID:         staffID,
			ServiceID:       svc.ID,
			ClientName:      req.ClientName,
			ClientEmail:     strings.TrimSpace(req.ClientEmail),
			ClientPhone:     strings.TrimSpace(req.ClientPhone),
			Date:            req.Date,
			StartMinute:     int(start),
			DurationMinutes: &duration,
			BufferMinutes:   &buffer,
			Status:          req.Status,
			Notes:           req.Notes,
		}
		res, err := s.createAtomic(ctx, org, appt, weekday, catalog, req.IdempotencyKey)
		var rejected *RejectedError
		if errors.As(err, &rejected) && req.StaffID == availability.AnyProfessional {
			s.logger.Info("candidate rejected, trying next", "org_id", req.OrgID, "staff_id", staffID, "date", req.Date, "start", start.String())
			lastRejection = err
			continue
		}
		if err != nil {
			span.RecordError(err)
			return CreateResult{}, err
		}
		span.SetAttributes(attribute.String("appointment_id", res.Appointment.ID), attribute.Bool("replayed", res.Replayed))
		if !res.Replayed {
			s.logger.Info("appointment booked", "org_id", req.OrgID, "staff_id", staffID, "appointment_id", res.Appointment.ID)
		}
		return res, nil
	}
	return CreateResult{}, lastRejection
}

// candidates returns the staff to try, in assignment order.
func (s *Service) candidates(ctx context.Context, org model.Organization, req CreateRequest, start availability.Clock, day dayParams) ([]string, error) {
	if req.StaffID != availability.AnyProfessional {
		st, err := s.store.GetStaff(ctx, req.OrgID, req.StaffID)
		if err != nil {
			return nil, err
		}
		if !st.IsActive {
			return nil, invalidf("staff %s is not bookable", st.ID)
		}
		return []string{st.ID}, nil
	}
	agg, closed, err := s.aggregate(ctx, org.ID, req.ServiceID, day)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, &RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonOffDuty}}
	}
	ids := agg.Candidates(start)
	if len(ids) == 0 {
		return nil, ErrNoStaffAvailable
	}
	return ids, nil
}

// createAtomic re-checks the staff day under a per-staff-day lock and inserts
// appt only if the conflict guard accepts it.
func (s *Service) createAtomic(ctx context.Context, org model.Organization, appt model.Appointment, weekday int, catalog availability.ServiceCatalog, idempotencyKey string) (CreateResult, error) {
	var res CreateResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		if idempotencyKey != "" {
			id, found, err := tx.LockIdempotencyKey(ctx, org.ID, idempotencyKey)
			if err != nil {
				return err
			}
			if found {
				existing, err := tx.GetAppointmentForUpdate(ctx, org.ID, id)
				if err != nil {
					return err
				}
				res = CreateResult{Appointment: existing, Replayed: true}
				return nil
			}
		}

		if err := tx.LockStaffDay(ctx, appt.StaffID, appt.Date); err != nil {
			return err
		}
		verdict, err := s.verify(ctx, tx, availability.BookingCheck{
			StaffID:         appt.StaffID,
			Date:            appt.Date,
			Start:           availability.Clock(appt.StartMinute),
			DurationMinutes: *appt.DurationMinutes,
			Catalog:         catalog,
		}, weekday)
		if err != nil {
			return err
		}
		if !verdict.OK() {
			return &RejectedError{Verdict: verdict}
		}

		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			if storage.IsConflict(err) {
				return &RejectedError{Verdict: availability.Verdict{
					Reason:        availability.ReasonSlotConflict,
					ConflictStart: availability.Clock(appt.StartMinute),
				}}
			}
			return err
		}
		if err := s.emitBooked(ctx, tx, org, appt); err != nil {
			return err
		}
		if idempotencyKey != "" {
			if err := tx.FinalizeIdempotency(ctx, org.ID, idempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		res = CreateResult{Appointment: appt}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return res, nil
}

// verify loads the staff day inside tx and runs the conflict guard.
func (s *Service) verify(ctx context.Context, tx Tx, check availability.BookingCheck, weekday int) (availability.Verdict, error) {
	wh, err := tx.GetWorkingHours(ctx, check.StaffID, weekday)
	if err != nil {
		return availability.Verdict{}, err
	}
	appts, err := tx.ListStaffDay(ctx, check.StaffID, check.Date)
	if err != nil {
		return availability.Verdict{}, err
	}
	check.Rule = ruleFromModel(wh)
	check.Bookings = bookingsFromModel(appts)
	v, err := availability.CheckBooking(check)
	return v, asInvalid(err)
}

type BlockRequest struct {
	OrgID           string
	StaffID         string
	Date            string
	StartTime       string
	DurationMinutes int
	Notes           string
}

// Block reserves staff time without a client. Blocks go through the same guard
// as bookings, so they can't overlap existing appointments.
func (s *Service) Block(ctx context.Context, req BlockRequest) (model.Appointment, error) {
	if req.OrgID == "" || req.StaffID == "" {
		return model.Appointment{}, invalidf("org_id and staff_id are required")
	}
	if req.DurationMinutes <= 0 {
		return model.Appointment{}, invalidf("duration_minutes must be positive")
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return model.Appointment{}, asInvalid(err)
	}
	date, weekday, err := normalizeDate(req.Date)
	if err != nil {
		return model.Appointment{}, asInvalid(err)
	}
	req.Date = date
	org, err := s.store.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := s.store.GetStaff(ctx, req.OrgID, req.StaffID); err != nil {
		return model.Appointment{}, err
	}
	services, err := s.store.ListServices(ctx, req.OrgID)
	if err != nil {
		return model.Appointment{}, err
	}

	duration, buffer := req.DurationMinutes, 0
	res, err := s.createAtomic(ctx, org, model.Appointment{
		OrganizationID:  req.OrgID,
		StaffID:         req.StaffID,
		Date:            req.Date,
		StartMinute:     int(start),
		DurationMinutes: &duration,
		BufferMinutes:   &buffer,
		Status:          model.StatusBlocked,
		Notes:           req.Notes,
	}, weekday, catalogFromServices(services), "")
	if err != nil {
		return model.Appointment{}, err
	}
	return res.Appointment, nil
}

type RescheduleRequest struct {
	OrgID         string
	AppointmentID string
	// StaffID moves the appointment to another staff member when set.
	StaffID   string
	Date      string
	StartTime string
}

var reschedulable = map[model.Status]bool{
	model.StatusPending:   true,
	model.StatusConfirmed: true,
	model.StatusBlocked:   true,
}

// Reschedule moves an appointment, ignoring its own current slot during the conflict check.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(
		attribute.String("org_id", req.OrgID),
		attribute.String("appointment_id", req.AppointmentID),
	))
	defer span.End()

	if req.OrgID == "" || req.AppointmentID == "" {
		return model.Appointment{}, invalidf("org_id and appointment_id are required")
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return model.Appointment{}, asInvalid(err)
	}
	date, weekday, err := normalizeDate(req.Date)
	if err != nil {
		return model.Appointment{}, asInvalid(err)
	}
	req.Date = date
	org, err := s.store.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return model.Appointment{}, err
	}
	if s.inPast(org, req.Date, start) {
		return model.Appointment{}, ErrInPast
	}
	if req.StaffID != "" {
		if _, err := s.store.GetStaff(ctx, req.OrgID, req.StaffID); err != nil {
			return model.Appointment{}, err
		}
	}
	services, err := s.store.ListServices(ctx, req.OrgID)
	if err != nil {
		return model.Appointment{}, err
	}
	catalog := catalogFromServices(services)

	var appt model.Appointment
	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, req.OrgID, req.AppointmentID)
		if err != nil {
			return err
		}
		if !reschedulable[current.Status] {
			return invalidTransition(current.Status, "rescheduled")
		}
		previous := current

		staffID := current.StaffID
		if req.StaffID != "" {
			staffID = req.StaffID
		}
		if err := tx.LockStaffDay(ctx, staffID, req.Date); err != nil {
			return err
		}
		duration, _ := availability.Footprint(bookingsFromModel([]model.Appointment{current})[0], catalog)
		verdict, err := s.verify(ctx, tx, availability.BookingCheck{
			StaffID:         staffID,
			Date:            req.Date,
			Start:           start,
			DurationMinutes: duration,
			Catalog:         catalog,
			ExcludeID:       current.ID,
		}, weekday)
		if err != nil {
			return err
		}
		if !verdict.OK() {
			return &RejectedError{Verdict: verdict}
		}

		current.StaffID = staffID
		current.Date = req.Date
		current.StartMinute = int(start)
		current.DurationMinutes = &duration
		if err := tx.UpdateAppointmentSlot(ctx, &current); err != nil {
			if storage.IsConflict(err) {
				return &RejectedError{Verdict: availability.Verdict{Reason: availability.ReasonSlotConflict, ConflictStart: start}}
			}
			return err
		}
		if err := s.emitRescheduled(ctx, tx, org, previous, current); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled", "org_id", req.OrgID, "appointment_id", appt.ID, "staff_id", appt.StaffID)
	return appt, nil
}

// Cancel releases the appointment's time. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, orgID, appointmentID, reason string) (model.Appointment, error) {
	return s.transition(ctx, orgID, appointmentID, model.StatusCancelled, strings.TrimSpace(reason))
}

// SetStatus moves an appointment along its lifecycle.
func (s *Service) SetStatus(ctx context.Context, orgID, appointmentID, status string) (model.Appointment, error) {
	st, ok := model.ParseStatus(status)
	if !ok {
		return model.Appointment{}, invalidf("unknown status %q", status)
	}
	return s.transition(ctx, orgID, appointmentID, st, "")
}

func (s *Service) transition(ctx context.Context, orgID, appointmentID string, to model.Status, reason string) (model.Appointment, error) {
	if orgID == "" || appointmentID == "" {
		return model.Appointment{}, invalidf("org_id and appointment_id are required")
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return model.Appointment{}, err
	}

	var appt model.Appointment
	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, orgID, appointmentID)
		if err != nil {
			return err
		}
		if current.Status == to {
			appt = current
			return nil
		}
		if !current.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}
		from := current.Status
		if err := tx.UpdateAppointmentStatus(ctx, &current, to, reason); err != nil {
			return err
		}
		if err := s.emitStatus(ctx, tx, org, current, from); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func invalidTransition(from model.Status, action string) error {
	return fmt.Errorf("%w: %s appointment cannot be %s", ErrInvalidTransition, from, action)
}

func (s *Service) List(ctx context.Context, orgID string, f storage.AppointmentFilter) ([]model.Appointment, error) {
	if orgID == "" {
		return nil, invalidf("org_id is required")
	}
	if f.Date != "" {
		if _, err := availability.ParseDate(f.Date); err != nil {
			return nil, asInvalid(err)
		}
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return s.store.ListAppointments(ctx, orgID, f)
}
