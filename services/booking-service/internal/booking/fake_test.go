package booking

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

// fakeStore keeps everything in memory. InTx holds the store mutex for the
// whole callback, which stands in for the per-staff-day advisory lock.
type fakeStore struct {
	mu        sync.Mutex
	st        *fakeState
	failHours map[string]error
}

type fakeState struct {
	seq        int
	orgs       map[string]model.Organization
	services   map[string]model.Service
	staff      map[string]model.Staff
	staffOrder []string
	hours      map[string]map[int]model.WorkingHours
	appts      map[string]model.Appointment
	idem       map[string]string
	events     []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		st: &fakeState{
			orgs:     map[string]model.Organization{},
			services: map[string]model.Service{},
			staff:    map[string]model.Staff{},
			hours:    map[string]map[int]model.WorkingHours{},
			appts:    map[string]model.Appointment{},
			idem:     map[string]string{},
		},
		failHours: map[string]error{},
	}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		seq:        s.seq,
		orgs:       map[string]model.Organization{},
		services:   map[string]model.Service{},
		staff:      map[string]model.Staff{},
		staffOrder: append([]string(nil), s.staffOrder...),
		hours:      map[string]map[int]model.WorkingHours{},
		appts:      map[string]model.Appointment{},
		idem:       map[string]string{},
		events:     append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.staff {
		c.staff[k] = v
	}
	for k, v := range s.hours {
		days := map[int]model.WorkingHours{}
		for d, wh := range v {
			days[d] = wh
		}
		c.hours[k] = days
	}
	for k, v := range s.appts {
		c.appts[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	return c
}

func (s *fakeState) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *fakeState) staffDay(staffID, date string) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appts {
		if a.StaffID == staffID && a.Date == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// seed helpers

func (f *fakeStore) addOrg(org model.Organization) {
	f.st.orgs[org.ID] = org
}

func (f *fakeStore) addService(svc model.Service) {
	f.st.services[svc.ID] = svc
}

func (f *fakeStore) addStaff(st model.Staff, hours ...model.WorkingHours) {
	f.st.staff[st.ID] = st
	f.st.staffOrder = append(f.st.staffOrder, st.ID)
	days := map[int]model.WorkingHours{}
	for _, wh := range hours {
		wh.StaffID = st.ID
		days[wh.Weekday] = wh
	}
	f.st.hours[st.ID] = days
}

func (f *fakeStore) addAppointment(a model.Appointment) {
	f.st.appts[a.ID] = a
}

func (f *fakeStore) appointments() []model.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.st.appts {
		out = append(out, a)
	}
	return out
}

func (f *fakeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.st.events {
		out = append(out, e.EventType)
	}
	return out
}

// Store

func (f *fakeStore) GetWorkingHours(_ context.Context, staffID string, weekday int) (*model.WorkingHours, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failHours[staffID]; err != nil {
		return nil, err
	}
	return workingHoursOf(f.st, staffID, weekday), nil
}

func workingHoursOf(st *fakeState, staffID string, weekday int) *model.WorkingHours {
	wh, ok := st.hours[staffID][weekday]
	if !ok {
		return nil
	}
	return &wh
}

func (f *fakeStore) ListStaffDay(_ context.Context, staffID, date string) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.staffDay(staffID, date), nil
}

func (f *fakeStore) EnsureOrganization(_ context.Context, orgID string) (model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.st.orgs[orgID]
	if !ok {
		org = model.Organization{ID: orgID, Timezone: "UTC", SlotIntervalMinutes: 30}
		f.st.orgs[orgID] = org
	}
	return org, nil
}

func (f *fakeStore) GetOrganization(_ context.Context, orgID string) (model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.st.orgs[orgID]
	if !ok {
		return model.Organization{}, storage.ErrNotFound
	}
	return org, nil
}

func (f *fakeStore) UpdateOrganization(_ context.Context, org model.Organization) (model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.st.orgs[org.ID]; !ok {
		return model.Organization{}, storage.ErrNotFound
	}
	f.st.orgs[org.ID] = org
	return org, nil
}

func (f *fakeStore) CreateService(_ context.Context, svc model.Service) (model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc.ID = f.st.nextID("svc")
	f.st.services[svc.ID] = svc
	return svc, nil
}

func (f *fakeStore) GetService(_ context.Context, orgID, serviceID string) (model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.st.services[serviceID]
	if !ok || svc.OrganizationID != orgID {
		return model.Service{}, storage.ErrNotFound
	}
	return svc, nil
}

func (f *fakeStore) ListServices(_ context.Context, orgID string) ([]model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Service
	for _, svc := range f.st.services {
		if svc.OrganizationID == orgID {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateStaff(_ context.Context, st model.Staff) (model.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st.ID = f.st.nextID("staff")
	f.st.staff[st.ID] = st
	f.st.staffOrder = append(f.st.staffOrder, st.ID)
	f.st.hours[st.ID] = map[int]model.WorkingHours{}
	return st, nil
}

func (f *fakeStore) GetStaff(_ context.Context, orgID, staffID string) (model.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.st.staff[staffID]
	if !ok || st.OrganizationID != orgID {
		return model.Staff{}, storage.ErrNotFound
	}
	return st, nil
}

func (f *fakeStore) ListStaff(_ context.Context, orgID string) ([]model.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Staff
	for _, id := range f.st.staffOrder {
		if st := f.st.staff[id]; st.OrganizationID == orgID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStaffForService(ctx context.Context, orgID, serviceID string) ([]model.Staff, error) {
	all, _ := f.ListStaff(ctx, orgID)
	var out []model.Staff
	for _, st := range all {
		if st.IsActive && slices.Contains(st.ServiceIDs, serviceID) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStore) ListWorkingHours(_ context.Context, staffID string) ([]model.WorkingHours, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.WorkingHours
	for d := 0; d < 7; d++ {
		if wh := workingHoursOf(f.st, staffID, d); wh != nil {
			out = append(out, *wh)
		}
	}
	return out, nil
}

func (f *fakeStore) ReplaceWorkingHours(_ context.Context, orgID, staffID string, hours []model.WorkingHours) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.st.staff[staffID]; !ok || st.OrganizationID != orgID {
		return storage.ErrNotFound
	}
	for _, wh := range hours {
		f.st.hours[staffID][wh.Weekday] = wh
	}
	return nil
}

func (f *fakeStore) GetAppointment(_ context.Context, orgID, appointmentID string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.st.appts[appointmentID]
	if !ok || a.OrganizationID != orgID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAppointments(_ context.Context, orgID string, flt storage.AppointmentFilter) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.st.appts {
		if a.OrganizationID != orgID || (flt.Date != "" && a.Date != flt.Date) || (flt.StaffID != "" && a.StaffID != flt.StaffID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (f *fakeStore) ListStaffRange(_ context.Context, orgID, staffID, from, to string) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.st.appts {
		if a.OrganizationID == orgID && a.StaffID == staffID && a.Date >= from && a.Date <= to {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, nil
}

func (f *fakeStore) LookupIdempotency(_ context.Context, orgID, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.st.idem[orgID+"|"+key]
	return id, ok && id != "", nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	staged := f.st.clone()
	if err := fn(&fakeTx{st: staged}); err != nil {
		return err
	}
	f.st = staged
	return nil
}

type fakeTx struct {
	st *fakeState
}

func (t *fakeTx) GetWorkingHours(_ context.Context, staffID string, weekday int) (*model.WorkingHours, error) {
	return workingHoursOf(t.st, staffID, weekday), nil
}

func (t *fakeTx) ListStaffDay(_ context.Context, staffID, date string) ([]model.Appointment, error) {
	return t.st.staffDay(staffID, date), nil
}

func (t *fakeTx) LockStaffDay(context.Context, string, string) error { return nil }

func (t *fakeTx) LockIdempotencyKey(_ context.Context, orgID, key string) (string, bool, error) {
	id := t.st.idem[orgID+"|"+key]
	return id, id != "", nil
}

func (t *fakeTx) FinalizeIdempotency(_ context.Context, orgID, key, appointmentID string) error {
	t.st.idem[orgID+"|"+key] = appointmentID
	return nil
}

func (t *fakeTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	appt.ID = t.st.nextID("appt")
	appt.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	appt.UpdatedAt = appt.CreatedAt
	t.st.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTx) GetAppointmentForUpdate(_ context.Context, orgID, appointmentID string) (model.Appointment, error) {
	a, ok := t.st.appts[appointmentID]
	if !ok || a.OrganizationID != orgID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (t *fakeTx) UpdateAppointmentSlot(_ context.Context, appt *model.Appointment) error {
	t.st.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTx) UpdateAppointmentStatus(_ context.Context, appt *model.Appointment, status model.Status, reason string) error {
	appt.Status = status
	if status == model.StatusCancelled {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		appt.CancelledAt = &now
		appt.CancelReason = reason
	}
	t.st.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.st.events = append(t.st.events, evt)
	return nil
}

var (
	_ Store = (*fakeStore)(nil)
	_ Tx    = (*fakeTx)(nil)
)
