package booking

import (
	"context"

	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

// dayReader is what the engine needs to evaluate one staff day.
type dayReader interface {
	GetWorkingHours(ctx context.Context, staffID string, weekday int) (*model.WorkingHours, error)
	ListStaffDay(ctx context.Context, staffID, date string) ([]model.Appointment, error)
}

type Store interface {
	dayReader

	EnsureOrganization(ctx context.Context, orgID string) (model.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (model.Organization, error)
	UpdateOrganization(ctx context.Context, org model.Organization) (model.Organization, error)

	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	GetService(ctx context.Context, orgID, serviceID string) (model.Service, error)
	ListServices(ctx context.Context, orgID string) ([]model.Service, error)

	CreateStaff(ctx context.Context, staff model.Staff) (model.Staff, error)
	GetStaff(ctx context.Context, orgID, staffID string) (model.Staff, error)
	ListStaff(ctx context.Context, orgID string) ([]model.Staff, error)
	ListStaffForService(ctx context.Context, orgID, serviceID string) ([]model.Staff, error)
	ListWorkingHours(ctx context.Context, staffID string) ([]model.WorkingHours, error)
	ReplaceWorkingHours(ctx context.Context, orgID, staffID string, hours []model.WorkingHours) error

	GetAppointment(ctx context.Context, orgID, appointmentID string) (model.Appointment, error)
	ListAppointments(ctx context.Context, orgID string, f storage.AppointmentFilter) ([]model.Appointment, error)
	ListStaffRange(ctx context.Context, orgID, staffID, from, to string) ([]model.Appointment, error)
	LookupIdempotency(ctx context.Context, orgID, key string) (string, bool, error)

	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one write transaction. Everything written through it commits or rolls back together.
type Tx interface {
	dayReader

	LockStaffDay(ctx context.Context, staffID, date string) error
	LockIdempotencyKey(ctx context.Context, orgID, key string) (string, bool, error)
	FinalizeIdempotency(ctx context.Context, orgID, key, appointmentID string) error
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, orgID, appointmentID string) (model.Appointment, error)
	UpdateAppointmentSlot(ctx context.Context, appt *model.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, appt *model.Appointment, status model.Status, reason string) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type postgresStore struct {
	*storage.Repository
}

// NewPostgresStore adapts the storage repository to Store.
func NewPostgresStore(repo *storage.Repository) Store {
	return postgresStore{Repository: repo}
}

func (s postgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Repository.InTx(ctx, func(tx *storage.Tx) error {
		return fn(tx)
	})
}

var _ Tx = (*storage.Tx)(nil)
