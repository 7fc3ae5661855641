package storage

import (
	"context"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `id::text, organization_id::text, staff_id::text, COALESCE(service_id::text, ''),
	client_name, client_email, client_phone, appointment_date::text, start_minute,
	duration_minutes, buffer_minutes, status, notes, cancelled_at, COALESCE(cancellation_reason, ''),
	created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var duration, buffer *int32
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.OrganizationID,
		&appt.StaffID,
		&appt.ServiceID,
		&appt.ClientName,
		&appt.ClientEmail,
		&appt.ClientPhone,
		&appt.Date,
		&appt.StartMinute,
		&duration,
		&buffer,
		&status,
		&appt.Notes,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.DurationMinutes = intOrNil(duration)
	appt.BufferMinutes = intOrNil(buffer)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func intOrNil(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetAppointment(ctx context.Context, orgID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
	`, appointmentID, orgID))
	if err != nil {
		return model.Appointment{}, notFound(err)
	}
	return appt, nil
}

type AppointmentFilter struct {
	Date    string
	StaffID string
	Limit   int
}

func (r *Repository) ListAppointments(ctx context.Context, orgID string, f AppointmentFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND ($2 = '' OR appointment_date = NULLIF($2, '')::date)
			AND ($3 = '' OR staff_id = NULLIF($3, '')::uuid)
		ORDER BY appointment_date DESC, start_minute ASC
		LIMIT $4
	`, orgID, f.Date, f.StaffID, f.Limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// ListStaffDay returns every appointment of the staff member on date, released
// ones included; callers decide which statuses occupy time.
func (r *Repository) ListStaffDay(ctx context.Context, staffID, date string) ([]model.Appointment, error) {
	return listStaffDay(ctx, r.pool, staffID, date)
}

func listStaffDay(ctx context.Context, q querier, staffID, date string) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1 AND appointment_date = $2::date
		ORDER BY start_minute, id
	`, staffID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// ListStaffRange returns appointments of a staff member between two dates inclusive.
func (r *Repository) ListStaffRange(ctx context.Context, orgID, staffID, from, to string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND staff_id = $2
			AND appointment_date BETWEEN $3::date AND $4::date
		ORDER BY appointment_date, start_minute
	`, orgID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// LookupIdempotency returns the appointment recorded against a finalized key.
func (r *Repository) LookupIdempotency(ctx context.Context, orgID, key string) (string, bool, error) {
	var appointmentID string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE organization_id = $1 AND idempotency_key = $2
	`, orgID, key).Scan(&appointmentID)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return appointmentID, appointmentID != "", nil
}
