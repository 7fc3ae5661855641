package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/jackc/pgx/v5"
)

// Tx is the write side of the repository. Every booking mutation runs through
// one Tx so the conflict re-check, the write and its outbox events commit together.
type Tx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

// LockStaffDay serializes writers for one staff member's calendar day until the
// transaction ends.
func (t *Tx) LockStaffDay(ctx context.Context, staffID, date string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, staffID+"|"+date)
	return err
}

// LockIdempotencyKey claims key for orgID. When the key was already used it
// returns the appointment recorded against it and found=true.
func (t *Tx) LockIdempotencyKey(ctx context.Context, orgID, key string) (string, bool, error) {
	appointmentID, err := t.selectIdempotencyForUpdate(ctx, orgID, key)
	if err == nil && appointmentID != "" {
		return appointmentID, true, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (organization_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (organization_id, idempotency_key) DO NOTHING
	`, orgID, key)
	if err != nil {
		return "", false, err
	}

	appointmentID, err = t.selectIdempotencyForUpdate(ctx, orgID, key)
	if err != nil {
		return "", false, err
	}
	return appointmentID, appointmentID != "", nil
}

func (t *Tx) selectIdempotencyForUpdate(ctx context.Context, orgID, key string) (string, error) {
	var appointmentID string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE organization_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, orgID, key).Scan(&appointmentID)
	return appointmentID, err
}

func (t *Tx) FinalizeIdempotency(ctx context.Context, orgID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE organization_id = $1 AND idempotency_key = $2
	`, orgID, key, appointmentID)
	return err
}

func (t *Tx) GetWorkingHours(ctx context.Context, staffID string, weekday int) (*model.WorkingHours, error) {
	return getWorkingHours(ctx, t.tx, staffID, weekday)
}

func (t *Tx) ListStaffDay(ctx context.Context, staffID, date string) ([]model.Appointment, error) {
	return listStaffDay(ctx, t.tx, staffID, date)
}

// InsertAppointment assigns an id to appt and stores it.
func (t *Tx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	appt.ID = newID()
	return t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, organization_id, staff_id, service_id, client_name, client_email, client_phone,
			 appointment_date, start_minute, duration_minutes, buffer_minutes, status, notes)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8::date, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, appt.ID, appt.OrganizationID, appt.StaffID, appt.ServiceID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.Date, appt.StartMinute, appt.DurationMinutes, appt.BufferMinutes, string(appt.Status), appt.Notes,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
}

func (t *Tx) GetAppointmentForUpdate(ctx context.Context, orgID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, appointmentID, orgID))
	if err != nil {
		return model.Appointment{}, notFound(err)
	}
	return appt, nil
}

func (t *Tx) UpdateAppointmentSlot(ctx context.Context, appt *model.Appointment) error {
	return t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET staff_id = $3,
			appointment_date = $4::date,
			start_minute = $5,
			duration_minutes = $6,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING updated_at
	`, appt.ID, appt.OrganizationID, appt.StaffID, appt.Date, appt.StartMinute, appt.DurationMinutes).Scan(&appt.UpdatedAt)
}

// UpdateAppointmentStatus moves appt to status; cancelling also stamps the reason.
func (t *Tx) UpdateAppointmentStatus(ctx context.Context, appt *model.Appointment, status model.Status, reason string) error {
	var cancelledAt *time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN now() ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $3 = 'CANCELLED' THEN NULLIF($4, '') ELSE cancellation_reason END,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING cancelled_at, COALESCE(cancellation_reason, ''), updated_at
	`, appt.ID, appt.OrganizationID, string(status), reason).Scan(&cancelledAt, &appt.CancelReason, &appt.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	appt.Status = status
	appt.CancelledAt = cancelledAt
	return nil
}

func (t *Tx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
