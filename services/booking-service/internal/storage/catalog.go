package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// Default weekly schedule seeded for new staff: Monday to Friday, 09:00-17:00.
const (
	defaultDayStartMinute = 9 * 60
	defaultDayEndMinute   = 17 * 60
)

// EnsureOrganization creates the organization row on first use so tenants
// authenticated by token don't need a separate provisioning call.
func (r *Repository) EnsureOrganization(ctx context.Context, orgID string) (model.Organization, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO organizations (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, orgID)
	if err != nil {
		return model.Organization{}, err
	}
	return r.GetOrganization(ctx, orgID)
}

func (r *Repository) GetOrganization(ctx context.Context, orgID string) (model.Organization, error) {
	var org model.Organization
	var offsets []int32
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, timezone, slot_interval_minutes, reminder_offsets_minutes
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.Timezone, &org.SlotIntervalMinutes, &offsets)
	if err != nil {
		return model.Organization{}, notFound(err)
	}
	for _, o := range offsets {
		org.ReminderOffsetsMinutes = append(org.ReminderOffsetsMinutes, int(o))
	}
	return org, nil
}

func (r *Repository) UpdateOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	offsets := make([]int32, 0, len(org.ReminderOffsetsMinutes))
	for _, o := range org.ReminderOffsetsMinutes {
		offsets = append(offsets, int32(o))
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE organizations
		SET name = $2,
			timezone = $3,
			slot_interval_minutes = $4,
			reminder_offsets_minutes = $5,
			updated_at = now()
		WHERE id = $1
	`, org.ID, org.Name, org.Timezone, org.SlotIntervalMinutes, offsets)
	if err != nil {
		return model.Organization{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Organization{}, ErrNotFound
	}
	return r.GetOrganization(ctx, org.ID)
}

func (r *Repository) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	svc.ID = newID()
	price := svc.Price
	if price == "" {
		price = "0"
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, organization_id, name, duration_minutes, buffer_minutes, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING price::text, created_at
	`, svc.ID, svc.OrganizationID, svc.Name, svc.DurationMinutes, svc.BufferMinutes, price, svc.IsActive).Scan(&svc.Price, &svc.CreatedAt)
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

const serviceColumns = `id::text, organization_id::text, name, duration_minutes, buffer_minutes, price::text, is_active, created_at`

func scanService(row pgx.Row) (model.Service, error) {
	var svc model.Service
	err := row.Scan(&svc.ID, &svc.OrganizationID, &svc.Name, &svc.DurationMinutes, &svc.BufferMinutes, &svc.Price, &svc.IsActive, &svc.CreatedAt)
	return svc, err
}

func (r *Repository) GetService(ctx context.Context, orgID, serviceID string) (model.Service, error) {
	svc, err := scanService(r.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE id = $1 AND organization_id = $2
	`, serviceID, orgID))
	if err != nil {
		return model.Service{}, notFound(err)
	}
	return svc, nil
}

// ListServices returns every service of the organization, inactive ones included,
// because historical appointments still resolve their duration through them.
func (r *Repository) ListServices(ctx context.Context, orgID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE organization_id = $1
		ORDER BY name, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateStaff inserts the staff member, links the given services and seeds the
// default weekly schedule.
func (r *Repository) CreateStaff(ctx context.Context, staff model.Staff) (model.Staff, error) {
	staff.ID = newID()
	err := r.InTx(ctx, func(tx *Tx) error {
		if err := tx.tx.QueryRow(ctx, `
			INSERT INTO staff (id, organization_id, name, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, staff.ID, staff.OrganizationID, staff.Name, staff.IsActive).Scan(&staff.CreatedAt); err != nil {
			return err
		}
		for _, serviceID := range staff.ServiceIDs {
			tag, err := tx.tx.Exec(ctx, `
				INSERT INTO staff_services (staff_id, service_id)
				SELECT $1, id FROM services WHERE id = $2 AND organization_id = $3
				ON CONFLICT DO NOTHING
			`, staff.ID, serviceID, staff.OrganizationID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
			}
		}
		for weekday := 0; weekday < 7; weekday++ {
			working := weekday >= int(time.Monday) && weekday <= int(time.Friday)
			if err := upsertWorkingHours(ctx, tx.tx, staff.ID, model.WorkingHours{
				Weekday:     weekday,
				IsWorking:   working,
				StartMinute: defaultDayStartMinute,
				EndMinute:   defaultDayEndMinute,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Staff{}, err
	}
	return staff, nil
}

const staffColumns = `s.id::text, s.organization_id::text, s.name, s.is_active, s.created_at,
	COALESCE(array_agg(ss.service_id::text ORDER BY ss.service_id) FILTER (WHERE ss.service_id IS NOT NULL), '{}')`

func scanStaff(row pgx.Row) (model.Staff, error) {
	var st model.Staff
	err := row.Scan(&st.ID, &st.OrganizationID, &st.Name, &st.IsActive, &st.CreatedAt, &st.ServiceIDs)
	return st, err
}

func (r *Repository) GetStaff(ctx context.Context, orgID, staffID string) (model.Staff, error) {
	st, err := scanStaff(r.pool.QueryRow(ctx, `
		SELECT `+staffColumns+`
		FROM staff s
		LEFT JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.id = $1 AND s.organization_id = $2
		GROUP BY s.id
	`, staffID, orgID))
	if err != nil {
		return model.Staff{}, notFound(err)
	}
	return st, nil
}

func (r *Repository) ListStaff(ctx context.Context, orgID string) ([]model.Staff, error) {
	return r.listStaff(ctx, `
		SELECT `+staffColumns+`
		FROM staff s
		LEFT JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.organization_id = $1
		GROUP BY s.id
		ORDER BY s.created_at, s.id
	`, orgID)
}

// ListStaffForService returns the active staff able to perform serviceID, in a
// stable order that decides who is assigned when several are free.
func (r *Repository) ListStaffForService(ctx context.Context, orgID, serviceID string) ([]model.Staff, error) {
	return r.listStaff(ctx, `
		SELECT `+staffColumns+`
		FROM staff s
		LEFT JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.organization_id = $1
			AND s.is_active
			AND EXISTS (SELECT 1 FROM staff_services x WHERE x.staff_id = s.id AND x.service_id = $2)
		GROUP BY s.id
		ORDER BY s.created_at, s.id
	`, orgID, serviceID)
}

func (r *Repository) listStaff(ctx context.Context, query string, args ...any) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// GetWorkingHours returns nil when no rule exists for the weekday.
func (r *Repository) GetWorkingHours(ctx context.Context, staffID string, weekday int) (*model.WorkingHours, error) {
	return getWorkingHours(ctx, r.pool, staffID, weekday)
}

func getWorkingHours(ctx context.Context, q querier, staffID string, weekday int) (*model.WorkingHours, error) {
	wh := model.WorkingHours{StaffID: staffID, Weekday: weekday}
	err := q.QueryRow(ctx, `
		SELECT is_working, start_minute, end_minute
		FROM staff_working_hours
		WHERE staff_id = $1 AND weekday = $2
	`, staffID, weekday).Scan(&wh.IsWorking, &wh.StartMinute, &wh.EndMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wh, nil
}

func (r *Repository) ListWorkingHours(ctx context.Context, staffID string) ([]model.WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_working, start_minute, end_minute
		FROM staff_working_hours
		WHERE staff_id = $1
		ORDER BY weekday
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingHours
	for rows.Next() {
		wh := model.WorkingHours{StaffID: staffID}
		if err := rows.Scan(&wh.Weekday, &wh.IsWorking, &wh.StartMinute, &wh.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceWorkingHours upserts the given weekday rules for a staff member of orgID.
func (r *Repository) ReplaceWorkingHours(ctx context.Context, orgID, staffID string, hours []model.WorkingHours) error {
	return r.InTx(ctx, func(tx *Tx) error {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM staff WHERE id = $1 AND organization_id = $2)
		`, staffID, orgID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		for _, wh := range hours {
			if err := upsertWorkingHours(ctx, tx.tx, staffID, wh); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertWorkingHours(ctx context.Context, q querier, staffID string, wh model.WorkingHours) error {
	_, err := q.Exec(ctx, `
		INSERT INTO staff_working_hours (staff_id, weekday, is_working, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (staff_id, weekday) DO UPDATE
		SET is_working = EXCLUDED.is_working,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, staffID, wh.Weekday, wh.IsWorking, wh.StartMinute, wh.EndMinute)
	return err
}
