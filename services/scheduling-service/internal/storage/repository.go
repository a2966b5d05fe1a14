package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avelk/studiodesk/libs/db"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/availability"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/outbox"
)

// Repository is the Postgres implementation of booking.Store. Non-overlap of
// active-status appointments is enforced by an exclusion constraint on the
// appointments table, so insert and update races surface here as SQLSTATE
// 23P01 and are translated to booking.ErrSlotUnavailable.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ booking.Store = (*Repository)(nil)

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	id, resource_id, client_name, client_email, start_time, end_time,
	duration_minutes, status, requires_approval, is_approved, session_token,
	COALESCE(consultation_type, ''), COALESCE(notes, ''), COALESCE(work_notes, ''),
	COALESCE(billable_hours, 0), created_at, updated_at`

func (r *Repository) CreateAppointment(ctx context.Context, appt *model.Appointment, evt *outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, resource_id, client_name, client_email, start_time, end_time,
			duration_minutes, status, requires_approval, is_approved, session_token,
			consultation_type, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, appt.ID, appt.ResourceID, appt.ClientName, appt.ClientEmail, appt.StartTime, appt.EndTime,
		appt.DurationMinutes, appt.Status, appt.RequiresApproval, appt.IsApproved, appt.SessionToken,
		appt.ConsultationType, appt.Notes, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return translateError(err)
	}

	if evt != nil {
		if err := r.outbox.Insert(ctx, tx, *evt); err != nil {
			return fmt.Errorf("record %s event: %w", evt.EventType, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *Repository) GetBySessionToken(ctx context.Context, token string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE session_token = $1
	`, token)
	return scanAppointment(row)
}

func (r *Repository) ListAppointments(ctx context.Context, f booking.ListFilter) ([]model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE true`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	query += " ORDER BY start_time ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *Repository) UpdateAppointment(ctx context.Context, id string, mutate func(*model.Appointment) error) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := mutate(&appt); err != nil {
		return model.Appointment{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			is_approved = $3,
			billable_hours = $4,
			work_notes = $5,
			notes = $6,
			updated_at = $7
		WHERE id = $1
	`, appt.ID, appt.Status, appt.IsApproved, appt.BillableHours, appt.WorkNotes, appt.Notes, appt.UpdatedAt)
	if err != nil {
		// Flipping a status into the active set can still lose the slot to a
		// concurrent writer; the exclusion constraint fires on the UPDATE.
		return model.Appointment{}, translateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *Repository) ActiveIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE resource_id = $1
			AND status = ANY($2)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, resourceID, activeStatusStrings(), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intervals, nil
}

func (r *Repository) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return r.outbox.InsertStandalone(ctx, evt)
}

func activeStatusStrings() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.ResourceID,
		&appt.ClientName,
		&appt.ClientEmail,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.RequiresApproval,
		&appt.IsApproved,
		&appt.SessionToken,
		&appt.ConsultationType,
		&appt.Notes,
		&appt.WorkNotes,
		&appt.BillableHours,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, translateError(err)
	}
	return appt, nil
}

func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return booking.ErrSlotUnavailable
	}
	return err
}
