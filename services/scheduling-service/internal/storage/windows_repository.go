package storage

import (
	"context"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

func (r *Repository) WindowsOn(ctx context.Context, resourceID string, dayOfWeek int) ([]model.AvailabilityWindow, error) {
	return r.queryWindows(ctx, `
		SELECT id, resource_id, day_of_week, start_minute, end_minute, is_active, created_at
		FROM availability_windows
		WHERE resource_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_minute ASC
	`, resourceID, dayOfWeek)
}

func (r *Repository) ListActiveWindows(ctx context.Context, resourceID string) ([]model.AvailabilityWindow, error) {
	return r.queryWindows(ctx, `
		SELECT id, resource_id, day_of_week, start_minute, end_minute, is_active, created_at
		FROM availability_windows
		WHERE resource_id = $1 AND is_active
		ORDER BY day_of_week ASC, start_minute ASC
	`, resourceID)
}

// ListWindows returns every window including deactivated ones, for the admin
// surface.
func (r *Repository) ListWindows(ctx context.Context, resourceID string) ([]model.AvailabilityWindow, error) {
	return r.queryWindows(ctx, `
		SELECT id, resource_id, day_of_week, start_minute, end_minute, is_active, created_at
		FROM availability_windows
		WHERE resource_id = $1
		ORDER BY day_of_week ASC, start_minute ASC
	`, resourceID)
}

func (r *Repository) CreateWindow(ctx context.Context, w *model.AvailabilityWindow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (resource_id, day_of_week, start_minute, end_minute, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, w.ResourceID, w.DayOfWeek, w.StartMinute, w.EndMinute, w.IsActive).Scan(&w.ID, &w.CreatedAt)
}

func (r *Repository) SetWindowActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_windows
		SET is_active = $2
		WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteWindow(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *Repository) queryWindows(ctx context.Context, query string, args ...any) ([]model.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.ResourceID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}
