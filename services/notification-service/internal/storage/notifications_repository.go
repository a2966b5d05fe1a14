package storage

import (
	"context"

	"github.com/avelk/studiodesk/libs/db"
)

// Notification is one delivery attempt, recorded whether or not the send
// succeeded. The table is the operator's answer to "did the client get an
// email about this appointment".
type Notification struct {
	AppointmentID string
	EventType     string
	Recipient     string
	Subject       string
	Status        string // sent | failed
	FailureReason string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, event_type, recipient, subject, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.AppointmentID, n.EventType, n.Recipient, n.Subject, n.Status, n.FailureReason)
	return err
}
