package deliverylogs

import (
	"context"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Repository handles delivery_logs persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a delivery logs repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create appends one delivery attempt.
func (r *Repository) Create(ctx context.Context, l *models.DeliveryLog) error {
	const q = `INSERT INTO delivery_logs (event_id, attendee_id, recipient_email, status, attempt, object_key, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, l.EventID, l.AttendeeID, l.RecipientEmail, l.Status, l.Attempt, l.ObjectKey, l.ErrorMessage).
		Scan(&l.ID, &l.CreatedAt)
}

// ListByEvent returns delivery logs for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID int64) ([]models.DeliveryLog, error) {
	const q = `SELECT id, event_id, attendee_id, recipient_email, status, attempt, object_key, error_message, created_at
		FROM delivery_logs
		WHERE event_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.DeliveryLog
	for rows.Next() {
		var l models.DeliveryLog
		if err := rows.Scan(&l.ID, &l.EventID, &l.AttendeeID, &l.RecipientEmail, &l.Status, &l.Attempt, &l.ObjectKey, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
