package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Provisioned is the outcome of Provision.
type Provisioned struct {
	// PaymentCreated is false when another writer inserted the same external id
	// first; nothing was written and the caller should take the update path.
	PaymentCreated  bool
	Payment         *models.Payment
	Attendee        *models.Attendee
	AttendeeCreated bool
}

// Repository handles payment persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a payments repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, external_id, order_id, event_id, attendee_id, amount, currency, status,
	customer_name, customer_email, customer_phone, metadata, captured_at, created_at, updated_at`

func scan(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.ExternalID, &p.OrderID, &p.EventID, &p.AttendeeID, &p.Amount, &p.Currency, &p.Status,
		&p.CustomerName, &p.CustomerEmail, &p.CustomerPhone, &p.Metadata, &p.CapturedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID returns a payment by internal ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE id = $1`, id))
}

// GetByExternalID returns the payment for a gateway payment id.
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE external_id = $1`, externalID))
}

// ListByEvent returns the payments of an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID int64) ([]models.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM payments WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Payment
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Update writes the mutable fields of an existing payment. Metadata, event and
// attendee links are fixed at creation.
func (r *Repository) Update(ctx context.Context, p *models.Payment) error {
	const q = `UPDATE payments SET order_id = $2, amount = $3, currency = $4, status = $5,
		customer_name = $6, customer_email = $7, customer_phone = $8, captured_at = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, p.ID, p.OrderID, p.Amount, p.Currency, p.Status,
		p.CustomerName, p.CustomerEmail, p.CustomerPhone, p.CapturedAt).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

// Provision inserts a first-seen payment and, when candidate is non-nil, links
// it to an attendee of the same event: an existing one matching by email or
// roll number, or candidate itself inserted as new. Everything happens in one
// transaction so a failure leaves no partial rows behind.
func (r *Repository) Provision(ctx context.Context, p *models.Payment, candidate *models.Attendee) (*Provisioned, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	metadata := p.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	const insertPayment = `INSERT INTO payments (external_id, order_id, event_id, amount, currency, status,
			customer_name, customer_email, customer_phone, metadata, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at, updated_at`
	err = tx.QueryRow(ctx, insertPayment, p.ExternalID, p.OrderID, p.EventID, p.Amount, p.Currency, p.Status,
		p.CustomerName, p.CustomerEmail, p.CustomerPhone, metadata, p.CapturedAt).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Provisioned{PaymentCreated: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	out := &Provisioned{PaymentCreated: true, Payment: p}

	if candidate != nil {
		existing, err := attendees.FindByEmailOrRoll(ctx, tx, candidate.EventID, candidate.Email, candidate.RollNumber)
		switch {
		case err == nil:
			out.Attendee = existing
		case errors.Is(err, models.ErrNotFound):
			if err := attendees.Insert(ctx, tx, candidate); err != nil {
				return nil, fmt.Errorf("insert attendee: %w", err)
			}
			out.Attendee = candidate
			out.AttendeeCreated = true
		default:
			return nil, fmt.Errorf("match attendee: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE payments SET attendee_id = $2 WHERE id = $1`, p.ID, out.Attendee.ID); err != nil {
			return nil, fmt.Errorf("link attendee: %w", err)
		}
		id := out.Attendee.ID
		p.AttendeeID = &id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}
