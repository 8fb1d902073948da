package attendees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Locked is an attendee row held under the exclusive admission lock. Changes
// made through it become visible only when the surrounding lock commits.
type Locked interface {
	Snapshot() models.Attendee
	MarkAdmitted(ctx context.Context, at time.Time, operatorID int64) error
}

// Querier is satisfied by both the pool and a pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles attendee persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an attendees repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, event_id, name, email, roll_number, branch, year, section, phone, gender,
	token, token_issued, token_issued_at, delivered, delivered_at, delivery_error,
	admitted, admitted_at, admitted_by, created_at, updated_at`

const selectAttendee = `SELECT ` + columns + ` FROM attendees`

func scan(row pgx.Row) (*models.Attendee, error) {
	var a models.Attendee
	var token *string
	err := row.Scan(&a.ID, &a.EventID, &a.Name, &a.Email, &a.RollNumber, &a.Branch, &a.Year, &a.Section, &a.Phone, &a.Gender,
		&token, &a.TokenIssued, &a.TokenIssuedAt, &a.Delivered, &a.DeliveredAt, &a.DeliveryError,
		&a.Admitted, &a.AdmittedAt, &a.AdmittedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if token != nil {
		a.Token = *token
	}
	return &a, nil
}

// GetByID returns an attendee by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Attendee, error) {
	return scan(r.pool.QueryRow(ctx, selectAttendee+` WHERE id = $1`, id))
}

// ListByEvent returns all attendees of an event ordered by branch, year, section, roll.
func (r *Repository) ListByEvent(ctx context.Context, eventID int64) ([]models.Attendee, error) {
	return r.list(ctx, selectAttendee+` WHERE event_id = $1 ORDER BY branch, year, section, roll_number`, eventID)
}

// ListPendingDelivery returns attendees that still lack a token or a delivered code.
func (r *Repository) ListPendingDelivery(ctx context.Context, eventID int64) ([]models.Attendee, error) {
	return r.list(ctx, selectAttendee+` WHERE event_id = $1 AND (NOT token_issued OR NOT delivered) ORDER BY id`, eventID)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Attendee, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attendee
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// FindByEmailOrRoll returns the first attendee of the event whose email or roll
// number matches. Either identifier alone is treated as the same person.
func FindByEmailOrRoll(ctx context.Context, q Querier, eventID int64, email, roll string) (*models.Attendee, error) {
	return scan(q.QueryRow(ctx, selectAttendee+`
		WHERE event_id = $1 AND ((email <> '' AND email = $2) OR roll_number = $3)
		ORDER BY id LIMIT 1`, eventID, email, roll))
}

// Insert creates an attendee row and fills generated columns.
func Insert(ctx context.Context, q Querier, a *models.Attendee) error {
	const stmt = `INSERT INTO attendees (event_id, name, email, roll_number, branch, year, section, phone, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return q.QueryRow(ctx, stmt, a.EventID, a.Name, a.Email, a.RollNumber, a.Branch, a.Year, a.Section, a.Phone, a.Gender).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Create inserts an attendee.
func (r *Repository) Create(ctx context.Context, a *models.Attendee) error {
	return Insert(ctx, r.pool, a)
}

// SaveToken stores an issued token and marks it issued.
func (r *Repository) SaveToken(ctx context.Context, id int64, token string, at time.Time) error {
	const q = `UPDATE attendees SET token = $2, token_issued = TRUE, token_issued_at = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, token, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordDelivery stores the outcome of a delivery attempt. A nil cause marks
// the code delivered and clears the last error.
func (r *Repository) RecordDelivery(ctx context.Context, id int64, at time.Time, cause error) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if cause == nil {
		tag, err = r.pool.Exec(ctx, `UPDATE attendees SET delivered = TRUE, delivered_at = $2, delivery_error = NULL, updated_at = NOW() WHERE id = $1`, id, at)
	} else {
		tag, err = r.pool.Exec(ctx, `UPDATE attendees SET delivery_error = $2, updated_at = NOW() WHERE id = $1`, id, cause.Error())
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// WithAdmissionLock runs fn while holding a row lock on the attendee. The lock
// spans the read-check-write sequence and is released when the transaction
// ends: committed when fn returns nil, rolled back otherwise.
func (r *Repository) WithAdmissionLock(ctx context.Context, id int64, fn func(Locked) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scan(tx.QueryRow(ctx, selectAttendee+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if err := fn(&lockedRow{tx: tx, a: *a}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type lockedRow struct {
	tx pgx.Tx
	a  models.Attendee
}

func (l *lockedRow) Snapshot() models.Attendee { return l.a }

// MarkAdmitted stamps the admission and keeps the timestamp as stored, so the
// success reply and every later already-admitted reply carry the same value.
func (l *lockedRow) MarkAdmitted(ctx context.Context, at time.Time, operatorID int64) error {
	const q = `UPDATE attendees SET admitted = TRUE, admitted_at = $2, admitted_by = $3, updated_at = NOW()
		WHERE id = $1 AND NOT admitted
		RETURNING admitted_at`
	var stored time.Time
	err := l.tx.QueryRow(ctx, q, l.a.ID, at, operatorID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("attendee %d: admission update matched no row", l.a.ID)
	}
	if err != nil {
		return err
	}
	l.a.Admitted = true
	l.a.AdmittedAt = &stored
	l.a.AdmittedBy = &operatorID
	return nil
}
