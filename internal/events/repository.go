package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Repository handles event persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, club_id, name, description, date, venue, created_by, created_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.ClubID, &e.Name, &e.Description, &e.Date, &e.Venue, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// ListForActor returns the events the actor may operate on, newest first.
func (r *Repository) ListForActor(ctx context.Context, actor models.Actor) ([]models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events`
	var args []interface{}
	if actor.Role != models.RoleAdmin {
		if actor.ClubID == nil {
			return nil, nil
		}
		q += ` WHERE club_id = $1`
		args = append(args, *actor.ClubID)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY date DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Create inserts an event.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (club_id, name, description, date, venue, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.ClubID, e.Name, e.Description, e.Date, e.Venue, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}
