package clubs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Repository handles club persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a clubs repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a club.
func (r *Repository) Create(ctx context.Context, club *models.Club) error {
	const q = `INSERT INTO clubs (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, club.Name, club.Description).Scan(&club.ID, &club.CreatedAt)
}

// GetByID returns a club by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Club, error) {
	const q = `SELECT id, name, description, created_at FROM clubs WHERE id = $1`
	var club models.Club
	err := r.pool.QueryRow(ctx, q, id).Scan(&club.ID, &club.Name, &club.Description, &club.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &club, nil
}

// List returns all clubs by name.
func (r *Repository) List(ctx context.Context) ([]models.Club, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at FROM clubs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Club
	for rows.Next() {
		var c models.Club
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
