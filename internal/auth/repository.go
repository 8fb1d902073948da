package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
)

// Repository handles operator persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

const operatorColumns = `id, username, email, password_hash, full_name, role, club_id, is_active, created_at, updated_at`

func scanOperator(row pgx.Row) (*models.Operator, error) {
	var o models.Operator
	err := row.Scan(&o.ID, &o.Username, &o.Email, &o.Password, &o.FullName, &o.Role, &o.ClubID, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByID returns an operator by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id = $1`, id))
}

// GetByUsername returns an operator by username or email.
func (r *Repository) GetByUsername(ctx context.Context, login string) (*models.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE username = $1 OR email = $1`, login))
}

// Create inserts a new operator.
func (r *Repository) Create(ctx context.Context, o *models.Operator, passwordHash string) error {
	const q = `INSERT INTO operators (username, email, password_hash, full_name, role, club_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at, updated_at`
	o.Password = passwordHash
	return r.pool.QueryRow(ctx, q, o.Username, o.Email, passwordHash, o.FullName, string(o.Role), o.ClubID).
		Scan(&o.ID, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
}

// ListByClub returns the operators scoped to a club.
func (r *Repository) ListByClub(ctx context.Context, clubID int64) ([]models.Operator, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators WHERE club_id = $1 ORDER BY username`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Operator
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *o)
	}
	return list, rows.Err()
}
