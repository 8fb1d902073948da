package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/utils"
)

// EnsureAdmin creates the bootstrap admin operator when it does not exist yet.
func EnsureAdmin(ctx context.Context, repo *Repository, username, password, email string, logger *zap.Logger) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := repo.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if email == "" {
		email = username + "@localhost"
	}
	op := &models.Operator{Username: username, Email: email, FullName: "Administrator", Role: models.RoleAdmin}
	if err := repo.Create(ctx, op, hash); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("bootstrap admin created", zap.String("username", username), zap.Int64("operator_id", op.ID))
	return nil
}
