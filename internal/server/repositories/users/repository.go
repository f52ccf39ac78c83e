// Package users declares the account repository and its PostgreSQL implementation.
package users

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
)

type Repository interface {
	// Create stores a new account. A taken username yields common.ErrUserExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetUserByLogin returns common.ErrorNotFound for unknown usernames.
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
}
