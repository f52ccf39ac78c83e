// Package refreshtokens declares the refresh token repository and its
// PostgreSQL implementation.
package refreshtokens

import (
	"context"

	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and revoking refresh tokens.
type Repository interface {
	// Create stores an issued token.
	Create(ctx context.Context, token *models.RefreshToken) error

	// Find looks up a refresh token by its token string. Absent tokens yield
	// common.ErrorNotFound.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes a token and reports whether it was present, so two
	// concurrent refreshes cannot both consume it.
	Delete(ctx context.Context, token string) (bool, error)
}
