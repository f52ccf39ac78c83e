// Package common defines sentinel errors and constants shared by the client
// sync core and the sync server. Callers match errors with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrOwnershipConflict is returned when a document id is already held by
	// another owner. Tenants never overwrite each other's documents.
	ErrOwnershipConflict = errors.New("document owned by another tenant")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrUserExists     = errors.New("user already exists")
	ErrInvalidInput   = errors.New("invalid input")

	// Token errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
