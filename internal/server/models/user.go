// Package models defines the server-side rows persisted by the repositories.
package models

import "time"

// User is a registered account. Its ID is the owner id of every document the
// account writes.
type User struct {
	ID        string
	UserName  string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
}
