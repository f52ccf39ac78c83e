package models

import "time"

// RefreshToken is an issued refresh token. A token is usable once: refreshing
// deletes it and stores the replacement.
type RefreshToken struct {
	UserID  string
	Token   string
	Expires time.Time
}
