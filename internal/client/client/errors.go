package client

import "errors"

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrLocalDataNotAvailable means there is nothing cached for an offline login.
var ErrLocalDataNotAvailable = errors.New("local data unavailable")
