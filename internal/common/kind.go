package common

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind names double as SQLite table suffixes on the client and as document
// collection keys on the server.
var kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ErrInvalidKind is returned for entity kind names outside kindPattern.
var ErrInvalidKind = errors.New("invalid entity kind")

// ValidateKind checks that kind is a lowercase identifier of at most 63 chars.
func ValidateKind(kind string) error {
	if !kindPattern.MatchString(kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}
