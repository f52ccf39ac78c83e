// Package cryptox derives and checks argon2id password verifiers. The server
// stores them for accounts and the client caches one for offline login.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize     = 16
	verifierSize = 32
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return salt, nil
}

// DeriveVerifier stretches password with argon2id over salt.
func DeriveVerifier(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, verifierSize)
}

// VerifyPassword reports whether password matches the stored verifier.
func VerifyPassword(password, salt, verifier []byte) bool {
	candidate := DeriveVerifier(password, salt)
	return subtle.ConstantTimeCompare(candidate, verifier) == 1
}
