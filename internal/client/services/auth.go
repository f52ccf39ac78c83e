// Package services contains the application services of the farm client.
// This file defines the authentication service: online and offline login,
// register, liveness probe and the cached offline credentials.
package services

import (
	"context"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/repositories/metadata"
	"github.com/Masparrito/lactokeeper-sub001/internal/cryptox"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server, cache offline credentials
//     and return the owner id.
//   - OfflineLogin: verify the password against the cached credentials.
//   - Register: create a new user on the server.
//   - Ping: check server liveness.
//   - Close: release underlying client resources.
//   - ForgetAccount: drop the cached credentials of a user.
type AuthService interface {
	OnlineLogin(ctx context.Context, username string, password []byte) (string, error)
	OfflineLogin(ctx context.Context, username string, password []byte) (string, error)
	Register(ctx context.Context, username string, password []byte) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	ForgetAccount(ctx context.Context, username string) error
}

type authService struct {
	client   client.Client
	accounts metadata.Repository
}

// NewAuthService binds the API client and the metadata table holding the
// cached credentials.
func NewAuthService(c client.Client, accounts metadata.Repository) AuthService {
	return &authService{client: c, accounts: accounts}
}

func accountKey(username, field string) string {
	return "account:" + username + ":" + field
}

func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) (string, error) {
	owner, err := a.client.Login(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("login error: %w", err)
	}
	if err := a.saveOfflineData(ctx, username, owner, password); err != nil {
		return "", fmt.Errorf("offline data saving error: %w", err)
	}
	return owner, nil
}

func (a *authService) saveOfflineData(ctx context.Context, username, owner string, password []byte) error {
	salt, err := cryptox.NewSalt()
	if err != nil {
		return err
	}
	values := map[string][]byte{
		accountKey(username, "owner"):    []byte(owner),
		accountKey(username, "salt"):     salt,
		accountKey(username, "verifier"): cryptox.DeriveVerifier(password, salt),
	}
	for k, v := range values {
		if err := a.accounts.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// OfflineLogin returns client.ErrLocalDataNotAvailable when the user never
// logged in online on this device and client.ErrUnauthorized on a bad password.
func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) (string, error) {
	var fields [3][]byte
	for i, f := range []string{"owner", "salt", "verifier"} {
		v, err := a.accounts.Get(ctx, accountKey(username, f))
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", client.ErrLocalDataNotAvailable
		}
		fields[i] = v
	}
	if !cryptox.VerifyPassword(password, fields[1], fields[2]) {
		return "", client.ErrUnauthorized
	}
	return string(fields[0]), nil
}

func (a *authService) Register(ctx context.Context, username string, password []byte) error {
	return a.client.Register(ctx, username, password)
}

func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

func (a *authService) ForgetAccount(ctx context.Context, username string) error {
	for _, f := range []string{"owner", "salt", "verifier"} {
		if err := a.accounts.Delete(ctx, accountKey(username, f)); err != nil {
			return err
		}
	}
	return nil
}
