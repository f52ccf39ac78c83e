package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a user name and password and creates the account on
// the server. The password is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, userName, password); err != nil {
		return err
	}

	printlnFn("Success!")
	return nil
}

// Login prompts for credentials and opens the sync session of the account.
//
// The online login is tried first. When the server is unavailable it falls
// back to the credentials cached by an earlier online login, so a farm with
// no signal can keep working.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	owner, err := a.auth.OnlineLogin(ctx, userName, password)
	if errors.Is(err, client.ErrUnavailable) {
		a.logger.Info(ctx, "server unavailable, trying offline login")
		owner, err = a.auth.OfflineLogin(ctx, userName, password)
		if err != nil {
			return fmt.Errorf("offline login unsuccessful: %w", err)
		}
		printlnFn("Logged in offline")
	} else if err != nil {
		return fmt.Errorf("login unsuccessful: %w", err)
	} else {
		printlnFn("Login successful")
	}

	if err := a.openSession(ctx, owner); err != nil {
		return err
	}
	a.userName = userName
	return nil
}

// Logout closes the session. Local data and cached credentials stay so the
// next login works offline.
func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	a.closeSession(ctx)
	a.userName = ""
	printlnFn("Logged out")
	return nil
}
