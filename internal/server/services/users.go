// Package services implements the sync server's use cases on top of the
// repository store: account registration and token issuing, and owner-scoped
// document writes that feed the change broker.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/cryptox"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/auth"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/config"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	OwnerID      string
}

type UserService struct {
	store                        repomanager.Store
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

func NewUserService(store repomanager.Store, cfg *config.Config) *UserService {
	return &UserService{
		store:                        store,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

func (s *UserService) Register(ctx context.Context, username string, password []byte) (*models.User, error) {
	if username == "" || len(password) == 0 {
		return nil, fmt.Errorf("%w: username and password required", common.ErrInvalidInput)
	}

	salt, err := cryptox.NewSalt()
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		ID:       uuid.NewString(),
		UserName: username,
		Salt:     salt,
		Verifier: cryptox.DeriveVerifier(password, salt),
	}

	user, err = s.store.Users().Create(ctx, user)
	if errors.Is(err, common.ErrUserExists) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

func (s *UserService) Login(ctx context.Context, userName string, password []byte) (*TokenPair, error) {
	user, err := s.store.Users().GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if !cryptox.VerifyPassword(password, user.Salt, user.Verifier) {
		return nil, common.ErrorUnauthorized
	}

	var pair *TokenPair
	err = s.store.InTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		pair, err = s.generateTokenPair(ctx, repos, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// RefreshToken exchanges a refresh token for a new pair. Each refresh token
// is accepted once.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := auth.GetUserIDFromToken(refreshToken, auth.RefreshToken, s.jwtSecret)
	if errors.Is(err, common.ErrTokenExpired) {
		return nil, common.ErrRefreshTokenExpired
	}
	if err != nil {
		return nil, err
	}

	var pair *TokenPair
	err = s.store.InTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		token, err := repos.RefreshTokens().Find(ctx, refreshToken)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("error searching refresh token: %w", err)
		}
		if token.UserID != userID {
			return common.ErrInvalidToken
		}
		if token.Expires.Before(s.now()) {
			return common.ErrRefreshTokenExpired
		}

		consumed, err := repos.RefreshTokens().Delete(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		if !consumed {
			return common.ErrInvalidToken
		}

		pair, err = s.generateTokenPair(ctx, repos, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Authenticate returns the owner id carried by a valid access token.
func (s *UserService) Authenticate(accessToken string) (string, error) {
	return auth.GetUserIDFromToken(accessToken, auth.AccessToken, s.jwtSecret)
}

func (s *UserService) generateTokenPair(ctx context.Context, repos repomanager.Repositories, userID string) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, auth.AccessToken, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := auth.GenerateToken(userID, auth.RefreshToken, s.jwtSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	err = repos.RefreshTokens().Create(ctx, &models.RefreshToken{
		UserID:  userID,
		Token:   refreshToken,
		Expires: s.now().Add(s.refreshTokenValidityDuration),
	})
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, OwnerID: userID}, nil
}
