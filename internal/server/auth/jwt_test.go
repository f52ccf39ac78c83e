package auth

import (
	"testing"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	userID := "user-123"

	tok, err := GenerateToken(userID, AccessToken, secret, time.Hour)
	require.NoError(t, err)

	gotUserID, err := GetUserIDFromToken(tok, AccessToken, secret)
	require.NoError(t, err)
	require.Equal(t, userID, gotUserID)
}

func TestGetUserIDFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken("u1", AccessToken, secret, -1*time.Second)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tok, AccessToken, secret)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestGetUserIDFromToken_WrongType(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := GenerateToken("u1", RefreshToken, secret, time.Hour)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tok, AccessToken, secret)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetUserIDFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("u2", AccessToken, []byte("right-secret"), time.Hour)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tok, AccessToken, []byte("wrong-secret"))
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetUserIDFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u3", Type: AccessToken}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tok, AccessToken, []byte("k"))
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetUserIDFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := GetUserIDFromToken("not.a.jwt", AccessToken, []byte("k"))
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGenerateToken_Unique(t *testing.T) {
	t.Parallel()

	a, err := GenerateToken("u1", RefreshToken, []byte("k"), time.Hour)
	require.NoError(t, err)
	b, err := GenerateToken("u1", RefreshToken, []byte("k"), time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
