package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRevocations implements RevocationChecker with canned answers
type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s *stubRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[jti], nil
}

func newProtectedHandler(tm *auth.TokenManager, revocations auth.RevocationChecker, cfg auth.RevocationConfig) (http.Handler, *models.TokenClaims) {
	var seen models.TokenClaims
	handler := auth.Middleware(tm, revocations, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := auth.GetUserFromContext(r); claims != nil {
			seen = *claims
		}
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seen
}

func TestMiddleware_AcceptsValidAccessToken(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	handler, seen := newProtectedHandler(tm, &stubRevocations{revoked: map[string]bool{}}, auth.RevocationConfig{})

	tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", seen.UserID)
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	handler, _ := newProtectedHandler(tm, &stubRevocations{}, auth.RevocationConfig{})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsMalformedHeader(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	handler, _ := newProtectedHandler(tm, &stubRevocations{}, auth.RevocationConfig{})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsRefreshTokenForAPIAccess(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	handler, _ := newProtectedHandler(tm, &stubRevocations{}, auth.RevocationConfig{})

	tokenString, err := tm.GenerateRefreshToken("user-1", "user@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsRevokedToken(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)

	tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)

	revocations := &stubRevocations{revoked: map[string]bool{claims.ID: true}}
	handler, _ := newProtectedHandler(tm, revocations, auth.RevocationConfig{})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RevocationCheckFailure(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)

	tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	t.Run("fail closed denies", func(t *testing.T) {
		revocations := &stubRevocations{err: models.ErrStoreUnavailable}
		handler, _ := newProtectedHandler(tm, revocations, auth.RevocationConfig{FailClosed: true})

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("fail open allows", func(t *testing.T) {
		revocations := &stubRevocations{err: models.ErrStoreUnavailable}
		handler, _ := newProtectedHandler(tm, revocations, auth.RevocationConfig{FailClosed: false})

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

// stubUserDirectory implements UserDirectory for role tests
type stubUserDirectory struct {
	users map[string]*models.User
}

func (s *stubUserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func TestRequireRole(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	users := &stubUserDirectory{users: map[string]*models.User{
		"admin-1": {ID: "admin-1", Email: "admin@example.com", Role: "admin"},
		"user-1":  {ID: "user-1", Email: "user@example.com", Role: "user"},
	}}

	handler := auth.Middleware(tm, &stubRevocations{}, auth.RevocationConfig{})(
		auth.RequireRole(users, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	t.Run("admin allowed", func(t *testing.T) {
		tokenString, err := tm.GenerateAccessToken("admin-1", "admin@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/admin/lockouts/reclaim", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/admin/lockouts/reclaim", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
