package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bastionauth/bastion/internal/handlers"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAuthService implements AuthServiceInterface with canned results
type MockAuthService struct {
	loginErr   error
	refreshErr error
	logoutErr  error
	loginEmail string
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResponse, error) {
	m.loginEmail = email
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &services.AuthResponse{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		User:         &services.UserResponse{ID: "user-1", Email: email},
	}, nil
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	return m.logoutErr
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return &services.AuthResponse{
		AccessToken:  "new-access-token",
		RefreshToken: "new-refresh-token",
		User:         &services.UserResponse{ID: "user-1"},
	}, nil
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLoginHandler_Success(t *testing.T) {
	service := &MockAuthService{}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Login, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "correct-horse",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp services.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "access-token", resp.AccessToken)
}

func TestLoginHandler_LockedAccountGetsDistinctStatus(t *testing.T) {
	service := &MockAuthService{loginErr: models.ErrAccountLocked}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Login, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "correct-horse",
	})

	assert.Equal(t, http.StatusLocked, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "account_locked", body["error"],
		"lockout rejections must be distinguishable from bad credentials")
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	service := &MockAuthService{loginErr: models.ErrUnauthorized}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Login, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginHandler_StoreUnavailable(t *testing.T) {
	service := &MockAuthService{loginErr: models.ErrStoreUnavailable}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Login, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "correct-horse",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginHandler_ValidationFailures(t *testing.T) {
	handler := handlers.NewAuthHandler(&MockAuthService{})

	cases := []struct {
		name string
		req  handlers.LoginRequest
	}{
		{"missing email", handlers.LoginRequest{Password: "pw"}},
		{"bad email", handlers.LoginRequest{Email: "not-an-email", Password: "pw"}},
		{"missing password", handlers.LoginRequest{Email: "user@example.com"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler.Login, "/auth/login", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLoginHandler_NormalizesEmail(t *testing.T) {
	service := &MockAuthService{}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Login, "/auth/login", handlers.LoginRequest{
		Email:    "User@Example.COM",
		Password: "correct-horse",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", service.loginEmail)
}

func TestRefreshHandler_RevokedToken(t *testing.T) {
	service := &MockAuthService{refreshErr: models.ErrTokenRevoked}
	handler := handlers.NewAuthHandler(service)

	rec := postJSON(t, handler.Refresh, "/auth/refresh", handlers.RefreshRequest{
		RefreshToken: "some-token",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutHandler_RequiresAuthentication(t *testing.T) {
	handler := handlers.NewAuthHandler(&MockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
