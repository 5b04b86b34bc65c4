package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bastionauth/bastion/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

// UserContextKey is the key for storing token claims in context
const UserContextKey contextKey = "user"

// RevocationChecker answers whether a token identifier has been revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationConfig holds configuration for revocation-check failures.
// FailClosed denies access when the blacklist cannot be consulted; otherwise
// the request proceeds (invalid and expired tokens are still rejected).
type RevocationConfig struct {
	FailClosed bool
}

// Middleware validates bearer tokens and rejects revoked ones. Claims for
// accepted tokens are injected into the request context.
func Middleware(tm *TokenManager, revocations RevocationChecker, cfg RevocationConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Refresh tokens are only accepted by the refresh endpoint
			if claims.Type != "access" {
				http.Error(w, "token type not valid for API access", http.StatusUnauthorized)
				return
			}

			if claims.ID != "" {
				revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
				if err != nil && cfg.FailClosed {
					http.Error(w, "unable to verify token status", http.StatusServiceUnavailable)
					return
				}
				if revoked {
					http.Error(w, "token has been revoked", http.StatusUnauthorized)
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserDirectory is the slice of the user directory the role check needs
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RequireRole enforces role-based access. Must run after Middleware.
func RequireRole(users UserDirectory, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					http.Error(w, "user not found", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if user.Role != role {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts token claims from the request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
