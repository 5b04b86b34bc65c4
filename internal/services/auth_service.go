package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	pkgauth "github.com/bastionauth/bastion/pkg/auth"
	pkglogger "github.com/bastionauth/bastion/pkg/logger"
)

// UserDirectory defines the user-directory contract the gate authenticates against
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMetrics is the narrow metrics capability the gate emits through
type AuthMetrics interface {
	IncrementLoginOutcome(result string)
}

// FailMode controls how the login gate treats attempt-store errors during the
// lockout check. FailModeAllow is the recommended policy: never block logins
// on a store blip, but log loudly and count the error. FailModeDeny rejects
// the login with a retryable failure instead.
type FailMode string

const (
	FailModeAllow FailMode = "allow"
	FailModeDeny  FailMode = "deny"
)

// AuthService is the authentication gate. It owns the check-before-record
// ordering: the lockout check runs before any credential work, and outcomes
// are reported to the tracker only for attempts that passed the check.
type AuthService struct {
	users       UserDirectory
	lockouts    *LockoutService
	revocations *RevocationService
	tm          *auth.TokenManager
	metrics     AuthMetrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	failMode    FailMode
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserDirectory,
	lockouts *LockoutService,
	revocations *RevocationService,
	tm *auth.TokenManager,
	metrics AuthMetrics,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	failMode FailMode,
) *AuthService {
	return &AuthService{
		users:       users,
		lockouts:    lockouts,
		revocations: revocations,
		tm:          tm,
		metrics:     metrics,
		logger:      logger,
		auditLogger: auditLogger,
		failMode:    failMode,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// Login authenticates a user and returns a token pair.
//
// Ordering is load-bearing: a locked account is rejected before its
// credentials are evaluated, so a correct password can never reach
// RecordSuccess and clear an active lockout.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email = strings.ToLower(strings.TrimSpace(email)); email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	locked, err := s.lockouts.IsAccountLocked(ctx, email)
	if err != nil {
		s.logger.Error("lockout check failed",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("fail_mode", string(s.failMode)),
			slog.Any("error", err))
		if s.failMode == FailModeDeny {
			s.metrics.IncrementLoginOutcome("store_error")
			return nil, models.ErrStoreUnavailable
		}
		// FailModeAllow: proceed as not locked; the error is already counted
		// and logged above.
	}

	if locked {
		s.metrics.IncrementLoginOutcome("locked")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_rejected",
			Email:         email,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown accounts accrue failures too, so probing an email
			// behaves the same whether or not it exists.
			s.recordFailure(ctx, email, "invalid_credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		s.metrics.IncrementLoginOutcome("store_error")
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.recordFailure(ctx, email, "invalid_credentials")
		return nil, models.ErrUnauthorized
	}

	if err := s.lockouts.RecordSuccess(ctx, email); err != nil {
		// The login itself is valid; a stale counter is corrected on the
		// next successful reset or by the reclaimer after a lockout.
		s.logger.Error("failed to reset attempt counter",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.metrics.IncrementLoginOutcome("success")
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		Email:     email,
		UserID:    user.ID,
		Success:   true,
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User: &UserResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  user.Role,
		},
	}, nil
}

// recordFailure reports a failed attempt to the tracker. Store errors are
// logged but never mask the credential outcome returned to the caller.
func (s *AuthService) recordFailure(ctx context.Context, email, reason string) {
	s.metrics.IncrementLoginOutcome("invalid_credentials")
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		Email:         email,
		FailureReason: reason,
		Success:       false,
	})

	if err := s.lockouts.RecordFailure(ctx, email); err != nil {
		s.logger.Error("failed to record login failure",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}
}

// Logout revokes the presented access token, and the refresh token if one is
// supplied, until their natural expiry.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshTokenString string) error {
	if claims.ID != "" && claims.ExpiresAt != nil {
		if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			s.logger.Error("failed to revoke access token", slog.String("user_id", claims.UserID), slog.Any("error", err))
			return models.ErrStoreUnavailable
		}
	}

	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString != "" {
		refreshClaims, err := s.tm.ValidateToken(refreshTokenString)
		if err != nil || refreshClaims.Type != "refresh" {
			// An unparseable refresh token cannot authenticate anything, so
			// there is nothing to revoke.
			s.logger.Info("logout received invalid refresh token", slog.String("user_id", claims.UserID))
		} else if refreshClaims.ID != "" && refreshClaims.ExpiresAt != nil {
			if err := s.revocations.Revoke(ctx, refreshClaims.ID, refreshClaims.ExpiresAt.Time); err != nil {
				s.logger.Error("failed to revoke refresh token", slog.String("user_id", claims.UserID), slog.Any("error", err))
				return models.ErrStoreUnavailable
			}
		}
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    claims.UserID,
		Success:   true,
	})

	return nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new token pair.
// The old refresh token is revoked as part of the exchange, so each refresh
// token is single-use.
func (s *AuthService) Refresh(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		// Minting fresh credentials fails closed: without a revocation
		// answer the old token cannot be trusted.
		s.logger.Error("revocation check failed during refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}
	if revoked {
		s.metrics.IncrementLoginOutcome("revoked")
		return nil, models.ErrTokenRevoked
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if claims.ExpiresAt != nil {
		if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			s.logger.Error("failed to revoke rotated refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrStoreUnavailable
		}
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User: &UserResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  user.Role,
		},
	}, nil
}
