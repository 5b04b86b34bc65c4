package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bastionauth/bastion/internal/models"
	pkglogger "github.com/bastionauth/bastion/pkg/logger"
)

// LockoutStore defines the attempt-store operations the tracker needs
type LockoutStore interface {
	FindByEmail(ctx context.Context, email string) (*models.LoginLockout, error)
	RecordFailure(ctx context.Context, email string, threshold int, lockoutFor time.Duration) (*models.LoginLockout, error)
	ResetAttempts(ctx context.Context, email string) error
}

// LockoutMetrics is the narrow metrics capability the tracker emits through
type LockoutMetrics interface {
	IncrementLockouts()
	IncrementStoreErrors(op string)
}

// LockoutNotifier delivers a security alert when an account transitions to locked
type LockoutNotifier interface {
	SendLockoutAlert(ctx context.Context, email string, until time.Time) error
}

// LockoutConfig holds the lockout policy parameters
type LockoutConfig struct {
	Threshold       int           // failures before an account locks
	LockoutDuration time.Duration // how long a lockout lasts
}

func (c LockoutConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: lockout threshold must be positive, got %d", models.ErrInvalidConfig, c.Threshold)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive, got %s", models.ErrInvalidConfig, c.LockoutDuration)
	}
	return nil
}

// LockoutService tracks failed login outcomes per account and decides when an
// account transitions to locked.
type LockoutService struct {
	store    LockoutStore
	config   LockoutConfig
	metrics  LockoutMetrics
	notifier LockoutNotifier
	logger   *slog.Logger
}

// NewLockoutService creates a new LockoutService. Invalid policy parameters
// are rejected here so misconfiguration fails at startup, not at request time.
func NewLockoutService(store LockoutStore, config LockoutConfig, metrics LockoutMetrics, logger *slog.Logger) (*LockoutService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &LockoutService{
		store:   store,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// SetNotifier enables lockout alert delivery. Call after construction.
func (s *LockoutService) SetNotifier(n LockoutNotifier) {
	s.notifier = n
}

// IsAccountLocked returns the cached lock flag for an email. A missing record
// means the account has no failure history and is not locked. Expired
// lockouts are cleared by the reclaimer, never on this read path, which keeps
// the per-login latency independent of cleanup cost.
func (s *LockoutService) IsAccountLocked(ctx context.Context, email string) (bool, error) {
	rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.metrics.IncrementStoreErrors("is_account_locked")
		return false, fmt.Errorf("lockout lookup failed: %w", err)
	}

	return rec.IsLocked, nil
}

// RecordFailure counts a failed login attempt against an email, creating the
// record on first failure. Crossing the threshold locks the account for the
// configured duration.
func (s *LockoutService) RecordFailure(ctx context.Context, email string) error {
	rec, err := s.store.RecordFailure(ctx, email, s.config.Threshold, s.config.LockoutDuration)
	if err != nil {
		s.metrics.IncrementStoreErrors("record_failure")
		return fmt.Errorf("failed to record login failure: %w", err)
	}

	if rec.JustLocked(s.config.Threshold) {
		s.metrics.IncrementLockouts()
		s.logger.Warn("account locked after repeated failures",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("attempts", rec.Attempts),
			slog.Time("lockout_end", *rec.LockoutEnd))
		s.sendAlert(email, *rec.LockoutEnd)
	}

	return nil
}

// RecordSuccess resets the failure counter for an email. A missing record is
// a no-op. A locked record is left untouched: the login gate checks the lock
// before verifying credentials, so a success against a locked account means
// that ordering was violated upstream, and silently unlocking here would turn
// the caller's bug into a lockout bypass.
//
// The refusal is enforced by the store, whose reset only touches unlocked
// rows. The read below cannot race away the guarantee: a failure that crosses
// the threshold after this read still survives the reset. It exists to skip
// the write for clean records and to log the ordering violation.
func (s *LockoutService) RecordSuccess(ctx context.Context, email string) error {
	rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.metrics.IncrementStoreErrors("record_success")
		return fmt.Errorf("failed to record login success: %w", err)
	}

	if rec.IsLocked {
		s.logger.Warn("successful login reported for locked account, refusing to clear lockout",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil
	}

	if rec.Attempts == 0 {
		return nil
	}

	if err := s.store.ResetAttempts(ctx, email); err != nil {
		s.metrics.IncrementStoreErrors("record_success")
		return fmt.Errorf("failed to reset attempt counter: %w", err)
	}

	return nil
}

// sendAlert dispatches the lockout notification off the login path. Delivery
// failures are logged and dropped; the lockout itself has already committed.
func (s *LockoutService) sendAlert(email string, until time.Time) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.notifier.SendLockoutAlert(ctx, email, until); err != nil {
			s.logger.Error("failed to send lockout alert",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}
