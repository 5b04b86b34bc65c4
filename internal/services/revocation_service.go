package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RevocationStore defines the blacklist operations the registry needs
type RevocationStore interface {
	Put(ctx context.Context, jti string, expiresAt time.Time) error
	Exists(ctx context.Context, jti string, now time.Time) (bool, error)
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationMetrics is the narrow metrics capability the registry emits through
type RevocationMetrics interface {
	IncrementRevocations()
}

// RevocationService maintains the blacklist of token identifiers that must be
// rejected before their natural expiry. It is consulted on every
// authenticated request, so reads go straight to the store with no derived
// state to maintain.
type RevocationService struct {
	store   RevocationStore
	metrics RevocationMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewRevocationService(store RevocationStore, metrics RevocationMetrics, logger *slog.Logger) *RevocationService {
	return &RevocationService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Revoke blacklists a token identifier until its natural expiry. Revoking the
// same identifier twice is a no-op. Identifiers that have already expired are
// not stored, since the token verifier rejects them regardless.
func (s *RevocationService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("revoke: token id is empty")
	}
	if !expiresAt.After(s.now()) {
		return nil
	}

	if err := s.store.Put(ctx, jti, expiresAt); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.metrics.IncrementRevocations()
	s.logger.Info("token revoked",
		slog.String("jti", jti),
		slog.Time("expires_at", expiresAt))
	return nil
}

// IsRevoked reports whether a token identifier is currently blacklisted. An
// entry whose stored expiry has passed counts as not revoked.
func (s *RevocationService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.store.Exists(ctx, jti, s.now())
	if err != nil {
		return false, fmt.Errorf("revocation check failed: %w", err)
	}
	return revoked, nil
}

// PurgeExpired drops blacklist entries past their expiry. Purging is an
// optimization only; IsRevoked ignores expired entries regardless.
func (s *RevocationService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.RemoveExpired(ctx, s.now())
}
