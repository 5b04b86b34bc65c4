package repositories

import (
	"context"
	"sync"
	"time"
)

// MemoryRevokedTokenStore is an in-process revocation blacklist with the same
// contract as RevokedTokenRepository. Suitable for single-instance deployments
// where revocations do not need to survive a restart (a restart invalidates
// the signing state anyway when secrets are rotated), and for tests.
//
// Reads dominate writes here: every authenticated request checks the
// blacklist, while writes only happen at logout.
type MemoryRevokedTokenStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryRevokedTokenStore() *MemoryRevokedTokenStore {
	return &MemoryRevokedTokenStore{
		entries: make(map[string]time.Time),
	}
}

// Put records jti as revoked until expiresAt. Re-revoking keeps the later
// expiry so an entry never shrinks below a token's validity window.
func (s *MemoryRevokedTokenStore) Put(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[jti]; ok && existing.After(expiresAt) {
		return nil
	}
	s.entries[jti] = expiresAt
	return nil
}

// Exists reports whether jti is blacklisted with an expiry after now.
// Expired entries are purged lazily on read.
func (s *MemoryRevokedTokenStore) Exists(_ context.Context, jti string, now time.Time) (bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.entries[jti]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if expiresAt.After(now) {
		return true, nil
	}

	// The entry is stale; drop it under the write lock, re-checking in case
	// a concurrent Put extended it.
	s.mu.Lock()
	if current, ok := s.entries[jti]; ok && !current.After(now) {
		delete(s.entries, jti)
	}
	s.mu.Unlock()

	return false, nil
}

// RemoveExpired deletes all entries whose expiry has passed.
func (s *MemoryRevokedTokenStore) RemoveExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for jti, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live entries, expired or not.
func (s *MemoryRevokedTokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
