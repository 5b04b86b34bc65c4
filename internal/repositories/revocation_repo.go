package repositories

import (
	"context"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RevokedTokenRepository persists the blacklist of revoked token identifiers
type RevokedTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRevokedTokenRepository(db *database.DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{pool: db.Pool}
}

// Put adds a token identifier to the blacklist until expiresAt. Revoking an
// already-revoked token is a no-op.
func (r *RevokedTokenRepository) Put(ctx context.Context, jti string, expiresAt time.Time) error {
	query := `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, jti, expiresAt)
	return database.MapPostgresError(err)
}

// Exists reports whether jti is blacklisted with an expiry after now. Entries
// past their expiry are invisible here; RemoveExpired deletes them later.
func (r *RevokedTokenRepository) Exists(ctx context.Context, jti string, now time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, jti, now).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// RemoveExpired deletes blacklist entries whose expiry has passed. The token
// verifier rejects expired tokens on its own, so this is purely reclaiming
// space.
func (r *RevokedTokenRepository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM revoked_tokens WHERE expires_at <= $1`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
