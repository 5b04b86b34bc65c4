package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
)

// LockoutRepository handles database operations for per-account lockout records
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const lockoutColumns = `email, attempts, last_failed_attempt, lockout_end, is_locked, created_at, updated_at`

func scanLockoutRow(scanner interface{ Scan(dest ...any) error }) (*models.LoginLockout, error) {
	var rec models.LoginLockout
	err := scanner.Scan(
		&rec.Email, &rec.Attempts, &rec.LastFailedAttempt,
		&rec.LockoutEnd, &rec.IsLocked, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

// FindByEmail returns the lockout record for an email, or ErrNotFound if the
// account has no failure history.
func (r *LockoutRepository) FindByEmail(ctx context.Context, email string) (*models.LoginLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM login_lockouts WHERE email = $1`

	return scanLockoutRow(r.db.Pool.QueryRow(ctx, query, email))
}

// RecordFailure increments the failure counter for an email, creating the
// record on first failure. The increment, the threshold comparison and the
// lockout transition all happen in a single statement, so concurrent failures
// for the same email are never lost and exactly one write performs the
// transition. A row that is already locked keeps its lockout_end.
func (r *LockoutRepository) RecordFailure(ctx context.Context, email string, threshold int, lockoutFor time.Duration) (*models.LoginLockout, error) {
	query := `
		INSERT INTO login_lockouts (email, attempts, last_failed_attempt, is_locked, lockout_end)
		VALUES ($1, 1, NOW(), $2 <= 1, CASE WHEN $2 <= 1 THEN NOW() + make_interval(secs => $3) END)
		ON CONFLICT (email) DO UPDATE SET
			attempts = login_lockouts.attempts + 1,
			last_failed_attempt = NOW(),
			is_locked = login_lockouts.is_locked OR login_lockouts.attempts + 1 >= $2,
			lockout_end = CASE
				WHEN NOT login_lockouts.is_locked AND login_lockouts.attempts + 1 >= $2
					THEN NOW() + make_interval(secs => $3)
				ELSE login_lockouts.lockout_end
			END,
			updated_at = NOW()
		RETURNING ` + lockoutColumns

	rec, err := scanLockoutRow(r.db.Pool.QueryRow(ctx, query, email, threshold, lockoutFor.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return rec, nil
}

// ResetAttempts clears the counter for an email after a successful login. The
// write is conditional on the row not being locked: a success that raced a
// threshold-crossing failure for the same email must not wipe the fresh
// lockout. A missing or locked record is a no-op.
func (r *LockoutRepository) ResetAttempts(ctx context.Context, email string) error {
	query := `
		UPDATE login_lockouts
		SET attempts = 0, last_failed_attempt = NULL, lockout_end = NULL, updated_at = NOW()
		WHERE email = $1 AND NOT is_locked
	`

	_, err := r.db.Pool.Exec(ctx, query, email)
	return database.MapPostgresError(err)
}

// FindExpiredLockouts returns all locked records whose lockout window has
// elapsed as of now.
func (r *LockoutRepository) FindExpiredLockouts(ctx context.Context, now time.Time) ([]models.LoginLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM login_lockouts WHERE is_locked AND lockout_end <= $1`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	records := make([]models.LoginLockout, 0)
	for rows.Next() {
		rec, err := scanLockoutRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return records, nil
}

// ReclaimExpired resets a single record back to the unlocked baseline, but
// only if its lockout window has elapsed as of now. The condition is applied
// in-row so a lockout refreshed between the reclaimer's scan and this write
// is left untouched. Returns whether a row was reclaimed.
func (r *LockoutRepository) ReclaimExpired(ctx context.Context, email string, now time.Time) (bool, error) {
	query := `
		UPDATE login_lockouts
		SET attempts = 0, last_failed_attempt = NULL, is_locked = FALSE, lockout_end = NULL, updated_at = NOW()
		WHERE email = $1 AND is_locked AND lockout_end <= $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, email, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}
