package models

import "time"

// LoginLockout tracks consecutive failed login attempts for a single account.
// One record exists per email, created lazily on the first failure.
//
// IsLocked is a cached decision: it is set when the failure counter crosses
// the threshold and stays true until the reclaimer clears it, even after
// LockoutEnd has passed. Every writer must keep the two fields consistent.
type LoginLockout struct {
	Email             string     `db:"email"`
	Attempts          int        `db:"attempts"`
	LastFailedAttempt *time.Time `db:"last_failed_attempt"`
	LockoutEnd        *time.Time `db:"lockout_end"`
	IsLocked          bool       `db:"is_locked"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// JustLocked reports whether the write that produced this record was the one
// that crossed the threshold. The attempt count is the only way to tell a
// fresh transition from a repeat failure against an already-locked account.
func (l *LoginLockout) JustLocked(threshold int) bool {
	return l.IsLocked && l.Attempts == threshold
}
