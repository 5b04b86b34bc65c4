package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")

	// Login-security errors
	ErrAccountLocked    = errors.New("account is temporarily locked")
	ErrTokenRevoked     = errors.New("token has been revoked")
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)
