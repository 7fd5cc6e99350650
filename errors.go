package authsession

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is an exported constant or variable used by the session client.
	ErrNotReady = errors.New("session manager not initialized")
	// ErrAuthExpired is an exported constant or variable used by the session client.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrAuthInvalid is an exported constant or variable used by the session client.
	ErrAuthInvalid = errors.New("credentials rejected")
	// ErrRefreshFailed is an exported constant or variable used by the session client.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRefreshToken is an exported constant or variable used by the session client.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrVerificationFailed is an exported constant or variable used by the session client.
	ErrVerificationFailed = errors.New("profile verification rejected")
)

// StorageError reports a persistence failure on a single storage key. It is
// fatal when the key is a freshly issued token during login, and collected
// into a [LogoutReport] when it happens during logout cleanup.
type StorageError struct {
	Key string
	Err error
}

// Error describes the error operation and its observable behavior.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure on key %q: %v", e.Key, e.Err)
}

// Unwrap describes the unwrap operation and its observable behavior.
func (e *StorageError) Unwrap() error {
	return e.Err
}
