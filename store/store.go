package store

import (
	"context"
	"errors"
)

// ErrUnavailable is an exported constant or variable used by the session client.
var ErrUnavailable = errors.New("credential store unavailable")

// ErrCorrupt is an exported constant or variable used by the session client.
var ErrCorrupt = errors.New("credential store corrupt")

// Store defines a public type used by authsession APIs.
//
// Store is the capability interface for credential persistence. The session
// client owns three logical slots (access token, refresh token, cached
// profile JSON); implementations are free to hold anything else alongside
// them. All operations are individually fallible: callers decide which
// failures are soft (reads and removes during cleanup) and which are fatal
// (persisting a freshly issued token).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
