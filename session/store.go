package session

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a key.
const MaxKeyLength = 512

// Sentinel errors for store operations.
var (
	ErrNotFound   = errors.New("session: key not found")
	ErrInvalidKey = errors.New("session: key is invalid")
	ErrKeyTooLong = errors.New("session: key exceeds max length")
	ErrNilClient  = errors.New("session: redis client is nil")
)

// Store is session-scoped key-value storage.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods honor cancellation where the backend does I/O.
// - Errors: Get returns ErrNotFound on a miss or an expired entry.
// - Clear removes every key of the session, not only authentication data.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Idempotent.
	Delete(ctx context.Context, key string) error

	// Keys lists the live keys in the session, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key in the session.
	Clear(ctx context.Context) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateKey checks if a key is usable.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r*?[]") {
		return ErrInvalidKey
	}
	return nil
}
