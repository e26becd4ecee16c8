// Package store defines the persistent key-value contract for offlinecache backends.
package store

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded is returned (wrapped) when the backend refuses a write for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnavailable is returned (wrapped) when the backend cannot be used at all.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrCorrupt is returned (wrapped) by Get when the stored bytes cannot be
	// decoded by the backend. Deleting the key clears it.
	ErrCorrupt = errors.New("stored value corrupt")
)

// Store is a durable byte-oriented key-value store.
// Values are opaque to the store; encoding is the caller's concern.
// Implementations must be safe for concurrent use. No retries are performed here.
type Store interface {
	// Get returns the stored bytes for key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set replaces the value for key as a whole.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists stored keys starting with prefix. An empty prefix lists everything.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// IsQuotaExceeded reports whether err means the store ran out of space.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsCorrupt reports whether err means the stored value is unreadable garbage.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// IsUnavailable reports whether err means the store cannot be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
