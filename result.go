package offlinecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
)

var (
	// ErrCorruptEntry marks a stored value that could not be decoded.
	ErrCorruptEntry = errors.New("corrupt cache entry")

	// ErrEntryTooLarge marks a value over the single-entry size ceiling.
	ErrEntryTooLarge = errors.New("cache entry too large")

	// ErrInvalidKey marks a key no backend can hold.
	ErrInvalidKey = errors.New("invalid cache key")
)

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindUnavailable
	KindQuotaExceeded
	KindCorruptEntry
	KindTooLarge
	KindInvalidKey
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindCorruptEntry:
		return "corrupt_entry"
	case KindTooLarge:
		return "too_large"
	case KindInvalidKey:
		return "invalid_key"
	default:
		return "io"
	}
}

// StorageError describes a cache operation that could not touch storage.
// It is informational: the cache has already recovered.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageError wraps err, deriving the kind from its chain.
func storageError(op, key string, err error) *StorageError {
	kind := KindIO
	switch {
	case errors.Is(err, store.ErrUnavailable):
		kind = KindUnavailable
	case errors.Is(err, store.ErrQuotaExceeded):
		kind = KindQuotaExceeded
	case errors.Is(err, ErrCorruptEntry), errors.Is(err, store.ErrCorrupt):
		kind = KindCorruptEntry
	case errors.Is(err, ErrEntryTooLarge):
		kind = KindTooLarge
	case errors.Is(err, ErrInvalidKey):
		kind = KindInvalidKey
	}
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

// Outcome is the tag of a Result.
type Outcome int

const (
	Hit Outcome = iota
	Miss
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	default:
		return "failed"
	}
}

// Result is the outcome of a raw cache read: a hit carrying a value,
// a miss, or a storage failure. Callers pick UI messaging from Outcome.
type Result[T any] struct {
	Outcome  Outcome
	Err      *StorageError // set when Outcome is Failed
	StoredAt time.Time     // set on Hit

	value T
}

// Value returns the cached value and whether there was one.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.Outcome == Hit
}

func hit[T any](v T, storedAt time.Time) Result[T] {
	return Result[T]{Outcome: Hit, value: v, StoredAt: storedAt}
}

func miss[T any]() Result[T] {
	return Result[T]{Outcome: Miss}
}

func failed[T any](err *StorageError) Result[T] {
	return Result[T]{Outcome: Failed, Err: err}
}

// LoadResult is a staleness-aware read.
// Data is nil when nothing is cached; IsStale is then false.
type LoadResult[T any] struct {
	Data         *T
	Timestamp    *time.Time
	IsStale      bool
	AgeInHours   float64
	RelativeTime string
	Err          *StorageError // informational; Data is nil when set
}
