// Package memory provides a map-backed offlinecache store with an optional byte quota.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
)

// Store keeps values in process memory. It does not survive restarts and
// exists for tests and for hosts without durable storage.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int64
	quota int64 // 0 = unlimited
}

// Option configures a Store.
type Option func(*Store)

// WithQuota caps the total bytes held. Writes that would exceed it fail with store.ErrQuotaExceeded.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// New creates an empty memory store.
func New(opts ...Option) *Store {
	s := &Store{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(value)) - int64(len(s.data[key]))
	if s.quota > 0 && s.used+delta > s.quota {
		return fmt.Errorf("set %q (%d bytes, %d/%d used): %w", key, len(value), s.used, s.quota, store.ErrQuotaExceeded)
	}
	s.data[key] = append([]byte(nil), value...)
	s.used += delta
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= int64(len(s.data[key]))
	delete(s.data, key)
	return nil
}

// Keys returns matching keys in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the bytes currently held.
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Close is a no-op.
func (*Store) Close() error {
	return nil
}
