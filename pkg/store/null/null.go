// Package null provides a store that is never available.
// It stands in for environments where durable storage is blocked, so the
// cache runs in always-live-fetch mode.
package null

import (
	"context"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
)

// Store rejects every operation with store.ErrUnavailable.
type Store struct{}

// New returns an unavailable store.
func New() Store { return Store{} }

func (Store) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, store.ErrUnavailable
}

func (Store) Set(context.Context, string, []byte) error      { return store.ErrUnavailable }
func (Store) Delete(context.Context, string) error           { return store.ErrUnavailable }
func (Store) Keys(context.Context, string) ([]string, error) { return nil, store.ErrUnavailable }
func (Store) Close() error                                   { return nil }
