// Package datastore provides Google Cloud Datastore persistence for offlinecache.
package datastore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ds "github.com/codeGROOVE-dev/ds9/pkg/datastore"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
)

const datastoreKind = "CacheEntry"

// Store implements persistence using Google Cloud Datastore.
type Store struct {
	client     *ds.Client
	kind       string
	compressor compress.Compressor
	ext        string
}

// entry represents a cache entry in Datastore.
// We use base64-encoded string for Value to avoid datastore []byte limitations.
// The key is stored in the Datastore entity key itself.
type entry struct {
	UpdatedAt time.Time `datastore:"updated_at"`
	Value     string    `datastore:"value,noindex"`
}

// New creates a new Datastore-based store.
// The cacheID is used as the Datastore database name.
// Optional compressor enables compression (default: no compression).
func New(ctx context.Context, cacheID string, c ...compress.Compressor) (*Store, error) {
	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}

	client, err := ds.NewClientWithDatabase(ctx, "", cacheID)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w: %w", err, store.ErrUnavailable)
	}

	return newWithClient(client, comp), nil
}

func newWithClient(client *ds.Client, comp compress.Compressor) *Store {
	return &Store{
		client:     client,
		kind:       datastoreKind,
		compressor: comp,
		ext:        comp.Extension(),
	}
}

// Location returns the Datastore key path for a given cache key.
// Format: "kind/key" (e.g., "CacheEntry/mykey").
func (s *Store) Location(key string) string {
	return s.kind + "/" + key + s.ext
}

// makeKey creates a Datastore key from a cache key, with extension suffix.
func (s *Store) makeKey(key string) *ds.Key {
	return ds.NameKey(s.kind, key+s.ext, nil)
}

// Get retrieves a value from Datastore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e entry
	if err := s.client.Get(ctx, s.makeKey(key), &e); err != nil {
		if errors.Is(err, ds.ErrNoSuchEntity) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("datastore get: %w", err)
	}

	b, err := base64.StdEncoding.DecodeString(e.Value)
	if err != nil {
		return nil, false, fmt.Errorf("decode base64: %w: %w", store.ErrCorrupt, err)
	}
	v, err := s.compressor.Decode(b)
	if err != nil {
		return nil, false, fmt.Errorf("decompress: %w: %w", store.ErrCorrupt, err)
	}
	return v, true, nil
}

// Set saves a value to Datastore.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.compressor.Encode(value)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	e := entry{
		Value:     base64.StdEncoding.EncodeToString(data),
		UpdatedAt: time.Now(),
	}
	if _, err := s.client.Put(ctx, s.makeKey(key), &e); err != nil {
		return fmt.Errorf("datastore put: %w", err)
	}
	return nil
}

// Delete removes a value from Datastore.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, s.makeKey(key)); err != nil {
		return fmt.Errorf("datastore delete: %w", err)
	}
	return nil
}

// Keys lists cache keys with the given prefix.
// Datastore has no name-prefix filter, so all keys of the kind are fetched and filtered here.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	dsKeys, err := s.client.AllKeys(ctx, ds.NewQuery(s.kind).KeysOnly())
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}

	keys := make([]string, 0, len(dsKeys))
	for _, k := range dsKeys {
		name, ok := strings.CutSuffix(k.Name, s.ext)
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases Datastore client resources.
func (s *Store) Close() error {
	return s.client.Close()
}
