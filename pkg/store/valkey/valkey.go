// Package valkey provides Valkey/Redis persistence for offlinecache.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
	"github.com/valkey-io/valkey-go"
)

// Store implements persistence using Valkey/Redis.
type Store struct {
	client     valkey.Client
	prefix     string // Key prefix to namespace cache entries
	compressor compress.Compressor
}

// New creates a new Valkey-based store.
// The cacheID is used as a key prefix to namespace cache entries.
// addr should be in the format "host:port" (e.g., "localhost:6379").
// Optional compressor enables compression (default: no compression).
func New(ctx context.Context, cacheID, addr string, c ...compress.Compressor) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}

	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w: %w", err, store.ErrUnavailable)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w: %w", err, store.ErrUnavailable)
	}

	return &Store{
		client:     client,
		prefix:     cacheID + ":",
		compressor: comp,
	}, nil
}

// Location returns the Valkey key for a given cache key.
func (s *Store) Location(key string) string {
	return s.prefix + key + s.compressor.Extension()
}

// Get retrieves a value from Valkey.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.Location(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, classify(fmt.Errorf("valkey get: %w", err))
	}

	v, err := s.compressor.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decompress: %w: %w", store.ErrCorrupt, err)
	}
	return v, true, nil
}

// Set saves a value to Valkey. Entries never expire server-side; retention
// is handled by the cache lifecycle.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.compressor.Encode(value)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	cmd := s.client.B().Set().Key(s.Location(key)).Value(valkey.BinaryString(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return classify(fmt.Errorf("valkey set: %w", err))
	}
	return nil
}

// Delete removes a value from Valkey.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.Location(key)).Build()).Error(); err != nil {
		return classify(fmt.Errorf("valkey delete: %w", err))
	}
	return nil
}

// Keys scans for keys in this cache's namespace that start with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	ext := s.compressor.Extension()
	pat := s.prefix + escapeGlob(prefix) + "*" + escapeGlob(ext)
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return keys, ctx.Err()
		default:
		}

		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(100).Build()).AsScanEntry()
		if err != nil {
			return keys, classify(fmt.Errorf("scan keys: %w", err))
		}
		for _, k := range scan.Elements {
			k = strings.TrimPrefix(k, s.prefix)
			keys = append(keys, strings.TrimSuffix(k, ext))
		}

		cur = scan.Cursor
		if cur == 0 {
			break
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close releases Valkey client resources.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// escapeGlob escapes Valkey MATCH pattern metacharacters.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// classify maps Valkey replies onto store error kinds.
func classify(err error) error {
	if ve, ok := valkey.IsValkeyErr(err); ok && strings.HasPrefix(ve.Error(), "OOM") {
		return fmt.Errorf("%w: %w", err, store.ErrQuotaExceeded)
	}
	if errors.Is(err, valkey.ErrClosing) {
		return fmt.Errorf("%w: %w", err, store.ErrUnavailable)
	}
	return err
}
