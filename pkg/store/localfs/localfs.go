// Package localfs provides local filesystem persistence for offlinecache.
package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
)

// record is the on-disk wrapper. The key is kept inside the file because
// filenames are hashes.
type record struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store implements file-based persistence, one file per key.
//
//nolint:govet // fieldalignment - current layout groups related fields logically (mutex with map it protects)
type Store struct {
	subdirsMu   sync.RWMutex
	Dir         string          // Exported for testing - directory path
	subdirsMade map[string]bool // Cache of created subdirectories

	compressor compress.Compressor
	ext        string

	usedMu sync.Mutex
	used   int64 // bytes on disk across cache files
	quota  int64 // 0 = unlimited
}

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the compressor used for file contents.
func WithCompression(c compress.Compressor) Option {
	return func(s *Store) {
		if c != nil {
			s.compressor = c
		}
	}
}

// WithQuota caps the bytes the store may occupy on disk.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// New creates a new file-based store.
// The cacheID is used as a subdirectory name under dir, or under the OS cache
// directory when dir is empty. An unwritable directory yields store.ErrUnavailable.
func New(cacheID, dir string, opts ...Option) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if strings.Contains(cacheID, "..") || strings.Contains(cacheID, "/") || strings.Contains(cacheID, "\\") {
		return nil, errors.New("invalid cacheID: contains path separators or traversal sequences")
	}
	if strings.Contains(cacheID, "\x00") {
		return nil, errors.New("invalid cacheID: contains null byte")
	}

	s := &Store{
		subdirsMade: make(map[string]bool),
		compressor:  compress.None(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ext = s.compressor.Extension()
	if s.ext == "" {
		s.ext = ".j"
	}

	if dir == "" {
		baseDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get user cache dir: %w: %w", err, store.ErrUnavailable)
		}
		dir = baseDir
	}
	s.Dir = filepath.Join(dir, cacheID)

	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w: %w", err, store.ErrUnavailable)
	}

	testFile := filepath.Join(s.Dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("cache dir not writable: %w: %w", err, store.ErrUnavailable)
	}
	_ = os.Remove(testFile) //nolint:errcheck // best-effort cleanup

	used, err := s.diskUsage()
	if err != nil {
		return nil, fmt.Errorf("measure cache dir: %w", err)
	}
	s.used = used

	return s, nil
}

// keyToFilename converts a key to a filename with squid-style directory layout.
// Hashes the key and uses the first 2 hex characters as subdirectory.
func (s *Store) keyToFilename(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h+s.ext)
}

// Location returns the full file path where a key is stored.
func (s *Store) Location(key string) string {
	return filepath.Join(s.Dir, s.keyToFilename(key))
}

func (s *Store) isCacheFile(name string) bool {
	return filepath.Ext(name) == s.ext
}

// readRecord loads and decodes one file. Undecodable files are removed.
func (s *Store) readRecord(path string) (record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return record{}, false, nil
		}
		return record{}, false, fmt.Errorf("read file: %w", err)
	}

	raw, err := s.compressor.Decode(data)
	var r record
	if err == nil {
		err = json.Unmarshal(raw, &r)
	}
	if err != nil {
		err = fmt.Errorf("decode %s: %w: %w", filepath.Base(path), store.ErrCorrupt, err)
		return record{}, false, errors.Join(err, s.remove(path))
	}
	return r, true, nil
}

// Get retrieves a value from a file.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r, found, err := s.readRecord(s.Location(key))
	if err != nil || !found {
		return nil, false, err
	}
	if r.Key != key {
		// sha256 collision or foreign file; treat as absent.
		return nil, false, nil
	}
	return r.Value, true, nil
}

// Set saves a value to a file atomically (temp file + rename).
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn := s.Location(key)
	dir := filepath.Dir(fn)

	s.subdirsMu.RLock()
	exists := s.subdirsMade[dir]
	s.subdirsMu.RUnlock()

	if !exists {
		s.subdirsMu.Lock()
		if !s.subdirsMade[dir] {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				s.subdirsMu.Unlock()
				return classify(fmt.Errorf("create subdirectory: %w", err))
			}
			s.subdirsMade[dir] = true
		}
		s.subdirsMu.Unlock()
	}

	raw, err := json.Marshal(record{Key: key, Value: value, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data, err := s.compressor.Encode(raw)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	s.usedMu.Lock()
	defer s.usedMu.Unlock()

	prev := fileSize(fn)
	delta := int64(len(data)) - prev
	if s.quota > 0 && s.used+delta > s.quota {
		return fmt.Errorf("write %d bytes with %d/%d used: %w", len(data), s.used, s.quota, store.ErrQuotaExceeded)
	}

	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		rmErr := os.Remove(tmp)
		if os.IsNotExist(rmErr) {
			rmErr = nil
		}
		return errors.Join(classify(fmt.Errorf("write temp file: %w", err)), rmErr)
	}
	if err := os.Rename(tmp, fn); err != nil {
		rmErr := os.Remove(tmp)
		return errors.Join(classify(fmt.Errorf("rename file: %w", err)), rmErr)
	}
	s.used += delta
	return nil
}

// Delete removes a file.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.remove(s.Location(key))
}

// remove deletes path and adjusts usage accounting. A missing file is not an error.
func (s *Store) remove(path string) error {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	size := fileSize(path)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove file: %w", err)
	}
	s.used -= size
	return nil
}

// Keys walks the directory tree and returns keys with the given prefix.
// Corrupt files found along the way are removed and skipped.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var errs []error

	walkErr := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		if d.IsDir() || !s.isCacheFile(d.Name()) {
			return nil
		}
		r, found, err := s.readRecord(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if found && strings.HasPrefix(r.Key, prefix) {
			keys = append(keys, r.Key)
		}
		return nil
	})
	if walkErr != nil {
		return keys, fmt.Errorf("walk directory: %w", walkErr)
	}

	sort.Strings(keys)
	if len(errs) > 0 {
		// Corrupt files were already dropped; report them for logging only.
		return keys, &SkippedError{Err: errors.Join(errs...)}
	}
	return keys, nil
}

// SkippedError reports files that could not be read during a walk.
// The accompanying key list is still complete for readable files.
type SkippedError struct {
	Err error
}

func (e *SkippedError) Error() string { return "skipped unreadable cache files: " + e.Err.Error() }
func (e *SkippedError) Unwrap() error { return e.Err }

// Used returns the bytes currently occupied by cache files.
func (s *Store) Used() int64 {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	return s.used
}

func (s *Store) diskUsage() (int64, error) {
	var n int64
	err := filepath.WalkDir(s.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !s.isCacheFile(d.Name()) {
			return nil //nolint:nilerr // unreadable entries are not counted
		}
		if fi, err := d.Info(); err == nil {
			n += fi.Size()
		}
		return nil
	})
	return n, err
}

// Close cleans up resources.
func (*Store) Close() error {
	// No resources to clean up for file-based persistence
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// classify maps filesystem errors onto store error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", err, store.ErrQuotaExceeded)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", err, store.ErrUnavailable)
	default:
		return err
	}
}
