// Package offlinecache keeps the last successful fetch of remote data on the
// client so it can be shown, with its age, when the network is gone.
//
// Entries live in a durable store.Store behind an S3-FIFO memory tier. Total
// footprint is bounded by a Budget enforced FIFO by store time. A store that
// cannot be opened puts the cache in degraded mode: reads miss, writes are
// dropped, and the application keeps fetching live.
package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/localfs"
	"github.com/dustin/go-humanize"
)

// Cache is the offline cache facade.
type Cache struct {
	store  store.Store
	hot    *hotTier
	budget *budgetIndex
	opts   *Options
	logger *slog.Logger

	// scanMu orders index-wide operations against writes: reads and writes
	// hold it shared, rescans and invalidations hold it exclusively.
	scanMu sync.RWMutex

	degraded    atomic.Bool
	degradeOnce sync.Once
	indexed     atomic.Bool // index covers every stored key
}

// New opens a cache over s and indexes its contents.
// A nil s, or one reporting store.ErrUnavailable, yields a degraded cache rather than an error.
func New(ctx context.Context, s store.Store, options ...Option) (*Cache, error) {
	opts := buildOptions(options)

	c := &Cache{
		store:  s,
		hot:    newHotTier(opts.MemorySize),
		budget: newBudgetIndex(opts.Budget),
		opts:   opts,
		logger: opts.Logger,
	}

	if s == nil {
		c.degrade(errors.New("no store configured"))
		return c, nil
	}

	st, err := c.rescan(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("index cache: %w", ctxErr)
		}
		c.logger.Warn("cache index incomplete", "error", err)
	}
	entries, bytes := c.budget.usage()
	c.logger.Debug("opened offline cache",
		"entries", entries, "bytes", bytes, "corrupt", st.corrupt, "degraded", c.degraded.Load())
	return c, nil
}

// Get reads key. A never-written or corrupt key is a Miss; corrupt entries are deleted.
func Get[T any](ctx context.Context, c *Cache, key string) Result[T] {
	c.scanMu.RLock()
	defer c.scanMu.RUnlock()

	e, found, serr := c.lookup(ctx, key)
	if serr != nil {
		return failed[T](serr)
	}
	if !found {
		return miss[T]()
	}

	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		c.dropCorrupt(ctx, key, fmt.Errorf("%w: %w", ErrCorruptEntry, err))
		return miss[T]()
	}
	return hit(v, e.StoredAt)
}

// Set stores value under key, stamped with the current time.
// Failures are informational: the cache has recovered and the caller should
// carry on with the value it already holds.
func Set[T any](ctx context.Context, c *Cache, key string, value T, meta Meta) error {
	if err := validateKey(key); err != nil {
		return storageError("set", key, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return storageError("set", key, fmt.Errorf("encode value: %w", err))
	}
	return c.put(ctx, Entry{
		Key:      key,
		Value:    raw,
		StoredAt: c.opts.Now(),
		DataType: meta.DataType,
		OwnerID:  meta.OwnerID,
	})
}

// LoadFromCache reads key with staleness and age metadata.
// It never fails; a missing or unreadable entry yields a LoadResult with nil Data.
func LoadFromCache[T any](ctx context.Context, c *Cache, key string) LoadResult[T] {
	r := Get[T](ctx, c, key)
	v, ok := r.Value()
	if !ok {
		return LoadResult[T]{Err: r.Err}
	}

	now := c.opts.Now()
	storedAt := r.StoredAt
	age := now.Sub(storedAt)
	if age < 0 {
		age = 0
		storedAt = now
	}
	ts := r.StoredAt
	return LoadResult[T]{
		Data:         &v,
		Timestamp:    &ts,
		IsStale:      age > StaleAfter,
		AgeInHours:   age.Hours(),
		RelativeTime: humanize.RelTime(storedAt, now, "ago", "from now"),
	}
}

// Invalidate deletes key so the next read goes live.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return storageError("invalidate", key, err)
	}
	// Exclusive so no write between store.Set and track can resurrect key.
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	c.hot.del(key)
	if c.degraded.Load() {
		return nil
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.noteStoreError(err)
		return storageError("invalidate", key, err)
	}
	c.budget.forget(key)
	return nil
}

// InvalidateAll deletes every entry owned by ownerID, or every entry when
// ownerID is empty. When the index cannot vouch for ownership every stored
// entry is deleted. It returns how many entries were removed.
func (c *Cache) InvalidateAll(ctx context.Context, ownerID string) (int, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	scoped := ownerID != "" && c.indexed.Load()
	c.hot.removeIf(func(e Entry) bool { return !scoped || e.OwnerID == ownerID })
	if c.degraded.Load() {
		return 0, nil
	}

	var errs []error
	keys := c.budget.ownedBy(ownerID)
	if !scoped {
		keys = c.budget.ownedBy("")
		listed, err := c.store.Keys(ctx, "")
		if err != nil {
			c.noteStoreError(err)
			errs = append(errs, fmt.Errorf("list keys: %w", err))
		}
		keys = union(keys, listed)
	}

	removed := 0
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			c.noteStoreError(err)
			errs = append(errs, fmt.Errorf("delete %q: %w", k, err))
			continue
		}
		c.budget.forget(k)
		removed++
	}
	if len(errs) > 0 {
		return removed, storageError("invalidate_all", "", errors.Join(errs...))
	}
	return removed, nil
}

// Stats summarizes cache usage.
type Stats struct {
	Entries    int
	Bytes      int64
	HotEntries int
	Budget     Budget
	Degraded   bool // storage unavailable; reads miss and writes are dropped
	Indexed    bool // every stored key is accounted for
}

// Stats returns current usage.
func (c *Cache) Stats() Stats {
	n, b := c.budget.usage()
	return Stats{
		Entries:    n,
		Bytes:      b,
		HotEntries: c.hot.len(),
		Budget:     c.opts.Budget,
		Degraded:   c.degraded.Load(),
		Indexed:    c.indexed.Load(),
	}
}

// Entries lists tracked entries oldest first, filtered by ownerID when non-empty.
func (c *Cache) Entries(ownerID string) []EntryInfo {
	return c.budget.list(ownerID)
}

// Degraded reports whether the cache is running without storage.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// lookup finds key in the hot tier, then the store. Callers hold scanMu.
func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool, *StorageError) {
	if err := validateKey(key); err != nil {
		return Entry{}, false, storageError("get", key, err)
	}
	if c.degraded.Load() {
		return Entry{}, false, storageError("get", key, store.ErrUnavailable)
	}
	if e, ok := c.hot.get(key); ok {
		return e, true, nil
	}

	data, found, err := c.store.Get(ctx, key)
	if store.IsCorrupt(err) {
		c.dropCorrupt(ctx, key, err)
		return Entry{}, false, nil
	}
	if err != nil {
		c.noteStoreError(err)
		return Entry{}, false, storageError("get", key, err)
	}
	if !found {
		c.budget.forget(key)
		return Entry{}, false, nil
	}
	e, err := decodeEntry(key, data)
	if err != nil {
		c.dropCorrupt(ctx, key, err)
		return Entry{}, false, nil
	}
	c.hot.set(e)
	return e, true, nil
}

func (c *Cache) put(ctx context.Context, e Entry) error {
	if c.degraded.Load() {
		return storageError("set", e.Key, store.ErrUnavailable)
	}
	data, err := encodeEntry(e)
	if err != nil {
		return storageError("set", e.Key, err)
	}
	size := int64(len(data))
	if err := c.budget.admit(size); err != nil {
		c.logger.Warn("cache entry rejected", "key", e.Key, "size", size, "error", err)
		return storageError("set", e.Key, err)
	}

	c.scanMu.RLock()
	defer c.scanMu.RUnlock()

	err = c.store.Set(ctx, e.Key, data)
	if store.IsQuotaExceeded(err) {
		victims := c.budget.oldest(c.opts.EmergencyEvictions, e.Key)
		c.logger.Warn("storage quota exceeded, evicting oldest entries",
			"key", e.Key, "evicting", len(victims))
		c.evict(ctx, victims, "quota")
		err = c.store.Set(ctx, e.Key, data)
	}
	if err != nil {
		c.noteStoreError(err)
		c.logger.Warn("cache write dropped", "key", e.Key, "error", err)
		return storageError("set", e.Key, err)
	}

	c.hot.set(e)
	c.budget.track(e, size)
	c.evict(ctx, c.budget.overflow(), "budget")
	return nil
}

// evict deletes keys from every tier and returns how many went. Callers hold scanMu.
func (c *Cache) evict(ctx context.Context, keys []string, reason string) int {
	n := 0
	for _, k := range keys {
		info, _ := c.budget.get(k)
		if err := c.store.Delete(ctx, k); err != nil {
			c.noteStoreError(err)
			c.logger.Warn("evict cache entry", "key", k, "reason", reason, "error", err)
			continue
		}
		c.hot.del(k)
		c.budget.forget(k)
		n++
		c.logger.Info("evicted cache entry",
			"key", k, "reason", reason, "data_type", info.dataType, "stored_at", info.storedAt)
	}
	return n
}

// dropCorrupt removes an undecodable entry so it reads as a miss from now on.
func (c *Cache) dropCorrupt(ctx context.Context, key string, cause error) {
	c.logger.Warn("dropping corrupt cache entry", "key", key, "error", cause)
	c.hot.del(key)
	c.budget.forget(key)
	if err := c.store.Delete(ctx, key); err != nil {
		c.noteStoreError(err)
		c.logger.Debug("delete corrupt cache entry", "key", key, "error", err)
	}
}

func (c *Cache) noteStoreError(err error) {
	if store.IsUnavailable(err) {
		c.degrade(err)
	}
}

func (c *Cache) degrade(cause error) {
	c.degraded.Store(true)
	c.degradeOnce.Do(func() {
		c.logger.Warn("persistent storage unavailable, offline cache disabled", "error", cause)
	})
}

type scanStats struct {
	scanned    int
	corrupt    int
	unreadable int
}

// rescan rebuilds the index from every stored key, deleting corrupt entries.
func (c *Cache) rescan(ctx context.Context) (scanStats, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	var st scanStats
	complete := true
	keys, err := c.store.Keys(ctx, "")
	var skipped *localfs.SkippedError
	if errors.As(err, &skipped) {
		// Unreadable files were already removed; the listing is complete.
		c.logger.Warn("dropped unreadable cache files", "error", skipped.Err)
		err = nil
	}
	if err != nil {
		if store.IsUnavailable(err) {
			c.degrade(err)
			return st, nil
		}
		if len(keys) == 0 {
			c.indexed.Store(false)
			return st, fmt.Errorf("list keys: %w", err)
		}
		c.logger.Warn("partial cache key listing", "error", err)
		complete = false
	}

	entries := make([]Entry, 0, len(keys))
	sizes := make([]int64, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			c.indexed.Store(false)
			return st, err
		}
		st.scanned++
		data, found, err := c.store.Get(ctx, k)
		if store.IsCorrupt(err) {
			st.corrupt++
			c.dropCorrupt(ctx, k, err)
			continue
		}
		if err != nil {
			if store.IsUnavailable(err) {
				c.degrade(err)
				return st, nil
			}
			st.unreadable++
			complete = false
			c.logger.Warn("unreadable cache entry", "key", k, "error", err)
			continue
		}
		if !found {
			continue
		}
		e, err := decodeEntry(k, data)
		if err != nil {
			st.corrupt++
			c.dropCorrupt(ctx, k, err)
			continue
		}
		entries = append(entries, e)
		sizes = append(sizes, int64(len(data)))
	}

	c.budget.replace(entries, sizes)
	c.indexed.Store(complete)
	return st, nil
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
