package offlinecache

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Budget bounds the cache footprint. Zero fields are unlimited.
type Budget struct {
	MaxBytes      int64 // total encoded bytes across entries
	MaxEntries    int   // number of entries
	MaxEntryBytes int64 // largest single encoded entry
}

// indexEntry is what the enforcer knows about one stored entry.
type indexEntry struct {
	storedAt time.Time
	seq      uint64 // write order, breaks storedAt ties
	size     int64
	ownerID  string
	dataType string
}

// budgetIndex tracks stored entries and picks FIFO eviction victims.
// Eviction order is storedAt ascending regardless of data type.
type budgetIndex struct {
	mu      sync.Mutex
	limits  Budget
	entries map[string]indexEntry
	bytes   int64
	seq     uint64
	newest  string
}

func newBudgetIndex(b Budget) *budgetIndex {
	return &budgetIndex{
		limits:  b,
		entries: make(map[string]indexEntry),
	}
}

// admit rejects entries that alone would exceed MaxEntryBytes or MaxBytes.
func (b *budgetIndex) admit(size int64) error {
	if b.limits.MaxEntryBytes > 0 && size > b.limits.MaxEntryBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrEntryTooLarge, size, b.limits.MaxEntryBytes)
	}
	if b.limits.MaxBytes > 0 && size > b.limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds whole budget of %d", ErrEntryTooLarge, size, b.limits.MaxBytes)
	}
	return nil
}

// track records a write. Overwrites replace the previous accounting.
func (b *budgetIndex) track(e Entry, size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackLocked(e, size)
}

func (b *budgetIndex) trackLocked(e Entry, size int64) {
	if old, ok := b.entries[e.Key]; ok {
		b.bytes -= old.size
	}
	b.seq++
	b.entries[e.Key] = indexEntry{
		storedAt: e.StoredAt,
		seq:      b.seq,
		size:     size,
		ownerID:  e.OwnerID,
		dataType: e.DataType,
	}
	b.bytes += size
	b.newest = e.Key
}

func (b *budgetIndex) get(key string) (indexEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	return e, ok
}

// forget drops key from accounting.
func (b *budgetIndex) forget(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.entries[key]; ok {
		b.bytes -= old.size
		delete(b.entries, key)
	}
}

// orderedLocked returns keys oldest first, skipping exclude.
func (b *budgetIndex) orderedLocked(exclude string) []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		if k != exclude {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(x, y string) int {
		ex, ey := b.entries[x], b.entries[y]
		if c := ex.storedAt.Compare(ey.storedAt); c != 0 {
			return c
		}
		return cmp.Compare(ex.seq, ey.seq)
	})
	return keys
}

// overflow returns the keys that must go, oldest first, for the index to fit
// its limits. The most recently written key is never selected.
func (b *budgetIndex) overflow() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, bytes := len(b.entries), b.bytes
	over := func() bool {
		return (b.limits.MaxEntries > 0 && count > b.limits.MaxEntries) ||
			(b.limits.MaxBytes > 0 && bytes > b.limits.MaxBytes)
	}
	if !over() {
		return nil
	}

	var victims []string
	for _, k := range b.orderedLocked(b.newest) {
		if !over() {
			break
		}
		victims = append(victims, k)
		count--
		bytes -= b.entries[k].size
	}
	return victims
}

// oldest returns up to n keys oldest first, skipping exclude.
func (b *budgetIndex) oldest(n int, exclude string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := b.orderedLocked(exclude)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// olderThan returns keys stored before cutoff.
func (b *budgetIndex) olderThan(cutoff time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k, e := range b.entries {
		if e.storedAt.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ownedBy returns keys belonging to ownerID, or every key when ownerID is empty.
func (b *budgetIndex) ownedBy(ownerID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k, e := range b.entries {
		if ownerID == "" || e.ownerID == ownerID {
			keys = append(keys, k)
		}
	}
	return keys
}

// replace swaps in a freshly scanned set of entries.
func (b *budgetIndex) replace(entries []Entry, sizes []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]indexEntry, len(entries))
	b.bytes = 0
	b.newest = ""
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	// Assign seq in storedAt order so ties keep a stable FIFO order.
	slices.SortStableFunc(order, func(x, y int) int {
		return entries[x].StoredAt.Compare(entries[y].StoredAt)
	})
	for _, i := range order {
		b.trackLocked(entries[i], sizes[i])
	}
}

// EntryInfo describes a tracked entry without its value.
type EntryInfo struct {
	Key      string
	DataType string
	OwnerID  string
	StoredAt time.Time
	Size     int64
}

func (b *budgetIndex) list(ownerID string) []EntryInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]EntryInfo, 0, len(b.entries))
	for _, k := range b.orderedLocked("") {
		e := b.entries[k]
		if ownerID != "" && e.ownerID != ownerID {
			continue
		}
		infos = append(infos, EntryInfo{Key: k, DataType: e.dataType, OwnerID: e.ownerID, StoredAt: e.storedAt, Size: e.size})
	}
	return infos
}

func (b *budgetIndex) usage() (entries int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), b.bytes
}
