package offlinecache

import (
	"container/list"
	"sync"
)

// hotTier is the in-memory front of the persistent store, evicting with S3-FIFO.
// Three queues: Small (10%), Main (90%), and Ghost (recently evicted keys).
// New entries land in Small and are promoted to Main if read again; a key
// found in Ghost goes straight to Main.
//
// The hot tier only ever holds entries that were successfully persisted, so
// dropping it never loses data.
type hotTier struct {
	mu sync.Mutex

	capacity int
	ghostCap int

	items     map[string]*hotEntry
	small     *list.List
	main      *list.List
	ghost     *list.List
	ghostKeys map[string]*list.Element
}

type hotEntry struct {
	entry   Entry
	freq    int
	inSmall bool
	element *list.Element
}

// newHotTier returns a tier holding up to capacity entries, or nil when capacity <= 0.
func newHotTier(capacity int) *hotTier {
	if capacity <= 0 {
		return nil
	}
	return &hotTier{
		capacity:  capacity,
		ghostCap:  capacity,
		items:     make(map[string]*hotEntry),
		small:     list.New(),
		main:      list.New(),
		ghost:     list.New(),
		ghostKeys: make(map[string]*list.Element),
	}
}

func (h *hotTier) get(key string) (Entry, bool) {
	if h == nil {
		return Entry{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ent, ok := h.items[key]
	if !ok {
		return Entry{}, false
	}
	ent.freq++
	return ent.entry, true
}

func (h *hotTier) set(e Entry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if ent, ok := h.items[e.Key]; ok {
		ent.entry = e
		ent.freq++
		return
	}

	inGhost := false
	if g, ok := h.ghostKeys[e.Key]; ok {
		inGhost = true
		h.ghost.Remove(g)
		delete(h.ghostKeys, e.Key)
	}

	if len(h.items) >= h.capacity {
		h.evict()
	}

	ent := &hotEntry{entry: e, inSmall: !inGhost}
	if ent.inSmall {
		ent.element = h.small.PushBack(ent)
	} else {
		ent.element = h.main.PushBack(ent)
	}
	h.items[e.Key] = ent
}

func (h *hotTier) del(key string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(key)
}

// removeIf drops every entry matching fn and returns how many went.
func (h *hotTier) removeIf(fn func(Entry) bool) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var keys []string
	for k, ent := range h.items {
		if fn(ent.entry) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		h.removeLocked(k)
	}
	return len(keys)
}

func (h *hotTier) len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *hotTier) removeLocked(key string) {
	ent, ok := h.items[key]
	if !ok {
		return
	}
	if ent.inSmall {
		h.small.Remove(ent.element)
	} else {
		h.main.Remove(ent.element)
	}
	delete(h.items, key)
}

func (h *hotTier) evict() {
	if h.small.Len() > 0 && h.evictFromSmall() {
		return
	}
	h.evictFromMain()
}

// evictFromSmall promotes read entries to Main and evicts the first unread one.
// It reports whether anything was evicted.
func (h *hotTier) evictFromSmall() bool {
	for h.small.Len() > 0 {
		elem := h.small.Front()
		ent := elem.Value.(*hotEntry) //nolint:errcheck,forcetypeassert // list holds only *hotEntry
		h.small.Remove(elem)

		if ent.freq > 0 {
			ent.freq = 0
			ent.inSmall = false
			ent.element = h.main.PushBack(ent)
			continue
		}
		delete(h.items, ent.entry.Key)
		h.addToGhost(ent.entry.Key)
		return true
	}
	return false
}

func (h *hotTier) evictFromMain() {
	for h.main.Len() > 0 {
		elem := h.main.Front()
		ent := elem.Value.(*hotEntry) //nolint:errcheck,forcetypeassert // list holds only *hotEntry
		h.main.Remove(elem)

		if ent.freq > 0 {
			ent.freq--
			ent.element = h.main.PushBack(ent)
			continue
		}
		delete(h.items, ent.entry.Key)
		h.addToGhost(ent.entry.Key)
		return
	}
}

func (h *hotTier) addToGhost(key string) {
	if h.ghost.Len() >= h.ghostCap {
		elem := h.ghost.Front()
		h.ghost.Remove(elem)
		delete(h.ghostKeys, elem.Value.(string)) //nolint:errcheck,forcetypeassert // list holds only keys
	}
	h.ghostKeys[key] = h.ghost.PushBack(key)
}
