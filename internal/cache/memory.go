package cache

import (
	"container/list"
	"math"
	"sync"
	"time"
)

// MemoryTier implements the in-memory cache tier with LRU eviction.
// It is bounded by both an item cap and a byte cap; after every insertion
// it evicts from the least-recently-used end until both caps hold.
type MemoryTier struct {
	maxItems int
	maxBytes int64
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// Synchronization
	mu sync.Mutex

	// Metrics
	hits      int64
	misses    int64
	evictions int64
}

// NewMemoryTier creates a memory tier with the given item and byte caps.
func NewMemoryTier(maxItems int, maxBytes int64) *MemoryTier {
	return &MemoryTier{
		maxItems: maxItems,
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// tierKey namespaces a key by its category; keys are only unique within one.
func tierKey(category Category, key string) string {
	return category.String() + "/" + key
}

// Get retrieves an entry, updating its access metadata and moving it to the
// most-recently-used position. An expired entry is evicted and reported as
// absent.
func (m *MemoryTier) Get(category Category, key string, now time.Time) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[tierKey(category, key)]
	if !ok {
		m.misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if entry.Expired(now) {
		m.removeElement(elem)
		m.misses++
		return nil, false
	}

	m.eviction.MoveToFront(elem)
	entry.AccessCount++
	entry.LastAccessed = now

	m.hits++
	return entry, true
}

// Put inserts or replaces an entry at the most-recently-used position and
// then enforces both caps by evicting from the tail. It reports false when
// the entry alone exceeds the byte cap and was not admitted.
func (m *MemoryTier) Put(entry *Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Size > m.maxBytes {
		return false
	}

	k := tierKey(entry.Category, entry.Key)
	if elem, ok := m.items[k]; ok {
		old := elem.Value.(*Entry)
		m.size += entry.Size - old.Size
		elem.Value = entry
		m.eviction.MoveToFront(elem)
	} else {
		elem := m.eviction.PushFront(entry)
		m.items[k] = elem
		m.size += entry.Size
	}

	// Enforce caps; the fresh entry sits at the head so it survives unless
	// it is the only one left.
	for (m.eviction.Len() > m.maxItems || m.size > m.maxBytes) && m.eviction.Len() > 1 {
		m.evictOldest()
	}

	return true
}

// Contains checks presence without updating LRU order or access metadata.
func (m *MemoryTier) Contains(category Category, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.items[tierKey(category, key)]
	return ok
}

// Remove deletes an entry; absent keys are a no-op.
func (m *MemoryTier) Remove(category Category, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[tierKey(category, key)]; ok {
		m.removeElement(elem)
	}
}

// RemoveCategory deletes every entry tagged with the category and returns
// the number removed.
func (m *MemoryTier) RemoveCategory(category Category) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	elem := m.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		if elem.Value.(*Entry).Category == category {
			m.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// SweepExpired deletes every entry whose TTL has passed and returns the
// number removed.
func (m *MemoryTier) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	elem := m.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		if elem.Value.(*Entry).Expired(now) {
			m.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// EvictFraction evicts the given fraction of entries from the
// least-recently-used end, rounding up, and returns the number evicted.
func (m *MemoryTier) EvictFraction(fraction float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := int(math.Ceil(float64(m.eviction.Len()) * fraction))
	evicted := 0
	for i := 0; i < target && m.eviction.Len() > 0; i++ {
		m.evictOldest()
		evicted++
	}
	return evicted
}

// Clear removes all entries.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.eviction.Init()
	m.size = 0
}

// Items returns the current entry count.
func (m *MemoryTier) Items() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.eviction.Len()
}

// Bytes returns the current size in bytes.
func (m *MemoryTier) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.size
}

// evictOldest removes the least recently used entry (lock must be held).
func (m *MemoryTier) evictOldest() {
	if elem := m.eviction.Back(); elem != nil {
		m.removeElement(elem)
		m.evictions++
	}
}

// removeElement removes an element from the tier (lock must be held).
func (m *MemoryTier) removeElement(elem *list.Element) {
	m.eviction.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(m.items, tierKey(entry.Category, entry.Key))
	m.size -= entry.Size
}
