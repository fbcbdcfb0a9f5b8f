package cache

import (
	"container/list"
)

// LRU maps chunk indices to audio bytes with least-recently-used eviction
// bounded by entry count. It is owned by a single goroutine and is not safe
// for concurrent use.
type LRU struct {
	capacity int

	items    map[int]*list.Element
	eviction *list.List
	bytes    int64

	stats Stats

	// OnEvict, when set, is called with the index of every evicted entry.
	OnEvict func(index int)
}

type entry struct {
	index int
	value []byte
}

// New creates an LRU holding at most capacity entries. A capacity below one
// falls back to DefaultCapacity.
func New(capacity int) *LRU {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[int]*list.Element),
		eviction: list.New(),
	}
}

// Get returns the audio for index and marks it most recently used.
func (c *LRU) Get(index int) ([]byte, bool) {
	elem, ok := c.items[index]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*entry).value, true
}

// Contains reports whether index is cached without touching its recency.
func (c *LRU) Contains(index int) bool {
	_, ok := c.items[index]
	return ok
}

// Put stores value under index, marks it most recently used and evicts the
// least recently used entries until the size is within capacity.
func (c *LRU) Put(index int, value []byte) {
	if elem, ok := c.items[index]; ok {
		c.eviction.MoveToFront(elem)
		e := elem.Value.(*entry)
		c.bytes += int64(len(value) - len(e.value))
		e.value = value
		return
	}

	c.items[index] = c.eviction.PushFront(&entry{index: index, value: value})
	c.bytes += int64(len(value))

	for c.eviction.Len() > c.capacity {
		c.evictOldest()
	}
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	return c.eviction.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU) Capacity() int {
	return c.capacity
}

// Keys returns cached indices from most to least recently used.
func (c *LRU) Keys() []int {
	keys := make([]int, 0, c.eviction.Len())
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).index)
	}
	return keys
}

// Clear removes all entries. Counters are kept.
func (c *LRU) Clear() {
	c.items = make(map[int]*list.Element)
	c.eviction.Init()
	c.bytes = 0
}

// Stats returns a snapshot of the cache counters.
func (c *LRU) Stats() Stats {
	s := c.stats
	s.Capacity = c.capacity
	s.Len = c.eviction.Len()
	s.Bytes = c.bytes
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
	return s
}

func (c *LRU) evictOldest() {
	elem := c.eviction.Back()
	if elem == nil {
		return
	}
	c.eviction.Remove(elem)
	e := elem.Value.(*entry)
	delete(c.items, e.index)
	c.bytes -= int64(len(e.value))
	c.stats.Evictions++
	if c.OnEvict != nil {
		c.OnEvict(e.index)
	}
}
