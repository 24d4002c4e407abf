// Package cache implements the decoded-frame cache: a byte-budgeted LRU
// keyed by page index. Eviction policy internals are deliberately simple;
// the scheduler only depends on Has/Put/Get membership semantics.
package cache

import (
	"container/list"
	"sync"

	"github.com/yomu-app/yomu/internal/model"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type entry struct {
	page  int
	frame *model.Frame
}

// FrameCache holds ready-to-display frames up to maxBytes (and optionally
// maxEntries). Least recently used frames are evicted first.
type FrameCache struct {
	mu         sync.Mutex
	maxBytes   int64
	maxEntries int
	sizeBytes  int64
	order      *list.List // front = most recent
	byPage     map[int]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache bounded by maxBytes. maxEntries <= 0 means no entry
// count limit.
func New(maxBytes int64, maxEntries int) *FrameCache {
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &FrameCache{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		order:      list.New(),
		byPage:     make(map[int]*list.Element),
	}
}

// Has reports whether a decoded frame exists for page. Does not touch
// recency and does not count as a hit or miss.
func (c *FrameCache) Has(page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byPage[page]
	return ok
}

// Get returns the frame for page, promoting it to most recently used.
func (c *FrameCache) Get(page int) (*model.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byPage[page]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).frame, true
}

// Put inserts or replaces the frame for page, evicting LRU entries until the
// byte budget fits. A frame larger than the whole budget is rejected.
func (c *FrameCache) Put(page int, frame *model.Frame) {
	if frame == nil {
		return
	}
	size := int64(frame.Size())
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byPage[page]; ok {
		old := el.Value.(*entry)
		c.sizeBytes -= int64(old.frame.Size())
		old.frame = frame
		c.sizeBytes += size
		c.order.MoveToFront(el)
		c.evictUntilFitLocked()
		return
	}

	el := c.order.PushFront(&entry{page: page, frame: frame})
	c.byPage[page] = el
	c.sizeBytes += size
	c.evictUntilFitLocked()
}

func (c *FrameCache) evictUntilFitLocked() {
	for c.sizeBytes > c.maxBytes || (c.maxEntries > 0 && c.order.Len() > c.maxEntries) {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.byPage, e.page)
		c.sizeBytes -= int64(e.frame.Size())
		c.evictions++
	}
}

// Remove drops the frame for page if present.
func (c *FrameCache) Remove(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byPage[page]; ok {
		e := el.Value.(*entry)
		c.order.Remove(el)
		delete(c.byPage, e.page)
		c.sizeBytes -= int64(e.frame.Size())
	}
}

// Purge drops every cached frame. Called when a new document is opened.
func (c *FrameCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.byPage = make(map[int]*list.Element)
	c.sizeBytes = 0
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *FrameCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		SizeBytes: c.sizeBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
