package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/markdave123-py/uwia/internal/core"
)

var _ core.ClassificationCache = (*MemoryCache)(nil)

type entry struct {
	key         string
	needsVisual bool
}

// MemoryCache is a bounded LRU kept in process memory.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	items    map[string]*list.Element
}

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryCache{capacity: capacity, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).needsVisual, true
}

func (c *MemoryCache) Set(_ context.Context, key string, needsVisual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).needsVisual = needsVisual
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&entry{key: key, needsVisual: needsVisual})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

func (c *MemoryCache) Evict(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *MemoryCache) Len(context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
