// internal/services/llm_cache.go
package services

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	responseCacheTTL      = 30 * time.Minute
	responseCacheCapacity = 1000
)

// responseCache 结构化结果缓存，按最近使用淘汰，过期条目读取时丢弃
type responseCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List // 前端为最近使用
	items    map[string]*list.Element
	now      func() time.Time
}

type cachedResponse struct {
	key     string
	payload []byte
	stored  time.Time
}

func newResponseCache(ttl time.Duration, capacity int) *responseCache {
	return &responseCache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// cacheKey 各部分用不可见分隔符拼接后取 sha256
func cacheKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cachedResponse)
	if c.now().Sub(entry.stored) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.payload, true
}

func (c *responseCache) put(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cachedResponse)
		entry.payload, entry.stored = payload, c.now()
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cachedResponse{key: key, payload: payload, stored: c.now()})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cachedResponse).key)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
