// internal/storage/file_cache.go
package storage

import (
	"os"
	"sort"
	"sync"
	"time"
)

// fileCache 文件内容的内存缓存，按修改时间和大小校验是否过期
type fileCache struct {
	entries    map[string]*fileCacheEntry
	mutex      sync.RWMutex
	maxSize    int           // 最大缓存条目数
	expiration time.Duration // 缓存过期时间
}

type fileCacheEntry struct {
	data     []byte
	created  time.Time
	lastRead time.Time
	modTime  time.Time
	size     int64
}

func newFileCache(maxSize int, expiration time.Duration) *fileCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &fileCache{
		entries:    make(map[string]*fileCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

// get 命中时返回数据副本；文件被外部修改或条目过期都视为未命中
func (c *fileCache) get(path string) ([]byte, bool) {
	c.mutex.RLock()
	entry, ok := c.entries[path]
	c.mutex.RUnlock()
	if !ok {
		return nil, false
	}

	info, err := os.Stat(path)
	if err != nil || info.ModTime().After(entry.modTime) || info.Size() != entry.size ||
		time.Since(entry.created) > c.expiration {
		c.remove(path)
		return nil, false
	}

	c.mutex.Lock()
	entry.lastRead = time.Now()
	c.mutex.Unlock()
	return append([]byte(nil), entry.data...), true
}

func (c *fileCache) put(path string, data []byte) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[path] = &fileCacheEntry{
		data:     append([]byte(nil), data...),
		created:  now,
		lastRead: now,
		modTime:  info.ModTime(),
		size:     info.Size(),
	}

	if len(c.entries) > c.maxSize {
		c.cleanupLRU(max(1, c.maxSize/5))
	}
}

func (c *fileCache) remove(path string) {
	c.mutex.Lock()
	delete(c.entries, path)
	c.mutex.Unlock()
}

// cleanupExpired 清理过期条目
func (c *fileCache) cleanupExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for path, entry := range c.entries {
		if time.Since(entry.created) > c.expiration {
			delete(c.entries, path)
			removed++
		}
	}
	return removed
}

func (c *fileCache) len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// cleanupLRU 删除最久未读取的条目，调用方需持有写锁
func (c *fileCache) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	ages := make([]keyAge, 0, len(c.entries))
	for k, v := range c.entries {
		ages = append(ages, keyAge{k, v.lastRead})
	}

	sort.Slice(ages, func(i, j int) bool {
		return ages[i].time.Before(ages[j].time)
	})

	for i := 0; i < min(count, len(ages)); i++ {
		delete(c.entries, ages[i].key)
	}
}
