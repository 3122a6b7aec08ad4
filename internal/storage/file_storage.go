// internal/storage/file_storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/NovellaStudio/internal/utils"
)

const fileExt = ".json"

// FileStorage 每个键一个 JSON 文件的存储后端
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	cache *fileCache

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStorage{
		BaseDir: baseDir,
		cache:   newFileCache(100, 5*time.Minute),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	// 启动缓存清理
	go fs.cacheCleanupLoop(2 * time.Minute)

	return fs, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) pathFor(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(fs.BaseDir, key+fileExt), nil
}

// Save 原子性写入：先写临时文件再重命名
func (fs *FileStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("清理临时文件失败", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	fs.cache.remove(fullPath)
	return nil
}

// Load 读取键对应的文件，不存在时返回 ErrNotFound
func (fs *FileStorage) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return nil, err
	}

	if data, ok := fs.cache.get(fullPath); ok {
		return data, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	fs.cache.put(fullPath, content)
	return content, nil
}

// Delete 删除键
func (fs *FileStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := fs.pathFor(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}
	fs.cache.remove(fullPath)
	return nil
}

// Keys 列出所有已保存的键
func (fs *FileStorage) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close 停止缓存清理协程
func (fs *FileStorage) Close() error {
	fs.stopOnce.Do(func() {
		close(fs.stop)
		<-fs.done
	})
	return nil
}

func (fs *FileStorage) cacheCleanupLoop(interval time.Duration) {
	defer close(fs.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stop:
			return
		case <-ticker.C:
			if n := fs.cache.cleanupExpired(); n > 0 {
				utils.GetLogger().Debugf("文件缓存清理: 移除了 %d 个过期条目", n)
			}
		}
	}
}
