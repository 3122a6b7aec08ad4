// internal/storage/backend.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// Backend 键值持久化后端
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Kind 后端类型
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Open 根据配置创建存储后端
func Open(kind Kind, dataDir string) (Backend, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindFile, "":
		return NewFileStorage(filepath.Join(dataDir, "store"))
	case KindSQLite:
		return NewSQLiteBackend(filepath.Join(dataDir, "novella.db"))
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", kind)
	}
}

// Close 关闭实现了 io.Closer 的后端
func Close(b Backend) error {
	if c, ok := b.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
