package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type kvBackend interface {
	Backend
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

func backends(t *testing.T) map[string]kvBackend {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStorage(filepath.Join(dir, "files"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	db, err := NewSQLiteBackend(filepath.Join(dir, "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]kvBackend{
		"file":   fs,
		"sqlite": db,
		"memory": NewMemoryBackend(),
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Load(ctx, "novella_stories")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Save(ctx, "novella_stories", []byte(`[{"id":"a"}]`)))
			got, err := b.Load(ctx, "novella_stories")
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"a"}]`, string(got))

			require.NoError(t, b.Save(ctx, "novella_stories", []byte(`[]`)))
			got, err = b.Load(ctx, "novella_stories")
			require.NoError(t, err)
			assert.Equal(t, "[]", string(got))

			require.NoError(t, b.Save(ctx, "other", []byte("x")))
			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"novella_stories", "other"}, keys)

			require.NoError(t, b.Delete(ctx, "other"))
			assert.ErrorIs(t, b.Delete(ctx, "other"), ErrNotFound)
		})
	}
}

func TestBackendsRejectBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, b.Save(ctx, "", []byte("x")))
			assert.Error(t, b.Save(ctx, "../escape", []byte("x")))
			_, err := b.Load(ctx, `a\b`)
			assert.Error(t, err)
		})
	}
}

func TestFileStorageSeesExternalWrites(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Save(ctx, "k", []byte("one")))
	got, err := fs.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	assert.Equal(t, 1, fs.cache.len())

	// 外部进程改写文件后缓存失效
	path := filepath.Join(fs.BaseDir, "k"+fileExt)
	require.NoError(t, os.WriteFile(path, []byte("three"), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	got, err = fs.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "three", string(got))
}

func TestFileStorageHonoursCancelledContext(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer fs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fs.Save(ctx, "k", []byte("x")), context.Canceled)
}

func TestFileStorageCloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
}

func TestFileCacheLRU(t *testing.T) {
	dir := t.TempDir()
	c := newFileCache(5, time.Minute)
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(p, []byte{byte(i)}, 0644))
		c.put(p, []byte{byte(i)})
	}
	assert.Equal(t, 5, c.len())
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(KindMemory, dir)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = Open("SQLITE", dir)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	require.NoError(t, Close(b))

	b, err = Open(KindFile, dir)
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, b)
	require.NoError(t, Close(b))

	_, err = Open("redis", dir)
	assert.Error(t, err)
}
