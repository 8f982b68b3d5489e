package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	for _, tc := range []struct {
		name  string
		valid bool
	}{
		{"3f2a9c0e5b7d4e1f8a6b2c9d0e1f2a3b.png", true},
		{"photo.JPG", true},
		{"", false},
		{".", false},
		{"..", false},
		{".hidden.png", false},
		{".upload-123", false},
		{"../etc/passwd", false},
		{"a/b.png", false},
		{`..\secret.png`, false},
		{"nul\x00.png", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidName(tc.name)
			if tc.valid {
				assert.Nil(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func newLocal(t *testing.T) *Local {
	store, err := NewLocal(filepath.Join(t.TempDir(), "images"))
	require.Nil(t, err)
	return store
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	content := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 1000)

	n, err := store.Put(ctx, "abc.png", bytes.NewReader(content))
	require.Nil(t, err)
	assert.Equal(t, int64(len(content)), n)

	obj, err := store.Open(ctx, "abc.png")
	require.Nil(t, err)
	read, err := io.ReadAll(obj)
	obj.Close()
	require.Nil(t, err)
	assert.Equal(t, content, read)
	assert.Equal(t, int64(len(content)), obj.Size)

	files, err := store.List(ctx)
	require.Nil(t, err)
	assert.Equal(t, []FileInfo{{Name: "abc.png", Size: int64(len(content))}}, files)

	require.Nil(t, store.Remove(ctx, "abc.png"))
	assert.ErrorIs(t, store.Remove(ctx, "abc.png"), ErrNotExist)
	_, err = store.Open(ctx, "abc.png")
	assert.ErrorIs(t, err, ErrNotExist)
}

type failingReader struct {
	n int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, errors.New("connection reset")
	}
	n := len(p)
	if n > r.n {
		n = r.n
	}
	r.n -= n
	return n, nil
}

func TestLocalFailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)

	_, err := store.Put(ctx, "broken.png", &failingReader{n: 4096})
	assert.NotNil(t, err)

	entries, err := os.ReadDir(store.Root())
	require.Nil(t, err)
	assert.Empty(t, entries, "no temp files or partial files should remain")
}

func TestLocalPutCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newLocal(t)

	_, err := store.Put(ctx, "late.png", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Open(context.Background(), "late.png")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	store, err := NewLocal(filepath.Join(parent, "images"))
	require.Nil(t, err)
	require.Nil(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("hunter2"), 0644))

	for _, name := range []string{"../secret.txt", "..", ".", ""} {
		_, err := store.Open(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.ErrorIs(t, store.Remove(ctx, name), ErrInvalidName, name)
		_, err = store.Put(ctx, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = os.Stat(filepath.Join(parent, "secret.txt"))
	assert.Nil(t, err)
}

func TestLocalListSkipsHiddenAndDirs(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)
	require.Nil(t, os.WriteFile(filepath.Join(store.Root(), ".upload-999"), []byte("partial"), 0644))
	require.Nil(t, os.Mkdir(filepath.Join(store.Root(), "subdir"), 0755))
	_, err := store.Put(ctx, "real.gif", strings.NewReader("GIF89a"))
	require.Nil(t, err)

	files, err := store.List(ctx)
	require.Nil(t, err)
	assert.Equal(t, []FileInfo{{Name: "real.gif", Size: 6}}, files)

	_, err = store.Open(ctx, "subdir")
	assert.ErrorIs(t, err, ErrNotExist)
}
