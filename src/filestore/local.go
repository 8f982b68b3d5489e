package filestore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"git.handmade.network/hmn/imghost/src/oops"
)

type Local struct {
	root string
}

var _ Store = &Local{}

func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, oops.New(err, "failed to resolve storage directory %s", dir)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, oops.New(err, "failed to create storage directory %s", abs)
	}
	return &Local{root: abs}, nil
}

func (s *Local) Root() string {
	return s.root
}

// Resolves name inside the root. The prefix check backs up ValidName in
// case of anything filepath.Join would still clean into a parent.
func (s *Local) path(name string) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, name)
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return p, nil
}

func (s *Local) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	dest, err := s.path(name)
	if err != nil {
		return 0, err
	}

	// Written under a dot-name first so a half-written file is never servable.
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return 0, oops.New(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return 0, oops.New(err, "failed to write file %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, oops.New(err, "failed to close file %s", name)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return 0, oops.New(err, "failed to set permissions on %s", name)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, oops.New(err, "failed to move file %s into place", name)
	}
	return n, nil
}

func (s *Local) Open(ctx context.Context, name string) (*Object, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, oops.New(err, "failed to open file %s", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, oops.New(err, "failed to stat file %s", name)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotExist
	}
	return &Object{ReadCloser: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *Local) Remove(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return oops.New(err, "failed to remove file %s", name)
	}
	return nil
}

func (s *Local) List(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, oops.New(err, "failed to list storage directory")
	}
	var result []FileInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() || ValidName(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		result = append(result, FileInfo{Name: entry.Name(), Size: info.Size()})
	}
	return result, nil
}

// Stops a long copy once the request that started it has gone away.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
