// Package filestore keeps image bytes in a flat namespace of server-generated
// filenames, either in a local directory or in an S3-compatible bucket.
package filestore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
)

var (
	ErrNotExist    = errors.New("file does not exist")
	ErrInvalidName = errors.New("invalid file name")
)

type Store interface {
	// Put writes everything from r under name and returns the number of bytes written.
	// A failed Put leaves nothing behind.
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	// Open returns ErrNotExist for missing files. The caller must close the object.
	Open(ctx context.Context, name string) (*Object, error)
	// Remove returns ErrNotExist for missing files.
	Remove(ctx context.Context, name string) error
	List(ctx context.Context) ([]FileInfo, error)
}

type Object struct {
	io.ReadCloser
	Size    int64
	ModTime time.Time
}

type FileInfo struct {
	Name string
	Size int64
}

// ValidName reports whether name is a single plain path element. Anything
// that could escape the store root or address a hidden file is rejected.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}

// FromConfig builds the store selected by STORAGE_BACKEND.
func FromConfig(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return NewS3(ctx, cfg.S3)
	default:
		return NewLocal(cfg.Dir)
	}
}
