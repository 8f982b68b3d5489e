// Package imagestest provides an in-memory MetadataStore for tests.
package imagestest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/models"
)

var ErrInjected = errors.New("injected metadata failure")

type MemStore struct {
	// When set, Insert fails with ErrInjected.
	FailInserts bool
	// Now stamps upload_time. Defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	nextID int
	rows   map[int]models.Image
}

var _ images.MetadataStore = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		rows:   make(map[int]models.Image),
	}
}

func (s *MemStore) Insert(ctx context.Context, img images.NewImage) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInserts {
		return nil, ErrInjected
	}
	for _, row := range s.rows {
		if row.Filename == img.Filename {
			return nil, errors.New("duplicate filename")
		}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	row := models.Image{
		ID:           s.nextID,
		Filename:     img.Filename,
		OriginalName: img.OriginalName,
		Size:         img.Size,
		UploadTime:   now(),
		FileType:     img.FileType,
	}
	s.nextID++
	s.rows[row.ID] = row
	return &row, nil
}

func (s *MemStore) Get(ctx context.Context, id int) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, images.ErrNotFound
	}
	return &row, nil
}

func (s *MemStore) List(ctx context.Context, limit, offset int) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.sorted()
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.UploadTime.Equal(b.UploadTime) {
			return a.UploadTime.After(b.UploadTime)
		}
		return a.ID > b.ID
	})

	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

func (s *MemStore) Delete(ctx context.Context, id int, removeFile func(img *models.Image) error) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, images.ErrNotFound
	}
	delete(s.rows, id)
	if err := removeFile(&row); err != nil {
		s.rows[id] = row
		return nil, err
	}
	return &row, nil
}

func (s *MemStore) All(ctx context.Context) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

// Ordered by id.
func (s *MemStore) sorted() []*models.Image {
	result := make([]*models.Image, 0, len(s.rows))
	for _, row := range s.rows {
		row := row
		result = append(result, &row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
