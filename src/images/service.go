// Package images implements uploading, listing, serving and deleting images.
// Bytes live in a filestore.Store and metadata in a MetadataStore; the
// Service keeps the two in step.
package images

import (
	"context"
	"errors"
	"io"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/filestore"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/models"
	"git.handmade.network/hmn/imghost/src/oops"
	"git.handmade.network/hmn/imghost/src/perf"
)

const PageSize = 10

type Service struct {
	Meta              MetadataStore
	Files             filestore.Store
	MaxFileSize       int64
	AllowedExtensions []string
}

func NewService(meta MetadataStore, files filestore.Store, cfg config.UploadConfig) *Service {
	return &Service{
		Meta:              meta,
		Files:             files,
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
	}
}

type Upload struct {
	OriginalName string
	// Size as declared by the client, or -1 if unknown. The bytes actually
	// written are checked against the limit either way.
	Size    int64
	Content io.Reader
}

// Create validates an upload, writes the file, and then records it. A file
// is never left behind for a failed upload, as far as removal succeeds.
func (s *Service) Create(ctx context.Context, up Upload) (*models.Image, error) {
	logger := logging.ExtractLogger(ctx)

	ext, err := Validate(up.OriginalName, up.Size, s.AllowedExtensions, s.MaxFileSize)
	if err != nil {
		return nil, err
	}

	filename := NewFilename(ext)

	b := perf.ExtractPerf(ctx).StartBlock("STORAGE", "Write image")
	written, err := s.Files.Put(ctx, filename, io.LimitReader(up.Content, s.MaxFileSize+1))
	b.End()
	if err != nil {
		return nil, oops.New(err, "failed to save file %s", filename)
	}

	if written > s.MaxFileSize || written == 0 {
		s.removeQuietly(ctx, filename)
		if written == 0 {
			return nil, Malformed("The uploaded file is empty")
		}
		return nil, TooLarge(s.MaxFileSize)
	}

	img, err := s.Meta.Insert(ctx, NewImage{
		Filename:     filename,
		OriginalName: up.OriginalName,
		Size:         written,
		FileType:     ext,
	})
	if err != nil {
		s.removeQuietly(ctx, filename)
		return nil, oops.New(err, "failed to record image %s", filename)
	}

	logger.Info().
		Int("id", img.ID).
		Str("filename", img.Filename).
		Str("original name", img.OriginalName).
		Int64("size", img.Size).
		Msg("Image uploaded")

	return img, nil
}

func (s *Service) removeQuietly(ctx context.Context, filename string) {
	if err := s.Files.Remove(ctx, filename); err != nil && !errors.Is(err, filestore.ErrNotExist) {
		logging.ExtractLogger(ctx).Error().Err(err).Str("filename", filename).Msg("Failed to clean up file after failed upload")
	}
}

type Page struct {
	Images     []*models.Image
	Total      int
	Page       int
	PerPage    int
	TotalPages int
	HasPrev    bool
	HasNext    bool
}

// List returns one page of images, newest first. Pages past the end are
// empty rather than an error.
func (s *Service) List(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		return nil, Malformed("Invalid page number")
	}

	total, err := s.Meta.Count(ctx)
	if err != nil {
		return nil, err
	}

	totalPages := (total + PageSize - 1) / PageSize
	result := &Page{
		Images:     []*models.Image{},
		Total:      total,
		Page:       page,
		PerPage:    PageSize,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}

	// page is bounded by totalPages before computing an offset, so huge
	// page numbers cannot overflow.
	if page <= totalPages {
		imgs, err := s.Meta.List(ctx, PageSize, (page-1)*PageSize)
		if err != nil {
			return nil, err
		}
		if imgs != nil {
			result.Images = imgs
		}
	}

	return result, nil
}

func (s *Service) Get(ctx context.Context, id int) (*models.Image, error) {
	return s.Meta.Get(ctx, id)
}

// Delete removes the row and its file. A missing file is only a warning, but
// any other failure to remove it keeps the row and is returned.
func (s *Service) Delete(ctx context.Context, id int) (*models.Image, error) {
	logger := logging.ExtractLogger(ctx)

	img, err := s.Meta.Delete(ctx, id, func(img *models.Image) error {
		err := s.Files.Remove(ctx, img.Filename)
		if errors.Is(err, filestore.ErrNotExist) {
			logger.Warn().Int("id", img.ID).Str("filename", img.Filename).Msg("File was already missing when deleting image")
			return nil
		}
		if err != nil {
			return oops.New(err, "failed to remove file for image %d", img.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Int("id", img.ID).Str("filename", img.Filename).Msg("Image deleted")
	return img, nil
}

// Open returns the stored file. Names are checked before touching storage, so
// anything that is not a plain filename comes back as ErrNotFound.
func (s *Service) Open(ctx context.Context, filename string) (*filestore.Object, error) {
	if filestore.ValidName(filename) != nil {
		return nil, ErrNotFound
	}
	obj, err := s.Files.Open(ctx, filename)
	if err != nil {
		if errors.Is(err, filestore.ErrNotExist) || errors.Is(err, filestore.ErrInvalidName) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}
