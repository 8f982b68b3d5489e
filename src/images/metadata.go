package images

import (
	"context"
	"errors"

	"git.handmade.network/hmn/imghost/src/db"
	"git.handmade.network/hmn/imghost/src/models"
	"git.handmade.network/hmn/imghost/src/oops"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NewImage struct {
	Filename     string
	OriginalName string
	Size         int64
	FileType     string
}

// MetadataStore persists image rows. Implementations return ErrNotFound
// for missing ids.
type MetadataStore interface {
	Insert(ctx context.Context, img NewImage) (*models.Image, error)
	Get(ctx context.Context, id int) (*models.Image, error)
	// List returns rows newest first, by upload_time then id.
	List(ctx context.Context, limit, offset int) ([]*models.Image, error)
	Count(ctx context.Context) (int, error)
	// Delete removes the row and then calls removeFile with it. If removeFile
	// fails the row deletion is undone and the error returned.
	Delete(ctx context.Context, id int, removeFile func(img *models.Image) error) (*models.Image, error)
	All(ctx context.Context) ([]*models.Image, error)
}

type PostgresMetadataStore struct {
	Pool *pgxpool.Pool
}

var _ MetadataStore = &PostgresMetadataStore{}

func (s *PostgresMetadataStore) Insert(ctx context.Context, img NewImage) (*models.Image, error) {
	result, err := db.QueryOne[models.Image](ctx, s.Pool,
		`
		---- Insert image
		INSERT INTO images (filename, original_name, size, file_type)
		VALUES ($1, $2, $3, $4)
		RETURNING $columns
		`,
		img.Filename,
		img.OriginalName,
		img.Size,
		img.FileType,
	)
	if err != nil {
		return nil, oops.New(err, "failed to insert image row")
	}
	return result, nil
}

func (s *PostgresMetadataStore) Get(ctx context.Context, id int) (*models.Image, error) {
	result, err := db.QueryOne[models.Image](ctx, s.Pool,
		`
		---- Get image
		SELECT $columns
		FROM images
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		if errors.Is(err, db.NotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.New(err, "failed to fetch image %d", id)
	}
	return result, nil
}

func (s *PostgresMetadataStore) List(ctx context.Context, limit, offset int) ([]*models.Image, error) {
	result, err := db.Query[models.Image](ctx, s.Pool,
		`
		---- List images
		SELECT $columns
		FROM images
		ORDER BY upload_time DESC, id DESC
		LIMIT $1 OFFSET $2
		`,
		limit,
		offset,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list images")
	}
	return result, nil
}

func (s *PostgresMetadataStore) Count(ctx context.Context) (int, error) {
	count, err := db.QueryOneScalar[int64](ctx, s.Pool,
		`
		---- Count images
		SELECT COUNT(*) FROM images
		`,
	)
	if err != nil {
		return 0, oops.New(err, "failed to count images")
	}
	return int(count), nil
}

func (s *PostgresMetadataStore) Delete(ctx context.Context, id int, removeFile func(img *models.Image) error) (*models.Image, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	img, err := db.QueryOne[models.Image](ctx, tx,
		`
		---- Delete image
		DELETE FROM images
		WHERE id = $1
		RETURNING $columns
		`,
		id,
	)
	if err != nil {
		if errors.Is(err, db.NotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.New(err, "failed to delete image %d", id)
	}

	if err := removeFile(img); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		// The file is already gone at this point; the consistency check will report the orphaned row.
		return nil, oops.New(err, "failed to commit image deletion")
	}
	return img, nil
}

func (s *PostgresMetadataStore) All(ctx context.Context) ([]*models.Image, error) {
	result, err := db.Query[models.Image](ctx, s.Pool,
		`
		---- All images
		SELECT $columns
		FROM images
		ORDER BY id
		`,
	)
	if err != nil {
		return nil, oops.New(err, "failed to fetch all images")
	}
	return result, nil
}
