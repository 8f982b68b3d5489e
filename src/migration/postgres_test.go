package migration

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/db"
	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/migration/types"
	"git.handmade.network/hmn/imghost/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the database configured in the environment. It migrates to
// the latest version and truncates the images table, so don't point it at
// anything you care about.
func TestPostgresMetadataStore(t *testing.T) {
	if os.Getenv("IMGHOST_TEST_DB") != "1" {
		t.Skip("set IMGHOST_TEST_DB=1 to run database tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.NewConn(ctx, config.PostgresConfig{})
	require.Nil(t, err)
	require.Nil(t, Migrate(ctx, conn, types.MigrationVersion{}))
	_, err = conn.Exec(ctx, "TRUNCATE images RESTART IDENTITY")
	require.Nil(t, err)
	conn.Close(ctx)

	pool, err := db.NewConnPool(ctx, config.PostgresConfig{})
	require.Nil(t, err)
	defer pool.Close()

	store := &images.PostgresMetadataStore{Pool: pool}

	first, err := store.Insert(ctx, images.NewImage{Filename: "aaaa.png", OriginalName: "cat.png", Size: 2048, FileType: "png"})
	require.Nil(t, err)
	second, err := store.Insert(ctx, images.NewImage{Filename: "bbbb.gif", OriginalName: "dog.gif", Size: 10, FileType: "gif"})
	require.Nil(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.False(t, first.UploadTime.IsZero())

	_, err = store.Insert(ctx, images.NewImage{Filename: "aaaa.png", OriginalName: "again.png", Size: 1, FileType: "png"})
	assert.NotNil(t, err, "filenames must be unique")

	got, err := store.Get(ctx, first.ID)
	require.Nil(t, err)
	assert.Equal(t, "cat.png", got.OriginalName)
	assert.Equal(t, int64(2048), got.Size)

	_, err = store.Get(ctx, 999999)
	assert.True(t, errors.Is(err, images.ErrNotFound))

	count, err := store.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 2, count)

	listed, err := store.List(ctx, 10, 0)
	require.Nil(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)

	t.Run("failed file removal keeps the row", func(t *testing.T) {
		_, err := store.Delete(ctx, first.ID, func(img *models.Image) error {
			return errors.New("disk on fire")
		})
		assert.NotNil(t, err)
		_, err = store.Get(ctx, first.ID)
		assert.Nil(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		var removed string
		deleted, err := store.Delete(ctx, first.ID, func(img *models.Image) error {
			removed = img.Filename
			return nil
		})
		require.Nil(t, err)
		assert.Equal(t, "aaaa.png", deleted.Filename)
		assert.Equal(t, "aaaa.png", removed)

		_, err = store.Get(ctx, first.ID)
		assert.True(t, errors.Is(err, images.ErrNotFound))

		_, err = store.Delete(ctx, first.ID, func(img *models.Image) error { return nil })
		assert.True(t, errors.Is(err, images.ErrNotFound))
	})

	all, err := store.All(ctx)
	require.Nil(t, err)
	assert.Len(t, all, 1)
}
