package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/imghost/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddImageListingIndex{})
}

type AddImageListingIndex struct{}

func (m AddImageListingIndex) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2024, 1, 22, 18, 15, 45, 0, time.UTC))
}

func (m AddImageListingIndex) Name() string {
	return "AddImageListingIndex"
}

func (m AddImageListingIndex) Description() string {
	return "Index images in gallery order"
}

func (m AddImageListingIndex) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE INDEX images_listing ON images (upload_time DESC, id DESC);
		`,
	)
	return err
}

func (m AddImageListingIndex) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DROP INDEX images_listing;`)
	return err
}
