package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/imghost/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(CreateImages{})
}

type CreateImages struct{}

func (m CreateImages) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2024, 1, 15, 9, 30, 12, 0, time.UTC))
}

func (m CreateImages) Name() string {
	return "CreateImages"
}

func (m CreateImages) Description() string {
	return "Create the images metadata table"
}

func (m CreateImages) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE IF NOT EXISTS images (
			id SERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			size BIGINT NOT NULL,
			upload_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			file_type TEXT NOT NULL,
			CONSTRAINT images_filename_unique UNIQUE (filename)
		);
		`,
	)
	return err
}

func (m CreateImages) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DROP TABLE images;`)
	return err
}
