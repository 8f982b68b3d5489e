/*
Package db holds the low-level helpers for talking to Postgres. It maps query
results onto Go types while still letting you write plain SQL.

Query syntax

Arguments use the usual $1, $2 placeholders and are passed straight to pgx.

	count, err := db.QueryOneScalar[int64](ctx, conn, `SELECT COUNT(*) FROM images WHERE file_type = $1`, "png")

To fetch whole rows, query into a struct with `db:"column_name"` tags and use
the $columns placeholder:

	type Image struct {
		ID       int    `db:"id"`
		Filename string `db:"filename"`
	}
	images, err := db.Query[Image](ctx, conn, `SELECT $columns FROM images ORDER BY id`)
	// SELECT id, filename FROM images ORDER BY id

A table prefix can be given as $columns{prefix}, which is handy with RETURNING
or JOINs:

	images, err := db.Query[Image](ctx, conn, `SELECT $columns{img} FROM images AS img`)
	// SELECT img.id, img.filename FROM images AS img
*/
package db
