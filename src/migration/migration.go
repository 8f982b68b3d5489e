package migration

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/db"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/migration/migrations"
	"git.handmade.network/hmn/imghost/src/migration/types"
	"git.handmade.network/hmn/imghost/src/website"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

// Arbitrary key so that two servers starting at once don't migrate concurrently.
const migrationLockKey = 7_341_002

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			if listMigrations {
				if err := ListMigrations(ctx); err != nil {
					fmt.Printf("ERROR: %v\n", err)
					os.Exit(1)
				}
				return
			}

			targetVersion := time.Time{}
			if len(args) > 0 {
				var err error
				targetVersion, err = time.Parse(time.RFC3339, args[0])
				if err != nil {
					fmt.Printf("ERROR: bad version string: %v\n", err)
					os.Exit(1)
				}
			}

			conn, err := db.NewConn(ctx, config.PostgresConfig{})
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to connect to database")
			}
			defer conn.Close(ctx)

			if err := Migrate(ctx, conn, types.MigrationVersion(targetVersion)); err != nil {
				logging.Fatal().Err(err).Msg("migration failed")
			}
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			name := args[0]
			description := strings.Join(args[1:], " ")

			path, err := MakeMigration(filepath.Join("src", "migration", "migrations"), name, description, time.Now())
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Successfully created migration file:")
			fmt.Println(path)
		},
	}

	website.WebsiteCommand.AddCommand(migrateCommand)
	website.WebsiteCommand.AddCommand(makeMigrationCommand)
	website.AddStartupHook(autoMigrate)
}

// Runs before the server starts serving when DB_AUTO_MIGRATE is on.
func autoMigrate(ctx context.Context) error {
	if !config.Config.Postgres.AutoMigrate {
		return nil
	}
	conn, err := db.NewConn(ctx, config.PostgresConfig{})
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return Migrate(ctx, conn, LatestVersion())
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func LatestVersion() types.MigrationVersion {
	allVersions := getSortedMigrationVersions()
	return allVersions[len(allVersions)-1]
}

func getCurrentVersion(ctx context.Context, conn db.ConnOrTx) (types.MigrationVersion, error) {
	currentVersion, err := db.QueryOneScalar[time.Time](ctx, conn, "SELECT version FROM imghost_migration")
	if err != nil {
		return types.MigrationVersion{}, err
	}
	return types.MigrationVersion(currentVersion.UTC()), nil
}

func ListMigrations(ctx context.Context) error {
	var currentVersion types.MigrationVersion
	conn, err := db.NewConn(ctx, config.PostgresConfig{ConnectAttempts: 1})
	if err == nil {
		currentVersion, _ = getCurrentVersion(ctx, conn)
		conn.Close(ctx)
	} else {
		fmt.Println("(could not connect to the database; current version unknown)")
	}

	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
	return nil
}

type migrationStep struct {
	Version types.MigrationVersion
	Up      bool
	// The version recorded after this step.
	ResultVersion types.MigrationVersion
}

// planMigrations works out which migrations to apply, in order, to get from
// current to target. A zero target means the latest migration.
func planMigrations(allVersions []types.MigrationVersion, current, target types.MigrationVersion) ([]migrationStep, error) {
	if len(allVersions) == 0 {
		return nil, errors.New("there are no migrations")
	}
	if target.IsZero() {
		target = allVersions[len(allVersions)-1]
	}

	currentIndex := -1
	targetIndex := -1
	for i, version := range allVersions {
		if current.Equal(version) {
			currentIndex = i
		}
		if target.Equal(version) {
			targetIndex = i
		}
	}

	if targetIndex < 0 {
		return nil, fmt.Errorf("could not find migration with version %v", target)
	}
	if currentIndex < 0 && !current.IsZero() {
		return nil, fmt.Errorf("database is at unknown migration version %v", current)
	}

	var steps []migrationStep
	if currentIndex < targetIndex {
		for i := currentIndex + 1; i <= targetIndex; i++ {
			steps = append(steps, migrationStep{Version: allVersions[i], Up: true, ResultVersion: allVersions[i]})
		}
	} else {
		for i := currentIndex; i > targetIndex; i-- {
			previousVersion := types.MigrationVersion{}
			if i > 0 {
				previousVersion = allVersions[i-1]
			}
			steps = append(steps, migrationStep{Version: allVersions[i], Up: false, ResultVersion: previousVersion})
		}
	}
	return steps, nil
}

func Migrate(ctx context.Context, conn *pgx.Conn, targetVersion types.MigrationVersion) error {
	_, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey)
	if err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS imghost_migration (
			version TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	numRows, err := db.QueryOneScalar[int64](ctx, conn, "SELECT COUNT(*) FROM imghost_migration")
	if err != nil {
		return err
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO imghost_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			return fmt.Errorf("failed to insert initial migration row: %w", err)
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if currentVersion.IsZero() {
		logging.Info().Msg("This is the first time you have run database migrations.")
	}

	steps, err := planMigrations(getSortedMigrationVersions(), currentVersion, targetVersion)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		logging.Debug().Stringer("version", currentVersion).Msg("Already migrated; nothing to do.")
		return nil
	}

	for _, step := range steps {
		if err := applyStep(ctx, conn, step); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(ctx context.Context, conn *pgx.Conn, step migrationStep) error {
	migration := migrations.All[step.Version]
	if step.Up {
		logging.Info().Stringer("version", step.Version).Str("name", migration.Name()).Msg("Applying migration")
	} else {
		logging.Info().Stringer("version", step.Version).Str("name", migration.Name()).Msg("Rolling back migration")
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if step.Up {
		err = migration.Up(ctx, tx)
	} else {
		err = migration.Down(ctx, tx)
	}
	if err != nil {
		return fmt.Errorf("migration %v (%s) failed: %w", step.Version, migration.Name(), err)
	}

	_, err = tx.Exec(ctx, "UPDATE imghost_migration SET version = $1", time.Time(step.ResultVersion))
	if err != nil {
		return fmt.Errorf("failed to update version in migrations table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

//go:embed migrationTemplate.txt
var migrationTemplate string

func MakeMigration(dir, name, description string, now time.Time) (string, error) {
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DESCRIPTION%", fmt.Sprintf("%#v", description))

	now = now.UTC()
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	result = strings.ReplaceAll(result, "%DATE%", nowConstructor)

	safeVersion := strings.ReplaceAll(types.MigrationVersion(now).String(), ":", "")
	filename := fmt.Sprintf("%v_%v.go", safeVersion, name)
	path := filepath.Join(dir, filename)

	err := os.WriteFile(path, []byte(result), 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	return path, nil
}
