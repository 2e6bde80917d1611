package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/pingwatch/assets"
)

const migrationsDir = "migrations"

// runMigrations applies embedded SQL files that are not yet recorded in schema_migrations.
// Files are applied in lexical order, each one inside its own transaction.
func runMigrations(ctx context.Context, db *sql.DB) error {
	const migrationTableSchema = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME
	);`

	if _, err := db.ExecContext(ctx, migrationTableSchema); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		applied, err := migrationApplied(ctx, db, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		log.Info().Str("file", file).Msg("Applying database migration...")
		if err := applyMigration(ctx, db, file); err != nil {
			return err
		}
	}

	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := assets.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	return files, nil
}

func migrationApplied(ctx context.Context, db *sql.DB, file string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM schema_migrations WHERE version = ?", file).Scan(&exists)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("check migration %s: %w", file, err)
	}
}

func applyMigration(ctx context.Context, db *sql.DB, file string) error {
	content, err := assets.ReadFile(path.Join(migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		file, time.Now().UTC().Truncate(time.Second),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}

	return tx.Commit()
}
