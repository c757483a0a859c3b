package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded schema step, versioned by its filename prefix.
type migration struct {
	version string
	file    string
}

func listMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		out = append(out, migration{version: version, file: name})
	}
	// 000 creates schema_migrations and must run first
	sort.Slice(out, func(i, j int) bool { return out[i].file < out[j].file })
	return out, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := listMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
		if err != nil && m.version != "000" {
			return errors.Newf("schema_migrations table missing, but migration is not 000: %s", m.file)
		}
		if exists {
			continue
		}

		body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
		if err != nil {
			return errors.Wrapf(err, "read %s", m.file)
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", m.file, "version", m.version, "symbol", sym.DB)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", m.file)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", m.file)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", m.file)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", m.file)
		}
		applied++
	}

	if logger != nil {
		logger.Debugw("Migrations complete",
			"symbol", sym.DB,
			"applied", applied,
			"total_migrations", len(all),
		)
	}
	return nil
}
