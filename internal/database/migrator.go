// Package database applies the ledger schema.
package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
)

const (
	upSuffix = ".up.sql"

	createSchemaMigrations = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`
	selectApplied  = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`
	recordMigrated = `INSERT INTO schema_migrations (name) VALUES ($1)`
)

// Migrator runs *.up.sql files once each, in lexical order, every file in its own transaction.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMigrator(db *sql.DB, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	return &Migrator{db: db, log: log.With(slog.String("component", "migrator"))}
}

// ApplyDir applies the migrations found in a directory on disk.
func (m *Migrator) ApplyDir(ctx context.Context, dir string) ([]string, error) {
	applied, err := m.Apply(ctx, os.DirFS(dir))
	if err != nil {
		return applied, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return applied, nil
}

// Apply runs the pending migrations at the root of fsys and returns the names it applied.
func (m *Migrator) Apply(ctx context.Context, fsys fs.FS) ([]string, error) {
	names, err := ListMigrations(fsys, ".")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		m.log.Info("no migrations found")
		return nil, nil
	}

	if _, err := m.db.ExecContext(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, name := range names {
		var done bool
		if err := m.db.QueryRowContext(ctx, selectApplied, name).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %q: %w", name, err)
		}
		if done {
			continue
		}

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("read migration %q: %w", name, err)
		}

		m.log.Info("applying migration", slog.String("file", name))
		if err := m.inTx(ctx, func(tx *sql.Tx) error {
			if stmt := strings.TrimSpace(string(body)); stmt != "" {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("execute: %w", err)
				}
			} else {
				m.log.Warn("empty migration recorded", slog.String("file", name))
			}
			_, err := tx.ExecContext(ctx, recordMigrated, name)
			return err
		}); err != nil {
			return applied, fmt.Errorf("migration %q: %w", name, err)
		}
		applied = append(applied, name)
	}

	return applied, nil
}

func (m *Migrator) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			m.log.Error("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// ListMigrations returns the *.up.sql files directly under root, sorted.
func ListMigrations(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), upSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
