package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationTable = "public.wfcash_schema_migrations"

// Migrator applies the SQL files in a migrations directory in filename order.
// Files follow the golang-migrate convention: {version}_{name}.up.sql with a
// matching .down.sql. Each file runs inside its own transaction together with
// the bookkeeping row, so a failed migration leaves no partial state.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, dir: migrationsDir}
}

// Up applies every pending up-migration. Already-applied versions are
// skipped, so running Up repeatedly is safe.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	pending, err := m.pendingFiles(applied)
	if err != nil {
		return fmt.Errorf("scan %s: %w", m.dir, err)
	}

	for _, name := range pending {
		if err := m.applyUp(ctx, name); err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s", name)
	}
	return nil
}

// Down rolls back the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var version, upName string
	row := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM `+migrationTable+` ORDER BY version DESC LIMIT 1`)
	switch err := row.Scan(&version, &upName); {
	case err == sql.ErrNoRows:
		log.Println("INFO: no migrations to roll back")
		return nil
	case err != nil:
		return fmt.Errorf("latest migration: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	script, err := os.ReadFile(filepath.Join(m.dir, downName))
	if err != nil {
		return fmt.Errorf("read %s: %w", downName, err)
	}

	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("exec %s: %w", downName, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+migrationTable+` WHERE version = $1`, version); err != nil {
			return fmt.Errorf("unrecord %s: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("INFO: rolled back migration %s", downName)
	return nil
}

func (m *Migrator) applyUp(ctx context.Context, name string) error {
	script, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	return m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+migrationTable+` (version, filename) VALUES ($1, $2)`,
			versionOf(name), name); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
		return nil
	})
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// pendingFiles returns the up-migration filenames not yet applied, sorted so
// the zero-padded version prefixes run in order.
func (m *Migrator) pendingFiles(applied map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		if applied[versionOf(name)] {
			continue
		}
		pending = append(pending, name)
	}
	sort.Strings(pending)
	return pending, nil
}

// versionOf extracts the version prefix, e.g. "000001" from
// "000001_event_log.up.sql".
func versionOf(name string) string {
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i]
	}
	return name
}
