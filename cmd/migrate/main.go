// Command migrate applies or rolls back the event log schema migrations.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/ckoopmann/wrapped-fcash/internal/persistence"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate <up|down>")
	fmt.Fprintln(os.Stderr, "  up   - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down - roll back the last migration")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  WFCASH_POSTGRES_DSN  - Postgres connection string (required)")
	fmt.Fprintln(os.Stderr, "  MIGRATIONS_DIR       - path to migrations directory (default: migrations)")
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}

	dsn := envOr("WFCASH_POSTGRES_DSN", "postgres://localhost:5432/wfcash?sslmode=disable")
	migrationsDir := envOr("MIGRATIONS_DIR", "migrations")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Println("INFO: all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	default:
		usage()
	}
}
