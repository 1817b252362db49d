// Package main is the entry point for the database migration runner.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lamemoria/baldosas/internal/db"
	"github.com/lamemoria/baldosas/internal/middleware"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	dir := flag.String("dir", "migrations", "directory containing *.sql migration files")
	flag.Parse()

	if *help {
		fmt.Println("Baldosas Migration Runner")
		fmt.Println()
		fmt.Println("Applies pending *.sql files from the migrations directory in")
		fmt.Println("lexical order, tracking applied migrations in schema_migrations.")
		fmt.Println()
		fmt.Println("Usage: migrate [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	env := os.Getenv("BALDOSAS_ENV")
	if env == "" {
		env = "development"
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	applied, err := run(ctx, conn, *dir, logger)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", applied)
}

// run applies every pending migration in lexical order. Each file runs in its
// own transaction together with its schema_migrations bookkeeping row, so a
// failure leaves the database at the last fully applied migration.
func run(ctx context.Context, conn *sql.DB, dir string, logger *slog.Logger) (int, error) {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	names, err := pendingMigrations(ctx, conn, dir)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range names {
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return applied, fmt.Errorf("reading %s: %w", name, err)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("beginning transaction for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(payload)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("applying %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("recording %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("committing %s: %w", name, err)
		}

		logger.Info("applied migration", "name", name)
		applied++
	}
	return applied, nil
}

// sqlFiles lists *.sql files in dir in lexical order.
func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// pendingMigrations lists *.sql files in dir that have no schema_migrations row.
func pendingMigrations(ctx context.Context, conn *sql.DB, dir string) ([]string, error) {
	names, err := sqlFiles(dir)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		done[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pending := names[:0]
	for _, name := range names {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}
