package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// runMigrations runs the Bun migrations used for sqlite and cockroachdb
func (b *BunDB) runMigrations(ctx context.Context) error {
	// Create a simple migrations tracking table
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bun_schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Check which migrations have been applied
	type AppliedMigration struct {
		bun.BaseModel `bun:"table:bun_schema_migrations"`
		Version       string `bun:"version,pk"`
	}
	var applied []AppliedMigration
	err = b.db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	// Run migrations in order
	migrations := []struct {
		version string
		name    string
		up      func(context.Context, *bun.DB) error
	}{
		{"001", "create_runs", init001CreateRunTables},
		{"002", "create_server_config", init002CreateServerConfig},
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, b.db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		// Mark as applied
		_, err = b.db.NewInsert().
			Model(&AppliedMigration{Version: m.version}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: extraction_runs and page_outcomes
func init001CreateRunTables(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS extraction_runs (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			backend TEXT NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			pages_ok INTEGER NOT NULL DEFAULT 0,
			pages_failed INTEGER NOT NULL DEFAULT 0,
			pages_skipped INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create extraction_runs table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS page_outcomes (
			run_id TEXT NOT NULL REFERENCES extraction_runs(id),
			page INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			error TEXT,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			output_path TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, page)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create page_outcomes table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_extraction_runs_status ON extraction_runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_page_outcomes_status ON page_outcomes(run_id, status)",
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Migration 002: server_config
func init002CreateServerConfig(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS server_config (
			id INTEGER PRIMARY KEY,
			listen_addr_ip TEXT,
			listen_addr_port TEXT NOT NULL DEFAULT '8000',
			ingress_path TEXT NOT NULL DEFAULT '',
			ingress_delete BOOLEAN NOT NULL DEFAULT FALSE,
			ingress_interval INTEGER NOT NULL DEFAULT 10,
			output_path TEXT NOT NULL DEFAULT '',
			render_backend TEXT NOT NULL DEFAULT 'pdfium',
			render_dpi REAL NOT NULL DEFAULT 432,
			max_concurrency INTEGER NOT NULL DEFAULT 0,
			result_buffer INTEGER NOT NULL DEFAULT 100,
			output_width INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create server_config table: %w", err)
	}
	return nil
}
