package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates all tables if missing. Serialized with an advisory
// lock so concurrent api/worker startups do not race on DDL.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	tax_year INTEGER NOT NULL,
	client JSONB NOT NULL DEFAULT '{}'::jsonb,
	run_context TEXT,
	document_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	rates JSONB NOT NULL DEFAULT '{}'::jsonb,
	diagnostics JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_status ON analysis_runs(status);

CREATE TABLE IF NOT EXISTS candidates (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	document_id TEXT NOT NULL,
	entry JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candidates_run ON candidates(run_id);

CREATE TABLE IF NOT EXISTS tax_records (
	run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	form TEXT NOT NULL,
	code TEXT NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (run_id, form, code)
);

CREATE TABLE IF NOT EXISTS foreign_accounts (
	run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	account_number TEXT NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (run_id, account_number)
);

CREATE TABLE IF NOT EXISTS exchange_rates (
	id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	rates JSONB NOT NULL,
	as_of TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
