// Package catalog provides a SQLite-backed implementation of
// [ports.ModelCatalog]: the registered-model table and the
// downloaded-file dedup ledger, both embedded in a single on-disk file.
//
// Usage:
//
//	store, err := catalog.Open(ctx, "gglib.db")
//	if err != nil { … }
//	defer store.Close()
//
//	id, err := store.Insert(ctx, rec)
package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

const ddlModels = `
CREATE TABLE IF NOT EXISTS models (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT    NOT NULL UNIQUE,
    path           TEXT    NOT NULL,
    param_count    INTEGER NOT NULL DEFAULT 0,
    architecture   TEXT    NOT NULL DEFAULT '',
    quantization   TEXT    NOT NULL DEFAULT '',
    context_length INTEGER NOT NULL DEFAULT 0,
    fingerprint    TEXT    NOT NULL DEFAULT '',
    capabilities   INTEGER NOT NULL DEFAULT 0,
    tags           TEXT    NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_models_fingerprint ON models (fingerprint);
`

const ddlDownloadedFiles = `
CREATE TABLE IF NOT EXISTS downloaded_files (
    repo_id      TEXT NOT NULL,
    revision     TEXT NOT NULL,
    filename     TEXT NOT NULL,
    quantization TEXT NOT NULL DEFAULT '',
    path         TEXT NOT NULL,
    PRIMARY KEY (repo_id, revision, filename, quantization)
);
`

const ddlMcpServers = `
CREATE TABLE IF NOT EXISTS mcp_servers (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL UNIQUE,
    transport         TEXT NOT NULL,
    command           TEXT NOT NULL DEFAULT '',
    args              TEXT NOT NULL DEFAULT '',
    cwd               TEXT NOT NULL DEFAULT '',
    path_additions    TEXT NOT NULL DEFAULT '',
    env               TEXT NOT NULL DEFAULT '',
    resolved_path     TEXT NOT NULL DEFAULT '',
    enabled           INTEGER NOT NULL DEFAULT 0,
    auto_start        INTEGER NOT NULL DEFAULT 0,
    is_valid          INTEGER NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    last_connected_at TIMESTAMP
);
`

// Migrate creates the catalog tables if they do not already exist. It is
// idempotent and safe to call on every process start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{ddlModels, ddlDownloadedFiles, ddlMcpServers} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog migrate: %w", err)
		}
	}
	return nil
}
