package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

var _ ports.ModelCatalog = (*Store)(nil)

// Store is the SQLite-backed model catalog and completion ledger. A
// single *sql.DB is shared by both; SQLite's own file locking serializes
// writers, so no additional mutex is needed here.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog database at path and runs
// [Migrate] against it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// SQLite serializes writers at the connection level; one open
	// connection avoids SQLITE_BUSY under concurrent callers instead of
	// papering over it with busy-timeout retries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (s *Store) scanModel(row *sql.Row) (domain.ModelRecord, error) {
	var rec domain.ModelRecord
	var tags string
	var caps uint8
	var createdAt time.Time
	err := row.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.ParamCount, &rec.Architecture,
		&rec.Quantization, &rec.ContextLength, &rec.Fingerprint, &caps, &tags, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ModelRecord{}, domain.NewError(domain.KindNotFound, "model not found")
	}
	if err != nil {
		return domain.ModelRecord{}, domain.WrapError(domain.KindInternal, "scan model row", err)
	}
	rec.Capabilities = domain.Capabilities(caps)
	rec.Tags = splitTags(tags)
	rec.CreatedAt = createdAt
	return rec, nil
}

// ResolveForLaunch looks up name and returns the minimal spec the process
// supervisor needs to spawn it.
func (s *Store) ResolveForLaunch(ctx context.Context, name string) (domain.LaunchSpec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, path FROM models WHERE name = ?`, name)
	var spec domain.LaunchSpec
	spec.Name = name
	if err := row.Scan(&spec.ModelID, &spec.Path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LaunchSpec{}, domain.NewError(domain.KindNotFound, "model not found").WithField("name", name)
		}
		return domain.LaunchSpec{}, domain.WrapError(domain.KindInternal, "resolve for launch", err)
	}
	return spec, nil
}

// Insert registers a new model and returns its assigned id.
func (s *Store) Insert(ctx context.Context, rec domain.ModelRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO models (name, path, param_count, architecture, quantization, context_length, fingerprint, capabilities, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Path, rec.ParamCount, rec.Architecture, rec.Quantization,
		rec.ContextLength, rec.Fingerprint, uint8(rec.Capabilities), joinTags(rec.Tags))
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, domain.NewError(domain.KindValidationFailed, "a model with this name already exists").WithField("name", rec.Name)
		}
		return 0, domain.WrapError(domain.KindInternal, "insert model", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.WrapError(domain.KindInternal, "read inserted model id", err)
	}
	return id, nil
}

// Get returns the model with the given id.
func (s *Store) Get(ctx context.Context, id int64) (domain.ModelRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, param_count, architecture, quantization, context_length, fingerprint, capabilities, tags, created_at
		FROM models WHERE id = ?`, id)
	return s.scanModel(row)
}

// GetByName returns the model with the given display name.
func (s *Store) GetByName(ctx context.Context, name string) (domain.ModelRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, param_count, architecture, quantization, context_length, fingerprint, capabilities, tags, created_at
		FROM models WHERE name = ?`, name)
	return s.scanModel(row)
}

// List returns every registered model, ordered by id.
func (s *Store) List(ctx context.Context) ([]domain.ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, param_count, architecture, quantization, context_length, fingerprint, capabilities, tags, created_at
		FROM models ORDER BY id`)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "list models", err)
	}
	defer rows.Close()

	var out []domain.ModelRecord
	for rows.Next() {
		var rec domain.ModelRecord
		var tags string
		var caps uint8
		var createdAt time.Time
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.ParamCount, &rec.Architecture,
			&rec.Quantization, &rec.ContextLength, &rec.Fingerprint, &caps, &tags, &createdAt); err != nil {
			return nil, domain.WrapError(domain.KindInternal, "scan model row", err)
		}
		rec.Capabilities = domain.Capabilities(caps)
		rec.Tags = splitTags(tags)
		rec.CreatedAt = createdAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "iterate model rows", err)
	}
	return out, nil
}

// Delete removes a model by id. Idempotent: deleting an absent id is not
// an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id); err != nil {
		return domain.WrapError(domain.KindInternal, "delete model", err)
	}
	return nil
}

// Update persists changes to an existing model record.
func (s *Store) Update(ctx context.Context, rec domain.ModelRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE models
		SET name = ?, path = ?, param_count = ?, architecture = ?, quantization = ?,
		    context_length = ?, fingerprint = ?, capabilities = ?, tags = ?
		WHERE id = ?`,
		rec.Name, rec.Path, rec.ParamCount, rec.Architecture, rec.Quantization,
		rec.ContextLength, rec.Fingerprint, uint8(rec.Capabilities), joinTags(rec.Tags), rec.ID)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "update model", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.KindInternal, "read update rows affected", err)
	}
	if n == 0 {
		return domain.NewError(domain.KindNotFound, "model not found").WithField("id", fmt.Sprintf("%d", rec.ID))
	}
	return nil
}

// RecordCompletion records that key resolved to the file at path.
func (s *Store) RecordCompletion(ctx context.Context, key domain.CompletionKey, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloaded_files (repo_id, revision, filename, quantization, path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, revision, filename, quantization) DO UPDATE SET path = excluded.path`,
		key.RepoID, key.Revision, key.Filename, key.Quantization, path)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "record completion", err)
	}
	return nil
}

// LookupCompletion returns the previously recorded path for key, if any.
func (s *Store) LookupCompletion(ctx context.Context, key domain.CompletionKey) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path FROM downloaded_files
		WHERE repo_id = ? AND revision = ? AND filename = ? AND quantization = ?`,
		key.RepoID, key.Revision, key.Filename, key.Quantization)
	var path string
	if err := row.Scan(&path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, domain.WrapError(domain.KindInternal, "lookup completion", err)
	}
	return path, true, nil
}

// isUniqueConstraint reports whether err is a SQLite UNIQUE constraint
// violation. modernc.org/sqlite wraps the driver error in a plain string,
// so this is a substring check rather than a typed comparison.
func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
