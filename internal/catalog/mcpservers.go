package catalog

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

var _ ports.McpServerRepository = (*Store)(nil)

func encodeStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// encodeEnv serializes env as JSON, then base64, matching the obfuscation
// (not encryption) scheme [domain.McpServerRecord] documents for its Env
// field.
func encodeEnv(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeEnv(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var env map[string]string
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return env, nil
}

// ListMcpServers returns every configured MCP server, ordered by name.
func (s *Store) ListMcpServers(ctx context.Context) ([]domain.McpServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, transport, command, args, cwd, path_additions, env,
		       resolved_path, enabled, auto_start, is_valid, last_error, last_connected_at
		FROM mcp_servers ORDER BY name`)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "list mcp servers", err)
	}
	defer rows.Close()

	var out []domain.McpServerRecord
	for rows.Next() {
		rec, err := scanMcpServerRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "iterate mcp server rows", err)
	}
	return out, nil
}

// GetMcpServer returns the MCP server configured under id.
func (s *Store) GetMcpServer(ctx context.Context, id string) (domain.McpServerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, transport, command, args, cwd, path_additions, env,
		       resolved_path, enabled, auto_start, is_valid, last_error, last_connected_at
		FROM mcp_servers WHERE id = ?`, id)
	rec, err := scanMcpServerRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.McpServerRecord{}, domain.NewError(domain.KindNotFound, "mcp server not found").WithField("id", id)
	}
	return rec, err
}

// scanMcpServerRow decodes one mcp_servers row via scan, which may be
// either *sql.Row.Scan or *sql.Rows.Scan.
func scanMcpServerRow(scan func(dest ...any) error) (domain.McpServerRecord, error) {
	var rec domain.McpServerRecord
	var transport, argsRaw, pathAdditionsRaw, envRaw string
	var enabled, autoStart, isValid int
	var lastConnectedAt sql.NullTime
	err := scan(&rec.ID, &rec.Name, &transport, &rec.Command, &argsRaw, &rec.Cwd,
		&pathAdditionsRaw, &envRaw, &rec.ResolvedPath, &enabled, &autoStart, &isValid,
		&rec.LastError, &lastConnectedAt)
	if err != nil {
		return domain.McpServerRecord{}, err
	}
	rec.Transport = domain.Transport(transport)
	rec.Enabled = enabled != 0
	rec.AutoStart = autoStart != 0
	rec.IsValid = isValid != 0
	if lastConnectedAt.Valid {
		rec.LastConnectedAt = lastConnectedAt.Time
	}
	if rec.Args, err = decodeStrings(argsRaw); err != nil {
		return domain.McpServerRecord{}, domain.WrapError(domain.KindInternal, "decode mcp server args", err)
	}
	if rec.PathAdditions, err = decodeStrings(pathAdditionsRaw); err != nil {
		return domain.McpServerRecord{}, domain.WrapError(domain.KindInternal, "decode mcp server path additions", err)
	}
	if rec.Env, err = decodeEnv(envRaw); err != nil {
		return domain.McpServerRecord{}, domain.WrapError(domain.KindInternal, "decode mcp server env", err)
	}
	return rec, nil
}

// Save inserts or updates rec, keyed by ID.
func (s *Store) Save(ctx context.Context, rec domain.McpServerRecord) error {
	args, err := encodeStrings(rec.Args)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "encode mcp server args", err)
	}
	pathAdditions, err := encodeStrings(rec.PathAdditions)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "encode mcp server path additions", err)
	}
	env, err := encodeEnv(rec.Env)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "encode mcp server env", err)
	}
	var lastConnectedAt *time.Time
	if !rec.LastConnectedAt.IsZero() {
		lastConnectedAt = &rec.LastConnectedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, transport, command, args, cwd, path_additions, env,
		                          resolved_path, enabled, auto_start, is_valid, last_error, last_connected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, transport = excluded.transport, command = excluded.command,
			args = excluded.args, cwd = excluded.cwd, path_additions = excluded.path_additions,
			env = excluded.env, resolved_path = excluded.resolved_path, enabled = excluded.enabled,
			auto_start = excluded.auto_start, is_valid = excluded.is_valid,
			last_error = excluded.last_error, last_connected_at = excluded.last_connected_at`,
		rec.ID, rec.Name, string(rec.Transport), rec.Command, args, rec.Cwd, pathAdditions, env,
		rec.ResolvedPath, boolToInt(rec.Enabled), boolToInt(rec.AutoStart), boolToInt(rec.IsValid),
		rec.LastError, lastConnectedAt)
	if err != nil {
		if isUniqueConstraint(err) {
			return domain.NewError(domain.KindValidationFailed, "an mcp server with this name already exists").WithField("name", rec.Name)
		}
		return domain.WrapError(domain.KindInternal, "save mcp server", err)
	}
	return nil
}

// DeleteMcpServer removes the MCP server configured under id. Idempotent.
func (s *Store) DeleteMcpServer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id); err != nil {
		return domain.WrapError(domain.KindInternal, "delete mcp server", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
