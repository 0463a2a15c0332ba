package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

// Supervisor drives the validate-at-startup / start / stop lifecycle for
// a set of MCP servers on top of a Host, persisting record mutations
// (ResolvedPath, IsValid, LastError, LastConnectedAt) through repo.
type Supervisor struct {
	host HostAPI
	repo ports.McpServerRepository
}

// NewSupervisor pairs host with the repository used to persist lifecycle
// state.
func NewSupervisor(host HostAPI, repo ports.McpServerRepository) *Supervisor {
	return &Supervisor{host: host, repo: repo}
}

// ValidateAll re-resolves every stored server's executable (without
// connecting) and persists the outcome, then connects every server that
// is enabled, auto-start, and valid. Errors connecting one server do not
// prevent the others from starting; they are logged and reflected in
// that server's LastError.
func (s *Supervisor) ValidateAll(ctx context.Context) error {
	records, err := s.repo.ListMcpServers(ctx)
	if err != nil {
		return err
	}

	for i := range records {
		rec := records[i]
		if err := s.validateRecord(&rec); err != nil {
			slog.Warn("mcp: validation failed", "server_id", rec.ID, "error", err)
		}
		if saveErr := s.repo.Save(ctx, rec); saveErr != nil {
			slog.Warn("mcp: failed to persist validation result", "server_id", rec.ID, "error", saveErr)
		}
		if rec.Enabled && rec.AutoStart && rec.IsValid {
			if err := s.StartServer(ctx, rec.ID); err != nil {
				slog.Warn("mcp: auto-start failed", "server_id", rec.ID, "error", err)
			}
		}
	}
	return nil
}

// validateRecord re-validates rec's command, populating ResolvedPath,
// IsValid, and LastError, without connecting.
func (s *Supervisor) validateRecord(rec *domain.McpServerRecord) error {
	if rec.Cwd != "" {
		info, err := os.Stat(rec.Cwd)
		if err != nil || !info.IsDir() {
			rec.IsValid = false
			rec.LastError = "working directory does not exist: " + rec.Cwd
			return domain.NewError(domain.KindValidationFailed, rec.LastError)
		}
	}
	resolved, _, err := revalidate(rec.ResolvedPath, rec.PathAdditions, rec.Command)
	if err != nil {
		rec.IsValid = false
		rec.LastError = err.Error()
		return err
	}
	rec.ResolvedPath = resolved
	rec.IsValid = true
	rec.LastError = ""
	return nil
}

// StartServer refreshes serverID's resolved path and connects it. It may
// be called on an already-connected server to force a fresh connection.
func (s *Supervisor) StartServer(ctx context.Context, serverID string) error {
	rec, err := s.repo.GetMcpServer(ctx, serverID)
	if err != nil {
		return err
	}
	connErr := s.host.Connect(ctx, &rec)
	if saveErr := s.repo.Save(ctx, rec); saveErr != nil {
		slog.Warn("mcp: failed to persist server state after start", "server_id", serverID, "error", saveErr)
	}
	return connErr
}

// StopServer disconnects serverID, dropping its session and cached tool
// list.
func (s *Supervisor) StopServer(ctx context.Context, serverID string) error {
	return s.host.Disconnect(serverID)
}
