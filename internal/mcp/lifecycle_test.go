package mcp_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/mcp"
	mcpmock "github.com/mrwong99/gglib/internal/mcp/mock"
	"github.com/mrwong99/gglib/internal/ports/mock"
)

func writableExecutable(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("permission-bit semantics differ on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestSupervisor_ValidateAllStartsEnabledAutoStartValidServers(t *testing.T) {
	path := writableExecutable(t)
	repo := &mock.McpServerRepository{
		ListResult: []domain.McpServerRecord{
			{ID: "a", Command: path, Enabled: true, AutoStart: true, Transport: domain.TransportStdio},
			{ID: "b", Command: path, Enabled: false, AutoStart: true, Transport: domain.TransportStdio},
		},
		GetResult: domain.McpServerRecord{ID: "a", Command: path, Enabled: true, AutoStart: true, Transport: domain.TransportStdio},
	}
	host := &mcpmock.Host{}
	sup := mcp.NewSupervisor(host, repo)

	if err := sup.ValidateAll(t.Context()); err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if got := host.CallCount("Connect"); got != 1 {
		t.Errorf("Connect called %d times, want 1 (only server a is enabled+autostart)", got)
	}
}

func TestSupervisor_ValidateAllSkipsInvalidServers(t *testing.T) {
	repo := &mock.McpServerRepository{
		ListResult: []domain.McpServerRecord{
			{ID: "ghost", Command: "definitely-not-a-real-command-xyz", Enabled: true, AutoStart: true, Transport: domain.TransportStdio},
		},
	}
	host := &mcpmock.Host{}
	sup := mcp.NewSupervisor(host, repo)

	if err := sup.ValidateAll(t.Context()); err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if got := host.CallCount("Connect"); got != 0 {
		t.Errorf("Connect called %d times, want 0 (resolution should have failed)", got)
	}
	calls := repo.Calls()
	var sawInvalid bool
	for _, c := range calls {
		if c.Method == "Save" {
			rec := c.Args[0].(domain.McpServerRecord)
			if !rec.IsValid && rec.LastError != "" {
				sawInvalid = true
			}
		}
	}
	if !sawInvalid {
		t.Error("expected the failed resolution to be persisted as invalid with a LastError")
	}
}

func TestSupervisor_StopServer(t *testing.T) {
	host := &mcpmock.Host{}
	sup := mcp.NewSupervisor(host, &mock.McpServerRepository{})

	if err := sup.StopServer(t.Context(), "a"); err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	if got := host.CallCount("Disconnect"); got != 1 {
		t.Errorf("Disconnect called %d times, want 1", got)
	}
}
