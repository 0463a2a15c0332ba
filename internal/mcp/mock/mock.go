// Package mock provides an in-memory test double for [mcp.Host]'s public
// surface, following the same Call/CallCount/Reset/*Result/*Err
// convention as [github.com/mrwong99/gglib/internal/ports/mock].
package mock

import (
	"context"
	"sync"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/mcp"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Host is a configurable test double mirroring [mcp.Host]'s methods.
type Host struct {
	mu    sync.Mutex
	calls []Call

	ConnectErr error

	DisconnectErr error

	AvailableToolsResult []mcp.ToolDefinition

	ExecuteToolResult *mcp.ToolResult
	ExecuteToolErr    error

	CloseErr error
}

func (h *Host) record(method string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (h *Host) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

func (h *Host) Connect(_ context.Context, rec *domain.McpServerRecord) error {
	h.record("Connect", rec.ID)
	if h.ConnectErr == nil {
		rec.IsValid = true
		rec.LastError = ""
	}
	return h.ConnectErr
}

func (h *Host) Disconnect(serverID string) error {
	h.record("Disconnect", serverID)
	return h.DisconnectErr
}

func (h *Host) AvailableTools() []mcp.ToolDefinition {
	h.record("AvailableTools")
	out := make([]mcp.ToolDefinition, len(h.AvailableToolsResult))
	copy(out, h.AvailableToolsResult)
	return out
}

func (h *Host) ExecuteTool(_ context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.record("ExecuteTool", name, args)
	return h.ExecuteToolResult, h.ExecuteToolErr
}

func (h *Host) Close() error {
	h.record("Close")
	return h.CloseErr
}

var _ mcp.HostAPI = (*Host)(nil)
