// Package mcp supervises Model Context Protocol tool-server child
// processes: resolving their executables, connecting over stdio via the
// official MCP SDK, maintaining a live tool catalog, and tracking each
// server's enabled/auto-start/validity lifecycle.
//
// Lifecycle:
//
//  1. Call [Host.Connect] for each server marked enabled and auto-start
//     (typically via [Supervisor.ValidateAll] at startup).
//  2. Use [Host.AvailableTools] / [Host.ExecuteTool] to drive tool calls
//     from chat completions.
//  3. Call [Host.Disconnect] to stop a single server, or [Host.Close] to
//     tear down every connection.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/eventbus"
	"github.com/mrwong99/gglib/internal/observe"
)

// toolCallTimeout bounds a single tools/call round trip per spec.md §4.D.
const toolCallTimeout = 30 * time.Second

// ToolDefinition is the public descriptor of a single tool exposed by a
// registered server.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	ServerID    string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

type toolEntry struct {
	def      ToolDefinition
	serverID string
}

type serverConn struct {
	session *mcpsdk.ClientSession
}

// HostAPI is the surface [Supervisor] and its callers depend on, letting
// tests substitute [github.com/mrwong99/gglib/internal/mcp/mock.Host] for
// the real SDK-backed [Host].
type HostAPI interface {
	Connect(ctx context.Context, rec *domain.McpServerRecord) error
	Disconnect(serverID string) error
	AvailableTools() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)
	Close() error
}

// Host manages connections to MCP servers, maintains a live tool
// catalog, and enforces each server's enabled/auto-start/validity
// lifecycle. The zero value is not usable; create instances with New.
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]serverConn

	client *mcpsdk.Client
	bus    *eventbus.Bus

	// Metrics records tool-call and active-server observability. Left
	// nil, instrumentation is a no-op.
	Metrics *observe.Metrics
}

var _ HostAPI = (*Host)(nil)

// New creates a ready-to-use Host that publishes lifecycle events on bus
// (which may be nil in tests).
func New(bus *eventbus.Bus) *Host {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gglib", Version: "1.0.0"}, nil)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
		bus:     bus,
	}
}

// Connect resolves rec's executable (if not already cached and valid)
// and establishes a stdio session, importing its tool catalog. rec is
// mutated in place: ResolvedPath, IsValid, and LastError are updated to
// reflect the outcome. A resolution failure marks the record invalid but
// never clears a previously cached ResolvedPath.
func (h *Host) Connect(ctx context.Context, rec *domain.McpServerRecord) error {
	if !rec.Transport.IsValid() {
		rec.IsValid = false
		rec.LastError = fmt.Sprintf("unknown transport %q", rec.Transport)
		return domain.NewError(domain.KindValidationFailed, rec.LastError)
	}
	if rec.Transport != domain.TransportStdio {
		return domain.NewError(domain.KindValidationFailed, "only stdio transport is currently supported")
	}

	resolved, _, err := revalidate(rec.ResolvedPath, rec.PathAdditions, rec.Command)
	if err != nil {
		rec.IsValid = false
		rec.LastError = err.Error()
		if h.bus != nil {
			h.bus.Emit(eventbus.McpError{ServerID: rec.ID, Err: rec.LastError})
		}
		return domain.NewError(domain.KindNotFound, "executable could not be resolved").WithField("command", rec.Command)
	}
	rec.ResolvedPath = resolved
	rec.IsValid = true
	rec.LastError = ""

	cmd := exec.CommandContext(ctx, resolved, rec.Args...)
	if rec.Cwd != "" {
		cmd.Dir = rec.Cwd
	}
	if len(rec.Env) > 0 {
		cmd.Env = os.Environ()
	}
	for k, v := range rec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	transport := &mcpsdk.CommandTransport{Command: cmd}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		rec.LastError = err.Error()
		if h.bus != nil {
			h.bus.Emit(eventbus.McpError{ServerID: rec.ID, Err: rec.LastError})
		}
		return domain.WrapError(domain.KindTransport, "failed to connect to mcp server", err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			rec.LastError = err.Error()
			return domain.WrapError(domain.KindProtocolError, "failed to list tools", err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	old, reconnect := h.servers[rec.ID]
	if reconnect {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverID == rec.ID {
				delete(h.tools, name)
			}
		}
	}
	h.servers[rec.ID] = serverConn{session: session}
	for _, t := range discovered {
		h.tools[t.Name] = toolEntry{
			def: ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
				ServerID:    rec.ID,
			},
			serverID: rec.ID,
		}
	}
	h.mu.Unlock()

	rec.LastConnectedAt = time.Now()
	if h.bus != nil {
		h.bus.Emit(eventbus.McpStarted{ServerID: rec.ID})
	}
	if h.Metrics != nil && !reconnect {
		h.Metrics.ActiveMCPServers.Add(ctx, 1)
	}
	return nil
}

// Disconnect closes serverID's session, if any, dropping its stdin/stdout
// (EOF) and clearing its cached tool list. Disconnecting an unconnected
// server is a no-op.
func (h *Host) Disconnect(serverID string) error {
	h.mu.Lock()
	conn, ok := h.servers[serverID]
	if ok {
		delete(h.servers, serverID)
		for name, t := range h.tools {
			if t.serverID == serverID {
				delete(h.tools, name)
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	err := conn.session.Close()
	if h.bus != nil {
		h.bus.Emit(eventbus.McpStopped{ServerID: serverID})
	}
	if h.Metrics != nil {
		h.Metrics.ActiveMCPServers.Add(context.Background(), -1)
	}
	if err != nil {
		return domain.WrapError(domain.KindInternal, "error closing mcp server session", err)
	}
	return nil
}

// AvailableTools returns every tool currently exposed by connected
// servers.
func (h *Host) AvailableTools() []ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, e.def)
	}
	return out
}

// ExecuteTool calls name with JSON args, enforcing toolCallTimeout. A
// non-nil *ToolResult is returned on success even when IsError is true
// (an application-level tool error); a Go error indicates transport or
// protocol failure.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	var conn serverConn
	if ok {
		conn, ok = h.servers[entry.serverID]
	}
	h.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "tool not found").WithField("tool", name)
	}

	ctx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, domain.WrapError(domain.KindValidationFailed, "invalid tool arguments", err)
		}
	}

	start := time.Now()
	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
	if h.Metrics != nil {
		h.Metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordToolCall(ctx, name, "error")
		}
		return nil, domain.WrapError(domain.KindTransport, "tool call failed", err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if h.Metrics != nil {
		status := "ok"
		if callResult.IsError {
			status = "error"
		}
		h.Metrics.RecordToolCall(ctx, name, status)
	}
	return &ToolResult{Content: sb.String(), IsError: callResult.IsError}, nil
}

// Close shuts down every connected server session.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for id, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = err
			slog.Warn("mcp: error closing server session", "server_id", id, "error", err)
		}
		delete(h.servers, id)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
