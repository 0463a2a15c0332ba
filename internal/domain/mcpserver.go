package domain

import "time"

// Transport names the mechanism used to connect to an MCP server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// IsValid reports whether t is a recognized transport value.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportSSE
}

// McpServerRecord is a tool-server configuration plus its runtime status,
// as persisted in the mcp_servers table.
type McpServerRecord struct {
	ID        string
	Name      string
	Transport Transport

	// Command is the bare executable name or path as configured (e.g.
	// "npx"); Args are passed verbatim. Cwd, if non-empty, must exist.
	Command string
	Args    []string
	Cwd     string

	// PathAdditions are extra directories searched, after the platform
	// search order, when resolving Command to an absolute path.
	PathAdditions []string
	// Env holds additional environment variables merged into the child's
	// environment. Stored base64-encoded on disk; this is obfuscation,
	// not security — see encodeEnv in internal/catalog.
	Env map[string]string

	// ResolvedPath caches the last successful executable resolution.
	// Preserved across failed re-resolution attempts: a failure updates
	// IsValid/LastError but never clears a previously cached path.
	ResolvedPath string

	Enabled   bool
	AutoStart bool

	IsValid   bool
	LastError string

	LastConnectedAt time.Time
}

// ResolutionOutcome is the result of a single candidate-path probe during
// executable resolution.
type ResolutionOutcome int

const (
	ResolutionOK ResolutionOutcome = iota
	ResolutionNotFound
	ResolutionNotExecutable
)

// ResolutionAttempt records one probe made while resolving a bare command
// to an absolute executable path, for diagnostics.
type ResolutionAttempt struct {
	Candidate string
	Outcome   ResolutionOutcome
	Reason    string
}
