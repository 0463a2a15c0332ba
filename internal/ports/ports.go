// Package ports defines the interfaces at the boundary between the core
// control plane and its external collaborators: the persistent model
// catalog, the HuggingFace hub client, the GGUF metadata parser, and the
// MCP server configuration repository. Each interface has at least two
// concrete implementations: a real one and a mock (package
// [github.com/mrwong99/gglib/internal/ports/mock]) for tests, following
// the same two-implementation convention the teacher repo applies to
// its provider and memory-layer interfaces.
package ports

import (
	"context"
	"io"

	"github.com/mrwong99/gglib/internal/domain"
)

// ModelCatalog is the persistent store of registered models and the
// dedup ledger of previously-downloaded files. Implementations must be
// safe for concurrent use.
type ModelCatalog interface {
	// ResolveForLaunch looks up name (by exact name match) and returns the
	// minimal spec the process supervisor needs to spawn it. Returns a
	// [domain.Error] of kind [domain.KindNotFound] if no such model exists.
	ResolveForLaunch(ctx context.Context, name string) (domain.LaunchSpec, error)

	// Insert registers a new model and returns its assigned id. Name must
	// be unique; a conflict returns [domain.KindValidationFailed].
	Insert(ctx context.Context, rec domain.ModelRecord) (int64, error)

	// Get returns the model with the given id, or [domain.KindNotFound].
	Get(ctx context.Context, id int64) (domain.ModelRecord, error)

	// GetByName returns the model with the given display name, or
	// [domain.KindNotFound].
	GetByName(ctx context.Context, name string) (domain.ModelRecord, error)

	// List returns every registered model.
	List(ctx context.Context) ([]domain.ModelRecord, error)

	// Delete removes a model by id. Idempotent: deleting an absent id is
	// not an error.
	Delete(ctx context.Context, id int64) error

	// Update persists changes to an existing model record (e.g. recomputed
	// capabilities, tag edits).
	Update(ctx context.Context, rec domain.ModelRecord) error

	// RecordCompletion records that key resolved to the file at path,
	// making it available to future short-circuit lookups.
	RecordCompletion(ctx context.Context, key domain.CompletionKey, path string) error

	// LookupCompletion returns the previously recorded path for key, if
	// any. The caller is responsible for verifying the path still exists
	// and matches the expected size/OID before trusting it — an entry
	// whose file has vanished is a cache-invalidation signal, not
	// corruption.
	LookupCompletion(ctx context.Context, key domain.CompletionKey) (path string, found bool, err error)
}

// RepoFile is one file entry as resolved from the hub for a given
// repository and revision.
type RepoFile struct {
	Filename string
	OID      string
	Size     int64
}

// ResolvedRepo is the outcome of resolving a repository + quantization
// tag into a concrete, downloadable revision.
type ResolvedRepo struct {
	RepoID   string
	Revision string
	Files    []RepoFile
	Tags     []string
}

// RepoSummary is a single hit from a hub repository search.
type RepoSummary struct {
	RepoID string
	Score  float64
}

// HFClient resolves and downloads model artifacts from a public model
// hub (HuggingFace-compatible REST API).
type HFClient interface {
	// ResolveRepo resolves repoID (optionally scoped by a quantization
	// tag) to a concrete revision, its constituent files, and tags.
	ResolveRepo(ctx context.Context, repoID, quantization string) (ResolvedRepo, error)

	// SearchRepos ranks repositories against a free-text query.
	SearchRepos(ctx context.Context, query string) ([]RepoSummary, error)

	// Download streams filename at revision of repoID into w, starting at
	// byte offset rangeStart (0 for a fresh download, >0 to resume a
	// previously interrupted transfer via a Range request). progress is
	// invoked periodically with byte-level progress; it may be nil.
	Download(ctx context.Context, repoID, revision, filename string, rangeStart int64, w io.Writer, progress func(domain.DownloadProgress)) error
}

// ModelMetadata is the subset of a GGUF file's header the registrar needs
// to populate a [domain.ModelRecord].
type ModelMetadata struct {
	Architecture  string
	ParamCount    int64
	ContextLength int
	ChatTemplate  *string
}

// GGUFParser extracts metadata from a GGUF model file's header without
// loading the full tensor data.
type GGUFParser interface {
	ParseMetadata(path string) (ModelMetadata, error)
}

// ModelRuntime is the proxy's view of the process supervisor: it ensures a
// model is loaded before forwarding a request and reports what is
// currently loaded. Satisfied by [github.com/mrwong99/gglib/internal/runtime/process.SingleSwapSupervisor].
type ModelRuntime interface {
	// EnsureModelRunning makes name the currently-loaded model, swapping out
	// whatever else is loaded if necessary, and returns where it is bound.
	// numCtx requests a specific context size; nil defers to the
	// supervisor's configured default.
	EnsureModelRunning(ctx context.Context, name string, numCtx *int) (domain.RunningTarget, error)

	// CurrentModel returns the currently-loaded model, if any.
	CurrentModel() (domain.RunningTarget, bool)

	// StopCurrent unloads whatever model is currently running. A no-op if
	// nothing is loaded.
	StopCurrent() error
}

// McpServerRepository persists MCP server configuration and runtime
// status records.
type McpServerRepository interface {
	ListMcpServers(ctx context.Context) ([]domain.McpServerRecord, error)
	GetMcpServer(ctx context.Context, id string) (domain.McpServerRecord, error)
	Save(ctx context.Context, rec domain.McpServerRecord) error
	DeleteMcpServer(ctx context.Context, id string) error
}
