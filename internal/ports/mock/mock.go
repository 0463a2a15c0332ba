// Package mock provides in-memory test doubles for the port interfaces.
//
// Each mock records every method call for assertion in tests, exposes it
// through Calls(), and has exported *Result/*Err fields per method that
// control what the mock returns. ModelCatalog, HFClient and ModelRuntime
// also offer CallCount(); ModelCatalog and HFClient also offer Reset().
//
//	catalog := &mock.ModelCatalog{}
//	catalog.ResolveForLaunchResult = domain.LaunchSpec{ModelID: 1, Path: "/models/a.gguf"}
//
//	// inject catalog into the system under test …
//
//	if got := catalog.CallCount("ResolveForLaunch"); got != 1 {
//	    t.Errorf("expected 1 call, got %d", got)
//	}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// ─────────────────────────────────────────────────────────────────────────────
// ModelCatalog mock
// ─────────────────────────────────────────────────────────────────────────────

// ModelCatalog is a configurable test double for [ports.ModelCatalog].
type ModelCatalog struct {
	mu    sync.Mutex
	calls []Call

	ResolveForLaunchResult domain.LaunchSpec
	ResolveForLaunchErr    error

	InsertResult int64
	InsertErr    error

	GetResult domain.ModelRecord
	GetErr    error

	GetByNameResult domain.ModelRecord
	GetByNameErr    error

	ListResult []domain.ModelRecord
	ListErr    error

	DeleteErr error
	UpdateErr error

	RecordCompletionErr error

	LookupCompletionPath  string
	LookupCompletionFound bool
	LookupCompletionErr   error
}

func (m *ModelCatalog) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (m *ModelCatalog) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *ModelCatalog) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *ModelCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *ModelCatalog) ResolveForLaunch(_ context.Context, name string) (domain.LaunchSpec, error) {
	m.record("ResolveForLaunch", name)
	return m.ResolveForLaunchResult, m.ResolveForLaunchErr
}

func (m *ModelCatalog) Insert(_ context.Context, rec domain.ModelRecord) (int64, error) {
	m.record("Insert", rec)
	return m.InsertResult, m.InsertErr
}

func (m *ModelCatalog) Get(_ context.Context, id int64) (domain.ModelRecord, error) {
	m.record("Get", id)
	return m.GetResult, m.GetErr
}

func (m *ModelCatalog) GetByName(_ context.Context, name string) (domain.ModelRecord, error) {
	m.record("GetByName", name)
	return m.GetByNameResult, m.GetByNameErr
}

func (m *ModelCatalog) List(_ context.Context) ([]domain.ModelRecord, error) {
	m.record("List")
	if m.ListResult == nil {
		return []domain.ModelRecord{}, m.ListErr
	}
	out := make([]domain.ModelRecord, len(m.ListResult))
	copy(out, m.ListResult)
	return out, m.ListErr
}

func (m *ModelCatalog) Delete(_ context.Context, id int64) error {
	m.record("Delete", id)
	return m.DeleteErr
}

func (m *ModelCatalog) Update(_ context.Context, rec domain.ModelRecord) error {
	m.record("Update", rec)
	return m.UpdateErr
}

func (m *ModelCatalog) RecordCompletion(_ context.Context, key domain.CompletionKey, path string) error {
	m.record("RecordCompletion", key, path)
	return m.RecordCompletionErr
}

func (m *ModelCatalog) LookupCompletion(_ context.Context, key domain.CompletionKey) (string, bool, error) {
	m.record("LookupCompletion", key)
	return m.LookupCompletionPath, m.LookupCompletionFound, m.LookupCompletionErr
}

var _ ports.ModelCatalog = (*ModelCatalog)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// HFClient mock
// ─────────────────────────────────────────────────────────────────────────────

// HFClient is a configurable test double for [ports.HFClient].
type HFClient struct {
	mu    sync.Mutex
	calls []Call

	ResolveRepoResult ports.ResolvedRepo
	ResolveRepoErr    error

	SearchReposResult []ports.RepoSummary
	SearchReposErr    error

	// DownloadFunc, if set, is invoked instead of writing DownloadData so
	// tests can simulate partial writes, progress callbacks, or errors
	// mid-stream.
	DownloadFunc func(ctx context.Context, repoID, revision, filename string, rangeStart int64, w io.Writer, progress func(domain.DownloadProgress)) error
	DownloadData []byte
	DownloadErr  error
}

func (m *HFClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

func (m *HFClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *HFClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *HFClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *HFClient) ResolveRepo(_ context.Context, repoID, quantization string) (ports.ResolvedRepo, error) {
	m.record("ResolveRepo", repoID, quantization)
	return m.ResolveRepoResult, m.ResolveRepoErr
}

func (m *HFClient) SearchRepos(_ context.Context, query string) ([]ports.RepoSummary, error) {
	m.record("SearchRepos", query)
	if m.SearchReposResult == nil {
		return []ports.RepoSummary{}, m.SearchReposErr
	}
	out := make([]ports.RepoSummary, len(m.SearchReposResult))
	copy(out, m.SearchReposResult)
	return out, m.SearchReposErr
}

func (m *HFClient) Download(ctx context.Context, repoID, revision, filename string, rangeStart int64, w io.Writer, progress func(domain.DownloadProgress)) error {
	m.record("Download", repoID, revision, filename, rangeStart)
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, repoID, revision, filename, rangeStart, w, progress)
	}
	if m.DownloadErr != nil {
		return m.DownloadErr
	}
	if len(m.DownloadData) > 0 {
		_, err := w.Write(m.DownloadData)
		return err
	}
	return nil
}

var _ ports.HFClient = (*HFClient)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// GGUFParser mock
// ─────────────────────────────────────────────────────────────────────────────

// GGUFParser is a configurable test double for [ports.GGUFParser].
type GGUFParser struct {
	mu    sync.Mutex
	calls []Call

	ParseMetadataResult ports.ModelMetadata
	ParseMetadataErr    error
}

func (m *GGUFParser) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *GGUFParser) ParseMetadata(path string) (ports.ModelMetadata, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "ParseMetadata", Args: []any{path}})
	m.mu.Unlock()
	return m.ParseMetadataResult, m.ParseMetadataErr
}

var _ ports.GGUFParser = (*GGUFParser)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// McpServerRepository mock
// ─────────────────────────────────────────────────────────────────────────────

// McpServerRepository is a configurable test double for
// [ports.McpServerRepository].
type McpServerRepository struct {
	mu    sync.Mutex
	calls []Call

	ListResult []domain.McpServerRecord
	ListErr    error

	GetResult domain.McpServerRecord
	GetErr    error

	SaveErr   error
	DeleteErr error
}

func (m *McpServerRepository) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

func (m *McpServerRepository) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *McpServerRepository) ListMcpServers(_ context.Context) ([]domain.McpServerRecord, error) {
	m.record("ListMcpServers")
	if m.ListResult == nil {
		return []domain.McpServerRecord{}, m.ListErr
	}
	out := make([]domain.McpServerRecord, len(m.ListResult))
	copy(out, m.ListResult)
	return out, m.ListErr
}

func (m *McpServerRepository) GetMcpServer(_ context.Context, id string) (domain.McpServerRecord, error) {
	m.record("GetMcpServer", id)
	return m.GetResult, m.GetErr
}

func (m *McpServerRepository) Save(_ context.Context, rec domain.McpServerRecord) error {
	m.record("Save", rec)
	return m.SaveErr
}

func (m *McpServerRepository) DeleteMcpServer(_ context.Context, id string) error {
	m.record("DeleteMcpServer", id)
	return m.DeleteErr
}

var _ ports.McpServerRepository = (*McpServerRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// ModelRuntime mock
// ─────────────────────────────────────────────────────────────────────────────

// ModelRuntime is a configurable test double for [ports.ModelRuntime].
type ModelRuntime struct {
	mu    sync.Mutex
	calls []Call

	EnsureModelRunningResult domain.RunningTarget
	EnsureModelRunningErr    error

	CurrentModelResult domain.RunningTarget
	CurrentModelFound  bool

	StopCurrentErr error
}

func (m *ModelRuntime) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (m *ModelRuntime) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *ModelRuntime) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *ModelRuntime) EnsureModelRunning(_ context.Context, name string, numCtx *int) (domain.RunningTarget, error) {
	m.record("EnsureModelRunning", name, numCtx)
	return m.EnsureModelRunningResult, m.EnsureModelRunningErr
}

func (m *ModelRuntime) CurrentModel() (domain.RunningTarget, bool) {
	m.record("CurrentModel")
	return m.CurrentModelResult, m.CurrentModelFound
}

func (m *ModelRuntime) StopCurrent() error {
	m.record("StopCurrent")
	return m.StopCurrentErr
}

var _ ports.ModelRuntime = (*ModelRuntime)(nil)
