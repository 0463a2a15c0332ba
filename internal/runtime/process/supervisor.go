package process

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/eventbus"
	"github.com/mrwong99/gglib/internal/observe"
	"github.com/mrwong99/gglib/internal/ports"
)

// healthTimeout bounds how long a freshly spawned child gets to answer
// its health endpoint before the caller gives up on it.
const healthTimeout = 120 * time.Second

// defaultConcurrentLimit is used when a ConcurrentSupervisor is
// constructed with a non-positive limit.
const defaultConcurrentLimit = 4

// ConcurrentSupervisor runs any number of models side by side, up to a
// fixed pool limit. Each model is independent: starting one never stops
// another.
type ConcurrentSupervisor struct {
	core  *Core
	limit int
	mu    sync.Mutex
}

// NewConcurrentSupervisor wraps core with a bounded pool of limit
// concurrently-running models. A non-positive limit falls back to
// defaultConcurrentLimit.
func NewConcurrentSupervisor(core *Core, limit int) *ConcurrentSupervisor {
	if limit <= 0 {
		limit = defaultConcurrentLimit
	}
	return &ConcurrentSupervisor{core: core, limit: limit}
}

// StartServer spawns modelID if it is not already running and the pool
// has room, waits for it to become healthy, and returns its running
// target. Starting an already-running model returns KindAlreadyRunning;
// starting past the pool limit returns KindQueueFull, reusing the
// bounded-capacity error kind rather than inventing a new one for what
// is, at the error-handling level, the same "no room" condition as a
// full download queue.
func (s *ConcurrentSupervisor) StartServer(ctx context.Context, spec domain.LaunchSpec, cfg SpawnConfig) (domain.RunningTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.core.CleanupDead()

	if s.core.IsRunning(spec.ModelID) {
		return domain.RunningTarget{}, domain.NewError(domain.KindAlreadyRunning, "model is already running").
			WithField("model_id", spec.Name)
	}
	if s.core.Count() >= s.limit {
		return domain.RunningTarget{}, domain.NewError(domain.KindQueueFull, "concurrent server pool is at capacity").
			WithField("limit", strconv.Itoa(s.limit))
	}

	cfg.ModelID = spec.ModelID
	cfg.ModelName = spec.Name
	cfg.Path = spec.Path

	port, err := s.core.Spawn(ctx, cfg)
	if err != nil {
		return domain.RunningTarget{}, err
	}

	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStarted{Summary: domain.ServerSummary{
			ModelID: spec.ModelID, ModelName: spec.Name, Port: port, ContextSize: cfg.ContextSize,
		}})
	}

	if !s.core.WaitForHealth(ctx, spec.ModelID, port, healthTimeout) {
		_ = s.core.Kill(spec.ModelID)
		return domain.RunningTarget{}, domain.NewError(domain.KindHealthCheckFailed, "server did not become healthy in time").
			WithField("model_id", spec.Name)
	}

	return domain.RunningTarget{
		ModelID: spec.ModelID, ModelName: spec.Name, Port: port, ContextSize: cfg.ContextSize,
	}, nil
}

// StopServer stops modelID if running. Stopping an absent model is a
// no-op, matching the idempotent stop semantics of [Core.Kill].
func (s *ConcurrentSupervisor) StopServer(modelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := s.core.ListAll()
	var summary domain.ServerSummary
	var found bool
	for _, r := range running {
		if r.ModelID == modelID {
			summary, found = r, true
			break
		}
	}
	if !found {
		return nil
	}
	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStopping{Summary: summary})
	}
	if err := s.core.Kill(modelID); err != nil {
		return err
	}
	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStopped{Summary: summary})
	}
	return nil
}

// ListRunning returns a snapshot of every model currently in the pool.
func (s *ConcurrentSupervisor) ListRunning() []domain.ServerSummary {
	return s.core.ListAll()
}

var _ ports.ModelRuntime = (*SingleSwapSupervisor)(nil)

// currentState is the single running model tracked by SingleSwapSupervisor.
type currentState struct {
	modelID     int64
	modelName   string
	port        int
	contextSize int
}

// SingleSwapSupervisor keeps at most one model loaded at a time, swapping
// the running child out and in whenever a different model (or a
// different context size for the same model) is requested. This is the
// default strategy: it matches a single consumer GPU's inability to hold
// more than one large model comfortably.
type SingleSwapSupervisor struct {
	core       *Core
	catalog    ports.ModelCatalog
	defaultCtx int
	binaryPath string

	mu      sync.RWMutex
	current *currentState

	loading atomic.Bool

	// Metrics records swap duration and active-model observability.
	// Left nil, instrumentation is a no-op.
	Metrics *observe.Metrics
}

// NewSingleSwapSupervisor wraps core with single-model swap semantics,
// resolving launch specs through catalog and defaulting context size to
// defaultCtx when a caller does not request a specific one.
func NewSingleSwapSupervisor(core *Core, catalog ports.ModelCatalog, defaultCtx int, binaryPath string) *SingleSwapSupervisor {
	return &SingleSwapSupervisor{
		core:       core,
		catalog:    catalog,
		defaultCtx: defaultCtx,
		binaryPath: binaryPath,
	}
}

// EnsureModelRunning makes name the currently-loaded model at the
// requested context size (or the configured default), swapping out
// whatever else was loaded. If name is already current at the requested
// context size, it returns immediately without touching the child. A
// swap already in progress is rejected with KindModelLoading rather than
// queued, since the caller is expected to retry.
//
// Steps, matching the specification's swap algorithm: mark loading (via
// a scope guard that releases it on every exit path), resolve the
// target, short-circuit if it is already current, stop the existing
// child if any, reap dead entries, spawn the new child, wait up to 120s
// for it to become healthy, and on success atomically publish the new
// current-model slot.
func (s *SingleSwapSupervisor) EnsureModelRunning(ctx context.Context, name string, numCtx *int) (domain.RunningTarget, error) {
	if !s.loading.CompareAndSwap(false, true) {
		return domain.RunningTarget{}, domain.NewError(domain.KindModelLoading, "a model swap is already in progress")
	}
	defer s.loading.Store(false)

	spec, err := s.catalog.ResolveForLaunch(ctx, name)
	if err != nil {
		return domain.RunningTarget{}, err
	}

	if _, statErr := os.Stat(spec.Path); statErr != nil {
		return domain.RunningTarget{}, domain.NewError(domain.KindResourceGone, "model file is missing on disk").
			WithField("path", spec.Path)
	}

	effectiveCtx := s.defaultCtx
	if numCtx != nil {
		effectiveCtx = *numCtx
	}

	if cur := s.snapshotCurrent(); cur != nil && cur.modelID == spec.ModelID && cur.contextSize == effectiveCtx {
		return domain.RunningTarget{
			ModelID: cur.modelID, ModelName: cur.modelName, Port: cur.port, ContextSize: cur.contextSize,
		}, nil
	}

	swapStart := time.Now()
	if cur := s.snapshotCurrent(); cur != nil {
		s.stopCurrentLocked(cur)
	}
	s.core.CleanupDead()

	port, err := s.core.Spawn(ctx, SpawnConfig{
		ModelID:     spec.ModelID,
		ModelName:   spec.Name,
		Path:        spec.Path,
		ContextSize: effectiveCtx,
		BinaryPath:  s.binaryPath,
	})
	if err != nil {
		s.clearCurrent()
		return domain.RunningTarget{}, domain.WrapError(domain.KindSpawnFailed, "failed to spawn replacement model", err)
	}

	if !s.core.WaitForHealth(ctx, spec.ModelID, port, healthTimeout) {
		_ = s.core.Kill(spec.ModelID)
		s.clearCurrent()
		return domain.RunningTarget{}, domain.NewError(domain.KindHealthCheckFailed, "server did not become healthy in time").
			WithField("model_id", spec.Name)
	}

	target := domain.RunningTarget{ModelID: spec.ModelID, ModelName: spec.Name, Port: port, ContextSize: effectiveCtx}
	s.setCurrent(&currentState{modelID: spec.ModelID, modelName: spec.Name, port: port, contextSize: effectiveCtx})

	if s.Metrics != nil {
		s.Metrics.ModelSwapDuration.Record(ctx, time.Since(swapStart).Seconds())
		s.Metrics.ActiveModels.Add(ctx, 1)
	}

	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStarted{Summary: domain.ServerSummary{
			ModelID: spec.ModelID, ModelName: spec.Name, Port: port, ContextSize: effectiveCtx,
		}})
	}

	return target, nil
}

// CurrentModel returns the model currently loaded, if any.
func (s *SingleSwapSupervisor) CurrentModel() (domain.RunningTarget, bool) {
	cur := s.snapshotCurrent()
	if cur == nil {
		return domain.RunningTarget{}, false
	}
	return domain.RunningTarget{
		ModelID: cur.modelID, ModelName: cur.modelName, Port: cur.port, ContextSize: cur.contextSize,
	}, true
}

// IsServing reports whether modelID is the currently-loaded model.
func (s *SingleSwapSupervisor) IsServing(modelID int64) bool {
	cur := s.snapshotCurrent()
	return cur != nil && cur.modelID == modelID
}

// IsLoading reports whether a swap is in progress.
func (s *SingleSwapSupervisor) IsLoading() bool {
	return s.loading.Load()
}

// StopCurrent stops whatever model is currently loaded, if any.
func (s *SingleSwapSupervisor) StopCurrent() error {
	cur := s.snapshotCurrent()
	if cur == nil {
		return nil
	}
	s.stopCurrentLocked(cur)
	return nil
}

func (s *SingleSwapSupervisor) snapshotCurrent() *currentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *SingleSwapSupervisor) setCurrent(c *currentState) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

func (s *SingleSwapSupervisor) clearCurrent() {
	s.setCurrent(nil)
}

func (s *SingleSwapSupervisor) stopCurrentLocked(cur *currentState) {
	summary := domain.ServerSummary{
		ModelID: cur.modelID, ModelName: cur.modelName, Port: cur.port, ContextSize: cur.contextSize,
	}
	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStopping{Summary: summary})
	}
	_ = s.core.Kill(cur.modelID)
	s.clearCurrent()
	if s.core.bus != nil {
		s.core.bus.Emit(eventbus.ServerStopped{Summary: summary})
	}
	if s.Metrics != nil {
		s.Metrics.ActiveModels.Add(context.Background(), -1)
	}
}
