// Package app wires all gglib subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the health/metrics server and (under the
// SingleSwap strategy) the model-swapping proxy, and Shutdown tears
// everything down in reverse order.
//
// For testing, inject test doubles via functional options (WithHFClient,
// WithGGUFParser, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrwong99/gglib/internal/catalog"
	"github.com/mrwong99/gglib/internal/config"
	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/download"
	"github.com/mrwong99/gglib/internal/download/queue"
	"github.com/mrwong99/gglib/internal/download/shardgroup"
	"github.com/mrwong99/gglib/internal/eventbus"
	"github.com/mrwong99/gglib/internal/gguf"
	"github.com/mrwong99/gglib/internal/health"
	"github.com/mrwong99/gglib/internal/hfclient"
	"github.com/mrwong99/gglib/internal/mcp"
	"github.com/mrwong99/gglib/internal/observe"
	"github.com/mrwong99/gglib/internal/ports"
	"github.com/mrwong99/gglib/internal/proxy"
	"github.com/mrwong99/gglib/internal/runtime/process"
	"github.com/mrwong99/gglib/pkg/audio"
	"github.com/mrwong99/gglib/pkg/provider/stt"
	"github.com/mrwong99/gglib/pkg/provider/tts"
	"github.com/mrwong99/gglib/pkg/provider/vad"
)

// shutdownTimeout bounds how long any single closer gets before App moves
// on to the next one, so one wedged component can't hang the whole
// sequence.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per voice provider slot. Nil means
// the provider is not configured. Populated by main.go via the config
// registry; consumed by internal/voice, not by App itself.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	VAD   vad.Engine
	Audio audio.Platform
}

// App owns all subsystem lifetimes and orchestrates the gglib control
// plane: model catalog, process supervisor, download orchestrator, MCP
// host, model-swapping proxy, and health/metrics surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	bus *eventbus.Bus

	catalogStore *catalog.Store

	core       *process.Core
	concurrent *process.ConcurrentSupervisor
	singleSwap *process.SingleSwapSupervisor

	downloader       *download.Orchestrator
	downloaderCancel context.CancelFunc
	downloaderDone   chan struct{}

	mcpHost       *mcp.Host
	mcpSupervisor *mcp.Supervisor

	proxySupervisor *proxy.Supervisor
	httpClient      *http.Client

	healthHandler *health.Handler
	healthServer  *http.Server

	// closers are run in reverse-registration order during Shutdown.
	closers []namedCloser

	stopOnce sync.Once
}

type namedCloser struct {
	name string
	fn   func(ctx context.Context) error
}

// Option is a functional option for New. Use these to inject test doubles
// or override defaults.
type Option func(*options)

type options struct {
	hfClient   ports.HFClient
	gguf       ports.GGUFParser
	httpClient *http.Client
	metrics    *observe.Metrics
}

// WithHFClient overrides the HuggingFace Hub client the download
// orchestrator uses. Defaults to [hfclient.New] configured from
// cfg.Download.
func WithHFClient(c ports.HFClient) Option {
	return func(o *options) { o.hfClient = c }
}

// WithGGUFParser overrides the GGUF metadata parser. Defaults to
// [gguf.New].
func WithGGUFParser(p ports.GGUFParser) Option {
	return func(o *options) { o.gguf = p }
}

// WithHTTPClient overrides the client used to forward requests to
// llama-server children. Defaults to http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics overrides the [observe.Metrics] instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires every subsystem in dependency order: event bus, data
// directory, model catalog, process core and supervisor, download
// orchestrator, MCP host and supervisor (seeded from cfg.MCP.Servers), and
// the model-swapping proxy. Nothing is started yet — call Run to begin
// serving.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		bus:       eventbus.New(),
		metrics:   o.metrics,

		httpClient: o.httpClient,
	}

	dataDir, err := resolveDataDir(cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("app: resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create data dir %q: %w", dataDir, err)
	}

	if err := a.initCatalog(ctx, cfg, dataDir); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	a.initRuntime(cfg)

	if err := a.initDownloader(cfg, o, dataDir); err != nil {
		return nil, fmt.Errorf("app: init downloader: %w", err)
	}

	if err := a.initMCP(ctx, cfg); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	a.initProxy()
	a.initHealth()

	return a, nil
}

// resolveDataDir returns override if non-empty, otherwise "~/.gglib"
// under the user's home directory. The same default is used on every
// platform.
func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gglib"), nil
}

// addCloser registers fn (named for logging) to run, in LIFO order,
// during Shutdown.
func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

func (a *App) initCatalog(ctx context.Context, cfg *config.Config, dataDir string) error {
	dbPath := cfg.Catalog.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "gglib.db")
	}
	store, err := catalog.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	a.catalogStore = store
	a.addCloser("catalog", func(context.Context) error { return store.Close() })
	return nil
}

func (a *App) initRuntime(cfg *config.Config) {
	a.core = process.NewCore(cfg.Runtime.BasePort, a.bus)

	switch cfg.Runtime.Strategy {
	case config.StrategyConcurrent:
		// Concurrent serves a manual, user-driven GUI adapter (spec.md
		// §4.C) that has no counterpart in this repository; the
		// supervisor is still constructed so catalog/health/MCP keep
		// working, but nothing in this package starts servers through
		// it and the proxy (below) stays unbound.
		a.concurrent = process.NewConcurrentSupervisor(a.core, cfg.Runtime.MaxConcurrent)
	default:
		a.singleSwap = process.NewSingleSwapSupervisor(a.core, a.catalogStore, cfg.Runtime.DefaultContextSize, cfg.Runtime.BinaryPath)
		a.singleSwap.Metrics = a.metrics
	}

	a.addCloser("runtime", func(context.Context) error { return a.core.KillAll() })
}

func (a *App) initDownloader(cfg *config.Config, o *options, dataDir string) error {
	hf := o.hfClient
	if hf == nil {
		hf = hfclient.New(
			hfclient.WithBaseURL(cfg.Download.HFBaseURL),
			hfclient.WithToken(cfg.Download.HFToken),
		)
	}
	parser := o.gguf
	if parser == nil {
		parser = gguf.New()
	}

	q := queue.New(cfg.Download.MaxQueueSize)
	tr := shardgroup.New()
	modelsDir := filepath.Join(dataDir, "models")

	a.downloader = download.New(q, tr, hf, a.catalogStore, parser, a.bus, modelsDir)
	a.downloader.Metrics = a.metrics

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.downloaderCancel = cancel
	a.downloaderDone = done

	go func() {
		defer close(done)
		if err := a.downloader.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("download orchestrator exited unexpectedly", "err", err)
		}
	}()

	a.addCloser("downloader", func(context.Context) error {
		cancel()
		<-done
		return nil
	})
	return nil
}

func (a *App) initMCP(ctx context.Context, cfg *config.Config) error {
	a.mcpHost = mcp.New(a.bus)
	a.mcpHost.Metrics = a.metrics
	a.mcpSupervisor = mcp.NewSupervisor(a.mcpHost, a.catalogStore)
	a.addCloser("mcp", func(context.Context) error { return a.mcpHost.Close() })

	if err := a.seedMCPServers(ctx, cfg.MCP.Servers); err != nil {
		return fmt.Errorf("seed mcp servers: %w", err)
	}
	if err := a.mcpSupervisor.ValidateAll(ctx); err != nil {
		slog.Warn("mcp startup validation failed", "err", err)
	}
	return nil
}

// seedMCPServers reconciles cfg's configured servers into the catalog.
// Existing records are matched by name and keep their id (and thus their
// cached ResolvedPath/IsValid/LastConnectedAt) across restarts; a server
// seen for the first time is assigned a freshly generated id, since
// [catalog.Store.Save] upserts on id rather than name.
func (a *App) seedMCPServers(ctx context.Context, servers []config.MCPServerConfig) error {
	existing, err := a.catalogStore.ListMcpServers(ctx)
	if err != nil {
		return err
	}
	idByName := make(map[string]string, len(existing))
	for _, rec := range existing {
		idByName[rec.Name] = rec.ID
	}

	for _, s := range servers {
		id, ok := idByName[s.Name]
		if !ok {
			id = uuid.New().String()
		}
		rec := domain.McpServerRecord{
			ID:        id,
			Name:      s.Name,
			Transport: domain.Transport(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Cwd:       s.Cwd,
			Env:       s.Env,
			Enabled:   s.Enabled,
			AutoStart: s.AutoStart,
		}
		if err := a.catalogStore.Save(ctx, rec); err != nil {
			return fmt.Errorf("save mcp server %q: %w", s.Name, err)
		}
	}
	return nil
}

// initProxy constructs the model-swapping proxy's supervisor. It is only
// actually started (in Run) when the SingleSwap strategy is active, since
// ports.ModelRuntime — the interface the proxy forwards requests through —
// is satisfied only by [process.SingleSwapSupervisor].
func (a *App) initProxy() {
	a.proxySupervisor = proxy.NewSupervisor()
	a.addCloser("proxy", func(ctx context.Context) error {
		return a.proxySupervisor.Stop(ctx)
	})
}

func (a *App) initHealth() {
	checkers := []health.Checker{
		{Name: "catalog", Check: func(ctx context.Context) error {
			_, err := a.catalogStore.List(ctx)
			return err
		}},
	}
	a.healthHandler = health.New(checkers...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Bus returns the shared event bus, for callers (e.g. internal/voice)
// that need to subscribe to lifecycle events.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Catalog returns the model catalog store.
func (a *App) Catalog() *catalog.Store { return a.catalogStore }

// Metrics returns the app's metrics instance.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// MCPHost returns the MCP connection host.
func (a *App) MCPHost() *mcp.Host { return a.mcpHost }

// Providers returns the configured voice provider set.
func (a *App) Providers() *Providers { return a.providers }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the health/metrics HTTP server and, under the SingleSwap
// runtime strategy, the model-swapping proxy. It blocks until ctx is
// cancelled or the health server fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.healthServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	if a.singleSwap != nil {
		client := a.httpClient
		if client == nil {
			client = http.DefaultClient
		}
		addr, err := a.proxySupervisor.Start(a.cfg.Proxy.Host, a.cfg.Proxy.Port, a.cfg.Runtime.DefaultContextSize, a.singleSwap, a.catalogStore, client, a.metrics)
		if err != nil {
			return fmt.Errorf("app: start proxy: %w", err)
		}
		slog.Info("proxy listening", "addr", addr)
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "strategy", a.cfg.Runtime.Strategy)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-serveErr:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down every component started by New/Run, in reverse
// registration order, each bounded by shutdownTimeout. A slow or failing
// closer is logged and does not prevent the rest from running.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.healthServer != nil {
			shCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			if err := a.healthServer.Shutdown(shCtx); err != nil {
				slog.Warn("health server shutdown error", "err", err)
			}
			cancel()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			shCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			err := c.fn(shCtx)
			cancel()
			if err != nil && domain.KindOf(err) != domain.KindNotFound {
				slog.Warn("shutdown step failed", "component", c.name, "err", err)
				shutdownErr = fmt.Errorf("shut down %s: %w", c.name, err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
