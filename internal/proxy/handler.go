package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/ports"
)

// Handler serves both the OpenAI-compatible (/v1/...) and Ollama-compatible
// (/api/...) surfaces, behind a single model-swapping supervisor. A fresh
// Handler is created once per [Supervisor] start and discarded on stop;
// it holds no state beyond its dependencies.
type Handler struct {
	client     *http.Client
	runtime    ports.ModelRuntime
	catalog    ports.ModelCatalog
	defaultCtx int
}

// New builds a Handler forwarding upstream requests through client (which
// may be nil, in which case http.DefaultClient is used) to whatever
// backend runtime reports as currently running.
func New(runtime ports.ModelRuntime, catalog ports.ModelCatalog, defaultCtx int, client *http.Client) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{client: client, runtime: runtime, catalog: catalog, defaultCtx: defaultCtx}
}

// Mux builds the full route tree: both wire formats on one *http.ServeMux,
// ready to be wrapped in an *http.Server.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", h.chatCompletions)
	mux.HandleFunc("POST /v1/completions", h.legacyCompletions)
	mux.HandleFunc("POST /v1/embeddings", h.embeddings)
	mux.HandleFunc("GET /v1/models", h.listModels)

	mux.HandleFunc("GET /{$}", h.ollamaRoot)
	mux.HandleFunc("GET /api/version", h.ollamaVersion)
	mux.HandleFunc("GET /api/tags", h.ollamaTags)
	mux.HandleFunc("POST /api/show", h.ollamaShow)
	mux.HandleFunc("GET /api/ps", h.ollamaPs)
	mux.HandleFunc("POST /api/chat", h.ollamaChat)
	mux.HandleFunc("POST /api/generate", h.ollamaGenerate)
	mux.HandleFunc("POST /api/embed", h.ollamaEmbed)
	mux.HandleFunc("POST /api/embeddings", h.ollamaEmbeddingsLegacy)
	mux.HandleFunc("POST /api/pull", h.ollamaUnsupported("Model pulling is not supported via the Ollama API. Use `gglib add <model>` instead."))
	mux.HandleFunc("DELETE /api/delete", h.ollamaUnsupported("Model deletion is not supported via the Ollama API. Use `gglib rm <model>` instead."))
	mux.HandleFunc("POST /api/copy", h.ollamaUnsupported("Model copying is not supported."))
	mux.HandleFunc("POST /api/create", h.ollamaUnsupported("Modelfile creation is not supported."))

	return mux
}

// ensureModel resolves name to a running backend, swapping it in if
// necessary. ctx governs how long the caller is willing to wait for a
// swap in progress. numCtx is the context size requested by the caller;
// when absent, the proxy's own configured default is substituted so every
// swap this proxy triggers carries an explicit size rather than leaning
// on whatever default the runtime happens to hold.
func (h *Handler) ensureModel(ctx context.Context, name string, numCtx *int) (domain.RunningTarget, error) {
	if numCtx == nil {
		numCtx = &h.defaultCtx
	}
	return h.runtime.EnsureModelRunning(ctx, name, numCtx)
}

// capabilitiesFor looks up name's known capabilities, defaulting to the
// empty (unknown) set — which disables every transform — when the model
// is not registered in the catalog or the lookup itself fails. A proxy
// that cannot resolve a model's capabilities should still forward the
// request rather than fail it outright.
func (h *Handler) capabilitiesFor(ctx context.Context, name string) domain.Capabilities {
	rec, err := h.catalog.GetByName(ctx, name)
	if err != nil {
		return 0
	}
	return rec.Capabilities
}

// decodeJSON decodes r's body into T, then drains and closes it so the
// underlying connection can be reused even when the client sent a body
// larger than what Decode actually consumed.
func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	drainAndClose(r.Body)
	return v, err
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func logReq(r *http.Request, model string, streaming bool) {
	slog.Info("proxy: request", "path", r.URL.Path, "model", model, "streaming", streaming)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
