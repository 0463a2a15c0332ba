package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mrwong99/gglib/internal/domain"
)

// normalizeModelName strips the Ollama ":latest" / ":tag" suffix some
// clients still attach even when talking to the OpenAI surface, so both
// route trees resolve the same catalog entry for "foo" and "foo:latest".
func normalizeModelName(name string) string {
	if i := strings.LastIndex(name, ":"); i > 0 {
		return name[:i]
	}
	return name
}

func toDomainMessages(msgs []ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(msgs))
	for i, m := range msgs {
		var content string
		if m.Content != nil {
			content = *m.Content
		}
		out[i] = domain.ChatMessage{Role: m.Role, Content: content, ToolCalls: m.ToolCalls}
	}
	return out
}

func fromDomainMessages(msgs []domain.ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		content := m.Content
		out[i] = ChatMessage{Role: m.Role, Content: &content, ToolCalls: m.ToolCalls}
	}
	return out
}

// chatCompletions handles POST /v1/chat/completions: ensure the requested
// model is running, apply the capability-aware message transform, and
// forward the body upstream — piping the SSE stream back unchanged when
// streaming, otherwise passing the buffered JSON through as-is.
func (h *Handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[ChatCompletionRequest](r)
	if err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}

	model := normalizeModelName(req.Model)
	logReq(r, model, req.Stream)

	target, err := h.ensureModel(r.Context(), model, req.NumCtx)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	caps := h.capabilitiesFor(r.Context(), model)
	req.Messages = fromDomainMessages(domain.TransformMessagesForCapabilities(toDomainMessages(req.Messages), caps))
	req.Model = model

	body, err := json.Marshal(req)
	if err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindInternal, "encode upstream request", err))
		return
	}

	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/chat/completions"), body)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	if req.Stream {
		streamPassthrough(w, upstream)
		return
	}
	passthroughJSON(w, upstream)
}

// legacyCompletions handles POST /v1/completions: forward verbatim after
// ensure-running, per the spec's "forward after ensure-running" note —
// gglib does not transform legacy-completion prompts, only chat messages.
func (h *Handler) legacyCompletions(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeJSON[json.RawMessage](r)
	if err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}

	var peek struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}
	model := normalizeModelName(peek.Model)
	logReq(r, model, peek.Stream)

	target, err := h.ensureModel(r.Context(), model, nil)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/completions"), raw)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	if peek.Stream {
		streamPassthrough(w, upstream)
		return
	}
	passthroughJSON(w, upstream)
}

// embeddings handles POST /v1/embeddings: forward after ensure-running.
func (h *Handler) embeddings(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[EmbeddingsRequest](r)
	if err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}
	model := normalizeModelName(req.Model)
	logReq(r, model, false)

	target, err := h.ensureModel(r.Context(), model, nil)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	req.Model = model
	body, err := json.Marshal(req)
	if err != nil {
		writeOpenAIError(w, domain.WrapError(domain.KindInternal, "encode upstream request", err))
		return
	}

	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/embeddings"), body)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	passthroughJSON(w, upstream)
}

// listModels handles GET /v1/models: lists catalog entries, not whatever
// happens to be currently loaded.
func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	records, err := h.catalog.List(r.Context())
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	data := make([]ModelInfo, len(records))
	for i, rec := range records {
		data[i] = ModelInfo{
			ID:      rec.Name,
			Object:  "model",
			Created: rec.CreatedAt.Unix(),
			OwnedBy: "gglib",
		}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

// passthroughJSON copies upstream's JSON body and status verbatim,
// without re-decoding it into gglib's own wire structs: llama-server's
// OpenAI-compatible endpoints already produce the shape gglib's own
// callers expect.
func passthroughJSON(w http.ResponseWriter, upstream *http.Response) {
	defer upstream.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, upstream.Body)
}
