package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
)

const ollamaRootResponse = "Ollama is running"

// ollamaVersionString is the version gglib reports to Ollama clients. The
// VSCode Ollama extension gates on >= 0.6.4; gglib claims exactly that to
// satisfy it without overstating compatibility.
const ollamaVersionString = "0.6.4"

func (h *Handler) ollamaRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(ollamaRootResponse))
}

func (h *Handler) ollamaVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OllamaVersionResponse{Version: ollamaVersionString})
}

func (h *Handler) ollamaTags(w http.ResponseWriter, r *http.Request) {
	records, err := h.catalog.List(r.Context())
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	entries := make([]OllamaTagsEntry, len(records))
	for i, rec := range records {
		entries[i] = recordToTagsEntry(rec)
	}
	writeJSON(w, http.StatusOK, OllamaTagsResponse{Models: entries})
}

func recordToTagsEntry(rec domain.ModelRecord) OllamaTagsEntry {
	return OllamaTagsEntry{
		Name:       rec.Name + ":latest",
		Model:      rec.Name + ":latest",
		ModifiedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		Size:       0,
		Digest:     syntheticDigest(rec.Name, rec.ID),
		Details:    recordToDetails(rec),
	}
}

func recordToDetails(rec domain.ModelRecord) OllamaModelDetails {
	return OllamaModelDetails{
		Format:            "gguf",
		Family:            rec.Architecture,
		ParameterSize:     paramCountLabel(rec.ParamCount),
		QuantizationLevel: rec.Quantization,
	}
}

// syntheticDigest fabricates a plausible-looking sha256-style digest from
// a model's name and id. gglib models are not distributed as layered
// Ollama images, so there is no real manifest digest to report; this
// exists only so Ollama clients that key a local cache off "digest" see a
// stable value across requests for the same model.
func syntheticDigest(name string, id int64) string {
	sum := fmt.Sprintf("%x", fnv64a(name))
	return fmt.Sprintf("sha256:%016x%s", id, sum)
}

func fnv64a(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	var h uint64 = offset
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func paramCountLabel(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func (h *Handler) ollamaShow(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[OllamaShowRequest](r)
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}
	name := normalizeModelName(req.effectiveModel())

	rec, err := h.catalog.GetByName(r.Context(), name)
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OllamaShowResponse{
		ModifiedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		Details:    recordToDetails(rec),
		ModelInfo: map[string]any{
			"general.architecture":    rec.Architecture,
			"general.parameter_count": rec.ParamCount,
			"gglib.context_length":    rec.ContextLength,
		},
	})
}

func (h *Handler) ollamaPs(w http.ResponseWriter, r *http.Request) {
	target, ok := h.runtime.CurrentModel()
	models := []OllamaPsEntry{}
	if ok {
		models = append(models, OllamaPsEntry{
			Name:      target.ModelName + ":latest",
			Model:     target.ModelName + ":latest",
			Digest:    syntheticDigest(target.ModelName, target.ModelID),
			Details:   OllamaModelDetails{Format: "gguf"},
			ExpiresAt: "0001-01-01T00:00:00Z",
		})
	}
	writeJSON(w, http.StatusOK, OllamaPsResponse{Models: models})
}

// applyOllamaOptions projects Ollama's options object onto an OpenAI-shape
// outbound body, matching the mapping named in the spec: num_predict=-1
// means unlimited (omit max_tokens), -2 ("fill context") is unsupported
// and elided. top_k, seed, and repeat_penalty are non-standard OpenAI
// fields that llama-server accepts directly, so they are forwarded as-is.
func applyOllamaOptions(req *ChatCompletionRequest, opts OllamaOptions) {
	req.Temperature = opts.Temperature
	req.TopP = opts.TopP
	req.TopK = opts.TopK
	req.Seed = opts.Seed
	req.RepeatPenalty = opts.RepeatPenalty
	req.Stop = opts.Stop
	if opts.NumPredict != nil {
		switch n := *opts.NumPredict; {
		case n > 0:
			req.MaxTokens = &n
		default:
			// -1 (unlimited), -2 (fill context, unsupported), 0, or any
			// other negative value: omit max_tokens.
		}
	}
}

func (h *Handler) ollamaChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[OllamaChatRequest](r)
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}

	model := normalizeModelName(req.Model)
	streaming := req.streamOrDefault()
	logReq(r, model, streaming)

	target, err := h.ensureModel(r.Context(), model, req.Options.NumCtx)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	caps := h.capabilitiesFor(r.Context(), model)
	messages := transformOllamaMessages(req.Messages, caps)

	outbound := ChatCompletionRequest{Model: model, Messages: messages, Stream: streaming}
	applyOllamaOptions(&outbound, req.Options)
	body := marshalWithFormatAndUsage(outbound, req.Format, streaming)

	start := time.Now()
	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/chat/completions"), body)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	if streaming {
		streamOllamaChat(w, upstream, model, start)
		return
	}
	nonStreamingOllamaChat(w, upstream, model, start)
}

// transformOllamaMessages converts Ollama-shape messages to the domain
// form, applies the capability-aware transform, and converts back. Ollama
// images are not supported through the proxy and are silently dropped —
// gglib is text-only.
func transformOllamaMessages(msgs []OllamaMessage, caps domain.Capabilities) []ChatMessage {
	domainMsgs := make([]domain.ChatMessage, len(msgs))
	for i, m := range msgs {
		domainMsgs[i] = domain.ChatMessage{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls}
	}
	transformed := domain.TransformMessagesForCapabilities(domainMsgs, caps)
	return fromDomainMessages(transformed)
}

// marshalWithFormatAndUsage marshals req, requesting upstream usage data
// in the final SSE chunk when streaming (so accurate token counts can be
// reported back to the Ollama client), and applying Ollama's "json"
// format shorthand as OpenAI's response_format.
func marshalWithFormatAndUsage(req ChatCompletionRequest, format json.RawMessage, streaming bool) []byte {
	m := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   req.Stream,
	}
	if req.Temperature != nil {
		m["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		m["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		m["top_k"] = *req.TopK
	}
	if req.Seed != nil {
		m["seed"] = *req.Seed
	}
	if req.RepeatPenalty != nil {
		m["repeat_penalty"] = *req.RepeatPenalty
	}
	if req.MaxTokens != nil {
		m["max_tokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		m["stop"] = req.Stop
	}
	if streaming {
		m["stream_options"] = map[string]any{"include_usage": true}
	}
	var rawFormat string
	if err := json.Unmarshal(format, &rawFormat); err == nil && rawFormat == "json" {
		m["response_format"] = map[string]any{"type": "json_object"}
	}
	body, _ := json.Marshal(m)
	return body
}

// upstreamCompletion is the subset of an OpenAI chat-completion response
// the Ollama translation layer needs.
type upstreamCompletion struct {
	Content      string
	FinishReason string
	PromptTokens int
	EvalTokens   int
}

func parseUpstreamCompletion(raw []byte) (upstreamCompletion, error) {
	var v struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return upstreamCompletion{}, domain.WrapError(domain.KindProtocolError, "parse upstream response", err)
	}
	out := upstreamCompletion{FinishReason: "stop", PromptTokens: v.Usage.PromptTokens, EvalTokens: v.Usage.CompletionTokens}
	if len(v.Choices) > 0 {
		out.Content = v.Choices[0].Message.Content
		if v.Choices[0].FinishReason != "" {
			out.FinishReason = v.Choices[0].FinishReason
		}
	}
	return out, nil
}

// synthesizeDurations splits total wall-clock elapsed time 25%/75% between
// prompt evaluation and generation — an approximation, since llama-server
// does not expose per-phase timing through its OpenAI-compatible endpoint
// and the model is already resident (LoadDuration is always zero).
func synthesizeDurations(elapsed time.Duration) (total, load, promptEval, eval int64) {
	total = elapsed.Nanoseconds()
	return total, 0, total / 4, total * 3 / 4
}

func nonStreamingOllamaChat(w http.ResponseWriter, upstream *http.Response, model string, start time.Time) {
	raw, err := readJSONBody(upstream)
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	parsed, err := parseUpstreamCompletion(raw)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	total, load, promptEval, eval := synthesizeDurations(time.Since(start))
	writeJSON(w, http.StatusOK, OllamaChatResponse{
		Model:              model,
		CreatedAt:          nowRFC3339(),
		Message:            OllamaMessage{Role: "assistant", Content: parsed.Content},
		Done:               true,
		DoneReason:         parsed.FinishReason,
		TotalDuration:      total,
		LoadDuration:       load,
		PromptEvalCount:    parsed.PromptTokens,
		PromptEvalDuration: promptEval,
		EvalCount:          parsed.EvalTokens,
		EvalDuration:       eval,
	})
}

func (h *Handler) ollamaGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[OllamaGenerateRequest](r)
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}

	model := normalizeModelName(req.Model)
	streaming := req.streamOrDefault()
	logReq(r, model, streaming)

	target, err := h.ensureModel(r.Context(), model, req.Options.NumCtx)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	var messages []ChatMessage
	if req.System != "" {
		sys := req.System
		messages = append(messages, ChatMessage{Role: "system", Content: &sys})
	}
	prompt := req.Prompt
	messages = append(messages, ChatMessage{Role: "user", Content: &prompt})

	outbound := ChatCompletionRequest{Model: model, Messages: messages, Stream: streaming}
	applyOllamaOptions(&outbound, req.Options)
	body := marshalWithFormatAndUsage(outbound, req.Format, streaming)

	start := time.Now()
	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/chat/completions"), body)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	if streaming {
		streamOllamaGenerate(w, upstream, model, start)
		return
	}
	nonStreamingOllamaGenerate(w, upstream, model, start)
}

func nonStreamingOllamaGenerate(w http.ResponseWriter, upstream *http.Response, model string, start time.Time) {
	raw, err := readJSONBody(upstream)
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	parsed, err := parseUpstreamCompletion(raw)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	total, load, promptEval, eval := synthesizeDurations(time.Since(start))
	writeJSON(w, http.StatusOK, OllamaGenerateResponse{
		Model:              model,
		CreatedAt:          nowRFC3339(),
		Response:           parsed.Content,
		Done:               true,
		DoneReason:         "stop",
		TotalDuration:      total,
		LoadDuration:       load,
		PromptEvalCount:    parsed.PromptTokens,
		PromptEvalDuration: promptEval,
		EvalCount:          parsed.EvalTokens,
		EvalDuration:       eval,
	})
}

func (h *Handler) ollamaEmbed(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[OllamaEmbedRequest](r)
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}
	inputs, err := req.toInputs()
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid input field", err))
		return
	}

	model := normalizeModelName(req.Model)
	logReq(r, model, false)

	target, err := h.ensureModel(r.Context(), model, req.Options.NumCtx)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	start := time.Now()
	embeddings, promptTokens, err := fetchEmbeddings(h, r, target, model, inputs)
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	total, load, _, _ := synthesizeDurations(time.Since(start))

	writeJSON(w, http.StatusOK, OllamaEmbedResponse{
		Model:           model,
		Embeddings:      embeddings,
		TotalDuration:   total,
		LoadDuration:    load,
		PromptEvalCount: promptTokens,
	})
}

func (h *Handler) ollamaEmbeddingsLegacy(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[OllamaLegacyEmbeddingRequest](r)
	if err != nil {
		writeOllamaError(w, domain.WrapError(domain.KindValidationFailed, "invalid request body", err))
		return
	}
	model := normalizeModelName(req.Model)
	logReq(r, model, false)

	target, err := h.ensureModel(r.Context(), model, req.Options.NumCtx)
	if err != nil {
		writeOllamaError(w, err)
		return
	}

	embeddings, _, err := fetchEmbeddings(h, r, target, model, []string{req.Prompt})
	if err != nil {
		writeOllamaError(w, err)
		return
	}
	var vec []float32
	if len(embeddings) > 0 {
		vec = embeddings[0]
	}
	writeJSON(w, http.StatusOK, OllamaLegacyEmbeddingResponse{Embedding: vec})
}

func fetchEmbeddings(h *Handler, r *http.Request, target domain.RunningTarget, model string, inputs []string) ([][]float32, int, error) {
	body, err := json.Marshal(EmbeddingsRequest{Model: model, Input: mustMarshal(inputs)})
	if err != nil {
		return nil, 0, domain.WrapError(domain.KindInternal, "encode upstream request", err)
	}

	upstream, err := h.postJSON(r.Context(), upstreamURL(target, "/v1/embeddings"), body)
	if err != nil {
		return nil, 0, err
	}
	raw, err := readJSONBody(upstream)
	if err != nil {
		return nil, 0, err
	}

	var resp EmbeddingsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, 0, domain.WrapError(domain.KindProtocolError, "parse upstream embeddings response", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	promptTokens := 0
	if resp.Usage != nil {
		promptTokens = resp.Usage.PromptTokens
	}
	return out, promptTokens, nil
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ollamaUnsupported returns a handler that answers model-management
// requests (pull/delete/copy/create) with a 404 directing the user to the
// gglib CLI; the proxy is a read path for inference only.
func (h *Handler) ollamaUnsupported(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ollamaError(message))
	}
}
