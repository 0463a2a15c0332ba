// Package proxy implements the model-swapping HTTP proxy: a single
// listener that speaks both the OpenAI chat-completions wire format
// (/v1/...) and the Ollama wire format (/api/...), translating every
// inbound request into a single upstream llama-server call and ensuring
// the requested model is the one currently loaded before forwarding.
//
// The proxy never imports an OpenAI or Ollama client SDK: both wire
// formats are reproduced here as plain JSON structs, the same way a
// reverse proxy that merely needs protocol compatibility (not a client
// library) would. See [Handler] for the route tree and [Supervisor] for
// the bind-then-report lifecycle wrapping it.
package proxy

import "encoding/json"

// ── OpenAI-compatible wire format ──────────────────────────────────────

// ChatMessage is a single OpenAI-format chat message.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    *string         `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID *string         `json:"tool_call_id,omitempty"`
}

// ChatCompletionRequest is the inbound body for POST /v1/chat/completions.
// num_ctx is gglib's own extension, read by the routing layer to request a
// non-default context size before forwarding; it is never itself forwarded
// upstream.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
	N           *int          `json:"n,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	NumCtx      *int          `json:"num_ctx,omitempty"`

	// TopK, Seed, and RepeatPenalty are non-standard OpenAI fields that
	// llama-server accepts directly; they exist on this struct purely to
	// carry an Ollama request's options through to the outbound body.
	TopK          *int     `json:"top_k,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// Usage reports token counts for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoice is one completion alternative in a non-streaming response.
// gglib always returns exactly one.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the outbound body for a non-streaming chat
// completion.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatDelta is the incremental content of one streaming chunk.
type ChatDelta struct {
	Role      *string         `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// ChatChunkChoice is one choice within a streaming chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is a single Server-Sent-Events data payload of a
// streaming chat completion.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *Usage            `json:"usage,omitempty"`
}

// ModelInfo describes one entry of GET /v1/models.
type ModelInfo struct {
	ID          string  `json:"id"`
	Object      string  `json:"object"`
	Created     int64   `json:"created"`
	OwnedBy     string  `json:"owned_by"`
	Description *string `json:"description,omitempty"`
}

// ModelsResponse is the outbound body for GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// EmbeddingsRequest is the inbound body for POST /v1/embeddings.
type EmbeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// EmbeddingData is a single embedding vector within an embeddings response.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingsResponse is the outbound (and upstream-parsed) body for an
// embeddings request.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  *Usage          `json:"usage,omitempty"`
}

// errorBody is the single field nested under "error" in an ErrorResponse.
type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code,omitempty"`
}

// ErrorResponse is the OpenAI-format error envelope every failure path
// returns: {"error": {"message": ..., "type": ...}}.
type ErrorResponse struct {
	Error errorBody `json:"error"`
}

// NewErrorResponse builds an [ErrorResponse] with the given message and
// error type (e.g. "not_found", "invalid_request_error").
func NewErrorResponse(message, errType string) ErrorResponse {
	return ErrorResponse{Error: errorBody{Message: message, Type: errType}}
}

// ── Ollama-compatible wire format ──────────────────────────────────────

// OllamaOptions is the free-form "options" object Ollama requests carry.
// Only the fields gglib understands are named; everything else is
// accepted but ignored, matching upstream Ollama's own tolerance of
// unknown options.
type OllamaOptions struct {
	NumCtx        *int     `json:"num_ctx,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// OllamaMessage is a single message within an /api/chat request or
// response.
type OllamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Images    []string        `json:"images,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// OllamaChatRequest is the inbound body for POST /api/chat.
type OllamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   *bool           `json:"stream,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  OllamaOptions   `json:"options"`
}

// streamOrDefault returns the effective streaming flag, defaulting to true
// — Ollama's own default — when the client omits the field.
func (r OllamaChatRequest) streamOrDefault() bool {
	if r.Stream == nil {
		return true
	}
	return *r.Stream
}

// OllamaChatResponse is the outbound body for a non-streaming /api/chat
// response. The duration fields are synthetic: llama-server does not
// expose per-phase timing through its OpenAI-compatible endpoint, and the
// model is already resident by the time the proxy forwards the request,
// so LoadDuration is always zero. PromptEvalDuration/EvalDuration split
// the measured wall-clock time 25%/75%, an approximation rather than a
// measurement.
type OllamaChatResponse struct {
	Model              string        `json:"model"`
	CreatedAt          string        `json:"created_at"`
	Message            OllamaMessage `json:"message"`
	Done               bool          `json:"done"`
	DoneReason         string        `json:"done_reason,omitempty"`
	TotalDuration      int64         `json:"total_duration"`
	LoadDuration       int64         `json:"load_duration"`
	PromptEvalCount    int           `json:"prompt_eval_count"`
	PromptEvalDuration int64         `json:"prompt_eval_duration"`
	EvalCount          int           `json:"eval_count"`
	EvalDuration       int64         `json:"eval_duration"`
}

// OllamaGenerateRequest is the inbound body for POST /api/generate.
type OllamaGenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  *bool           `json:"stream,omitempty"`
	Format  json.RawMessage `json:"format,omitempty"`
	Options OllamaOptions   `json:"options"`
}

func (r OllamaGenerateRequest) streamOrDefault() bool {
	if r.Stream == nil {
		return true
	}
	return *r.Stream
}

// OllamaGenerateResponse is the outbound body for a non-streaming
// /api/generate response. See [OllamaChatResponse] for the synthetic
// timing-field rationale.
type OllamaGenerateResponse struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

// OllamaEmbedRequest is the inbound body for POST /api/embed. Input
// accepts either a single string or an array of strings, matching
// Ollama's own permissive shape.
type OllamaEmbedRequest struct {
	Model   string          `json:"model"`
	Input   json.RawMessage `json:"input"`
	Options OllamaOptions   `json:"options"`
}

// toInputs normalizes Input into a slice of prompts regardless of whether
// the client sent a bare string or a string array.
func (r OllamaEmbedRequest) toInputs() ([]string, error) {
	var single string
	if err := json.Unmarshal(r.Input, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(r.Input, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// OllamaEmbedResponse is the outbound body for /api/embed.
type OllamaEmbedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	TotalDuration   int64       `json:"total_duration,omitempty"`
	LoadDuration    int64       `json:"load_duration,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
}

// OllamaLegacyEmbeddingRequest is the inbound body for the deprecated
// POST /api/embeddings single-vector endpoint.
type OllamaLegacyEmbeddingRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Options OllamaOptions `json:"options"`
}

// OllamaLegacyEmbeddingResponse is the outbound body for /api/embeddings.
type OllamaLegacyEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OllamaVersionResponse is the outbound body for GET /api/version.
type OllamaVersionResponse struct {
	Version string `json:"version"`
}

// OllamaModelDetails is the nested "details" object Ollama clients expect
// on tags/show/ps entries. gglib populates only what it can derive from a
// [domain.ModelRecord]; the rest are left at their zero value, matching
// how upstream Ollama itself leaves unknown GGUF metadata blank.
type OllamaModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// OllamaTagsEntry is one entry of GET /api/tags.
type OllamaTagsEntry struct {
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	ModifiedAt string             `json:"modified_at"`
	Size       int64              `json:"size"`
	Digest     string             `json:"digest"`
	Details    OllamaModelDetails `json:"details"`
}

// OllamaTagsResponse is the outbound body for GET /api/tags.
type OllamaTagsResponse struct {
	Models []OllamaTagsEntry `json:"models"`
}

// OllamaShowRequest is the inbound body for POST /api/show.
type OllamaShowRequest struct {
	Model string `json:"model"`
	Name  string `json:"name,omitempty"`
}

// effectiveModel returns Model, falling back to the legacy Name field
// some older Ollama clients still send.
func (r OllamaShowRequest) effectiveModel() string {
	if r.Model != "" {
		return r.Model
	}
	return r.Name
}

// OllamaShowResponse is the outbound body for POST /api/show.
type OllamaShowResponse struct {
	ModifiedAt string             `json:"modified_at"`
	Details    OllamaModelDetails `json:"details"`
	ModelInfo  map[string]any     `json:"model_info,omitempty"`
}

// OllamaPsEntry is one entry of GET /api/ps.
type OllamaPsEntry struct {
	Name      string             `json:"name"`
	Model     string             `json:"model"`
	Size      int64              `json:"size"`
	Digest    string             `json:"digest"`
	Details   OllamaModelDetails `json:"details"`
	ExpiresAt string             `json:"expires_at"`
	SizeVRAM  int64              `json:"size_vram"`
}

// OllamaPsResponse is the outbound body for GET /api/ps.
type OllamaPsResponse struct {
	Models []OllamaPsEntry `json:"models"`
}

// ollamaError builds Ollama's single-field error envelope:
// {"error": "message"}.
func ollamaError(msg string) map[string]string {
	return map[string]string{"error": msg}
}
