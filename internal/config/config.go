// Package config provides the configuration schema, loader, and voice
// provider registry for the gglib local inference control plane.
package config

// Config is the root configuration structure for gglibd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Download DownloadConfig `yaml:"download"`
	MCP      MCPConfig      `yaml:"mcp"`
	Voice    VoiceConfig    `yaml:"voice"`
}

// ServerConfig holds network and logging settings for the health/metrics
// surface (the model-swapping proxy has its own [ProxyConfig.Host] and
// [ProxyConfig.Port]).
type ServerConfig struct {
	// ListenAddr is the TCP address the health/readiness/metrics server
	// listens on (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir overrides the data root; empty uses "~/.gglib" under the
	// user's home directory on every platform.
	DataDir string `yaml:"data_dir"`
}

// CatalogConfig configures the on-disk model catalog.
type CatalogConfig struct {
	// DBPath overrides the catalog database file; empty resolves to
	// "<data_dir>/gglib.db".
	DBPath string `yaml:"db_path"`
}

// SwapStrategy selects one of the two Process Supervisor scheduling
// strategies.
type SwapStrategy string

const (
	// StrategyConcurrent runs up to RuntimeConfig.MaxConcurrent models
	// side by side, each on its own port.
	StrategyConcurrent SwapStrategy = "concurrent"
	// StrategySingleSwap keeps at most one model resident, swapping it
	// out whenever a different model is requested.
	StrategySingleSwap SwapStrategy = "single_swap"
)

// IsValid reports whether s is a recognized swap strategy.
func (s SwapStrategy) IsValid() bool {
	return s == StrategyConcurrent || s == StrategySingleSwap
}

// RuntimeConfig configures the Process Supervisor and the llama-server
// children it launches.
type RuntimeConfig struct {
	// Strategy selects Concurrent or SingleSwap scheduling.
	Strategy SwapStrategy `yaml:"strategy"`

	// BinaryPath is the llama-server executable; empty resolves via PATH.
	BinaryPath string `yaml:"binary_path"`

	// BasePort is the first candidate port probed when launching a child.
	BasePort int `yaml:"base_port"`

	// MaxConcurrent bounds how many models may run simultaneously under
	// the Concurrent strategy. Ignored under SingleSwap.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DefaultContextSize is the context size used when a request does
	// not specify one explicitly.
	DefaultContextSize int `yaml:"default_context_size"`

	// Jinja enables llama-server's --jinja chat-template flag.
	Jinja bool `yaml:"jinja"`

	// ReasoningFormat is forwarded as llama-server's --reasoning-format.
	ReasoningFormat string `yaml:"reasoning_format"`
}

// ProxyConfig configures the OpenAI/Ollama-compatible model-swapping proxy.
type ProxyConfig struct {
	// Host is the interface the proxy binds to (e.g., "127.0.0.1").
	Host string `yaml:"host"`
	// Port is the TCP port the proxy listens on.
	Port int `yaml:"port"`
}

// DownloadConfig configures the HuggingFace download orchestrator.
type DownloadConfig struct {
	// MaxQueueSize bounds the pending download queue.
	MaxQueueSize int `yaml:"max_queue_size"`
	// HFBaseURL overrides the HuggingFace Hub endpoint; empty uses the
	// client's built-in default.
	HFBaseURL string `yaml:"hf_base_url"`
	// HFToken authenticates requests against gated/private repos.
	HFToken string `yaml:"hf_token"`
}

// MCPConfig holds the list of Model Context Protocol servers to seed into
// the catalog's mcp_servers table on startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	// Valid values: "stdio", "sse".
	Transport string `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for the sse transport.
	Command string `yaml:"command"`

	// Args are passed to Command verbatim.
	Args []string `yaml:"args"`

	// Cwd is the working directory for the child process, if non-empty.
	Cwd string `yaml:"cwd"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`

	// Enabled gates whether this server is ever connected.
	Enabled bool `yaml:"enabled"`

	// AutoStart connects this server automatically at startup, when
	// Enabled and its executable resolves successfully.
	AutoStart bool `yaml:"auto_start"`
}

// VoiceMode selects how the voice pipeline detects when the user is
// speaking.
type VoiceMode string

const (
	// VoicePushToTalk requires an explicit ptt_start/ptt_stop pair.
	VoicePushToTalk VoiceMode = "push_to_talk"
	// VoiceActivityDetection runs a continuous speech detector over
	// captured frames.
	VoiceActivityDetection VoiceMode = "vad"
)

// IsValid reports whether m is a recognized voice mode.
func (m VoiceMode) IsValid() bool {
	return m == VoicePushToTalk || m == VoiceActivityDetection
}

// VoiceConfig selects the STT/TTS/VAD/audio backends and default
// conversation behaviour for the voice pipeline.
type VoiceConfig struct {
	Mode VoiceMode     `yaml:"mode"`
	STT  ProviderEntry `yaml:"stt"`
	TTS  ProviderEntry `yaml:"tts"`
	VAD  ProviderEntry `yaml:"vad"`

	// STTFallback and TTSFallback name a secondary backend to fall back to
	// when the primary STT/TTS provider's circuit breaker trips. Name is
	// empty to disable fallback for that slot.
	STTFallback ProviderEntry `yaml:"stt_fallback"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	Audio     ProviderEntry `yaml:"audio"`
	AutoSpeak bool          `yaml:"auto_speak"`
}

// ProviderEntry is the common configuration block shared by the pluggable
// voice provider kinds (STT, TTS, VAD, audio transport). The Name field is
// used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g.,
	// "whisper", "elevenlabs", "silero").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered
	// by the standard fields above.
	Options map[string]any `yaml:"options"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognized log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}
