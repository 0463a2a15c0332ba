// Package eventbus implements gglib's single typed event union and its
// fan-out to subscribers. Emission is non-blocking and lossy by design:
// a slow subscriber never back-pressures the emitter. Wire names (the
// string returned by [Event.Name]) are a tested public contract and are
// how subscribers tell event types apart. Delivery is in-process only,
// through the channels returned by [Bus.Subscribe]; this package has no
// SSE or desktop-IPC transport.
package eventbus

import (
	"time"

	"github.com/mrwong99/gglib/internal/domain"
)

// Event is implemented by every concrete event type in the union. Name
// returns the event's stable "category:name" wire name (e.g.
// "server:started", "voice:audio-level").
// sealed prevents types outside this package from satisfying Event,
// keeping the union closed.
type Event interface {
	Name() string
	sealed()
}

type base struct{}

func (base) sealed() {}

// --- server lifecycle ---

type ServerStarted struct {
	base
	Summary domain.ServerSummary
}

func (ServerStarted) Name() string { return "server:started" }

type ServerStopping struct {
	base
	Summary domain.ServerSummary
}

func (ServerStopping) Name() string { return "server:stopping" }

type ServerStopped struct {
	base
	Summary domain.ServerSummary
}

func (ServerStopped) Name() string { return "server:stopped" }

type ServerError struct {
	base
	ModelID int64
	Err     string
}

func (ServerError) Name() string { return "server:error" }

type ServerSnapshot struct {
	base
	Running []domain.ServerSummary
}

func (ServerSnapshot) Name() string { return "server:snapshot" }

type ServerHealthChanged struct {
	base
	ModelID int64
	Port    int
	Status  domain.HealthStatus
	Detail  string
}

func (ServerHealthChanged) Name() string { return "server:health_changed" }

// --- download lifecycle ---

type DownloadStarted struct {
	base
	DownloadID domain.DownloadID
}

func (DownloadStarted) Name() string { return "download:started" }

type DownloadProgress struct {
	base
	Progress domain.DownloadProgress
}

func (DownloadProgress) Name() string { return "download:progress" }

type DownloadCompleted struct {
	base
	DownloadID domain.DownloadID
	ModelID    int64
}

func (DownloadCompleted) Name() string { return "download:completed" }

type DownloadFailed struct {
	base
	DownloadID domain.DownloadID
	Err        string
}

func (DownloadFailed) Name() string { return "download:failed" }

type DownloadCancelled struct {
	base
	DownloadID domain.DownloadID
}

func (DownloadCancelled) Name() string { return "download:cancelled" }

// --- catalog lifecycle ---

type ModelAdded struct {
	base
	Model domain.ModelRecord
}

func (ModelAdded) Name() string { return "model:added" }

type ModelRemoved struct {
	base
	ModelID int64
}

func (ModelRemoved) Name() string { return "model:removed" }

type ModelUpdated struct {
	base
	Model domain.ModelRecord
}

func (ModelUpdated) Name() string { return "model:updated" }

// --- MCP lifecycle ---

type McpAdded struct {
	base
	Server domain.McpServerRecord
}

func (McpAdded) Name() string { return "mcp:added" }

type McpRemoved struct {
	base
	ServerID string
}

func (McpRemoved) Name() string { return "mcp:removed" }

type McpStarted struct {
	base
	ServerID string
}

func (McpStarted) Name() string { return "mcp:started" }

type McpStopped struct {
	base
	ServerID string
}

func (McpStopped) Name() string { return "mcp:stopped" }

type McpError struct {
	base
	ServerID string
	Err      string
}

func (McpError) Name() string { return "mcp:error" }

// --- voice lifecycle ---

type VoiceStateChanged struct {
	base
	State domain.VoiceState
}

func (VoiceStateChanged) Name() string { return "voice:state-changed" }

type VoiceTranscript struct {
	base
	Text    string
	IsFinal bool
}

func (VoiceTranscript) Name() string { return "voice:transcript" }

type VoiceSpeakingStarted struct{ base }

func (VoiceSpeakingStarted) Name() string { return "voice:speaking-started" }

type VoiceSpeakingFinished struct{ base }

func (VoiceSpeakingFinished) Name() string { return "voice:speaking-finished" }

type VoiceAudioLevel struct {
	base
	RMS float64
	At  time.Time
}

func (VoiceAudioLevel) Name() string { return "voice:audio-level" }

type VoiceError struct {
	base
	Err string
}

func (VoiceError) Name() string { return "voice:error" }

type VoiceModelDownloadProgress struct {
	base
	Kind       string // "stt" | "tts" | "vad"
	Percentage float64
}

func (VoiceModelDownloadProgress) Name() string { return "voice:model-download-progress" }

// --- verification ---

type VerificationProgress struct {
	base
	Filename   string
	Percentage float64
}

func (VerificationProgress) Name() string { return "verification:progress" }

type VerificationComplete struct {
	base
	Filename string
	OK       bool
}

func (VerificationComplete) Name() string { return "verification:complete" }
