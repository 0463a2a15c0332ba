package domain

import "sync/atomic"

// VoiceState enumerates the voice pipeline's state machine states.
type VoiceState int

const (
	VoiceIdle VoiceState = iota
	VoiceListening
	VoiceRecording
	VoiceTranscribing
	VoiceThinking
	VoiceSpeaking
	VoiceError
)

func (s VoiceState) String() string {
	switch s {
	case VoiceIdle:
		return "idle"
	case VoiceListening:
		return "listening"
	case VoiceRecording:
		return "recording"
	case VoiceTranscribing:
		return "transcribing"
	case VoiceThinking:
		return "thinking"
	case VoiceSpeaking:
		return "speaking"
	case VoiceError:
		return "error"
	default:
		return "unknown"
	}
}

// EchoGate is a lock-free shared flag with "speaking" semantics: while
// set, capture and VAD layers discard their input rather than let TTS
// playback feed back into the STT loop.
type EchoGate struct {
	speaking atomic.Bool
}

// Open clears the gate, allowing capture/VAD to resume processing frames.
func (g *EchoGate) Open() { g.speaking.Store(false) }

// Close sets the gate, causing capture/VAD to discard frames until Open.
func (g *EchoGate) Close() { g.speaking.Store(true) }

// IsClosed reports whether the gate currently discards frames.
func (g *EchoGate) IsClosed() bool { return g.speaking.Load() }
