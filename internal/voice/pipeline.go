// Package voice drives the push-to-talk / voice-activity-detection
// conversation loop: mic capture, speech-to-text, text-to-speech
// playback, and the echo gate that keeps TTS output from feeding back
// into the STT path. Text preprocessing for TTS lives in text.go.
package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mrwong99/gglib/internal/config"
	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/eventbus"
	"github.com/mrwong99/gglib/internal/observe"
	"github.com/mrwong99/gglib/pkg/audio"
	"github.com/mrwong99/gglib/pkg/provider/stt"
	"github.com/mrwong99/gglib/pkg/provider/tts"
	"github.com/mrwong99/gglib/pkg/provider/vad"
	"github.com/mrwong99/gglib/pkg/types"
)

// Providers holds the voice backends a Pipeline drives. Any field may be
// nil; the corresponding capability is then unavailable and operations
// that need it return an error rather than panic.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// Config configures a Pipeline's behaviour. It mirrors
// [config.VoiceConfig] but resolves the provider-facing stream/session
// parameters the pipeline needs to open STT and VAD sessions.
type Config struct {
	Mode      config.VoiceMode
	AutoSpeak bool
	Voice     types.VoiceProfile
	Stream    stt.StreamConfig
	VAD       vad.Config
}

// Pipeline coordinates audio capture, VAD, STT, and TTS into the voice
// conversation loop described by [domain.VoiceState]. A Pipeline is
// created once per voice-capable connection and torn down on
// Stop/Disconnect.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	bus     *eventbus.Bus
	metrics *observe.Metrics

	providers Providers
	echoGate  domain.EchoGate

	mu             sync.Mutex
	cfg            Config
	state          domain.VoiceState
	stateEnteredAt time.Time
	active         bool
	capturing      bool

	conn       audio.Connection
	cancel     context.CancelFunc
	vadSession vad.SessionHandle
	sttSession stt.SessionHandle
	recordBuf  []byte

	speakCancel bool
}

// New builds a Pipeline in [domain.VoiceIdle], ready for Start.
func New(cfg Config, providers Providers, bus *eventbus.Bus, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{
		bus:            bus,
		metrics:        metrics,
		providers:      providers,
		cfg:            cfg,
		state:          domain.VoiceIdle,
		stateEnteredAt: time.Now(),
	}
}

// State returns the pipeline's current state.
func (p *Pipeline) State() domain.VoiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Mode returns the active interaction mode.
func (p *Pipeline) Mode() config.VoiceMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Mode
}

// IsActive reports whether the pipeline has an open audio connection.
func (p *Pipeline) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// EchoGate returns the pipeline's echo gate for external coordination
// (e.g. a capture layer that must discard frames while TTS is playing).
func (p *Pipeline) EchoGate() *domain.EchoGate { return &p.echoGate }

// ── Lifecycle ──────────────────────────────────────────────────────

// Start activates the pipeline against conn: it subscribes to
// participant join/leave events, attaches to the first participant's
// input stream, and — in VAD mode — opens a VAD session. Returns
// [domain.KindAlreadyRunning] if already active.
func (p *Pipeline) Start(ctx context.Context, conn audio.Connection) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return domain.NewError(domain.KindAlreadyRunning, "voice pipeline already active")
	}
	p.active = true
	p.conn = conn

	if p.cfg.Mode == config.VoiceActivityDetection && p.providers.VAD != nil {
		session, err := p.providers.VAD.NewSession(p.cfg.VAD)
		if err != nil {
			p.active = false
			p.conn = nil
			p.mu.Unlock()
			return fmt.Errorf("create vad session: %w", err)
		}
		p.vadSession = session
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	conn.OnParticipantChange(func(ev audio.Event) {
		slog.Debug("voice: participant event", "type", ev.Type.String(), "user_id", ev.UserID)
		if ev.Type == audio.EventJoin {
			p.attachInputStream(runCtx, conn)
		}
	})
	p.attachInputStream(runCtx, conn)

	p.setState(domain.VoiceListening)
	return nil
}

// attachInputStream starts the capture loop over the first available
// participant stream. gglib runs one local operator per connection, so
// only the first stream is ever consumed.
func (p *Pipeline) attachInputStream(ctx context.Context, conn audio.Connection) {
	p.mu.Lock()
	if p.capturing {
		p.mu.Unlock()
		return
	}
	var frames <-chan audio.AudioFrame
	for _, ch := range conn.InputStreams() {
		frames = ch
		break
	}
	if frames == nil {
		p.mu.Unlock()
		return
	}
	p.capturing = true
	p.mu.Unlock()

	go p.captureLoop(ctx, frames)
}

// Stop tears down the active connection, closes any open VAD/STT
// sessions, and returns the pipeline to [domain.VoiceIdle]. Safe to call
// when already stopped.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = false
	p.capturing = false
	cancel := p.cancel
	conn := p.conn
	vadSession := p.vadSession
	sttSession := p.sttSession
	p.cancel = nil
	p.conn = nil
	p.vadSession = nil
	p.sttSession = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if vadSession != nil {
		vadSession.Close()
	}
	if sttSession != nil {
		sttSession.Close()
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("voice: disconnect failed", "error", err)
		}
	}

	p.setState(domain.VoiceIdle)
	return nil
}

// SetMode switches between push-to-talk and VAD, creating or closing the
// VAD session as appropriate. A no-op if mode is unchanged.
func (p *Pipeline) SetMode(mode config.VoiceMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Mode == mode {
		return
	}
	old := p.cfg.Mode
	p.cfg.Mode = mode
	slog.Info("voice: mode changed", "old", old, "new", mode)

	switch mode {
	case config.VoiceActivityDetection:
		if p.vadSession == nil && p.active && p.providers.VAD != nil {
			session, err := p.providers.VAD.NewSession(p.cfg.VAD)
			if err != nil {
				slog.Warn("voice: failed to create vad session on mode switch", "error", err)
			} else {
				p.vadSession = session
			}
		}
	case config.VoicePushToTalk:
		if p.vadSession != nil {
			p.vadSession.Close()
			p.vadSession = nil
		}
	}
}

// ── Capture loop ───────────────────────────────────────────────────

func (p *Pipeline) captureLoop(ctx context.Context, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.handleFrame(ctx, frame)
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, frame audio.AudioFrame) {
	if p.echoGate.IsClosed() {
		return
	}

	p.bus.Emit(eventbus.VoiceAudioLevel{RMS: calculateAudioLevel(frame.Data), At: time.Now()})

	p.mu.Lock()
	mode := p.cfg.Mode
	sttSession := p.sttSession
	p.mu.Unlock()

	switch mode {
	case config.VoiceActivityDetection:
		p.handleVADFrame(ctx, frame)
	case config.VoicePushToTalk:
		if sttSession != nil {
			if err := sttSession.SendAudio(frame.Data); err != nil {
				slog.Warn("voice: send audio to stt session failed", "error", err)
			}
		}
	}
}

func (p *Pipeline) handleVADFrame(ctx context.Context, frame audio.AudioFrame) {
	p.mu.Lock()
	session := p.vadSession
	p.mu.Unlock()
	if session == nil {
		return
	}

	ev, err := session.ProcessFrame(frame.Data)
	if err != nil {
		slog.Warn("voice: vad process frame failed", "error", err)
		return
	}

	switch ev.Type {
	case vad.VADSpeechStart:
		p.mu.Lock()
		p.recordBuf = p.recordBuf[:0]
		p.recordBuf = append(p.recordBuf, frame.Data...)
		p.mu.Unlock()
		p.setState(domain.VoiceRecording)

	case vad.VADSpeechContinue:
		p.mu.Lock()
		p.recordBuf = append(p.recordBuf, frame.Data...)
		p.mu.Unlock()

	case vad.VADSpeechEnd:
		p.mu.Lock()
		p.recordBuf = append(p.recordBuf, frame.Data...)
		segment := make([]byte, len(p.recordBuf))
		copy(segment, p.recordBuf)
		p.recordBuf = p.recordBuf[:0]
		p.mu.Unlock()
		p.transcribeSegment(ctx, segment)

	case vad.VADSilence:
		// nothing to do
	}
}

// transcribeSegment opens a short-lived STT session for a single
// VAD-delimited utterance, sends the buffered PCM, and emits the final
// transcript. [stt.Provider] explicitly supports multiple concurrent
// sessions, so opening one per utterance rather than reusing a
// long-lived session is a supported usage pattern.
func (p *Pipeline) transcribeSegment(ctx context.Context, pcm []byte) {
	p.mu.Lock()
	provider := p.providers.STT
	streamCfg := p.cfg.Stream
	p.mu.Unlock()

	if provider == nil || len(pcm) == 0 {
		p.setState(domain.VoiceListening)
		return
	}

	p.setState(domain.VoiceTranscribing)
	start := time.Now()

	session, err := provider.StartStream(ctx, streamCfg)
	if err != nil {
		p.emitError(fmt.Errorf("start stt stream: %w", err))
		p.setState(domain.VoiceListening)
		return
	}
	if err := session.SendAudio(pcm); err != nil {
		session.Close()
		p.emitError(fmt.Errorf("send audio to stt session: %w", err))
		p.setState(domain.VoiceListening)
		return
	}

	text, err := p.awaitFinal(ctx, session)
	p.recordSTTDuration(ctx, start)
	if err != nil {
		p.emitError(err)
	} else if text != "" {
		p.bus.Emit(eventbus.VoiceTranscript{Text: text, IsFinal: true})
	}
	p.setState(domain.VoiceListening)
}

// ── Push-to-talk flow ──────────────────────────────────────────────

// PTTStart begins recording: any active TTS playback is stopped first,
// then a fresh STT session is opened and frames from the capture loop
// are forwarded to it until PTTStop.
func (p *Pipeline) PTTStart(ctx context.Context) error {
	if !p.IsActive() {
		return domain.NewError(domain.KindValidationFailed, "voice pipeline not active")
	}
	p.StopSpeaking()

	p.mu.Lock()
	provider := p.providers.STT
	streamCfg := p.cfg.Stream
	p.mu.Unlock()
	if provider == nil {
		return domain.NewError(domain.KindValidationFailed, "stt provider not configured")
	}

	session, err := provider.StartStream(ctx, streamCfg)
	if err != nil {
		return fmt.Errorf("start stt stream: %w", err)
	}

	p.mu.Lock()
	p.sttSession = session
	p.recordBuf = p.recordBuf[:0]
	p.mu.Unlock()

	p.setState(domain.VoiceRecording)
	return nil
}

// PTTStop closes the in-progress recording session, awaits the final
// transcript, and emits it. Returns the empty string (and no error) if
// nothing was ever recorded.
func (p *Pipeline) PTTStop(ctx context.Context) (string, error) {
	if !p.IsActive() {
		return "", domain.NewError(domain.KindValidationFailed, "voice pipeline not active")
	}

	p.mu.Lock()
	session := p.sttSession
	p.sttSession = nil
	p.mu.Unlock()

	if session == nil {
		p.setState(domain.VoiceListening)
		return "", nil
	}

	p.setState(domain.VoiceTranscribing)
	start := time.Now()
	text, err := p.awaitFinal(ctx, session)
	p.recordSTTDuration(ctx, start)
	if err != nil {
		p.setState(domain.VoiceListening)
		return "", err
	}
	if text != "" {
		p.bus.Emit(eventbus.VoiceTranscript{Text: text, IsFinal: true})
	}
	p.setState(domain.VoiceListening)
	return text, nil
}

// awaitFinal closes session and returns the first value from its Finals
// channel, or ctx.Err() if ctx is cancelled first.
func (p *Pipeline) awaitFinal(ctx context.Context, session stt.SessionHandle) (string, error) {
	session.Close()
	select {
	case tr, ok := <-session.Finals():
		if !ok {
			return "", nil
		}
		return tr.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ── TTS playback ───────────────────────────────────────────────────

// Speak strips markdown from text, splits it into TTS-friendly chunks,
// and streams the synthesised audio to the connection's output stream.
// The echo gate is closed for the duration of playback so the capture
// loop does not feed the assistant's own voice back into STT.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	p.mu.Lock()
	p.speakCancel = false
	p.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	chunks := SplitIntoChunks(StripMarkdown(text))
	if len(chunks) == 0 {
		return nil
	}

	p.mu.Lock()
	provider := p.providers.TTS
	conn := p.conn
	voice := p.cfg.Voice
	p.mu.Unlock()
	if provider == nil {
		return domain.NewError(domain.KindValidationFailed, "tts provider not configured")
	}
	if conn == nil {
		return domain.NewError(domain.KindValidationFailed, "voice pipeline has no audio connection")
	}

	textCh := make(chan string, len(chunks))
	for _, chunk := range chunks {
		textCh <- chunk
	}
	close(textCh)

	start := time.Now()
	audioCh, err := provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return fmt.Errorf("start tts stream: %w", err)
	}

	p.echoGate.Close()
	defer p.echoGate.Open()

	out := conn.OutputStream()
	any := false

	for pcm := range audioCh {
		if p.speakingCancelled() {
			break
		}
		if !any {
			any = true
			p.setState(domain.VoiceSpeaking)
			p.bus.Emit(eventbus.VoiceSpeakingStarted{})
		}
		select {
		case out <- audio.AudioFrame{Data: pcm, SampleRate: p.cfg.Stream.SampleRate, Channels: 1, Timestamp: time.Since(start)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}

	if !any {
		return domain.NewError(domain.KindTransport, "all chunks failed to synthesize")
	}

	p.bus.Emit(eventbus.VoiceSpeakingFinished{})
	if p.IsActive() {
		p.setState(domain.VoiceListening)
	} else {
		p.setState(domain.VoiceIdle)
	}
	return nil
}

// StopSpeaking aborts any in-progress Speak call after its current chunk
// and returns the pipeline to listening.
func (p *Pipeline) StopSpeaking() {
	p.mu.Lock()
	p.speakCancel = true
	p.mu.Unlock()

	p.echoGate.Open()
	p.bus.Emit(eventbus.VoiceSpeakingFinished{})
	if p.IsActive() {
		p.setState(domain.VoiceListening)
	}
}

func (p *Pipeline) speakingCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speakCancel
}

// ── internal helpers ─────────────────────────────────────────────────

func (p *Pipeline) setState(state domain.VoiceState) {
	p.mu.Lock()
	old := p.state
	enteredAt := p.stateEnteredAt
	if old == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.stateEnteredAt = time.Now()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordVoiceStateDuration(context.Background(), old.String(), time.Since(enteredAt).Seconds())
	}
	p.bus.Emit(eventbus.VoiceStateChanged{State: state})
}

func (p *Pipeline) emitError(err error) {
	slog.Warn("voice: pipeline error", "error", err)
	p.bus.Emit(eventbus.VoiceError{Err: err.Error()})
}

func (p *Pipeline) recordSTTDuration(ctx context.Context, start time.Time) {
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// calculateAudioLevel computes a normalised 0.0-1.0 RMS level from
// little-endian 16-bit PCM, for UI visualisation. An RMS of ~0.3 (full
// scale) is treated as very loud speech.
func calculateAudioLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(sample) / 32768.0
		sumSq += f * f
	}

	rms := math.Sqrt(sumSq / float64(n))
	level := rms / 0.3
	if level > 1.0 {
		level = 1.0
	}
	return level
}
