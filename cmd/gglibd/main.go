// Command gglibd is the main entry point for the gglib local inference
// control plane: model catalog, download orchestrator, process
// supervisor, model-swapping proxy, MCP tool host, and voice pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrwong99/gglib/internal/app"
	"github.com/mrwong99/gglib/internal/config"
	"github.com/mrwong99/gglib/internal/resilience"
	"github.com/mrwong99/gglib/pkg/audio"
	"github.com/mrwong99/gglib/pkg/audio/webrtc"
	"github.com/mrwong99/gglib/pkg/provider/stt"
	"github.com/mrwong99/gglib/pkg/provider/stt/deepgram"
	"github.com/mrwong99/gglib/pkg/provider/stt/whisper"
	"github.com/mrwong99/gglib/pkg/provider/tts"
	"github.com/mrwong99/gglib/pkg/provider/tts/coqui"
	"github.com/mrwong99/gglib/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gglibd: config file %q not found — pass an existing YAML file with -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gglibd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("gglibd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"strategy", cfg.Runtime.Strategy,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build voice providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Application wiring ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the provider names
// logged at startup. Every entry except vad/silero has a factory in
// registerBuiltinProviders.
var builtinProviders = map[string][]string{
	"stt":   {"deepgram", "whisper"},
	"tts":   {"elevenlabs", "coqui"},
	"vad":   {"silero"},
	"audio": {"webrtc"},
}

// registerBuiltinProviders wires the concrete factory functions gglib
// ships with into reg. A kind/name pair absent here (e.g. vad/silero,
// which has no in-tree engine yet) falls through to
// [config.ErrProviderNotRegistered] at Create time, which buildProviders
// treats as "not configured" rather than a fatal error.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(entry.BaseURL)
	})

	reg.RegisterAudio("webrtc", func(entry config.ProviderEntry) (audio.Platform, error) {
		return webrtc.New(), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("provider available", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the voice providers named in cfg.Voice
// using the registry and returns them in an [app.Providers] struct for
// the application to consume. A provider left unconfigured (empty Name)
// or not yet registered is skipped rather than treated as fatal, since
// gglibd can run with any subset of the voice pipeline wired up.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Voice.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Voice.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not available — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)

			if fbName := cfg.Voice.STTFallback.Name; fbName != "" {
				fb, err := reg.CreateSTT(cfg.Voice.STTFallback)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("stt fallback provider not available — skipping", "name", fbName)
				} else if err != nil {
					return nil, fmt.Errorf("create stt fallback provider %q: %w", fbName, err)
				} else {
					group := resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
					group.AddFallback(fbName, fb)
					ps.STT = group
					slog.Info("provider fallback wired", "kind", "stt", "primary", name, "fallback", fbName)
				}
			}
		}
	}

	if name := cfg.Voice.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Voice.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts provider not available — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)

			if fbName := cfg.Voice.TTSFallback.Name; fbName != "" {
				fb, err := reg.CreateTTS(cfg.Voice.TTSFallback)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("tts fallback provider not available — skipping", "name", fbName)
				} else if err != nil {
					return nil, fmt.Errorf("create tts fallback provider %q: %w", fbName, err)
				} else {
					group := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
					group.AddFallback(fbName, fb)
					ps.TTS = group
					slog.Info("provider fallback wired", "kind", "tts", "primary", name, "fallback", fbName)
				}
			}
		}
	}

	if name := cfg.Voice.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Voice.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad provider not available — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	if name := cfg.Voice.Audio.Name; name != "" {
		p, err := reg.CreateAudio(cfg.Voice.Audio)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("audio provider not available — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create audio provider %q: %w", name, err)
		} else {
			ps.Audio = p
			slog.Info("provider created", "kind", "audio", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           gglib — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Strategy", string(cfg.Runtime.Strategy))
	printProvider("STT", cfg.Voice.STT.Name, cfg.Voice.STT.Model)
	if cfg.Voice.STTFallback.Name != "" {
		printProvider("STT fallback", cfg.Voice.STTFallback.Name, cfg.Voice.STTFallback.Model)
	}
	printProvider("TTS", cfg.Voice.TTS.Name, cfg.Voice.TTS.Model)
	if cfg.Voice.TTSFallback.Name != "" {
		printProvider("TTS fallback", cfg.Voice.TTSFallback.Name, cfg.Voice.TTSFallback.Model)
	}
	printProvider("VAD", cfg.Voice.VAD.Name, "")
	printProvider("Audio", cfg.Voice.Audio.Name, "")
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Proxy.Port != 0 {
		fmt.Printf("║  Proxy port      : %-19d ║\n", cfg.Proxy.Port)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
