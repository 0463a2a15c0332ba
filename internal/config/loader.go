package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Runtime.Strategy != "" && !cfg.Runtime.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("runtime.strategy %q is invalid; valid values: concurrent, single_swap", cfg.Runtime.Strategy))
	}
	if cfg.Runtime.Strategy == StrategyConcurrent && cfg.Runtime.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("runtime.max_concurrent must be positive when runtime.strategy is concurrent"))
	}
	if cfg.Runtime.DefaultContextSize < 0 {
		errs = append(errs, errors.New("runtime.default_context_size must not be negative"))
	}

	if cfg.Proxy.Port < 0 || cfg.Proxy.Port > 65535 {
		errs = append(errs, fmt.Errorf("proxy.port %d is out of range [0, 65535]", cfg.Proxy.Port))
	}

	if cfg.Download.MaxQueueSize < 0 {
		errs = append(errs, errors.New("download.max_queue_size must not be negative"))
	}

	mcpNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := mcpNamesSeen[srv.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		} else {
			mcpNamesSeen[srv.Name] = i
		}
		switch srv.Transport {
		case "", "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case "sse":
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, sse", prefix, srv.Transport))
		}
	}

	if cfg.Voice.Mode != "" && !cfg.Voice.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: push_to_talk, vad", cfg.Voice.Mode))
	}

	return errors.Join(errs...)
}
