package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.NPCs) > 0 {
		slog.Warn("no LLM provider configured; NPCs will not be able to generate responses")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but storage.postgres_dsn is empty; semantic knowledge lookup will not be available")
	}

	conv := cfg.Conversation
	if conv.DebounceWindowMs < 0 {
		errs = append(errs, fmt.Errorf("conversation.debounce_window_ms %d must not be negative", conv.DebounceWindowMs))
	}
	if conv.DedupWindowMs < 0 {
		errs = append(errs, fmt.Errorf("conversation.dedup_window_ms %d must not be negative", conv.DedupWindowMs))
	}
	if conv.Temperature < 0 || conv.Temperature > 2 {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", conv.Temperature))
	}
	if conv.Channels < 0 || conv.Channels > 2 {
		errs = append(errs, fmt.Errorf("conversation.channels %d must be 0 (default), 1, or 2", conv.Channels))
	}

	if cfg.Security.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("security.rate_per_minute %.2f must not be negative", cfg.Security.RatePerMinute))
	}
	if cfg.Security.Burst < 0 {
		errs = append(errs, fmt.Errorf("security.burst %.2f must not be negative", cfg.Security.Burst))
	}

	idsSeen := make(map[string]int, len(cfg.NPCs))
	for i, def := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if def.ID != "" {
			if prev, ok := idsSeen[def.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of npcs[%d]", prefix, def.ID, prev))
			}
			idsSeen[def.ID] = i
		}
	}

	serversSeen := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serversSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
			}
			serversSeen[srv.Name] = i
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s: stdio transport requires a command", prefix))
			}
		case "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s: streamable-http transport requires a url", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName warns when a provider name is set but unrecognised.
// Unknown names are not fatal so out-of-tree providers can still be
// registered programmatically.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name)
	}
}
