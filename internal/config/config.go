// Package config provides the configuration schema, loader, and provider
// registry for the Parley conversation server.
package config

import (
	"time"

	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/internal/tools"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file with [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Security     SecurityConfig     `yaml:"security"`
	Storage      StorageConfig      `yaml:"storage"`
	NPCs         []npc.Definition   `yaml:"npcs"`
	Tools        ToolsConfig        `yaml:"tools"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists WebSocket origin patterns accepted on connect.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field looks up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// ConversationConfig tunes the per-connection pipeline.
type ConversationConfig struct {
	// DebounceWindowMs is the pause after the last transcript fragment
	// before a turn starts. Zero selects the built-in default (1500).
	DebounceWindowMs int `yaml:"debounce_window_ms"`

	// DedupWindowMs is how long an identical utterance is discarded after
	// one was processed. Zero selects the built-in default (1000).
	DedupWindowMs int `yaml:"dedup_window_ms"`

	// InitTimeoutSeconds bounds provider session establishment.
	InitTimeoutSeconds int `yaml:"init_timeout_s"`

	// Temperature and MaxTokens are forwarded to every LLM request.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// KnowledgeLimit caps resolved knowledge facts per turn.
	KnowledgeLimit int `yaml:"knowledge_limit"`

	// SampleRate and Channels describe the inbound player audio.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// DebounceWindow returns the configured debounce window as a duration.
func (c ConversationConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMs) * time.Millisecond
}

// DedupWindow returns the configured dedup window as a duration.
func (c ConversationConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// InitTimeout returns the configured init timeout as a duration.
func (c ConversationConfig) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

// SecurityConfig tunes per-turn screening.
type SecurityConfig struct {
	// RatePerMinute and Burst parameterise the per-player token bucket.
	// Zero RatePerMinute disables rate limiting.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         float64 `yaml:"burst"`

	// Blocklist holds lowercase phrases that force a moderated exit.
	Blocklist []string `yaml:"blocklist"`
}

// StorageConfig selects the persistence backend. An empty DSN keeps all
// state in memory.
type StorageConfig struct {
	// PostgresDSN is the connection string for the Postgres pool.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ToolsConfig lists external MCP servers to connect at startup.
type ToolsConfig struct {
	Servers []tools.ServerConfig `yaml:"servers"`
}
