package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hollowmere/parley/internal/config"
	"github.com/hollowmere/parley/pkg/provider/stt"
	sttmock "github.com/hollowmere/parley/pkg/provider/stt/mock"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
  tts:
    name: elevenlabs
    api_key: el-test
conversation:
  debounce_window_ms: 1500
  dedup_window_ms: 1000
  init_timeout_s: 10
  temperature: 0.8
  max_tokens: 512
  sample_rate: 16000
  channels: 1
security:
  rate_per_minute: 30
  burst: 5
  blocklist:
    - forbidden topic
storage:
  postgres_dsn: postgres://localhost/parley
npcs:
  - id: warden
    name: Ser Aldric
    persona: A weary gate warden.
    voice:
      provider: elevenlabs
      voice_id: v-123
      speed_factor: 1.1
tools:
  servers:
    - name: lore
      transport: stdio
      command: lore-server --stdio
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Name != "openai" || cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("llm provider = %+v", cfg.Providers.LLM)
	}
	if got := cfg.Conversation.DebounceWindow(); got != 1500*time.Millisecond {
		t.Errorf("debounce window = %v", got)
	}
	if got := cfg.Conversation.InitTimeout(); got != 10*time.Second {
		t.Errorf("init timeout = %v", got)
	}
	if len(cfg.NPCs) != 1 || cfg.NPCs[0].ID != "warden" || cfg.NPCs[0].Voice.SpeedFactor != 1.1 {
		t.Errorf("npcs = %+v", cfg.NPCs)
	}
	if len(cfg.Tools.Servers) != 1 || cfg.Tools.Servers[0].Command != "lore-server --stdio" {
		t.Errorf("tool servers = %+v", cfg.Tools.Servers)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adress: ":8080"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_DuplicateNPCIDs(t *testing.T) {
	t.Parallel()
	yaml := `
npcs:
  - id: warden
    name: Ser Aldric
  - id: warden
    name: Ser Aldric the Second
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate NPC ids, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  temperature: 5
  channels: 7
npcs:
  - id: warden
    name: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation error, got nil")
	}
	for _, want := range []string{"temperature", "channels", "name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_ToolServerTransport(t *testing.T) {
	t.Parallel()
	yaml := `
tools:
  servers:
    - name: lore
      transport: carrier-pigeon
    - name: archive
      transport: stdio
    - name: wiki
      transport: streamable-http
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tool server config, got nil")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("error should mention transport, got: %v", err)
	}
	if !strings.Contains(err.Error(), "command") {
		t.Errorf("error should mention the missing stdio command, got: %v", err)
	}
	if !strings.Contains(err.Error(), "url") {
		t.Errorf("error should mention the missing url, got: %v", err)
	}
}

func TestDefaultRegistry_UnknownProvider(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "abacus"}); err == nil {
		t.Fatal("expected error for unregistered provider, got nil")
	}
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	mockProv := &sttmock.Provider{}
	var gotEntry config.ProviderEntry
	r.RegisterSTT("custom", func(entry config.ProviderEntry) (stt.Provider, error) {
		gotEntry = entry
		return mockProv, nil
	})

	prov, err := r.CreateSTT(config.ProviderEntry{Name: "custom", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if prov != stt.Provider(mockProv) {
		t.Error("CreateSTT did not return the factory's provider")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory entry = %+v", gotEntry)
	}
}
