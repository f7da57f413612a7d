package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/hollowmere/parley/internal/app"
	"github.com/hollowmere/parley/internal/config"
	"github.com/hollowmere/parley/internal/conversation"
	"github.com/hollowmere/parley/internal/npc"
	llmmock "github.com/hollowmere/parley/pkg/provider/llm/mock"
	sttmock "github.com/hollowmere/parley/pkg/provider/stt/mock"
	ttsmock "github.com/hollowmere/parley/pkg/provider/tts/mock"
)

// testConfig returns a minimal config with one NPC and no Postgres.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Conversation: config.ConversationConfig{
			DebounceWindowMs: 50,
			SampleRate:       16000,
			Channels:         1,
		},
		NPCs: []npc.Definition{
			{
				ID:        "warden",
				ProjectID: "proj-1",
				Name:      "Ser Aldric",
				Persona:   "A weary gate warden.",
			},
		},
	}
}

// testProviders returns a full mock provider set.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	npcs := npc.NewMemStore()
	convs := conversation.NewMemStore()

	application, err := app.New(
		context.Background(),
		testConfig(),
		testProviders(),
		app.WithNPCStore(npcs),
		app.WithConversationStore(convs),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	})

	// NPCs from config must be seeded into the store during New().
	def, err := npcs.Get(context.Background(), "warden")
	if err != nil {
		t.Fatalf("Get(warden) after New(): %v", err)
	}
	if def.Name != "Ser Aldric" {
		t.Errorf("seeded NPC name = %q, want %q", def.Name, "Ser Aldric")
	}
}

func TestNew_RequiresLLM(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("New() with no LLM provider should fail")
	}
	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("New() with nil providers should fail")
	}
}

func TestNew_NoNPCs(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NPCs = nil

	application, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(runCtx) }()

	// Give the listener a moment to come up, then signal shutdown.
	time.Sleep(50 * time.Millisecond)
	cancelRun()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancel")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
