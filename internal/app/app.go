// Package app assembles the Parley server from configuration: storage,
// providers, the tool registry, the conversation gateway, and the HTTP
// surface with health and metrics endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hollowmere/parley/internal/config"
	"github.com/hollowmere/parley/internal/conversation"
	"github.com/hollowmere/parley/internal/cooldown"
	"github.com/hollowmere/parley/internal/gateway"
	"github.com/hollowmere/parley/internal/health"
	"github.com/hollowmere/parley/internal/knowledge"
	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/internal/observe"
	"github.com/hollowmere/parley/internal/security"
	"github.com/hollowmere/parley/internal/tools"
	"github.com/hollowmere/parley/pkg/provider/llm"
	"github.com/hollowmere/parley/pkg/provider/stt"
	"github.com/hollowmere/parley/pkg/provider/tts"
)

// Providers bundles the instantiated provider implementations. STT, TTS, and
// Embedder may be nil when the corresponding modality or feature is not
// configured; LLM is required.
type Providers struct {
	LLM      llm.Provider
	STT      stt.Provider
	TTS      tts.Provider
	Embedder knowledge.Embedder
}

// Option overrides a default collaborator during [New].
type Option func(*App)

// WithNPCStore substitutes the NPC store, bypassing the storage
// configuration. Used by tests and embedders.
func WithNPCStore(s npc.Store) Option {
	return func(a *App) { a.npcs = s }
}

// WithConversationStore substitutes the conversation store.
func WithConversationStore(s conversation.Store) Option {
	return func(a *App) { a.convs = s }
}

// WithLogger substitutes the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// App is the fully wired server. Construct with [New], drive with [App.Run],
// and release with [App.Shutdown].
type App struct {
	cfg *config.Config
	log *slog.Logger

	pool      *pgxpool.Pool
	npcs      npc.Store
	convs     conversation.Store
	cooldowns *cooldown.Registry
	toolReg   *tools.Registry

	httpServer *http.Server
}

// New wires the application. It connects storage, migrates schemas, seeds
// configured NPCs, connects external tool servers, and builds the HTTP
// surface. The returned App owns every resource it opened; Shutdown releases
// them.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		log:       slog.Default(),
		cooldowns: cooldown.New(),
		toolReg:   tools.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initStorage(ctx); err != nil {
		a.release()
		return nil, err
	}
	if err := a.seedNPCs(ctx); err != nil {
		a.release()
		return nil, err
	}
	a.connectToolServers(ctx)

	resolver := a.buildKnowledgeResolver(ctx, providers.Embedder)
	gw, err := a.buildGateway(providers, resolver)
	if err != nil {
		a.release()
		return nil, err
	}
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildMux(gw, providers),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStorage connects Postgres when a DSN is configured and falls back to
// in-memory stores otherwise. Stores injected via options win.
func (a *App) initStorage(ctx context.Context) error {
	if a.npcs != nil && a.convs != nil {
		return nil
	}
	if a.cfg.Storage.PostgresDSN == "" {
		a.log.Info("no postgres_dsn configured; using in-memory stores")
		if a.npcs == nil {
			a.npcs = npc.NewMemStore()
		}
		if a.convs == nil {
			a.convs = conversation.NewMemStore()
		}
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	a.pool = pool

	if a.npcs == nil {
		npcs := npc.NewPostgresStore(pool)
		if err := npcs.Migrate(ctx); err != nil {
			return fmt.Errorf("app: migrate npc schema: %w", err)
		}
		a.npcs = npcs
	}
	if a.convs == nil {
		convs := conversation.NewPostgresStore(pool)
		if err := convs.Migrate(ctx); err != nil {
			return fmt.Errorf("app: migrate conversation schema: %w", err)
		}
		a.convs = convs
	}
	a.log.Info("postgres storage connected")
	return nil
}

// seedNPCs upserts every NPC declared in the configuration file so config
// edits take effect on restart without manual store updates.
func (a *App) seedNPCs(ctx context.Context) error {
	for i := range a.cfg.NPCs {
		def := a.cfg.NPCs[i]
		if err := a.npcs.Upsert(ctx, &def); err != nil {
			return fmt.Errorf("app: seed npc %q: %w", def.ID, err)
		}
	}
	if len(a.cfg.NPCs) > 0 {
		a.log.Info("npcs seeded from config", "count", len(a.cfg.NPCs))
	}
	return nil
}

// connectToolServers attaches configured MCP servers. A server that fails to
// connect is logged and skipped so one broken tool backend does not prevent
// startup.
func (a *App) connectToolServers(ctx context.Context) {
	for _, srv := range a.cfg.Tools.Servers {
		if err := a.toolReg.RegisterServer(ctx, srv); err != nil {
			a.log.Error("tool server connection failed", "server", srv.Name, "err", err)
			continue
		}
		a.log.Info("tool server connected", "server", srv.Name, "transport", srv.Transport)
	}
}

// buildKnowledgeResolver prefers pgvector-backed semantic lookup when both an
// embedder and Postgres are available.
func (a *App) buildKnowledgeResolver(ctx context.Context, embedder knowledge.Embedder) knowledge.Resolver {
	if embedder != nil && a.pool != nil {
		sem := knowledge.NewSemanticResolver(a.pool, embedder)
		if err := sem.Migrate(ctx); err != nil {
			a.log.Error("knowledge schema migration failed; falling back to static lookup", "err", err)
		} else {
			a.log.Info("semantic knowledge resolver enabled")
			return sem
		}
	}
	return knowledge.NewStaticResolver(nil)
}

func (a *App) buildGateway(providers *Providers, resolver knowledge.Resolver) (*gateway.Server, error) {
	var limiter security.RateLimiter
	if a.cfg.Security.RatePerMinute > 0 {
		burst := a.cfg.Security.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = security.NewTokenBucketLimiter(a.cfg.Security.RatePerMinute/60, burst)
	}

	conv := a.cfg.Conversation
	return gateway.NewServer(gateway.Config{
		STTConfig: stt.SessionConfig{
			SampleRate: conv.SampleRate,
			Channels:   conv.Channels,
		},
		DebounceWindow: conv.DebounceWindow(),
		DedupWindow:    conv.DedupWindow(),
		InitTimeout:    conv.InitTimeout(),
		Temperature:    conv.Temperature,
		MaxTokens:      conv.MaxTokens,
		KnowledgeLimit: conv.KnowledgeLimit,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	}, gateway.Deps{
		NPCs:          a.npcs,
		Conversations: a.convs,
		STT:           providers.STT,
		TTS:           providers.TTS,
		LLM:           providers.LLM,
		Sanitizer:     security.TextSanitizer{},
		Moderator:     &security.KeywordModerator{Blocklist: a.cfg.Security.Blocklist},
		RateLimiter:   limiter,
		Tools:         a.toolReg,
		Knowledge:     resolver,
		Cooldowns:     a.cooldowns,
		Metrics:       observe.DefaultMetrics(),
		Logger:        a.log,
	})
}

func (a *App) buildMux(gw *gateway.Server, providers *Providers) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/", gw.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New()
	if a.pool != nil {
		h.AddProbe("database", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	h.Register(mux)
	return mux
}

// Run starts the cooldown sweeper and serves HTTP until ctx is cancelled or
// the listener fails.
func (a *App) Run(ctx context.Context) error {
	a.cooldowns.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblock the listener goroutine; Shutdown is called again by main
		// with a proper drain deadline.
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(closeCtx)
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server and releases every resource the app owns.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
	}
	errs = append(errs, a.release())
	return errors.Join(errs...)
}

// release closes everything except the HTTP server. Safe on a partially
// constructed app.
func (a *App) release() error {
	var errs []error
	a.cooldowns.Stop()
	if a.toolReg != nil {
		if err := a.toolReg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close tool registry: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
