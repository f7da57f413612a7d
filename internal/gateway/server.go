// Package gateway terminates player WebSocket connections and drives one
// conversation pipeline per connection.
//
// A connection is a small state machine: Connected until a valid init frame
// arrives, Initialized while the pipeline is live, Ended after an explicit
// end frame, a forced exit, or transport loss. Protocol violations are
// reported as error frames without closing the connection; only teardown and
// transport failures terminate it.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hollowmere/parley/internal/conversation"
	"github.com/hollowmere/parley/internal/convo"
	"github.com/hollowmere/parley/internal/cooldown"
	"github.com/hollowmere/parley/internal/knowledge"
	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/internal/observe"
	"github.com/hollowmere/parley/internal/security"
	"github.com/hollowmere/parley/internal/tools"
	"github.com/hollowmere/parley/pkg/provider/llm"
	"github.com/hollowmere/parley/pkg/provider/stt"
	"github.com/hollowmere/parley/pkg/provider/tts"
)

// maxInboundFrame bounds a single client frame. Audio arrives base64-encoded
// inside JSON, so the limit is well above the raw chunk size.
const maxInboundFrame = 2 << 20

// Config tunes the per-connection pipelines the server creates.
type Config struct {
	// STTConfig describes the inbound audio format for voice-input
	// connections.
	STTConfig stt.SessionConfig

	// DebounceWindow, DedupWindow, and InitTimeout override the convo
	// defaults when positive.
	DebounceWindow time.Duration
	DedupWindow    time.Duration
	InitTimeout    time.Duration

	// Temperature and MaxTokens are forwarded to every LLM request.
	Temperature float64
	MaxTokens   int

	// KnowledgeLimit caps resolved facts per turn.
	KnowledgeLimit int

	// OriginPatterns is passed to the WebSocket accept handshake. Empty
	// means same-origin only.
	OriginPatterns []string
}

// Deps are the shared collaborators behind all connections. NPCs,
// Conversations, LLM, and Cooldowns are required; STT and TTS are required
// only for the modes that use them.
type Deps struct {
	NPCs          npc.Store
	Conversations conversation.Store
	STT           stt.Provider
	TTS           tts.Provider
	LLM           llm.Provider
	Sanitizer     security.Sanitizer
	Moderator     security.Moderator
	RateLimiter   security.RateLimiter
	Tools         *tools.Registry
	Knowledge     knowledge.Resolver
	Cooldowns     *cooldown.Registry
	Metrics       *observe.Metrics
	Logger        *slog.Logger
}

// Server owns the connection endpoint. One Server serves many concurrent
// connections; all per-conversation state lives on the connection.
type Server struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// NewServer validates the dependency set and returns a server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.NPCs == nil || deps.Conversations == nil || deps.LLM == nil || deps.Cooldowns == nil {
		return nil, fmt.Errorf("gateway: NPCs, Conversations, LLM, and Cooldowns deps are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, log: log}, nil
}

// Handler returns the HTTP handler serving the conversation endpoint:
//
//	GET /v1/converse/{conversationID} — WebSocket upgrade
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/converse/{conversationID}", s.handleConverse)
	return mux
}

// handleConverse gates the connect on a live conversation record and the
// cooldown registry, then upgrades and runs the connection until it ends.
func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")

	rec, err := s.deps.Conversations.Get(r.Context(), conversationID)
	if err != nil {
		s.log.Error("conversation lookup failed", "conversation_id", conversationID, "err", err)
		http.Error(w, "conversation lookup failed", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "unknown conversation", http.StatusNotFound)
		return
	}

	def, err := s.deps.NPCs.Get(r.Context(), rec.NPCID)
	if err != nil {
		s.log.Error("npc lookup failed", "npc_id", rec.NPCID, "err", err)
		http.Error(w, "npc lookup failed", http.StatusInternalServerError)
		return
	}
	if def == nil {
		http.Error(w, "unknown npc", http.StatusNotFound)
		return
	}

	key := cooldown.Key{ProjectID: rec.ProjectID, PlayerID: rec.PlayerID, NPCID: rec.NPCID}
	if ok, remaining := s.deps.Cooldowns.CanStart(key); !ok {
		s.deps.Metrics.RecordCooldownRejection(r.Context())
		w.Header().Set("Retry-After", strconv.Itoa(remaining))
		http.Error(w, fmt.Sprintf("conversation on cooldown for %ds", remaining), http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "conversation_id", conversationID, "err", err)
		return
	}
	conn.SetReadLimit(maxInboundFrame)

	connID := uuid.NewString()
	c := &connection{
		id:   connID,
		srv:  s,
		conn: conn,
		rec:  rec,
		def:  def,
		log: s.log.With(
			"connection_id", connID,
			"conversation_id", rec.ID,
			"npc_id", rec.NPCID,
		),
	}
	c.run(r.Context())
}

// newPipeline builds a conversation pipeline for one connection.
func (s *Server) newPipeline(mode convo.Mode, rec *conversation.Record, def *npc.Definition) (*convo.Pipeline, error) {
	cfg := convo.Config{
		ProjectID:      rec.ProjectID,
		PlayerID:       rec.PlayerID,
		Mode:           mode,
		STTConfig:      s.cfg.STTConfig,
		DebounceWindow: s.cfg.DebounceWindow,
		DedupWindow:    s.cfg.DedupWindow,
		InitTimeout:    s.cfg.InitTimeout,
		Temperature:    s.cfg.Temperature,
		MaxTokens:      s.cfg.MaxTokens,
		KnowledgeLimit: s.cfg.KnowledgeLimit,
	}
	deps := convo.Deps{
		NPC:           def,
		Record:        rec,
		Conversations: s.deps.Conversations,
		STT:           s.deps.STT,
		TTS:           s.deps.TTS,
		LLM:           s.deps.LLM,
		Sanitizer:     s.deps.Sanitizer,
		Moderator:     s.deps.Moderator,
		RateLimiter:   s.deps.RateLimiter,
		Tools:         s.deps.Tools,
		Knowledge:     s.deps.Knowledge,
		Cooldowns:     s.deps.Cooldowns,
		Metrics:       s.deps.Metrics,
		Logger:        s.deps.Logger,
	}
	return convo.New(cfg, deps)
}
