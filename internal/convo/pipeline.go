package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowmere/parley/internal/conversation"
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

// StreamKind selects voice or text for one direction of a conversation.
type StreamKind string

const (
	StreamVoice StreamKind = "voice"
	StreamText  StreamKind = "text"
)

// Mode is the immutable input/output pairing chosen at connection init. It
// gates whether STT and TTS sessions are opened.
type Mode struct {
	Input  StreamKind `json:"input"`
	Output StreamKind `json:"output"`
}

// Validate checks both directions carry a known stream kind.
func (m Mode) Validate() error {
	var errs []error
	if m.Input != StreamVoice && m.Input != StreamText {
		errs = append(errs, fmt.Errorf("convo: unknown input mode %q", m.Input))
	}
	if m.Output != StreamVoice && m.Output != StreamText {
		errs = append(errs, fmt.Errorf("convo: unknown output mode %q", m.Output))
	}
	return errors.Join(errs...)
}

// DefaultInitTimeout bounds provider session establishment during
// [Pipeline.Initialize].
const DefaultInitTimeout = 10 * time.Second

// ExitCooldownSeconds is the cooldown applied when a conversation is ended
// by the exit tool under a moderation-forced exit.
const ExitCooldownSeconds = 300

// Config holds the per-connection pipeline settings.
type Config struct {
	// ProjectID and PlayerID identify the caller; together with the NPC ID
	// they form the cooldown key.
	ProjectID string
	PlayerID  string

	// Mode gates session creation and audio dispatch.
	Mode Mode

	// STTConfig describes the inbound audio format. Used only when
	// Mode.Input is voice.
	STTConfig stt.SessionConfig

	// DebounceWindow overrides [DefaultDebounceWindow] when positive.
	DebounceWindow time.Duration

	// DedupWindow overrides [DefaultDedupWindow] when positive.
	DedupWindow time.Duration

	// InitTimeout overrides [DefaultInitTimeout] when positive.
	InitTimeout time.Duration

	// Temperature and MaxTokens are passed through to the LLM request.
	Temperature float64
	MaxTokens   int

	// KnowledgeLimit caps resolved facts per turn. Zero means the resolver
	// default.
	KnowledgeLimit int
}

// Deps are the collaborators a pipeline orchestrates. NPC, Record, LLM,
// Sanitizer, Moderator, RateLimiter, and Cooldowns are required; the rest may
// be nil when the mode or deployment does not need them.
type Deps struct {
	NPC           *npc.Definition
	Record        *conversation.Record
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

// Pipeline is the per-connection conversation orchestrator. See the package
// documentation for the ownership model.
//
// Lifecycle: [New] → [Pipeline.Initialize] → active → [Pipeline.End]. A
// pipeline never outlives its owning connection. All exported methods are
// safe for concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	agg      *Aggregator
	dd       *dedup
	splitter *SentenceSplitter

	events chan Event
	done   chan struct{}

	mu          sync.Mutex
	initialized bool
	active      bool
	ended       bool
	processing  bool
	pending     string
	hasPending  bool
	turnCancel  context.CancelFunc
	sttSess     stt.Session
	ttsSess     tts.Session
	ttsCutoff   uint64        // audio events below this generation are discarded
	ttsWake     chan struct{} // closed and replaced when the cutoff advances

	wg sync.WaitGroup
}

// New creates a pipeline. The mode must be valid; provider sessions are not
// opened until [Pipeline.Initialize].
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}
	if deps.NPC == nil || deps.Record == nil || deps.LLM == nil {
		return nil, fmt.Errorf("convo: NPC, Record, and LLM deps are required")
	}
	if cfg.Mode.Input == StreamVoice && deps.STT == nil {
		return nil, fmt.Errorf("convo: voice input mode requires an STT provider")
	}
	if cfg.Mode.Output == StreamVoice && deps.TTS == nil {
		return nil, fmt.Errorf("convo: voice output mode requires a TTS provider")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("conversation_id", deps.Record.ID, "npc_id", deps.NPC.ID)

	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		dd:       newDedup(cfg.DedupWindow),
		splitter: &SentenceSplitter{},
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		ttsWake:  make(chan struct{}),
		active:   true,
	}
	p.agg = NewAggregator(cfg.DebounceWindow, p.onUtterance)
	return p, nil
}

// Events returns the pipeline's outbound event stream. The channel is closed
// by [Pipeline.End].
func (p *Pipeline) Events() <-chan Event { return p.events }

// Initialize opens the provider sessions the mode requires and starts the
// event dispatcher. Session establishment is bounded by the init timeout; on
// failure no session is left open and the pipeline stays uninitialized.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.ended || !p.active {
		p.mu.Unlock()
		return fmt.Errorf("convo: initialize: pipeline already ended")
	}
	if p.initialized {
		p.mu.Unlock()
		return fmt.Errorf("convo: initialize: already initialized")
	}
	p.mu.Unlock()

	timeout := p.cfg.InitTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sttSess stt.Session
	var ttsSess tts.Session
	var err error

	if p.cfg.Mode.Input == StreamVoice {
		sttSess, err = p.deps.STT.StartSession(ictx, p.cfg.STTConfig)
		if err != nil {
			return fmt.Errorf("convo: initialize: open STT session: %w", err)
		}
	}
	if p.cfg.Mode.Output == StreamVoice {
		ttsSess, err = p.deps.TTS.StartSession(ictx, p.deps.NPC.VoiceProfile())
		if err != nil {
			if sttSess != nil {
				_ = sttSess.Close()
			}
			return fmt.Errorf("convo: initialize: open TTS session: %w", err)
		}
	}

	p.mu.Lock()
	p.sttSess = sttSess
	p.ttsSess = ttsSess
	p.initialized = true
	p.mu.Unlock()

	if sttSess != nil || ttsSess != nil {
		var sttCh <-chan stt.Event
		var ttsCh <-chan tts.Event
		if sttSess != nil {
			sttCh = sttSess.Events()
		}
		if ttsSess != nil {
			ttsCh = ttsSess.Events()
		}
		p.wg.Add(1)
		go p.dispatch(sttCh, ttsCh)
	}

	p.deps.Metrics.PipelineStarted(ctx)
	p.log.Info("pipeline initialized",
		"input", p.cfg.Mode.Input, "output", p.cfg.Mode.Output)
	return nil
}

// dispatch is the single consumer of provider events for this pipeline.
// Nil channels block forever in select, so a missing modality needs no
// special casing.
func (p *Pipeline) dispatch(sttCh <-chan stt.Event, ttsCh <-chan tts.Event) {
	defer p.wg.Done()
	for sttCh != nil || ttsCh != nil {
		select {
		case <-p.done:
			return
		case ev, ok := <-sttCh:
			if !ok {
				sttCh = nil
				continue
			}
			p.handleSTTEvent(ev)
		case ev, ok := <-ttsCh:
			if !ok {
				ttsCh = nil
				continue
			}
			p.handleTTSEvent(ev)
		}
	}
}

func (p *Pipeline) handleSTTEvent(ev stt.Event) {
	switch ev.Type {
	case stt.EventTranscript:
		if ev.Transcript.IsFinal {
			p.agg.Append(ev.Transcript.Text)
		} else {
			p.agg.NoteInterim(ev.Transcript.Text)
			p.emit(Event{Type: EventTranscript, Text: ev.Transcript.Text, IsFinal: false})
		}
	case stt.EventError:
		p.log.Warn("stt error", "err", ev.Err)
		p.deps.Metrics.RecordProviderError(context.Background(), "stt")
		p.emit(Event{Type: EventError, Code: CodeSTTError, Err: ev.Err})
	}
}

func (p *Pipeline) handleTTSEvent(ev tts.Event) {
	switch ev.Type {
	case tts.EventAudioChunk:
		p.emitAudio(ev)
	case tts.EventError:
		p.log.Warn("tts error", "err", ev.Err)
		p.deps.Metrics.RecordProviderError(context.Background(), "tts")
		p.emit(Event{Type: EventError, Code: CodeTTSError, Err: ev.Err})
	}
}

// onUtterance is the aggregator's flush sink: it dedups the utterance and
// either starts a turn or parks the utterance in the single pending slot.
// Older pending utterances are overwritten; the newest always wins.
func (p *Pipeline) onUtterance(text string) {
	p.mu.Lock()
	if !p.active || !p.initialized {
		p.mu.Unlock()
		return
	}
	if !p.dd.shouldProcess(text) {
		p.mu.Unlock()
		p.deps.Metrics.RecordDedupDrop(context.Background())
		p.log.Debug("duplicate utterance dropped", "text", text)
		return
	}
	if p.processing {
		p.pending = text
		p.hasPending = true
		p.mu.Unlock()
		return
	}
	p.processing = true
	p.mu.Unlock()

	p.emit(Event{Type: EventTranscript, Text: text, IsFinal: true})
	p.wg.Add(1)
	go p.runTurns(text)
}

// runTurns processes the given utterance, then any pending utterance parked
// while the turn was in flight, releasing the processing lock only when the
// pending slot is empty.
func (p *Pipeline) runTurns(text string) {
	defer p.wg.Done()
	for {
		p.runTurn(text)

		p.mu.Lock()
		if p.hasPending && p.active {
			text = p.pending
			p.hasPending = false
			p.mu.Unlock()
			p.emit(Event{Type: EventTranscript, Text: text, IsFinal: true})
			continue
		}
		p.processing = false
		p.hasPending = false
		p.mu.Unlock()
		return
	}
}

// runTurn executes one full turn with its own cancellation token.
func (p *Pipeline) runTurn(utterance string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.turnCancel = cancel
	p.mu.Unlock()

	t := &turn{p: p, utterance: utterance}
	t.run(ctx)

	p.mu.Lock()
	p.turnCancel = nil
	p.mu.Unlock()
}

// PushAudio forwards a decoded PCM chunk to the STT session. Chunks are
// forwarded in call order.
func (p *Pipeline) PushAudio(chunk []byte) error {
	p.mu.Lock()
	sess := p.sttSess
	ok := p.active && p.initialized
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("convo: push audio: pipeline not active")
	}
	if p.cfg.Mode.Input != StreamVoice {
		return fmt.Errorf("convo: push audio: input mode is not voice")
	}
	if sess == nil {
		return fmt.Errorf("convo: push audio: no STT session")
	}
	if err := sess.SendAudio(chunk); err != nil {
		return fmt.Errorf("convo: push audio: %w", err)
	}
	return nil
}

// PushText submits typed player text as a synthetic final transcript. It
// flows through the same aggregation, dedup, and locking path as speech, but
// flushes immediately instead of waiting out the debounce window.
func (p *Pipeline) PushText(content string) error {
	p.mu.Lock()
	ok := p.active && p.initialized
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("convo: push text: pipeline not active")
	}
	p.agg.Append(content)
	p.agg.FlushNow()
	return nil
}

// Commit signals end-of-user-turn: the STT session is asked for an immediate
// final transcript and the aggregator flushes without waiting out the
// debounce window.
func (p *Pipeline) Commit() error {
	p.mu.Lock()
	sess := p.sttSess
	ok := p.active && p.initialized
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("convo: commit: pipeline not active")
	}
	if sess != nil {
		if err := sess.Finalize(); err != nil {
			p.log.Warn("stt finalize failed", "err", err)
		}
	}
	p.agg.Commit()
	return nil
}

// Interrupt cancels any in-flight turn, aborts in-flight TTS synthesis, and
// clears the sentence splitter and aggregator buffers. Synthesised audio still
// queued when Interrupt returns is discarded rather than delivered. Idempotent
// and safe to call when no turn is active.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	cancel := p.turnCancel
	ttsSess := p.ttsSess
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ttsSess != nil {
		if err := ttsSess.Abort(); err != nil {
			p.log.Warn("tts abort failed", "err", err)
		}
		// Abort advanced the session's event generation; raising the cutoff
		// to match makes emitAudio discard audio the session had already
		// queued before the abort, including a chunk the dispatcher may be
		// blocked on right now.
		p.mu.Lock()
		p.ttsCutoff++
		close(p.ttsWake)
		p.ttsWake = make(chan struct{})
		p.mu.Unlock()
	}
	p.splitter.Clear()
	p.agg.Clear()
}

// deactivate stops the pipeline accepting input and starting turns without
// releasing sessions. Used by the exit tool; the protocol layer follows up
// with End.
func (p *Pipeline) deactivate() {
	p.mu.Lock()
	p.active = false
	p.hasPending = false
	p.pending = ""
	p.mu.Unlock()
	p.agg.Clear()
}

// End deactivates the pipeline, cancels any in-flight turn, clears all
// timers, releases provider sessions, and closes the event stream. Calling
// End more than once is a no-op returning nil.
func (p *Pipeline) End() error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	p.ended = true
	p.active = false
	wasInitialized := p.initialized
	cancel := p.turnCancel
	sttSess := p.sttSess
	ttsSess := p.ttsSess
	p.sttSess = nil
	p.ttsSess = nil
	p.mu.Unlock()

	close(p.done)
	if cancel != nil {
		cancel()
	}
	p.agg.Clear()

	var errs []error
	if sttSess != nil {
		if err := sttSess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("convo: end: close STT session: %w", err))
		}
	}
	if ttsSess != nil {
		if err := ttsSess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("convo: end: close TTS session: %w", err))
		}
	}

	p.wg.Wait()
	close(p.events)

	if wasInitialized {
		p.deps.Metrics.PipelineEnded(context.Background())
	}
	p.log.Info("pipeline ended")
	return errors.Join(errs...)
}

// emit delivers an event to the protocol layer. It never blocks past
// pipeline teardown: once End has started, events are dropped.
func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// emitAudio delivers a synthesised audio chunk unless its generation predates
// the current cutoff. An Interrupt that lands while delivery is blocked closes
// ttsWake, so the cutoff is re-checked and a now-stale chunk is dropped
// instead of reaching the client.
func (p *Pipeline) emitAudio(ev tts.Event) {
	for {
		p.mu.Lock()
		cutoff := p.ttsCutoff
		wake := p.ttsWake
		p.mu.Unlock()

		if ev.Gen < cutoff {
			return
		}
		select {
		case p.events <- Event{Type: EventAudioChunk, Audio: ev.Audio}:
			return
		case <-wake:
		case <-p.done:
			return
		}
	}
}
