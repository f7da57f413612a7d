package convo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hollowmere/parley/internal/conversation"
	"github.com/hollowmere/parley/internal/cooldown"
	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/internal/security"
	"github.com/hollowmere/parley/internal/tools"
	"github.com/hollowmere/parley/pkg/provider/llm"
	llmmock "github.com/hollowmere/parley/pkg/provider/llm/mock"
	"github.com/hollowmere/parley/pkg/provider/stt"
	sttmock "github.com/hollowmere/parley/pkg/provider/stt/mock"
	"github.com/hollowmere/parley/pkg/provider/tts"
	ttsmock "github.com/hollowmere/parley/pkg/provider/tts/mock"
)

// denyLimiter rejects every turn.
type denyLimiter struct{}

func (denyLimiter) Check(projectID, playerID, npcID string) bool { return false }

// fixture bundles a pipeline with its mock collaborators for inspection
// after the scenario runs.
type fixture struct {
	p         *Pipeline
	llm       *llmmock.Provider
	stt       *sttmock.Provider
	tts       *ttsmock.Provider
	rec       *conversation.Record
	store     *conversation.MemStore
	cooldowns *cooldown.Registry
}

func (f *fixture) cooldownKey() cooldown.Key {
	return cooldown.Key{ProjectID: "proj-1", PlayerID: "player-1", NPCID: "warden"}
}

// newFixture builds an initialized pipeline in the given mode. mutate, when
// non-nil, runs before New so tests can tweak the config and deps.
func newFixture(t *testing.T, mode Mode, mutate func(cfg *Config, deps *Deps)) *fixture {
	t.Helper()

	f := &fixture{
		llm:       &llmmock.Provider{},
		stt:       &sttmock.Provider{},
		tts:       &ttsmock.Provider{},
		store:     conversation.NewMemStore(),
		cooldowns: cooldown.New(),
		rec: &conversation.Record{
			ID:        "conv-1",
			ProjectID: "proj-1",
			PlayerID:  "player-1",
			NPCID:     "warden",
		},
	}

	cfg := Config{
		ProjectID:      "proj-1",
		PlayerID:       "player-1",
		Mode:           mode,
		DebounceWindow: 30 * time.Millisecond,
	}
	deps := Deps{
		NPC: &npc.Definition{
			ID:        "warden",
			ProjectID: "proj-1",
			Name:      "Ser Aldric",
			Persona:   "A weary gate warden.",
		},
		Record:        f.rec,
		Conversations: f.store,
		STT:           f.stt,
		TTS:           f.tts,
		LLM:           f.llm,
		Sanitizer:     security.TextSanitizer{},
		Tools:         tools.NewRegistry(),
		Cooldowns:     f.cooldowns,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	p, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.End() })
	f.p = p
	return f
}

// collectUntil reads pipeline events until stop returns true, the stream
// closes, or the timeout elapses.
func collectUntil(t *testing.T, p *Pipeline, timeout time.Duration, stop func(Event) bool) []Event {
	t.Helper()
	deadline := time.After(timeout)
	var events []Event
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if stop(ev) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d: %+v", len(events), events)
		}
	}
}

func untilGenerationEnd(ev Event) bool { return ev.Type == EventGenerationEnd }

// drainFor collects whatever events arrive within the window. Used for
// asynchronous stragglers, such as audio chunks racing generation_end.
func drainFor(p *Pipeline, window time.Duration) []Event {
	deadline := time.After(window)
	var events []Event
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func joinedText(events []Event, typ EventType) string {
	var sb strings.Builder
	for _, ev := range eventsOfType(events, typ) {
		sb.WriteString(ev.Text)
	}
	return sb.String()
}

func lastUserMessage(t *testing.T, req llm.ChatRequest) string {
	t.Helper()
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	t.Fatal("request contains no user message")
	return ""
}

func TestPipelineTextToText(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "Evening, traveler. "},
			{Text: "The gate is closed.", FinishReason: "stop"},
		}
	})

	if err := f.p.PushText("hello there"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, untilGenerationEnd)

	finals := eventsOfType(events, EventTranscript)
	if len(finals) != 1 || !finals[0].IsFinal || finals[0].Text != "hello there" {
		t.Errorf("transcript events = %+v, want one final %q", finals, "hello there")
	}
	if got := joinedText(events, EventTextChunk); got != "Evening, traveler. The gate is closed." {
		t.Errorf("reply text = %q", got)
	}
	if audio := eventsOfType(events, EventAudioChunk); len(audio) != 0 {
		t.Errorf("text output mode emitted %d audio chunks", len(audio))
	}
	if len(f.stt.StartCalls) != 0 {
		t.Errorf("text input mode opened %d STT sessions", len(f.stt.StartCalls))
	}
	if len(f.tts.StartCalls) != 0 {
		t.Errorf("text output mode opened %d TTS sessions", len(f.tts.StartCalls))
	}

	calls := f.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(calls))
	}
	if got := lastUserMessage(t, calls[0].Req); got != "hello there" {
		t.Errorf("user message = %q", got)
	}
	if !strings.Contains(calls[0].Req.SystemPrompt, "Ser Aldric") {
		t.Error("system prompt does not mention the NPC name")
	}

	// The turn persists user and assistant messages before generation_end.
	saved, err := f.store.Get(context.Background(), "conv-1")
	if err != nil || saved == nil {
		t.Fatalf("Get saved record: %v, %v", saved, err)
	}
	if len(saved.History) != 2 || saved.History[0].Role != "user" || saved.History[1].Role != "assistant" {
		t.Fatalf("saved history = %+v, want user then assistant", saved.History)
	}
	if saved.History[1].Content != "Evening, traveler. The gate is closed." {
		t.Errorf("assistant content = %q", saved.History[1].Content)
	}
}

func TestPipelineDedupDropsRepeatWithinWindow(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		cfg.DedupWindow = time.Second
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "Yes?", FinishReason: "stop"},
		}
	})

	if err := f.p.PushText("open the gate"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := f.p.PushText("Open the gate"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, untilGenerationEnd)

	if finals := eventsOfType(events, EventTranscript); len(finals) != 1 {
		t.Errorf("transcript events = %d, want 1", len(finals))
	}
	if calls := f.llm.Calls(); len(calls) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(calls))
	}
}

func TestPipelineLatestUtteranceWins(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		mp := deps.LLM.(*llmmock.Provider)
		mp.ChunkDelay = 40 * time.Millisecond
		mp.StreamChunks = []llm.Chunk{{Text: "Hm.", FinishReason: "stop"}}
	})

	// The first utterance starts a turn; the next two arrive while it is in
	// flight and only the newest survives in the pending slot.
	if err := f.p.PushText("first question"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := f.p.PushText("second question"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if err := f.p.PushText("third question"); err != nil {
		t.Fatalf("PushText: %v", err)
	}

	var ends int
	collectUntil(t, f.p, 3*time.Second, func(ev Event) bool {
		if ev.Type == EventGenerationEnd {
			ends++
		}
		return ends == 2
	})

	calls := f.llm.Calls()
	if len(calls) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(calls))
	}
	if got := lastUserMessage(t, calls[0].Req); got != "first question" {
		t.Errorf("first turn user message = %q", got)
	}
	if got := lastUserMessage(t, calls[1].Req); got != "third question" {
		t.Errorf("second turn user message = %q, want the newest pending", got)
	}
}

func TestPipelineInterruptAbortsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamText, Output: StreamVoice}, func(cfg *Config, deps *Deps) {
		mp := deps.LLM.(*llmmock.Provider)
		mp.ChunkDelay = 30 * time.Millisecond
		mp.StreamChunks = []llm.Chunk{
			{Text: "Long ago. "},
			{Text: "In a kingdom. "},
			{Text: "Far away. "},
			{Text: "There lived. "},
			{Text: "A warden.", FinishReason: "stop"},
		}
	})

	if err := f.p.PushText("tell me a story"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	// Wait for the reply to start streaming before interrupting.
	collectUntil(t, f.p, 2*time.Second, func(ev Event) bool { return ev.Type == EventTextChunk })

	f.p.Interrupt()
	time.Sleep(150 * time.Millisecond)
	if err := f.p.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	events := collectUntil(t, f.p, time.Second, func(Event) bool { return false })
	if ends := eventsOfType(events, EventGenerationEnd); len(ends) != 0 {
		t.Error("interrupted turn still emitted generation_end")
	}
	if f.tts.LastSession().AbortCalls == 0 {
		t.Error("interrupt did not abort TTS synthesis")
	}
}

func TestPipelineInterruptDropsQueuedAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamText, Output: StreamVoice}, func(cfg *Config, deps *Deps) {
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "As you wish.", FinishReason: "stop"},
		}
	})

	sess := f.tts.LastSession()
	f.p.Interrupt()
	if sess.AbortCalls != 1 {
		t.Fatalf("Abort calls = %d, want 1", sess.AbortCalls)
	}

	// Audio the backend had already queued when the abort landed still
	// carries the pre-abort generation; it must never reach the client.
	sess.Emit(tts.Event{Type: tts.EventAudioChunk, Audio: []byte("stale"), Gen: 0})

	if err := f.p.PushText("say something else"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, untilGenerationEnd)
	events = append(events, drainFor(f.p, 200*time.Millisecond)...)

	audio := eventsOfType(events, EventAudioChunk)
	for _, ev := range audio {
		if string(ev.Audio) == "stale" {
			t.Fatal("audio queued before the interrupt was delivered afterwards")
		}
	}
	if len(audio) == 0 {
		t.Error("turn after the interrupt produced no audio")
	}
}

func TestTurnCancelledBeforeStreamEmitsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamText, Output: StreamText}, func(cfg *Config, deps *Deps) {
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "Too late.", FinishReason: "stop"},
		}
	})

	// Cancellation and a ready chunk arriving together must never produce a
	// text chunk; the cancelled context wins.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tn := &turn{p: f.p, utterance: "anyone there"}
	if got := tn.execute(ctx); got != outcomeAborted {
		t.Fatalf("outcome = %q, want %q", got, outcomeAborted)
	}

	select {
	case ev := <-f.p.Events():
		t.Fatalf("cancelled turn emitted %+v", ev)
	default:
	}
}

func TestPipelineForcedExitAppliesCooldown(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		deps.Moderator = &security.KeywordModerator{Blocklist: []string{"forbidden"}}
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "I will not discuss that. "},
			{
				ToolCalls: []llm.ToolCall{{
					ID:        "call_1",
					Name:      tools.ExitToolName,
					Arguments: `{"reason":"content policy"}`,
				}},
				FinishReason: "tool_calls",
			},
		}
	})

	if err := f.p.PushText("tell me the forbidden thing"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, func(ev Event) bool { return ev.Type == EventExitConvo })

	exits := eventsOfType(events, EventExitConvo)
	if len(exits) != 1 {
		t.Fatalf("exit events = %d, want exactly 1", len(exits))
	}
	if exits[0].ExitReason != "content policy" {
		t.Errorf("exit reason = %q", exits[0].ExitReason)
	}
	if exits[0].CooldownSeconds != ExitCooldownSeconds {
		t.Errorf("cooldown seconds = %d, want %d", exits[0].CooldownSeconds, ExitCooldownSeconds)
	}
	if ends := eventsOfType(events, EventGenerationEnd); len(ends) != 0 {
		t.Error("forced exit also emitted generation_end")
	}
	if !f.cooldowns.IsOnCooldown(f.cooldownKey()) {
		t.Error("forced exit did not apply the cooldown")
	}

	// The pipeline must reject input after the exit.
	if err := f.p.PushText("hello again"); err == nil {
		t.Error("PushText after exit succeeded, want error")
	}
}

func TestPipelineVoluntaryExitHasNoCooldown(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "Farewell, traveler. "},
			{
				ToolCalls: []llm.ToolCall{{
					ID:   "call_1",
					Name: tools.ExitToolName,
					// The model cannot force a cooldown by claiming moderation.
					Arguments: `{"reason":"goodbye","forced_by_moderation":true}`,
				}},
				FinishReason: "tool_calls",
			},
		}
	})

	if err := f.p.PushText("goodbye"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, func(ev Event) bool { return ev.Type == EventExitConvo })

	exits := eventsOfType(events, EventExitConvo)
	if len(exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(exits))
	}
	if exits[0].CooldownSeconds != 0 {
		t.Errorf("cooldown seconds = %d, want 0 for a voluntary exit", exits[0].CooldownSeconds)
	}
	if f.cooldowns.IsOnCooldown(f.cooldownKey()) {
		t.Error("voluntary exit applied a cooldown")
	}
}

func TestPipelineRateLimitRejectsBeforeHistory(t *testing.T) {
	t.Parallel()

	textMode := Mode{Input: StreamText, Output: StreamText}
	f := newFixture(t, textMode, func(cfg *Config, deps *Deps) {
		deps.RateLimiter = denyLimiter{}
	})

	if err := f.p.PushText("spam spam spam"); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, func(ev Event) bool { return ev.Type == EventError })

	errs := eventsOfType(events, EventError)
	if len(errs) != 1 || errs[0].Code != CodeRateLimit {
		t.Fatalf("error events = %+v, want one %s", errs, CodeRateLimit)
	}
	if len(f.llm.Calls()) != 0 {
		t.Error("rate-limited turn still reached the LLM")
	}
	if len(f.rec.History) != 0 {
		t.Errorf("rate-limited turn appended to history: %+v", f.rec.History)
	}
}

func TestPipelineVoiceTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamVoice, Output: StreamVoice}, func(cfg *Config, deps *Deps) {
		cfg.STTConfig = stt.SessionConfig{SampleRate: 16000}
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "Good evening. Stay warm."},
			{FinishReason: "stop"},
		}
	})

	if len(f.stt.StartCalls) != 1 {
		t.Fatalf("STT sessions = %d, want 1", len(f.stt.StartCalls))
	}
	if got := f.stt.StartCalls[0].SampleRate; got != 16000 {
		t.Errorf("STT sample rate = %d, want 16000", got)
	}
	if len(f.tts.StartCalls) != 1 {
		t.Fatalf("TTS sessions = %d, want 1", len(f.tts.StartCalls))
	}

	sess := f.stt.LastSession()
	sess.EmitTranscript(stt.Transcript{Text: "open the", IsFinal: false})
	sess.EmitTranscript(stt.Transcript{Text: "open the", IsFinal: true})
	sess.EmitTranscript(stt.Transcript{Text: "gate please", IsFinal: true})

	events := collectUntil(t, f.p, 2*time.Second, untilGenerationEnd)
	events = append(events, drainFor(f.p, 200*time.Millisecond)...)

	var interim, final []Event
	for _, ev := range eventsOfType(events, EventTranscript) {
		if ev.IsFinal {
			final = append(final, ev)
		} else {
			interim = append(interim, ev)
		}
	}
	if len(interim) != 1 || interim[0].Text != "open the" {
		t.Errorf("interim transcripts = %+v", interim)
	}
	if len(final) != 1 || final[0].Text != "open the gate please" {
		t.Errorf("final transcripts = %+v, want one aggregated utterance", final)
	}

	calls := f.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(calls))
	}
	if got := lastUserMessage(t, calls[0].Req); got != "open the gate please" {
		t.Errorf("user message = %q", got)
	}

	// Sentence-level dispatch: the first sentence goes out as soon as its
	// boundary streams in, the trailing one on the end-of-reply flush.
	wantSpoken := []string{"Good evening.", "Stay warm."}
	spoken := f.tts.LastSession().SynthesizedTexts()
	if len(spoken) != len(wantSpoken) {
		t.Fatalf("synthesized = %v, want %v", spoken, wantSpoken)
	}
	for i := range wantSpoken {
		if spoken[i] != wantSpoken[i] {
			t.Errorf("synthesized[%d] = %q, want %q", i, spoken[i], wantSpoken[i])
		}
	}
	if audio := eventsOfType(events, EventAudioChunk); len(audio) != 2 {
		t.Errorf("audio chunk events = %d, want 2", len(audio))
	}
}

func TestPipelineCommitFlushesInterim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamVoice, Output: StreamText}, func(cfg *Config, deps *Deps) {
		cfg.DebounceWindow = time.Hour
		deps.LLM.(*llmmock.Provider).StreamChunks = []llm.Chunk{
			{Text: "At once.", FinishReason: "stop"},
		}
	})

	sess := f.stt.LastSession()
	sess.EmitTranscript(stt.Transcript{Text: "lower the bridge", IsFinal: false})
	// Give the dispatcher a moment to record the interim before committing.
	collectUntil(t, f.p, time.Second, func(ev Event) bool {
		return ev.Type == EventTranscript && !ev.IsFinal
	})

	if err := f.p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	events := collectUntil(t, f.p, 2*time.Second, untilGenerationEnd)

	if sess.FinalizeCalls != 1 {
		t.Errorf("Finalize calls = %d, want 1", sess.FinalizeCalls)
	}
	finals := eventsOfType(events, EventTranscript)
	if len(finals) != 1 || !finals[0].IsFinal || finals[0].Text != "lower the bridge" {
		t.Errorf("final transcripts = %+v, want the committed interim text", finals)
	}
	if calls := f.llm.Calls(); len(calls) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(calls))
	}
}

func TestPipelineSTTErrorSurfaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamVoice, Output: StreamText}, nil)

	f.stt.LastSession().EmitError(errors.New("upstream hiccup"))
	events := collectUntil(t, f.p, 2*time.Second, func(ev Event) bool { return ev.Type == EventError })

	errs := eventsOfType(events, EventError)
	if len(errs) != 1 || errs[0].Code != CodeSTTError {
		t.Fatalf("error events = %+v, want one %s", errs, CodeSTTError)
	}
}

func TestPipelinePushAudioForwards(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamVoice, Output: StreamText}, nil)

	if err := f.p.PushAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	sess := f.stt.LastSession()
	if len(sess.SentAudio) != 1 || len(sess.SentAudio[0]) != 2 {
		t.Errorf("sent audio = %v, want one 2-byte chunk", sess.SentAudio)
	}
}

func TestPipelinePushAudioRejectedInTextMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamText, Output: StreamText}, nil)
	if err := f.p.PushAudio([]byte{0x01}); err == nil {
		t.Error("PushAudio in text input mode succeeded, want error")
	}
}

func TestPipelineInitTTSFailureClosesSTT(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{}
	ttsProv := &ttsmock.Provider{StartErr: errors.New("voice unavailable")}
	p, err := New(Config{Mode: Mode{Input: StreamVoice, Output: StreamVoice}}, Deps{
		NPC:    &npc.Definition{ID: "warden", Name: "Ser Aldric"},
		Record: &conversation.Record{ID: "conv-1"},
		LLM:    &llmmock.Provider{},
		STT:    sttProv,
		TTS:    ttsProv,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize succeeded despite TTS start failure")
	}
	if sess := sttProv.LastSession(); sess == nil || !sess.Closed() {
		t.Error("failed initialization leaked the STT session")
	}
}

func TestPipelineEndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Mode{Input: StreamVoice, Output: StreamVoice}, nil)

	if err := f.p.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := f.p.End(); err != nil {
		t.Fatalf("second End: %v", err)
	}
	if !f.stt.LastSession().Closed() {
		t.Error("End did not close the STT session")
	}
	if !f.tts.LastSession().Closed() {
		t.Error("End did not close the TTS session")
	}
	if _, ok := <-f.p.Events(); ok {
		t.Error("event stream still open after End")
	}
	if err := f.p.PushText("anyone there"); err == nil {
		t.Error("PushText after End succeeded, want error")
	}
}

func TestPipelineModeValidation(t *testing.T) {
	t.Parallel()

	deps := Deps{
		NPC:    &npc.Definition{ID: "warden", Name: "Ser Aldric"},
		Record: &conversation.Record{ID: "conv-1"},
		LLM:    &llmmock.Provider{},
	}

	if _, err := New(Config{Mode: Mode{Input: "carrier-pigeon", Output: StreamText}}, deps); err == nil {
		t.Error("New accepted an invalid input mode")
	}
	if _, err := New(Config{Mode: Mode{Input: StreamVoice, Output: StreamText}}, deps); err == nil {
		t.Error("New accepted voice input without an STT provider")
	}
	if _, err := New(Config{Mode: Mode{Input: StreamText, Output: StreamVoice}}, deps); err == nil {
		t.Error("New accepted voice output without a TTS provider")
	}
}
