package convo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hollowmere/parley/internal/cooldown"
	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/internal/security"
	"github.com/hollowmere/parley/internal/tools"
	"github.com/hollowmere/parley/pkg/provider/llm"
)

// turn drives one LLM generation cycle:
// Idle → SecurityCheck → LLMStreaming → ToolResolution → Complete|Aborted|Failed.
type turn struct {
	p         *Pipeline
	utterance string
}

// turn outcomes, recorded in metrics.
const (
	outcomeComplete = "complete"
	outcomeAborted  = "aborted"
	outcomeFailed   = "failed"
)

func (t *turn) run(ctx context.Context) {
	p := t.p
	start := time.Now()

	outcome := t.execute(ctx)
	p.deps.Metrics.RecordTurn(context.Background(), p.deps.NPC.ID, outcome, time.Since(start).Seconds())
}

func (t *turn) execute(ctx context.Context) string {
	p := t.p

	// ─── SecurityCheck ───

	text := t.utterance
	if p.deps.Sanitizer != nil {
		text = p.deps.Sanitizer.Sanitize(text)
	}
	if strings.TrimSpace(text) == "" {
		return outcomeAborted
	}

	if p.deps.RateLimiter != nil && !p.deps.RateLimiter.Check(p.cfg.ProjectID, p.cfg.PlayerID, p.deps.NPC.ID) {
		p.log.Info("turn rejected by rate limiter")
		p.emit(Event{Type: EventError, Code: CodeRateLimit, Err: errors.New("too many requests")})
		return outcomeAborted
	}

	secCtx := security.Context{SanitizedText: text}
	if p.deps.Moderator != nil {
		dec := p.deps.Moderator.Moderate(text)
		secCtx.ExitRequested = dec.ExitRequested
		secCtx.Reason = dec.Reason
	}

	// ─── LLMStreaming ───

	p.mu.Lock()
	p.deps.Record.Append(llm.Message{Role: "user", Content: text})
	history := make([]llm.Message, len(p.deps.Record.History))
	copy(history, p.deps.Record.History)
	p.mu.Unlock()

	var facts []string
	if p.deps.Knowledge != nil {
		var err error
		facts, err = p.deps.Knowledge.Resolve(ctx, p.deps.NPC.ID, text, p.cfg.KnowledgeLimit)
		if err != nil {
			p.log.Warn("knowledge resolution failed", "err", err)
			facts = nil
		}
	}

	req := llm.ChatRequest{
		SystemPrompt: t.buildSystemPrompt(facts, secCtx),
		Messages:     history,
		Tools:        t.availableTools(),
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}

	llmStart := time.Now()
	ch, err := p.deps.LLM.StreamChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeAborted
		}
		p.log.Error("llm stream start failed", "err", err)
		p.deps.Metrics.RecordProviderError(context.Background(), "llm")
		p.emit(Event{Type: EventError, Code: CodeProcessingError, Err: err})
		return outcomeFailed
	}

	var reply strings.Builder
	calls := newToolCallAccumulator()
	streamFailed := false

stream:
	for {
		// A ready chunk and a done context can race in the select below;
		// checking the context first guarantees nothing is emitted after
		// cancellation.
		if ctx.Err() != nil {
			go drainChunks(ch)
			return outcomeAborted
		}
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return outcomeAborted
		case chunk, ok := <-ch:
			if !ok {
				break stream
			}
			if chunk.Text != "" {
				reply.WriteString(chunk.Text)
				p.emit(Event{Type: EventTextChunk, Text: chunk.Text})
				t.speak(p.splitter.Push(chunk.Text), false)
			}
			for _, tc := range chunk.ToolCalls {
				calls.add(tc)
			}
			if chunk.FinishReason == "error" {
				streamFailed = true
			}
		}
	}

	if ctx.Err() != nil {
		return outcomeAborted
	}
	p.deps.Metrics.RecordLLMDuration(context.Background(), time.Since(llmStart).Seconds())

	if streamFailed {
		p.log.Error("llm stream failed mid-generation")
		p.deps.Metrics.RecordProviderError(context.Background(), "llm")
		p.emit(Event{Type: EventError, Code: CodeProcessingError, Err: errors.New("generation failed")})
		return outcomeFailed
	}

	// Flush any trailing partial sentence so it is still spoken.
	if remainder := p.splitter.Flush(); remainder != "" {
		t.speak([]string{remainder}, true)
	}
	t.flushTTS()

	// ─── ToolResolution ───

	toolResults, exited := t.resolveToolCalls(ctx, calls.ordered(), secCtx)
	if ctx.Err() != nil {
		return outcomeAborted
	}
	if exited {
		// Forced end skips the persistence step entirely.
		return outcomeComplete
	}

	// ─── Complete ───

	assistant := llm.Message{Role: "assistant", Content: reply.String(), ToolCalls: calls.ordered()}
	if assistant.Content != "" || len(assistant.ToolCalls) > 0 {
		p.mu.Lock()
		p.deps.Record.Append(assistant)
		p.deps.Record.Append(toolResults...)
		rec := p.deps.Record.Clone()
		p.mu.Unlock()

		if p.deps.Conversations != nil {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.deps.Conversations.Save(saveCtx, rec); err != nil {
				p.log.Error("conversation persist failed", "err", err)
			}
			cancel()
		}
	}

	p.emit(Event{Type: EventGenerationEnd})
	return outcomeComplete
}

// buildSystemPrompt assembles the NPC prompt plus resolved knowledge and, on
// a moderation-flagged turn, an explicit instruction to end the conversation
// through the exit tool.
func (t *turn) buildSystemPrompt(facts []string, secCtx security.Context) string {
	prompt := npc.BuildSystemPrompt(t.p.deps.NPC, facts)
	if secCtx.ExitRequested {
		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\nThe player's last message violated the content rules")
		if secCtx.Reason != "" {
			sb.WriteString(" (")
			sb.WriteString(secCtx.Reason)
			sb.WriteString(")")
		}
		sb.WriteString(". Give a brief in-character refusal and call the exit_conversation tool now.")
		return sb.String()
	}
	return prompt
}

// availableTools returns the project tools this NPC may call, restricted to
// the definition's allow-list when one is declared, plus the exit tool.
func (t *turn) availableTools() []llm.ToolDefinition {
	p := t.p
	var defs []llm.ToolDefinition
	if p.deps.Tools != nil {
		all := p.deps.Tools.ProjectTools(p.cfg.ProjectID)
		if len(p.deps.NPC.Tools) == 0 {
			defs = all
		} else {
			allowed := make(map[string]struct{}, len(p.deps.NPC.Tools))
			for _, name := range p.deps.NPC.Tools {
				allowed[name] = struct{}{}
			}
			for _, def := range all {
				if _, ok := allowed[def.Name]; ok {
					defs = append(defs, def)
				}
			}
		}
	}
	return append(defs, tools.ExitDefinition())
}

// speak submits complete sentences to the TTS session. Only runs in voice
// output mode; synthesis errors are reported but never abort the turn.
func (t *turn) speak(sentences []string, last bool) {
	p := t.p
	if p.cfg.Mode.Output != StreamVoice || len(sentences) == 0 {
		return
	}
	p.mu.Lock()
	sess := p.ttsSess
	p.mu.Unlock()
	if sess == nil {
		return
	}
	for i, sentence := range sentences {
		isLast := last && i == len(sentences)-1
		if err := sess.Synthesize(sentence, isLast); err != nil {
			p.log.Warn("tts synthesize failed", "err", err)
			p.emit(Event{Type: EventError, Code: CodeTTSError, Err: err})
			return
		}
	}
}

// flushTTS asks the TTS session to synthesise any internally buffered text.
func (t *turn) flushTTS() {
	p := t.p
	if p.cfg.Mode.Output != StreamVoice {
		return
	}
	p.mu.Lock()
	sess := p.ttsSess
	p.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Flush(); err != nil {
		p.log.Warn("tts flush failed", "err", err)
	}
}

// resolveToolCalls processes buffered tool calls in arrival order. The exit
// tool ends the conversation and stops further resolution; every other call
// is validated, sanitized, announced, and executed. Handler failures are
// logged and swallowed so a broken tool never breaks the conversation.
func (t *turn) resolveToolCalls(ctx context.Context, calls []llm.ToolCall, secCtx security.Context) (results []llm.Message, exited bool) {
	p := t.p

	for _, tc := range calls {
		if ctx.Err() != nil {
			return results, false
		}

		if tc.Name == tools.ExitToolName {
			args, err := tools.ParseExitArgs(tc.Arguments)
			if err != nil {
				p.log.Warn("exit tool args unparseable", "err", err)
			}
			forced := secCtx.ExitRequested
			var cooldownSecs int64
			if forced {
				key := cooldown.Key{
					ProjectID: p.cfg.ProjectID,
					PlayerID:  p.cfg.PlayerID,
					NPCID:     p.deps.NPC.ID,
				}
				if p.deps.Cooldowns != nil {
					p.deps.Cooldowns.Apply(key, ExitCooldownSeconds)
				}
				cooldownSecs = ExitCooldownSeconds
			}
			p.log.Info("conversation ended by exit tool",
				"reason", args.Reason, "forced", forced)
			p.deactivate()
			p.emit(Event{Type: EventExitConvo, ExitReason: args.Reason, CooldownSeconds: cooldownSecs})
			return results, true
		}

		def, ok := p.deps.Tools.Lookup(p.cfg.ProjectID, tc.Name)
		if !ok {
			p.log.Warn("unknown tool requested", "tool", tc.Name)
			continue
		}

		argsMap, err := tools.ValidateArgs(def, tc.Arguments)
		if err != nil {
			p.log.Warn("tool args rejected", "tool", tc.Name, "err", err)
			continue
		}
		encoded, err := tools.EncodeArgs(tools.SanitizeArgs(argsMap))
		if err != nil {
			p.log.Warn("tool args re-encode failed", "tool", tc.Name, "err", err)
			continue
		}

		p.emit(Event{Type: EventToolCall, ToolName: tc.Name, ToolArgs: encoded})

		res, err := p.deps.Tools.Execute(ctx, p.cfg.ProjectID, tc.Name, encoded)
		switch {
		case errors.Is(err, tools.ErrNoHandler):
			// Resolved by the game client observing the tool_call event.
			p.deps.Metrics.RecordToolCall(context.Background(), tc.Name, "client", 0)
		case err != nil:
			p.log.Warn("tool execution failed", "tool", tc.Name, "err", err)
			p.deps.Metrics.RecordToolCall(context.Background(), tc.Name, "error", 0)
		default:
			status := "ok"
			if res.IsError {
				status = "error"
				p.log.Warn("tool reported error", "tool", tc.Name, "result", res.Content)
			}
			p.deps.Metrics.RecordToolCall(context.Background(), tc.Name, status, res.Duration.Seconds())
			results = append(results, llm.Message{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: tc.ID,
			})
		}
	}
	return results, false
}

// toolCallAccumulator reassembles tool calls that streaming providers split
// across chunks, keyed by call ID, preserving first-appearance order.
type toolCallAccumulator struct {
	order []string
	byID  map[string]*llm.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byID: make(map[string]*llm.ToolCall)}
}

func (a *toolCallAccumulator) add(tc llm.ToolCall) {
	existing, ok := a.byID[tc.ID]
	if !ok {
		cp := tc
		a.byID[tc.ID] = &cp
		a.order = append(a.order, tc.ID)
		return
	}
	if existing.Name == "" {
		existing.Name = tc.Name
	}
	existing.Arguments += tc.Arguments
}

func (a *toolCallAccumulator) ordered() []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

// drainChunks discards remaining chunks so the provider goroutine is never
// left blocked after an aborted turn.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
