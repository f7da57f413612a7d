package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/hollowmere/parley/internal/conversation"
	"github.com/hollowmere/parley/internal/convo"
	"github.com/hollowmere/parley/internal/npc"
	"github.com/hollowmere/parley/pkg/audio"
)

// connection is the per-WebSocket state machine. The read loop runs on the
// accept goroutine; a single pump goroutine forwards pipeline events to the
// client. The underlying Conn serialises concurrent writes, so both may
// write without extra locking.
type connection struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	rec  *conversation.Record
	def  *npc.Definition
	log  *slog.Logger

	mode     convo.Mode
	pipeline *convo.Pipeline
	pumpDone chan struct{}
}

// run reads frames until the client ends the session or the transport drops.
// On transport loss the pipeline is ended but the conversation record is
// kept; the client may reconnect and resume.
func (c *connection) run(ctx context.Context) {
	defer func() {
		if c.pipeline != nil {
			if err := c.pipeline.End(); err != nil {
				c.log.Warn("pipeline teardown failed", "err", err)
			}
			<-c.pumpDone
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.log.Info("connection opened")
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ctx.Err() == nil {
				c.log.Warn("connection read failed", "err", err)
			} else {
				c.log.Info("connection closed", "status", status)
			}
			return
		}
		if c.handleMessage(ctx, raw) {
			return
		}
	}
}

// handleMessage dispatches one inbound frame. It returns true when the
// connection should close.
func (c *connection) handleMessage(ctx context.Context, raw []byte) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.writeError(ctx, CodeInvalidMessage, "malformed JSON frame")
		return false
	}

	if env.Type == "" {
		c.writeError(ctx, CodeInvalidMessage, "missing message type")
		return false
	}
	if env.Type == msgInit {
		c.handleInit(ctx, raw)
		return false
	}
	if env.Type == msgEnd {
		c.handleEnd(ctx)
		return true
	}
	if c.pipeline == nil {
		c.writeError(ctx, CodeNotInitialized, "first message must be init")
		return false
	}

	switch env.Type {
	case msgAudio:
		c.handleAudio(ctx, raw)
	case msgText:
		c.handleText(ctx, raw)
	case msgCommit:
		if err := c.pipeline.Commit(); err != nil {
			c.writeError(ctx, convo.CodeProcessingError, "commit failed")
		}
	case msgInterrupt:
		c.pipeline.Interrupt()
	default:
		c.writeError(ctx, CodeUnknownMessage, "unknown message type "+env.Type)
	}
	return false
}

func (c *connection) handleInit(ctx context.Context, raw []byte) {
	if c.pipeline != nil {
		c.writeError(ctx, CodeAlreadyInitialized, "session is already initialized")
		return
	}

	var msg initMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.writeError(ctx, CodeInvalidMessage, "malformed init message")
		return
	}
	if msg.SessionID != c.rec.ID {
		c.writeError(ctx, CodeSessionMismatch, "session_id does not match this connection")
		return
	}

	mode := convo.Mode{Input: convo.StreamVoice, Output: convo.StreamVoice}
	if msg.Mode != nil {
		mode = *msg.Mode
	}
	if err := mode.Validate(); err != nil {
		c.writeError(ctx, CodeInvalidMessage, err.Error())
		return
	}

	p, err := c.srv.newPipeline(mode, c.rec, c.def)
	if err != nil {
		c.log.Error("pipeline creation failed", "err", err)
		c.writeError(ctx, CodeInitFailed, "pipeline creation failed")
		return
	}
	if err := p.Initialize(ctx); err != nil {
		c.log.Error("pipeline initialization failed", "err", err)
		_ = p.End()
		c.writeError(ctx, CodeInitFailed, "provider session setup failed")
		return
	}

	c.mode = mode
	c.pipeline = p
	c.pumpDone = make(chan struct{})
	go c.pump()

	c.writeJSON(ctx, readyMessage{
		Type:        "ready",
		SessionID:   c.rec.ID,
		NPCName:     c.def.Name,
		VoiceConfig: c.def.Voice,
		Mode:        mode,
	})
	c.log.Info("connection initialized", "input", mode.Input, "output", mode.Output)
}

func (c *connection) handleAudio(ctx context.Context, raw []byte) {
	if c.mode.Input != convo.StreamVoice {
		c.writeError(ctx, CodeModeMismatch, "audio frames require voice input mode")
		return
	}
	var msg audioMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.writeError(ctx, CodeInvalidMessage, "malformed audio message")
		return
	}
	pcm, err := audio.DecodeBase64Frame(msg.Data)
	if err != nil {
		c.writeError(ctx, convo.CodeAudioError, "audio payload rejected")
		return
	}
	if err := c.pipeline.PushAudio(pcm); err != nil {
		c.log.Warn("audio forward failed", "err", err)
		c.writeError(ctx, convo.CodeAudioError, "audio forwarding failed")
	}
}

func (c *connection) handleText(ctx context.Context, raw []byte) {
	var msg textMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.writeError(ctx, CodeInvalidMessage, "malformed text message")
		return
	}
	if err := c.pipeline.PushText(msg.Content); err != nil {
		c.log.Warn("text input failed", "err", err)
		c.writeError(ctx, convo.CodeTextError, "text input failed")
	}
}

// handleEnd tears the pipeline down, acknowledges with a sync frame carrying
// the persisted conversation version, and closes the connection. The
// conversation record survives for later resumption or management-API
// deletion.
func (c *connection) handleEnd(ctx context.Context) {
	success := true
	if c.pipeline != nil {
		if err := c.pipeline.End(); err != nil {
			c.log.Error("pipeline end failed", "err", err)
			c.writeError(ctx, CodeEndFailed, "session teardown failed")
			success = false
		}
		<-c.pumpDone
		c.pipeline = nil
	}

	c.writeJSON(ctx, syncMessage{Type: "sync", Success: success, Version: c.rec.Version})
	c.conn.Close(websocket.StatusNormalClosure, "session ended")
	c.log.Info("connection ended by client")
}

// pump forwards pipeline events to the client until the event stream closes.
// A forced exit closes the connection with a normal status after the
// exit_convo frame is delivered.
func (c *connection) pump() {
	defer close(c.pumpDone)
	ctx := context.Background()
	p := c.pipeline

	for ev := range p.Events() {
		switch ev.Type {
		case convo.EventTranscript:
			c.writeJSON(ctx, transcriptMessage{Type: "transcript", Text: ev.Text, IsFinal: ev.IsFinal})
		case convo.EventTextChunk:
			c.writeJSON(ctx, textChunkMessage{Type: "text_chunk", Text: ev.Text})
		case convo.EventAudioChunk:
			c.writeJSON(ctx, audioChunkMessage{Type: "audio_chunk", Data: audio.EncodeBase64Frame(ev.Audio)})
		case convo.EventToolCall:
			c.writeJSON(ctx, toolCallMessage{Type: "tool_call", Name: ev.ToolName, Args: json.RawMessage(ev.ToolArgs)})
		case convo.EventGenerationEnd:
			c.writeJSON(ctx, generationEndMessage{Type: "generation_end"})
		case convo.EventError:
			message := ""
			if ev.Err != nil {
				message = ev.Err.Error()
			}
			c.writeError(ctx, ev.Code, message)
		case convo.EventExitConvo:
			c.writeJSON(ctx, exitConvoMessage{
				Type:            "exit_convo",
				Reason:          ev.ExitReason,
				CooldownSeconds: ev.CooldownSeconds,
			})
			// End drains and closes the event stream, terminating this loop;
			// the close unblocks the read loop.
			go func() {
				if err := p.End(); err != nil {
					c.log.Warn("pipeline teardown failed", "err", err)
				}
				c.conn.Close(websocket.StatusNormalClosure, "conversation ended")
			}()
		}
	}
}

func (c *connection) writeError(ctx context.Context, code, message string) {
	c.writeJSON(ctx, errorMessage{Type: "error", Code: code, Message: message})
}

// writeJSON marshals and sends one frame. Write failures mean the transport
// is gone; the read loop observes the same failure and tears down, so they
// are only logged here.
func (c *connection) writeJSON(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("outbound frame marshal failed", "err", err)
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Debug("outbound frame write failed", "err", err)
		}
	}
}
