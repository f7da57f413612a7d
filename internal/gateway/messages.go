package gateway

import (
	"encoding/json"

	"github.com/hollowmere/parley/internal/convo"
	"github.com/hollowmere/parley/internal/npc"
)

// Inbound message types. Every client frame is a JSON object with a "type"
// discriminator; the remaining fields depend on the type.
const (
	msgInit      = "init"
	msgAudio     = "audio"
	msgCommit    = "commit"
	msgText      = "text"
	msgInterrupt = "interrupt"
	msgEnd       = "end"
)

// Protocol error codes reported in error messages. Provider and processing
// codes come from the convo package; these cover the protocol layer itself.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnknownMessage     = "UNKNOWN_MESSAGE"
	CodeSessionMismatch    = "SESSION_MISMATCH"
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeModeMismatch       = "MODE_MISMATCH"
	CodeInitFailed         = "INIT_FAILED"
	CodeEndFailed          = "END_FAILED"
)

// envelope is the minimal decode of any inbound frame, enough to dispatch on
// the type before unmarshalling the full typed message.
type envelope struct {
	Type string `json:"type"`
}

// initMessage must be the first frame on every connection. SessionID echoes
// the conversation identifier from the connect URL; a mismatch is rejected.
// Mode is optional and defaults to voice in, voice out.
type initMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Mode      *convo.Mode `json:"mode,omitempty"`
}

// audioMessage carries one base64-encoded PCM chunk.
type audioMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// textMessage carries typed player input, treated as a synthetic final
// transcript.
type textMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ── Outbound messages ─────────────────────────────────────────────────────────

type readyMessage struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	NPCName     string          `json:"npc_name"`
	VoiceConfig npc.VoiceConfig `json:"voice_config"`
	Mode        convo.Mode      `json:"mode"`
}

type transcriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type textChunkMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioChunkMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type toolCallMessage struct {
	Type string          `json:"type"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type generationEndMessage struct {
	Type string `json:"type"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// syncMessage acknowledges an explicit end, reporting whether teardown
// succeeded and the persisted conversation version.
type syncMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Version int64  `json:"version"`
}

type exitConvoMessage struct {
	Type            string `json:"type"`
	Reason          string `json:"reason"`
	CooldownSeconds int64  `json:"cooldown_seconds,omitempty"`
}
