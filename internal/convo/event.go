// Package convo implements the real-time conversation pipeline: the
// turn/transcript state machine that glues STT, LLM, and TTS streams together
// for one connection.
//
// The aggregate root is [Pipeline]. It owns zero-or-one STT session,
// zero-or-one TTS session, the transcript [Aggregator], the deduplication
// window, the processing lock, and the current turn. Provider callbacks
// arrive as typed events on channels and are consumed by a single dispatcher
// goroutine per pipeline, so event handling is strictly one-at-a-time.
//
// The pipeline itself emits a typed [Event] stream consumed by the protocol
// layer, which forwards events to the client as outbound messages.
package convo

// EventType discriminates Pipeline events.
type EventType int

const (
	// EventTranscript carries recognised speech back to the client. Interim
	// transcripts (IsFinal=false) are advisory echoes; final transcripts are
	// the aggregated utterance about to be processed.
	EventTranscript EventType = iota

	// EventTextChunk carries one streamed fragment of the NPC's reply.
	EventTextChunk

	// EventAudioChunk carries synthesised reply audio.
	EventAudioChunk

	// EventToolCall announces a validated tool invocation.
	EventToolCall

	// EventGenerationEnd marks the normal completion of a turn.
	EventGenerationEnd

	// EventExitConvo announces that the conversation has been ended by the
	// exit tool. It is the last turn event; the pipeline is inert afterwards.
	EventExitConvo

	// EventError carries a non-fatal error with a protocol error code.
	EventError
)

// Event is a single typed notification from a [Pipeline].
type Event struct {
	// Type discriminates which fields below are valid.
	Type EventType

	// Text is set for EventTranscript and EventTextChunk.
	Text string

	// IsFinal is set for EventTranscript.
	IsFinal bool

	// Audio is set for EventAudioChunk.
	Audio []byte

	// ToolName and ToolArgs are set for EventToolCall. ToolArgs is the
	// sanitized JSON argument object.
	ToolName string
	ToolArgs string

	// ExitReason and CooldownSeconds are set for EventExitConvo.
	// CooldownSeconds is zero unless the exit was forced by moderation.
	ExitReason      string
	CooldownSeconds int64

	// Code and Err are set for EventError.
	Code string
	Err  error
}

// Error codes emitted by the pipeline. The protocol layer adds its own codes
// for message-level violations.
const (
	CodeSTTError        = "STT_ERROR"
	CodeTTSError        = "TTS_ERROR"
	CodeProcessingError = "PROCESSING_ERROR"
	CodeAudioError      = "AUDIO_ERROR"
	CodeTextError       = "TEXT_ERROR"
	CodeRateLimit       = "RATE_LIMIT"
)
