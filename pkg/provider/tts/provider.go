// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Piper instance) and presents a uniform incremental interface. A Session
// accepts text fragments as they stream out of the LLM and emits raw PCM audio
// chunks as they are synthesised, so playback can begin before the full reply
// is generated.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a TTS voice configuration for an NPC.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name" yaml:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider" yaml:"provider"`

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64 `json:"pitch_shift,omitempty" yaml:"pitch_shift"`

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64 `json:"speed_factor,omitempty" yaml:"speed_factor"`
}

// EventType discriminates Session events.
type EventType int

const (
	// EventAudioChunk carries a slice of raw PCM audio bytes.
	EventAudioChunk EventType = iota

	// EventComplete signals all submitted text has been synthesised.
	EventComplete

	// EventError carries a non-fatal synthesis error.
	EventError

	// EventClosed is the terminal event; no further events follow.
	EventClosed
)

// Event is a single typed notification from a TTS session.
type Event struct {
	// Type discriminates which field below is valid.
	Type EventType

	// Audio is set when Type is EventAudioChunk.
	Audio []byte

	// Err is set when Type is EventError.
	Err error

	// Gen is the session's abort generation at the time the event was
	// produced. Each Abort call increments the generation, so a consumer
	// that records the post-Abort value can discard events that were
	// already queued when the abort happened.
	Gen uint64
}

// Session represents an open incremental synthesis session.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type Session interface {
	// Synthesize submits a text fragment for synthesis. Fragments are spoken in
	// submission order. isLast marks the final fragment of the current reply;
	// providers may use it to optimise prosody at the end of an utterance.
	Synthesize(text string, isLast bool) error

	// Flush forces synthesis of any internally buffered partial text so a
	// trailing fragment without sentence punctuation is still spoken.
	Flush() error

	// Abort discards all queued and in-flight synthesis immediately. Audio
	// chunks already emitted are unaffected; no further chunks follow until new
	// text is submitted. Every Abort call increments the event generation (see
	// Event.Gen), so events produced before the abort remain distinguishable
	// even when they are still buffered. Abort is idempotent.
	Abort() error

	// Events returns the session's event stream. The same channel is returned
	// for the lifetime of the session; it is closed after EventClosed.
	Events() <-chan Event

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may run
// in parallel, one per conversation.
type Provider interface {
	// StartSession opens an incremental synthesis session using the given
	// voice. Returns an error if the requested voice is unavailable or the
	// session cannot be established.
	StartSession(ctx context.Context, voice VoiceProfile) (Session, error)
}
