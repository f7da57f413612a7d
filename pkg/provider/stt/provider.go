// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or a
// local Whisper server) and exposes a uniform streaming interface. The central
// abstraction is Session: once opened, a session accepts raw PCM audio chunks
// and emits a single ordered stream of typed events — interim and final
// transcripts, provider errors, and a terminal close event — consumed by one
// dispatcher loop per conversation.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// SessionConfig describes the audio format and recognition hints for a new STT
// session.
type SessionConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000, 48000).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// providers; implementors may downmix internally).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as NPC and location names.
	Keywords []string
}

// Transcript represents a speech-to-text result.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// (advisory) transcript. Providers with inverted or vendor-specific finality
	// flags must normalise them before emitting; consumers rely on the
	// conventional meaning.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// EventType discriminates Session events.
type EventType int

const (
	// EventOpened signals the provider accepted the session and is ready for audio.
	EventOpened EventType = iota

	// EventTranscript carries an interim or final Transcript.
	EventTranscript

	// EventError carries a non-fatal provider error. The session may continue
	// delivering transcripts after an error event.
	EventError

	// EventClosed is the terminal event; no further events follow.
	EventClosed
)

// Event is a single typed notification from an STT session.
type Event struct {
	// Type discriminates which field below is valid.
	Type EventType

	// Transcript is set when Type is EventTranscript.
	Transcript Transcript

	// Err is set when Type is EventError.
	Err error
}

// Session represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type Session interface {
	// SendAudio delivers a chunk of raw PCM audio bytes for transcription. The
	// chunk must match the format agreed in SessionConfig. Chunks are forwarded
	// in call order and never reordered. Calling SendAudio after Close returns
	// an error.
	SendAudio(chunk []byte) error

	// Finalize asks the provider to commit any buffered audio to a final
	// transcript immediately, without waiting for an endpointing pause.
	Finalize() error

	// Events returns the session's event stream. The same channel is returned
	// for the lifetime of the session; it is closed after EventClosed.
	Events() <-chan Event

	// Close terminates the session, flushes pending audio, and releases all
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per conversation.
type Provider interface {
	// StartSession opens a new streaming transcription session. The returned
	// Session is ready to accept audio immediately. Returns an error if the
	// session cannot be established or ctx is already cancelled.
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
