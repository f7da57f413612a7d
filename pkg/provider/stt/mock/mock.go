// Package mock provides test doubles for the stt.Provider and stt.Session
// interfaces.
//
// Tests drive a pipeline by calling [Session.EmitTranscript] to simulate
// recognition results and inspect SentAudio / FinalizeCalls afterwards.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/hollowmere/parley/pkg/provider/stt"
)

// Session is a mock implementation of stt.Session.
type Session struct {
	mu     sync.Mutex
	closed bool
	events chan stt.Event

	// SentAudio records every chunk passed to SendAudio, in order.
	SentAudio [][]byte

	// FinalizeCalls counts Finalize invocations.
	FinalizeCalls int

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error
}

// Compile-time check that Session satisfies stt.Session.
var _ stt.Session = (*Session)(nil)

// NewSession returns a ready mock session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// SendAudio implements stt.Session.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

// Finalize implements stt.Session.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	s.FinalizeCalls++
	return nil
}

// Events implements stt.Session.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Close implements stt.Session. It is safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.events <- stt.Event{Type: stt.EventClosed}
	close(s.events)
	return nil
}

// EmitTranscript pushes a transcript event into the session's event stream.
// Panics if called after Close.
func (s *Session) EmitTranscript(t stt.Transcript) {
	s.events <- stt.Event{Type: stt.EventTranscript, Transcript: t}
}

// EmitError pushes an error event into the session's event stream.
func (s *Session) EmitError(err error) {
	s.events <- stt.Event{Type: stt.EventError, Err: err}
}

// SentAudioChunks returns a snapshot of all chunks passed to SendAudio.
func (s *Session) SentAudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentAudio))
	copy(out, s.SentAudio)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartSession.
	StartErr error

	// Sessions records every session created by StartSession, in order.
	Sessions []*Session

	// StartCalls records the configs passed to StartSession, in order.
	StartCalls []stt.SessionConfig
}

// Compile-time check that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// StartSession implements stt.Provider. Each call creates and records a fresh
// mock Session.
func (p *Provider) StartSession(_ context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}
