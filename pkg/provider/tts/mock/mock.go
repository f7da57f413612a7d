// Package mock provides test doubles for the tts.Provider and tts.Session
// interfaces.
//
// By default each Synthesize call synchronously emits one audio chunk derived
// from the submitted text, so tests can assert on the exact audio sequence a
// pipeline produced.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/hollowmere/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text   string
	IsLast bool
}

// Session is a mock implementation of tts.Session.
type Session struct {
	mu     sync.Mutex
	closed bool
	gen    uint64
	events chan tts.Event

	// Calls records every Synthesize invocation in order.
	Calls []SynthesizeCall

	// FlushCalls counts Flush invocations.
	FlushCalls int

	// AbortCalls counts Abort invocations.
	AbortCalls int

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Silent suppresses the automatic audio chunk emitted per Synthesize call.
	Silent bool
}

// Compile-time check that Session satisfies tts.Session.
var _ tts.Session = (*Session)(nil)

// NewSession returns a ready mock session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan tts.Event, 256)}
}

// Synthesize implements tts.Session. Unless Silent is set, it emits one audio
// chunk containing the submitted text bytes.
func (s *Session) Synthesize(text string, isLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock tts: session is closed")
	}
	if s.SynthesizeErr != nil {
		return s.SynthesizeErr
	}
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, IsLast: isLast})
	if !s.Silent {
		s.events <- tts.Event{Type: tts.EventAudioChunk, Audio: []byte(text), Gen: s.gen}
	}
	if isLast {
		s.events <- tts.Event{Type: tts.EventComplete, Gen: s.gen}
	}
	return nil
}

// Flush implements tts.Session.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock tts: session is closed")
	}
	s.FlushCalls++
	return nil
}

// Abort implements tts.Session. It advances the event generation, matching
// the contract that events produced before an abort carry a lower Gen.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCalls++
	s.gen++
	return nil
}

// Emit injects an arbitrary event into the session's stream, bypassing the
// Synthesize bookkeeping. Use it to simulate audio that a backend had already
// queued before an abort.
func (s *Session) Emit(ev tts.Event) {
	s.events <- ev
}

// Events implements tts.Session.
func (s *Session) Events() <-chan tts.Event { return s.events }

// Close implements tts.Session. It is safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.events <- tts.Event{Type: tts.EventClosed}
	close(s.events)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SynthesizedTexts returns the text of every Synthesize call, in order.
func (s *Session) SynthesizedTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartSession.
	StartErr error

	// Sessions records every session created by StartSession, in order.
	Sessions []*Session

	// StartCalls records the voices passed to StartSession, in order.
	StartCalls []tts.VoiceProfile
}

// Compile-time check that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// StartSession implements tts.Provider. Each call creates and records a fresh
// mock Session.
func (p *Provider) StartSession(_ context.Context, voice tts.VoiceProfile) (tts.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, voice)
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
