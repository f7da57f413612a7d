// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/hollowmere/parley/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
}

// Compile-time check that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartSession opens an incremental synthesis session for the given voice.
// The WebSocket itself is dialled lazily on the first Synthesize call, and
// re-dialled after an Abort.
func (p *Provider) StartSession(ctx context.Context, voice tts.VoiceProfile) (tts.Session, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	return &session{
		provider: p,
		voice:    voice,
		ctx:      ctx,
		events:   make(chan tts.Event, 256),
	}, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

// boiMessage is the initial "begin of input" handshake payload.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// session is a live ElevenLabs synthesis session. It implements tts.Session.
type session struct {
	provider *Provider
	voice    tts.VoiceProfile
	ctx      context.Context
	events   chan tts.Event

	mu     sync.Mutex
	conn   *websocket.Conn // nil until first Synthesize and after Abort
	gen    uint64          // abort generation stamped onto emitted events
	wg     sync.WaitGroup
	closed bool
}

// Synthesize implements tts.Session. It dials the stream-input socket on first
// use and forwards the fragment. isLast sends the end-of-input marker so
// ElevenLabs finalises prosody for the utterance.
func (s *session) Synthesize(text string, isLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("elevenlabs: session is closed")
	}
	if s.conn == nil {
		if err := s.dialLocked(); err != nil {
			return err
		}
	}

	if err := s.writeLocked(textMessage{Text: text}); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if isLast {
		// An empty text value is the ElevenLabs end-of-input marker.
		if err := s.writeLocked(textMessage{Text: ""}); err != nil {
			return fmt.Errorf("elevenlabs: send EOS: %w", err)
		}
	}
	return nil
}

// Flush implements tts.Session. It forces synthesis of buffered partial text.
func (s *session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("elevenlabs: session is closed")
	}
	if s.conn == nil {
		return nil // nothing buffered
	}
	if err := s.writeLocked(textMessage{Text: " ", Flush: true}); err != nil {
		return fmt.Errorf("elevenlabs: flush: %w", err)
	}
	return nil
}

// Abort implements tts.Session. The stream-input protocol has no cancel
// message, so the socket is torn down; the next Synthesize re-dials.
func (s *session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The generation advances on every Abort, even with no live socket, so
	// events a consumer may still hold in its buffer stay identifiable as
	// pre-abort.
	s.gen++
	if s.conn == nil {
		return nil
	}
	s.conn.Close(websocket.StatusNormalClosure, "aborted")
	s.conn = nil
	return nil
}

// Events implements tts.Session.
func (s *session) Events() <-chan tts.Event { return s.events }

// Close implements tts.Session. It is safe to call multiple times.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.conn = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.events <- tts.Event{Type: tts.EventClosed}
	close(s.events)
	return nil
}

// dialLocked establishes the stream-input WebSocket and starts its read loop.
// Caller must hold s.mu.
func (s *session) dialLocked() error {
	wsURL := fmt.Sprintf(wsEndpointFmt, s.voice.ID, s.provider.model, s.provider.outputFormat)
	conn, _, err := websocket.Dial(s.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}

	settings := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if s.voice.SpeedFactor > 0 {
		settings.Speed = s.voice.SpeedFactor
	}
	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: settings,
		XiAPIKey:      s.provider.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(s.ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	s.conn = conn
	s.wg.Add(1)
	go s.readLoop(conn, s.gen)
	return nil
}

// writeLocked marshals and writes msg on the current socket.
// Caller must hold s.mu.
func (s *session) writeLocked(msg textMessage) error {
	data, _ := json.Marshal(msg)
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// readLoop receives audio messages from conn until it closes. Each dialled
// socket gets its own readLoop carrying the generation current at dial time;
// an aborted socket's loop exits on read error without emitting further audio,
// and anything it emits before that stays stamped with the old generation.
func (s *session) readLoop(conn *websocket.Conn, gen uint64) {
	defer s.wg.Done()
	for {
		_, msg, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			s.emit(tts.Event{Type: tts.EventAudioChunk, Audio: pcm, Gen: gen})
		}
		if resp.IsFinal {
			s.emit(tts.Event{Type: tts.EventComplete, Gen: gen})
		}
	}
}

// emit delivers ev unless the session has been closed underneath the reader.
func (s *session) emit(ev tts.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Drop rather than block the socket reader when the consumer stalls.
	}
}
