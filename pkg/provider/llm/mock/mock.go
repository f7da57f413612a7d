// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the conversation pipeline sends correct
// ChatRequests and to feed controlled streams without a live LLM backend.
// All fields should be set before the first call; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hello. ", FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamChat.
type StreamCall struct {
	// Ctx is the context passed to StreamChat.
	Ctx context.Context
	// Req is the ChatRequest passed to StreamChat.
	Req llm.ChatRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set StreamErr to inject a start failure.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by StreamChat. All chunks are sent before the channel is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamChat instead of
	// starting a stream.
	StreamErr error

	// ChunkDelay, if positive, is slept before emitting each chunk. Useful in
	// tests that cancel mid-stream.
	ChunkDelay time.Duration

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamChat in order.
	StreamCalls []StreamCall
}

// Compile-time check that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// StreamChat implements llm.Provider. It records the call, then emits the
// configured StreamChunks, honouring ChunkDelay and ctx cancellation.
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	delay := p.ChunkDelay
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of recorded StreamChat invocations.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}
