// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform streaming interface so
// the conversation pipeline never couples to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by StreamChat
// must be closed by the implementation when the stream ends or when the supplied
// context is cancelled.
package llm

import "context"

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (player display name, NPC name).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ChatRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type ChatRequest struct {
	// SystemPrompt is a high-priority instruction injected before the conversation
	// history. Providers without a dedicated system field should prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Tools is the set of tool definitions offered to the model. May be nil.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming chat completion. A chunk may
// carry text, tool calls, a finish signal, or any combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty when the
	// chunk carries only ToolCalls or a FinishReason.
	Text string

	// ToolCalls contains tool invocations the model is requesting. Streaming
	// providers may split a single call across chunks; callers accumulate by ID.
	ToolCalls []ToolCall

	// FinishReason is set on the final chunk. Common values are "stop", "length",
	// "tool_calls", "error", and "" (non-final chunk).
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly: when ctx is cancelled the
// returned channel must be closed as quickly as possible.
type Provider interface {
	// StreamChat sends req to the model and returns a read-only channel emitting
	// Chunk values as they arrive. The channel is closed by the implementation
	// when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors occurring
	// after the stream starts are surfaced as a Chunk with FinishReason "error";
	// the error return is non-nil only when the stream cannot be started.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
