package tools

import (
	"encoding/json"
	"fmt"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

// ExitToolName is the name of the built-in conversation-control tool every
// NPC carries. Calls to it are intercepted by the turn controller instead of
// being routed through the [Registry].
const ExitToolName = "exit_conversation"

// ExitArgs are the arguments of an exit_conversation call.
type ExitArgs struct {
	// Reason is a short in-character explanation for ending the
	// conversation.
	Reason string `json:"reason"`

	// ForcedByModeration is true when the NPC ends the conversation because
	// of abusive or policy-violating player input. It triggers a cooldown
	// before the player may re-engage this NPC.
	ForcedByModeration bool `json:"forced_by_moderation"`
}

// ExitDefinition returns the tool descriptor for exit_conversation,
// presented to the LLM alongside the project tools.
func ExitDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ExitToolName,
		Description: "End the current conversation. Call this when the dialogue has reached " +
			"a natural conclusion, when the player says goodbye, or when the player is " +
			"abusive or repeatedly violates the rules (set forced_by_moderation in that case).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short in-character reason for ending the conversation.",
				},
				"forced_by_moderation": map[string]any{
					"type":        "boolean",
					"description": "True when the conversation is ended due to abusive or rule-violating player behaviour.",
				},
			},
			"required": []any{"reason"},
		},
	}
}

// ParseExitArgs decodes the JSON arguments of an exit_conversation call.
// Unknown fields are ignored; a missing reason is not an error.
func ParseExitArgs(raw string) (ExitArgs, error) {
	var args ExitArgs
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return ExitArgs{}, fmt.Errorf("tools: parse exit args: %w", err)
	}
	return args, nil
}
