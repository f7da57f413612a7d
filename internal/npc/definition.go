// Package npc provides storage and management for NPC definitions. A
// [Definition] is the full declarative configuration for a conversational
// NPC — persona, voice, knowledge scope, behaviour rules, and allowed tools —
// and can be loaded from YAML config files, stored in a PostgreSQL database,
// or both.
//
// The primary abstraction is the [Store] interface, which offers CRUD and
// list operations. [PostgresStore] stores definitions in a single
// npc_definitions table using JSONB columns for structured sub-fields;
// [MemStore] keeps them in memory for tests and single-process deployments.
//
// [BuildSystemPrompt] assembles the LLM system prompt for a definition, the
// single place where persona, rules, and resolved knowledge meet.
package npc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hollowmere/parley/pkg/provider/tts"
)

// Definition is the full declarative configuration for a conversational NPC.
// It can be loaded from YAML config files, stored in a database, or both.
type Definition struct {
	// ID is the unique identifier for this NPC definition.
	ID string `yaml:"id" json:"id"`

	// ProjectID groups NPCs that belong to the same game project.
	ProjectID string `yaml:"project_id" json:"project_id"`

	// Name is the NPC's in-world display name (e.g., "Ser Aldric the Warden").
	Name string `yaml:"name" json:"name"`

	// Persona is a free-text description of the NPC's character, speech
	// patterns, quirks, and motivations. It forms the body of the system
	// prompt.
	Persona string `yaml:"persona" json:"persona"`

	// Greeting is an optional opening line the NPC may use when a
	// conversation starts.
	Greeting string `yaml:"greeting" json:"greeting"`

	// Voice configures the TTS voice used for this NPC.
	Voice VoiceConfig `yaml:"voice" json:"voice"`

	// KnowledgeScope lists topics or domains the NPC is knowledgeable about.
	KnowledgeScope []string `yaml:"knowledge_scope" json:"knowledge_scope"`

	// BehaviorRules are hard constraints on the NPC's responses.
	BehaviorRules []string `yaml:"behavior_rules" json:"behavior_rules"`

	// Tools lists the tool names this NPC is allowed to invoke, in addition
	// to the built-in conversation-control tools every NPC carries.
	Tools []string `yaml:"tools" json:"tools"`

	// Attributes holds arbitrary key-value metadata for the NPC.
	Attributes map[string]any `yaml:"attributes" json:"attributes"`

	// CreatedAt is the time the definition was first persisted.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is the time the definition was last modified.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// VoiceConfig describes the TTS voice configuration for an NPC.
type VoiceConfig struct {
	// Provider identifies which TTS provider to use (e.g., "elevenlabs").
	Provider string `yaml:"provider" json:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id" json:"voice_id"`

	// PitchShift adjusts pitch in semitones (-10 to +10, 0 = no change).
	PitchShift float64 `yaml:"pitch_shift" json:"pitch_shift"`

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = normal speed).
	// A zero value means "use provider default".
	SpeedFactor float64 `yaml:"speed_factor" json:"speed_factor"`
}

// Validate checks the Definition for logical consistency. It returns a joined
// error describing every violation found, or nil if the definition is valid.
func (d *Definition) Validate() error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, fmt.Errorf("npc: id must not be empty"))
	}

	if d.Name == "" {
		errs = append(errs, fmt.Errorf("npc: name must not be empty"))
	}

	if d.Voice.SpeedFactor != 0 && (d.Voice.SpeedFactor < 0.5 || d.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("npc: voice speed_factor must be in [0.5, 2.0], got %g", d.Voice.SpeedFactor))
	}

	if d.Voice.PitchShift < -10 || d.Voice.PitchShift > 10 {
		errs = append(errs, fmt.Errorf("npc: voice pitch_shift must be in [-10, 10], got %g", d.Voice.PitchShift))
	}

	return errors.Join(errs...)
}

// VoiceProfile converts the definition's voice configuration into the runtime
// [tts.VoiceProfile] used when opening a synthesis session.
func (d *Definition) VoiceProfile() tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:          d.Voice.VoiceID,
		Name:        d.Name,
		Provider:    d.Voice.Provider,
		PitchShift:  d.Voice.PitchShift,
		SpeedFactor: d.Voice.SpeedFactor,
	}
}

// BuildSystemPrompt assembles the LLM system prompt for the definition.
// knowledge holds facts resolved for the current utterance (may be empty);
// they are appended as context the NPC may draw on but must not recite
// verbatim.
func BuildSystemPrompt(d *Definition, knowledge []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a character in a game world. Stay in character at all times.\n", d.Name)
	if d.Persona != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(d.Persona))
		b.WriteString("\n")
	}

	if len(d.KnowledgeScope) > 0 {
		b.WriteString("\nYou are knowledgeable about: ")
		b.WriteString(strings.Join(d.KnowledgeScope, ", "))
		b.WriteString(".\n")
	}

	if len(knowledge) > 0 {
		b.WriteString("\nRelevant facts you know (use naturally, do not recite):\n")
		for _, fact := range knowledge {
			fmt.Fprintf(&b, "- %s\n", fact)
		}
	}

	if len(d.BehaviorRules) > 0 {
		b.WriteString("\nHard rules you must follow:\n")
		for _, rule := range d.BehaviorRules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}

	b.WriteString("\nSpeak conversationally in short sentences suitable for voice playback.")
	b.WriteString(" If the player is abusive or the conversation should end, call the exit_conversation tool instead of describing the exit.")

	return b.String()
}
