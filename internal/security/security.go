// Package security provides the pre-turn screening functions run on every
// player utterance before it reaches the LLM: input sanitisation, a content
// moderation decision, and per-player rate limiting.
//
// All three surfaces are pure decision functions from the pipeline's point of
// view: they never mutate conversation state and never block on I/O in the
// default implementations. Alternative backends (a hosted moderation API, a
// distributed limiter) plug in behind the same interfaces.
package security

import (
	"strings"
	"unicode"
)

// maxUtteranceLen caps sanitised utterance length in runes. Anything longer is
// almost certainly not conversational speech.
const maxUtteranceLen = 2000

// Sanitizer normalises raw utterance text before screening and prompting.
type Sanitizer interface {
	// Sanitize returns a cleaned copy of text. It never returns an error; a
	// hostile input sanitises to an empty string.
	Sanitize(text string) string
}

// Decision is the moderation verdict for one utterance.
type Decision struct {
	// ExitRequested signals the conversation should be steered to an end.
	// The turn still runs so the model's own exit tool fires, but the security
	// context carries the forced flag for the duration of the turn.
	ExitRequested bool

	// Reason is a short human-readable explanation, empty when clean.
	Reason string
}

// Moderator screens utterance text for content that must end the conversation.
type Moderator interface {
	// Moderate evaluates text and returns a Decision.
	Moderate(text string) Decision
}

// TextSanitizer is the default Sanitizer: strips control characters, collapses
// internal whitespace runs, trims, and truncates to a sane length.
type TextSanitizer struct{}

// Compile-time check that TextSanitizer satisfies Sanitizer.
var _ Sanitizer = (*TextSanitizer)(nil)

// Sanitize implements Sanitizer.
func (TextSanitizer) Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true // leading whitespace is dropped
	count := 0
	for _, r := range text {
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			b.WriteRune(' ')
			lastSpace = true
		} else {
			b.WriteRune(r)
			lastSpace = false
		}
		count++
		if count >= maxUtteranceLen {
			break
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// KeywordModerator is the default Moderator: a case-insensitive substring scan
// against a configured block list. Matching utterances request a forced exit.
type KeywordModerator struct {
	// Blocklist holds lowercase phrases that trigger a forced exit.
	Blocklist []string
}

// Compile-time check that KeywordModerator satisfies Moderator.
var _ Moderator = (*KeywordModerator)(nil)

// Moderate implements Moderator.
func (m *KeywordModerator) Moderate(text string) Decision {
	lower := strings.ToLower(text)
	for _, phrase := range m.Blocklist {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, phrase) {
			return Decision{ExitRequested: true, Reason: "blocked content"}
		}
	}
	return Decision{}
}

// Context carries the screening outcome through one turn.
type Context struct {
	// SanitizedText is the cleaned utterance handed to the LLM.
	SanitizedText string

	// ExitRequested mirrors the moderation verdict for this turn.
	ExitRequested bool

	// Reason holds the moderation reason when ExitRequested is set.
	Reason string
}
