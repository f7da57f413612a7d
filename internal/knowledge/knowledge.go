// Package knowledge resolves the facts an NPC may draw on when answering a
// specific utterance. Resolution happens once per turn, before the LLM call,
// so the system prompt carries only facts relevant to what the player just
// said.
//
// Two resolvers are provided: [StaticResolver] matches facts by keyword from
// an in-memory table (suitable for YAML-defined NPCs), and
// [SemanticResolver] performs pgvector nearest-neighbour search over an
// embedded fact table.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Fact is a single piece of NPC knowledge.
type Fact struct {
	// NPCID scopes the fact to one NPC.
	NPCID string `yaml:"npc_id" json:"npc_id"`

	// Content is the fact text, phrased so it can be injected into a system
	// prompt directly.
	Content string `yaml:"content" json:"content"`

	// Keywords trigger the fact for [StaticResolver]. Matching is
	// case-insensitive substring containment against the utterance.
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Resolver finds the facts relevant to an utterance.
type Resolver interface {
	// Resolve returns up to limit facts scoped to npcID that are relevant to
	// the utterance, most relevant first. An empty result is not an error.
	Resolve(ctx context.Context, npcID, utterance string, limit int) ([]string, error)
}

// StaticResolver is an in-memory keyword-matching [Resolver].
// Safe for concurrent use.
type StaticResolver struct {
	mu    sync.RWMutex
	facts map[string][]Fact // keyed by NPC ID
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates a resolver pre-loaded with the given facts.
func NewStaticResolver(facts []Fact) *StaticResolver {
	r := &StaticResolver{facts: make(map[string][]Fact)}
	for _, f := range facts {
		r.facts[f.NPCID] = append(r.facts[f.NPCID], f)
	}
	return r
}

// Add appends facts to the resolver.
func (r *StaticResolver) Add(facts ...Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range facts {
		r.facts[f.NPCID] = append(r.facts[f.NPCID], f)
	}
}

// Resolve implements [Resolver]. A fact matches when any of its keywords
// appears in the lowercased utterance; facts with more keyword hits rank
// higher. Facts with no keywords never match.
func (r *StaticResolver) Resolve(_ context.Context, npcID, utterance string, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(utterance)

	type scored struct {
		content string
		hits    int
	}
	var matches []scored
	for _, f := range r.facts[npcID] {
		hits := 0
		for _, kw := range f.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{content: f.Content, hits: hits})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.content
	}
	return out, nil
}
