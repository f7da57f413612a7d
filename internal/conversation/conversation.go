// Package conversation holds the durable conversation record: who is talking
// to whom, the accumulated message history, and a version counter that lets a
// reconnecting client detect how much of the transcript it has already seen.
//
// A record outlives the transport. When a WebSocket drops mid-conversation
// the record stays in the [Store]; a later session with the same conversation
// ID resumes exactly where it left off and receives a sync of the history.
package conversation

import (
	"time"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

// Record is the durable state of one player↔NPC conversation.
type Record struct {
	// ID is the unique conversation identifier, chosen by the client at
	// session init so reconnects can resume the same record.
	ID string `json:"id"`

	// ProjectID, PlayerID and NPCID identify the participants. Together they
	// form the cooldown key when the conversation is force-ended.
	ProjectID string `json:"project_id"`
	PlayerID  string `json:"player_id"`
	NPCID     string `json:"npc_id"`

	// History is the full message transcript in LLM form: user utterances,
	// assistant replies, tool calls and tool results, in order.
	History []llm.Message `json:"history"`

	// Version increments on every history mutation. Clients compare it
	// against the version in a sync frame to detect missed turns.
	Version int64 `json:"version"`

	// StartedAt is the time the record was first persisted.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is the time of the last history mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds messages to the history and bumps the version counter.
func (r *Record) Append(msgs ...llm.Message) {
	if len(msgs) == 0 {
		return
	}
	r.History = append(r.History, msgs...)
	r.Version++
}

// Clone returns a deep copy of the record. The history slice is copied so the
// caller may mutate the clone freely.
func (r *Record) Clone() *Record {
	c := *r
	c.History = make([]llm.Message, len(r.History))
	copy(c.History, r.History)
	return &c
}
