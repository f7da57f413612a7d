package llm

// ToolCallAccumulator reassembles tool calls that streaming backends split
// across deltas. Fragments arrive keyed by the backend's call index; the ID
// and name land on the first fragment while arguments trickle in piecewise.
// The zero value is ready to use.
type ToolCallAccumulator struct {
	calls []ToolCall
}

// Merge folds one fragment into the call at index. Missing intermediate
// indices are tolerated; empty ID or name fields never overwrite earlier
// fragments.
func (a *ToolCallAccumulator) Merge(index int, id, name, argsFragment string) {
	for len(a.calls) <= index {
		a.calls = append(a.calls, ToolCall{})
	}
	c := &a.calls[index]
	if id != "" {
		c.ID = id
	}
	if name != "" {
		c.Name = name
	}
	c.Arguments += argsFragment
}

// Empty reports whether no fragments have been merged.
func (a *ToolCallAccumulator) Empty() bool { return len(a.calls) == 0 }

// Calls returns the reassembled tool calls in index order, or nil when the
// stream carried none.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}
