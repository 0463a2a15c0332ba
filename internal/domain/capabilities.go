package domain

import (
	"encoding/json"
	"strings"
)

// Capabilities is a fixed four-flag bit-set describing what prompt
// transformations a model needs before inference. Absence of a flag means
// "unknown", not "forbidden"; the empty set disables all transformations
// (pass-through).
type Capabilities uint8

const (
	// SupportsSystemRole means the model's chat template accepts a
	// "system" role message without rewriting.
	SupportsSystemRole Capabilities = 1 << iota
	// RequiresStrictTurns means the model's chat template requires
	// alternating user/assistant turns; consecutive same-role messages
	// must be merged before prompting.
	RequiresStrictTurns
	// SupportsToolCalls means the model can emit and consume tool_calls.
	SupportsToolCalls
	// SupportsReasoning means the model emits a reasoning/thinking block
	// that callers may want to display or strip separately.
	SupportsReasoning
)

// Has reports whether every flag in want is set.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// IsEmpty reports whether no capability is known, in which case
// TransformMessages must pass messages through unchanged.
func (c Capabilities) IsEmpty() bool { return c == 0 }

func (c Capabilities) String() string {
	if c == 0 {
		return "unknown"
	}
	var parts []string
	if c.Has(SupportsSystemRole) {
		parts = append(parts, "system-role")
	}
	if c.Has(RequiresStrictTurns) {
		parts = append(parts, "strict-turns")
	}
	if c.Has(SupportsToolCalls) {
		parts = append(parts, "tool-calls")
	}
	if c.Has(SupportsReasoning) {
		parts = append(parts, "reasoning")
	}
	return strings.Join(parts, "|")
}

// MarshalJSON encodes the raw bitmask so capabilities round-trip as a small
// integer rather than as a derived string.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(c))
}

func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var raw uint8
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Capabilities(raw)
	return nil
}

// mistralForbidsSystemMarkers are substrings of Mistral-family chat
// templates' Jinja error message for a leading system role, used as a
// heuristic signal that the template rejects "system" entirely.
var mistralForbidsSystemMarkers = []string{
	"System role not supported",
	"Only user and assistant roles are supported",
}

// mistralStrictAlternationMarkers are substrings of Jinja templates that
// assert strict user/assistant alternation via an index-parity check.
var mistralStrictAlternationMarkers = []string{
	"ns.index % 2",
	"loop.index0 % 2",
}

// InferFromChatTemplate derives Capabilities from a model's raw Jinja chat
// template source using substring heuristics against known template
// families. A nil/empty template defaults to OpenAI-style behavior
// (SupportsSystemRole set, nothing else known).
func InferFromChatTemplate(template *string) Capabilities {
	if template == nil || *template == "" {
		return SupportsSystemRole
	}
	t := *template

	var caps Capabilities
	forbidsSystem := containsAny(t, mistralForbidsSystemMarkers)
	if !forbidsSystem {
		caps |= SupportsSystemRole
	}
	if containsAny(t, mistralStrictAlternationMarkers) {
		caps |= RequiresStrictTurns
	}
	if strings.Contains(t, "tool_calls") || strings.Contains(t, "tools") {
		caps |= SupportsToolCalls
	}
	if strings.Contains(t, "reasoning") || strings.Contains(t, "<think>") {
		caps |= SupportsReasoning
	}
	return caps
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ChatMessage is the minimal message shape TransformMessagesForCapabilities
// operates over: role, optional content, and an opaque tool-calls payload
// whose mere presence (non-empty) excludes the message from merging.
type ChatMessage struct {
	Role      string
	Content   string
	ToolCalls json.RawMessage
}

// TransformMessagesForCapabilities applies the capability-aware request
// transformation described for the swapping proxy:
//
//  1. If caps is empty (unknown), messages pass through unchanged.
//  2. If the model lacks SupportsSystemRole, system messages become user
//     messages with a "[System]: " content prefix.
//  3. If the model has RequiresStrictTurns, consecutive messages with the
//     same role are merged (content joined with "\n\n"). Only "user" and
//     "assistant" roles are ever merged; "tool" messages and any message
//     carrying a tool_calls payload are never merged into a neighbor.
//
// The input slice is not mutated; a new slice is returned.
func TransformMessagesForCapabilities(messages []ChatMessage, caps Capabilities) []ChatMessage {
	if caps.IsEmpty() || len(messages) == 0 {
		return messages
	}

	out := make([]ChatMessage, len(messages))
	copy(out, messages)

	if !caps.Has(SupportsSystemRole) {
		for i := range out {
			if out[i].Role == "system" {
				out[i] = ChatMessage{
					Role:    "user",
					Content: "[System]: " + out[i].Content,
				}
			}
		}
	}

	if !caps.Has(RequiresStrictTurns) {
		return out
	}

	merged := make([]ChatMessage, 0, len(out))
	for _, m := range out {
		if canMergeWithPrevious(merged, m) {
			prev := &merged[len(merged)-1]
			prev.Content = prev.Content + "\n\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

func canMergeWithPrevious(acc []ChatMessage, m ChatMessage) bool {
	if len(acc) == 0 {
		return false
	}
	if m.Role != "user" && m.Role != "assistant" {
		return false
	}
	if len(m.ToolCalls) > 0 {
		return false
	}
	prev := acc[len(acc)-1]
	if len(prev.ToolCalls) > 0 {
		return false
	}
	return prev.Role == m.Role
}
