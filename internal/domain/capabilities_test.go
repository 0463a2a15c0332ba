package domain

import (
	"reflect"
	"testing"
)

func TestTransformMessagesForCapabilities_EmptyPassesThrough(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}
	out := TransformMessagesForCapabilities(msgs, 0)
	if len(out) != len(msgs) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(msgs))
	}
	for i := range msgs {
		if !reflect.DeepEqual(out[i], msgs[i]) {
			t.Errorf("out[%d] = %+v, want unchanged %+v", i, out[i], msgs[i])
		}
	}
}

func TestTransformMessagesForCapabilities_SystemRoleConversion(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}
	out := TransformMessagesForCapabilities(msgs, RequiresStrictTurns)
	if out[0].Role != "user" {
		t.Fatalf("out[0].Role = %q, want user", out[0].Role)
	}
	if out[0].Content != "[System]: be nice" {
		t.Errorf("out[0].Content = %q, want prefixed", out[0].Content)
	}
}

func TestTransformMessagesForCapabilities_SystemRolePreservedWhenSupported(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "system", Content: "be nice"},
	}
	out := TransformMessagesForCapabilities(msgs, SupportsSystemRole)
	if out[0].Role != "system" {
		t.Fatalf("out[0].Role = %q, want system", out[0].Role)
	}
}

func TestTransformMessagesForCapabilities_StrictTurnsMerge(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "assistant", Content: "d"},
		{Role: "user", Content: "e"},
	}
	out := TransformMessagesForCapabilities(msgs, RequiresStrictTurns)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3: %+v", len(out), out)
	}
	if out[0].Content != "a\n\nb" {
		t.Errorf("out[0].Content = %q, want merged", out[0].Content)
	}
	if out[1].Content != "c\n\nd" {
		t.Errorf("out[1].Content = %q, want merged", out[1].Content)
	}
	if out[2].Content != "e" {
		t.Errorf("out[2].Content = %q, want e", out[2].Content)
	}

	for i := 1; i < len(out); i++ {
		if out[i].Role == out[i-1].Role {
			t.Errorf("consecutive messages at %d/%d share role %q", i-1, i, out[i].Role)
		}
	}
}

func TestTransformMessagesForCapabilities_NeverMergesTool(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "tool", Content: "result 1"},
		{Role: "tool", Content: "result 2"},
	}
	out := TransformMessagesForCapabilities(msgs, RequiresStrictTurns)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (tool messages never merge)", len(out))
	}
}

func TestTransformMessagesForCapabilities_NeverMergesToolCallBearing(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "assistant", Content: "a", ToolCalls: []byte(`[{"id":"1"}]`)},
		{Role: "assistant", Content: "b"},
	}
	out := TransformMessagesForCapabilities(msgs, RequiresStrictTurns)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (tool_calls message must not merge)", len(out))
	}
}

func TestCapabilities_JSONRoundTrip(t *testing.T) {
	for _, c := range []Capabilities{0, SupportsSystemRole, RequiresStrictTurns | SupportsToolCalls, SupportsReasoning} {
		data, err := c.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v): %v", c, err)
		}
		var got Capabilities
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", data, err)
		}
		if got != c {
			t.Errorf("round trip = %v, want %v", got, c)
		}
	}
}

func TestInferFromChatTemplate_NilDefaultsToOpenAIStyle(t *testing.T) {
	caps := InferFromChatTemplate(nil)
	if !caps.Has(SupportsSystemRole) {
		t.Errorf("nil template should default to SupportsSystemRole")
	}
}

func TestInferFromChatTemplate_MistralForbidsSystem(t *testing.T) {
	tmpl := `{% if messages[0]['role'] == 'system' %}{{ raise_exception('System role not supported') }}{% endif %}`
	caps := InferFromChatTemplate(&tmpl)
	if caps.Has(SupportsSystemRole) {
		t.Errorf("template forbidding system role must not set SupportsSystemRole")
	}
}

func TestInferFromChatTemplate_StrictAlternation(t *testing.T) {
	tmpl := `{% set ns = namespace(index=0) %}{% if ns.index % 2 != 0 %}{{ raise_exception('alternation required') }}{% endif %}`
	caps := InferFromChatTemplate(&tmpl)
	if !caps.Has(RequiresStrictTurns) {
		t.Errorf("alternation-checking template must set RequiresStrictTurns")
	}
}
