package proxy

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSynthesizeDurations(t *testing.T) {
	total, load, promptEval, eval := synthesizeDurations(4 * time.Second)
	if total != (4 * time.Second).Nanoseconds() {
		t.Errorf("total = %d, want %d", total, (4 * time.Second).Nanoseconds())
	}
	if load != 0 {
		t.Errorf("load = %d, want 0 (model already resident)", load)
	}
	if promptEval+eval != total {
		t.Errorf("promptEval(%d) + eval(%d) != total(%d)", promptEval, eval, total)
	}
	if promptEval != total/4 {
		t.Errorf("promptEval = %d, want 25%% of total (%d)", promptEval, total/4)
	}
}

func TestParseUpstreamCompletion(t *testing.T) {
	raw := []byte(`{
		"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3}
	}`)
	got, err := parseUpstreamCompletion(raw)
	if err != nil {
		t.Fatalf("parseUpstreamCompletion: %v", err)
	}
	if got.Content != "hi there" || got.FinishReason != "stop" {
		t.Errorf("got = %+v", got)
	}
	if got.PromptTokens != 10 || got.EvalTokens != 3 {
		t.Errorf("token counts = %+v", got)
	}
}

func TestParseUpstreamCompletion_DefaultsFinishReason(t *testing.T) {
	raw := []byte(`{"choices": [{"message": {"content": "hi"}, "finish_reason": ""}]}`)
	got, err := parseUpstreamCompletion(raw)
	if err != nil {
		t.Fatalf("parseUpstreamCompletion: %v", err)
	}
	if got.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", got.FinishReason)
	}
}

func TestParseUpstreamCompletion_MalformedJSON(t *testing.T) {
	if _, err := parseUpstreamCompletion([]byte("not json")); err == nil {
		t.Error("expected an error for malformed upstream JSON")
	}
}

func TestApplyOllamaOptions_NumPredict(t *testing.T) {
	cases := []struct {
		name       string
		numPredict *int
		wantNil    bool
		wantValue  int
	}{
		{"positive is forwarded", intPtr(128), false, 128},
		{"unlimited (-1) is omitted", intPtr(-1), true, 0},
		{"fill-context (-2) is omitted", intPtr(-2), true, 0},
		{"zero is omitted", intPtr(0), true, 0},
		{"unset is omitted", nil, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &ChatCompletionRequest{}
			applyOllamaOptions(req, OllamaOptions{NumPredict: tc.numPredict})
			if tc.wantNil {
				if req.MaxTokens != nil {
					t.Errorf("MaxTokens = %d, want nil", *req.MaxTokens)
				}
				return
			}
			if req.MaxTokens == nil || *req.MaxTokens != tc.wantValue {
				t.Errorf("MaxTokens = %v, want %d", req.MaxTokens, tc.wantValue)
			}
		})
	}
}

func TestParamCountLabel(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, ""},
		{-1, ""},
		{350_000_000, "350.0M"},
		{7_000_000_000, "7.0B"},
		{500, "500"},
	}
	for _, tc := range cases {
		if got := paramCountLabel(tc.n); got != tc.want {
			t.Errorf("paramCountLabel(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestSyntheticDigest_StableForSameInputs(t *testing.T) {
	a := syntheticDigest("llama3", 7)
	b := syntheticDigest("llama3", 7)
	if a != b {
		t.Errorf("syntheticDigest is not stable: %q != %q", a, b)
	}
	if c := syntheticDigest("mistral", 7); c == a {
		t.Error("different model names produced the same digest")
	}
}

func TestApplyOllamaOptions_ForwardsNonStandardFields(t *testing.T) {
	req := &ChatCompletionRequest{}
	applyOllamaOptions(req, OllamaOptions{
		TopK:          intPtr(40),
		Seed:          intPtr(42),
		RepeatPenalty: floatPtr(1.1),
	})
	if req.TopK == nil || *req.TopK != 40 {
		t.Errorf("TopK = %v, want 40", req.TopK)
	}
	if req.Seed == nil || *req.Seed != 42 {
		t.Errorf("Seed = %v, want 42", req.Seed)
	}
	if req.RepeatPenalty == nil || *req.RepeatPenalty != 1.1 {
		t.Errorf("RepeatPenalty = %v, want 1.1", req.RepeatPenalty)
	}
}

func TestMarshalWithFormatAndUsage_SerializesNonStandardFields(t *testing.T) {
	req := ChatCompletionRequest{
		Model:         "llama3",
		TopK:          intPtr(40),
		Seed:          intPtr(42),
		RepeatPenalty: floatPtr(1.1),
	}
	raw := marshalWithFormatAndUsage(req, json.RawMessage(`""`), false)

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["top_k"] != float64(40) {
		t.Errorf("top_k = %v, want 40", decoded["top_k"])
	}
	if decoded["seed"] != float64(42) {
		t.Errorf("seed = %v, want 42", decoded["seed"])
	}
	if decoded["repeat_penalty"] != 1.1 {
		t.Errorf("repeat_penalty = %v, want 1.1", decoded["repeat_penalty"])
	}
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }
