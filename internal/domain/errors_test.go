package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := WrapError(KindNotFound, "model 42 not found", fmt.Errorf("row missing"))
	if !errors.Is(err, NewError(KindNotFound, "")) {
		t.Fatalf("errors.Is should match on Kind alone")
	}
	if errors.Is(err, NewError(KindValidationFailed, "")) {
		t.Fatalf("errors.Is should not match a different Kind")
	}
}

func TestError_KindOf(t *testing.T) {
	if KindOf(nil) != KindInternal {
		t.Errorf("KindOf(nil) = %v, want KindInternal", KindOf(nil))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("KindOf(plain error) = %v, want KindInternal", KindOf(errors.New("plain")))
	}
	wrapped := fmt.Errorf("wrap: %w", NewError(KindQueueFull, "full"))
	if KindOf(wrapped) != KindQueueFull {
		t.Errorf("KindOf(wrapped) = %v, want KindQueueFull", KindOf(wrapped))
	}
}

func TestError_WithField(t *testing.T) {
	err := NewError(KindSpawnFailed, "binary missing").
		WithField("expected_path", "/usr/local/bin/llama-server").
		WithField("suggested_command", "brew install llama.cpp")
	if err.Fields["expected_path"] != "/usr/local/bin/llama-server" {
		t.Errorf("expected_path field not set")
	}
	if err.Fields["suggested_command"] != "brew install llama.cpp" {
		t.Errorf("suggested_command field not set")
	}
}
