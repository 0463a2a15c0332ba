package mcp

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestResolveExecutable_AbsolutePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission-bit semantics differ on windows")
	}
	dir := t.TempDir()
	path := writeExecutable(t, dir, "mytool")

	resolved, attempts, err := resolveExecutable(path, nil)
	if err != nil {
		t.Fatalf("resolveExecutable: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if len(attempts) != 1 || attempts[0].Outcome != 0 {
		t.Errorf("attempts = %+v, want single Ok attempt", attempts)
	}
}

func TestResolveExecutable_ExtraDirs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission-bit semantics differ on windows")
	}
	dir := t.TempDir()
	writeExecutable(t, dir, "custom-tool")

	resolved, attempts, err := resolveExecutable("custom-tool", []string{dir})
	if err != nil {
		t.Fatalf("resolveExecutable: %v", err)
	}
	if filepath.Dir(resolved) != dir {
		t.Errorf("resolved = %q, want directory %q", resolved, dir)
	}
	if len(attempts) == 0 {
		t.Error("expected at least one attempt to be recorded")
	}
}

func TestResolveExecutable_NotFound(t *testing.T) {
	_, attempts, err := resolveExecutable("definitely-not-a-real-command-xyz", nil)
	if err == nil {
		t.Fatal("expected an error for an unresolvable command")
	}
	if len(attempts) == 0 {
		t.Error("expected failed attempts to be recorded for diagnostics")
	}
}

func TestRevalidate_PrefersCachedPathWhenStillValid(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission-bit semantics differ on windows")
	}
	dir := t.TempDir()
	path := writeExecutable(t, dir, "cached-tool")

	resolved, attempts, err := revalidate(path, nil, "cached-tool")
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want cached path %q", resolved, path)
	}
	if len(attempts) != 1 {
		t.Errorf("expected revalidation to short-circuit with one attempt, got %d", len(attempts))
	}
}

func TestRevalidate_FallsBackWhenCachedPathGone(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission-bit semantics differ on windows")
	}
	dir := t.TempDir()
	stale := filepath.Join(dir, "gone")
	fresh := t.TempDir()
	writeExecutable(t, fresh, "cached-tool")

	resolved, _, err := revalidate(stale, []string{fresh}, "cached-tool")
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if filepath.Dir(resolved) != fresh {
		t.Errorf("resolved = %q, want fresh directory %q", resolved, fresh)
	}
}
