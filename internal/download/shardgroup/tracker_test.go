package shardgroup

import (
	"testing"

	"github.com/mrwong99/gglib/internal/domain"
)

func meta(repo string) domain.GroupMetadata {
	return domain.GroupMetadata{RepoID: repo, Revision: "main", PrimaryFilename: "m-001.gguf"}
}

func TestTracker_CompletesOutOfOrder(t *testing.T) {
	tr := New()
	group := domain.ShardGroupID("g1")
	m := meta("demo/big")

	if c, err := tr.OnShardDone(group, 2, "m-003.gguf", 3, m); err != nil || c != nil {
		t.Fatalf("shard 2: complete=%v err=%v, want not yet complete", c, err)
	}
	if c, err := tr.OnShardDone(group, 0, "m-001.gguf", 3, m); err != nil || c != nil {
		t.Fatalf("shard 0: complete=%v err=%v, want not yet complete", c, err)
	}
	if !tr.HasOpenGroups() {
		t.Error("expected an open group before the final shard lands")
	}

	complete, err := tr.OnShardDone(group, 1, "m-002.gguf", 3, m)
	if err != nil {
		t.Fatalf("shard 1: %v", err)
	}
	if complete == nil {
		t.Fatal("expected GroupComplete once every index is filled")
	}
	want := []string{"m-001.gguf", "m-002.gguf", "m-003.gguf"}
	for i, p := range want {
		if complete.OrderedPaths[i] != p {
			t.Errorf("OrderedPaths[%d] = %q, want %q", i, complete.OrderedPaths[i], p)
		}
	}
	if tr.HasOpenGroups() {
		t.Error("expected the group to be removed once complete")
	}
}

func TestTracker_DuplicateShardIsIdempotent(t *testing.T) {
	tr := New()
	group := domain.ShardGroupID("g1")
	m := meta("demo/big")

	tr.OnShardDone(group, 0, "first.gguf", 2, m)
	tr.OnShardDone(group, 0, "second.gguf", 2, m)

	complete, err := tr.OnShardDone(group, 1, "m-002.gguf", 2, m)
	if err != nil {
		t.Fatalf("OnShardDone: %v", err)
	}
	if complete == nil {
		t.Fatal("expected completion")
	}
	if complete.OrderedPaths[0] != "first.gguf" {
		t.Errorf("OrderedPaths[0] = %q, want the first-reported path to win", complete.OrderedPaths[0])
	}
}

func TestTracker_OnGroupFailedRemovesUnconditionally(t *testing.T) {
	tr := New()
	group := domain.ShardGroupID("g1")
	tr.OnShardDone(group, 0, "m-001.gguf", 3, meta("demo/big"))

	tr.OnGroupFailed(group)
	if tr.HasOpenGroups() {
		t.Error("expected no open groups after OnGroupFailed")
	}

	// Idempotent: failing an already-absent group is a no-op, not a panic.
	tr.OnGroupFailed(group)
}

func TestTracker_InconsistentMetadataErrors(t *testing.T) {
	tr := New()
	group := domain.ShardGroupID("g1")
	tr.OnShardDone(group, 0, "m-001.gguf", 2, meta("demo/big"))

	_, err := tr.OnShardDone(group, 1, "m-002.gguf", 2, meta("demo/other"))
	if err == nil {
		t.Fatal("expected an error for mismatched group metadata")
	}
}
