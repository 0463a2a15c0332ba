package catalog_test

import (
	"path/filepath"
	"testing"

	"github.com/mrwong99/gglib/internal/catalog"
	"github.com/mrwong99/gglib/internal/domain"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gglib.db")
	store, err := catalog.Open(t.Context(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	rec := domain.ModelRecord{
		Name:          "demo-q4",
		Path:          "/models/demo-q4.gguf",
		ParamCount:    7_000_000_000,
		Architecture:  "llama",
		Quantization:  "Q4_K_M",
		ContextLength: 4096,
		Fingerprint:   "demo@main:demo.gguf=oid-1",
		Capabilities:  domain.SupportsSystemRole | domain.SupportsToolCalls,
		Tags:          []string{"chat", "instruct"},
	}

	id, err := store.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != rec.Name || got.Path != rec.Path || got.Fingerprint != rec.Fingerprint {
		t.Errorf("Get = %+v, want fields to match %+v", got, rec)
	}
	if !got.Capabilities.Has(domain.SupportsToolCalls) {
		t.Error("expected SupportsToolCalls to round-trip")
	}
	if len(got.Tags) != 2 || got.Tags[0] != "chat" {
		t.Errorf("Tags = %v, want [chat instruct]", got.Tags)
	}

	byName, err := store.GetByName(ctx, "demo-q4")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if byName.ID != id {
		t.Errorf("GetByName id = %d, want %d", byName.ID, id)
	}
}

func TestStore_InsertRejectsDuplicateName(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	rec := domain.ModelRecord{Name: "dup", Path: "/models/a.gguf"}
	if _, err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := store.Insert(ctx, rec)
	if domain.KindOf(err) != domain.KindValidationFailed {
		t.Errorf("err kind = %v, want KindValidationFailed", domain.KindOf(err))
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(t.Context(), 999)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("err kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestStore_ListOrdersById(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	store.Insert(ctx, domain.ModelRecord{Name: "a", Path: "/a.gguf"})
	store.Insert(ctx, domain.ModelRecord{Name: "b", Path: "/b.gguf"})

	models, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) != 2 || models[0].Name != "a" || models[1].Name != "b" {
		t.Errorf("List = %+v, want [a b] in order", models)
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	id, _ := store.Insert(ctx, domain.ModelRecord{Name: "gone", Path: "/gone.gguf"})

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if _, err := store.Get(ctx, id); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("Get after Delete: err kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestStore_UpdateUnknownIdIsNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.Update(t.Context(), domain.ModelRecord{ID: 42, Name: "ghost", Path: "/ghost.gguf"})
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("err kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestStore_ResolveForLaunch(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	id, _ := store.Insert(ctx, domain.ModelRecord{Name: "launchable", Path: "/models/launchable.gguf"})

	spec, err := store.ResolveForLaunch(ctx, "launchable")
	if err != nil {
		t.Fatalf("ResolveForLaunch: %v", err)
	}
	if spec.ModelID != id || spec.Path != "/models/launchable.gguf" {
		t.Errorf("ResolveForLaunch = %+v, want ModelID=%d Path=/models/launchable.gguf", spec, id)
	}

	_, err = store.ResolveForLaunch(ctx, "missing")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("err kind = %v, want KindNotFound", domain.KindOf(err))
	}
}

func TestStore_CompletionRecordAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	key := domain.CompletionKey{RepoID: "demo/repo", Revision: "main", Filename: "model.gguf", Quantization: "Q4_K_M"}

	if _, found, err := store.LookupCompletion(ctx, key); err != nil || found {
		t.Fatalf("LookupCompletion before record: found=%v err=%v", found, err)
	}

	if err := store.RecordCompletion(ctx, key, "/models/model.gguf"); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	path, found, err := store.LookupCompletion(ctx, key)
	if err != nil {
		t.Fatalf("LookupCompletion: %v", err)
	}
	if !found || path != "/models/model.gguf" {
		t.Errorf("LookupCompletion = (%q, %v), want (/models/model.gguf, true)", path, found)
	}
}

func TestStore_RecordCompletionOverwritesPath(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	key := domain.CompletionKey{RepoID: "demo/repo", Revision: "main", Filename: "model.gguf"}

	store.RecordCompletion(ctx, key, "/old/path.gguf")
	store.RecordCompletion(ctx, key, "/new/path.gguf")

	path, found, err := store.LookupCompletion(ctx, key)
	if err != nil || !found {
		t.Fatalf("LookupCompletion: path=%q found=%v err=%v", path, found, err)
	}
	if path != "/new/path.gguf" {
		t.Errorf("path = %q, want the overwritten /new/path.gguf", path)
	}
}
