package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/embermind/engram/memory"
	"github.com/embermind/engram/memory/index/flat"
	"github.com/embermind/engram/memory/store/jsonfile"
)

// stubExtractor returns canned drafts or a canned error.
type stubExtractor struct {
	drafts []memory.Draft
	err    error
}

func (s *stubExtractor) Extract(ctx context.Context, turns []memory.Turn) ([]memory.Draft, error) {
	return s.drafts, s.err
}

func newTestManager(t *testing.T, opts ...memory.Option) (*memory.Manager, *jsonfile.Store, *flat.Index) {
	t.Helper()
	store, index := newBackends(t)
	mgr, err := memory.NewManager(store, index, newVocabEmbedder(), opts...)
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	return mgr, store, index
}

func TestManagerAdd(t *testing.T) {
	ctx := context.Background()
	mgr, store, index := newTestManager(t)

	id, err := mgr.Add(ctx, memory.Draft{
		Content:  "Team decided to use TypeScript for frontend",
		Category: memory.CategoryDecision,
		Metadata: map[string]string{"team": "web"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	rec, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.AccessCount != 0 || rec.Timestamp.IsZero() {
		t.Errorf("unexpected record state: %+v", rec)
	}

	vec, err := index.Get(id)
	if err != nil {
		t.Fatalf("expected an embedding for %s: %v", id, err)
	}
	if len(vec) != index.Dimension() {
		t.Errorf("embedding has %d dimensions, index wants %d", len(vec), index.Dimension())
	}
}

func TestManagerAddRejectsInvalidCategory(t *testing.T) {
	ctx := context.Background()
	mgr, store, index := newTestManager(t)

	_, err := mgr.Add(ctx, memory.Draft{Content: "something", Category: "vibe"})
	if !errors.Is(err, memory.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if store.Len() != 0 || index.Len() != 0 {
		t.Error("rejected draft left state behind")
	}
}

func TestManagerAddEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	store, index := newBackends(t)
	mgr, err := memory.NewManager(store, index, failEmbedder{})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	_, err = mgr.Add(ctx, memory.Draft{Content: "unembeddable", Category: memory.CategoryLearning})
	if !errors.Is(err, memory.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if store.Len() != 0 || index.Len() != 0 {
		t.Error("failed add left state behind")
	}
}

func TestManagerRemove(t *testing.T) {
	ctx := context.Background()
	mgr, store, index := newTestManager(t)

	id, err := mgr.Add(ctx, memory.Draft{Content: "to be removed", Category: memory.CategoryPattern})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := mgr.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(id); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound from store, got %v", err)
	}
	if _, err := index.Get(id); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound from index, got %v", err)
	}

	// Removing an absent id is a logged no-op.
	if err := mgr.Remove(id); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}
}

func TestManagerCapacityScenario(t *testing.T) {
	ctx := context.Background()
	const maxRecords = 50
	mgr, store, _ := newTestManager(t, memory.WithConfig(&memory.Config{RotationCap: maxRecords}))

	hotContent := "whiskey xray yankee zulu"
	hotID, err := mgr.Add(ctx, memory.Draft{Content: hotContent, Category: memory.CategoryLearning})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < maxRecords-1; i++ {
		if _, err := mgr.Add(ctx, memory.Draft{Content: filler(i), Category: memory.CategoryPattern}); err != nil {
			t.Fatalf("add filler %d: %v", i, err)
		}
		if store.Len() > maxRecords {
			t.Fatalf("cap exceeded after add %d: %d", i, store.Len())
		}
	}

	// Seed the hot memory's access count through real search hits.
	for i := 0; i < 25; i++ {
		results, err := mgr.Search(ctx, hotContent, 1, nil)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) != 1 || results[0].ID != hotID {
			t.Fatalf("expected the hot memory as the only hit, got %+v", results)
		}
	}

	// The insert over the cap triggers eviction; the hot memory survives.
	if _, err := mgr.Add(ctx, memory.Draft{Content: "one over the cap", Category: memory.CategoryPattern}); err != nil {
		t.Fatalf("overflow add: %v", err)
	}
	if store.Len() != maxRecords {
		t.Fatalf("expected %d records after eviction, got %d", maxRecords, store.Len())
	}
	rec, err := store.Get(hotID)
	if err != nil {
		t.Fatalf("the high-access memory was evicted: %v", err)
	}
	if rec.AccessCount != 25 {
		t.Errorf("expected access count 25, got %d", rec.AccessCount)
	}
}

func TestManagerCapacityScenarioFullScale(t *testing.T) {
	if testing.Short() {
		t.Skip("full-scale capacity run writes the store document thousands of times")
	}

	ctx := context.Background()
	const maxRecords = 1000
	mgr, store, _ := newTestManager(t, memory.WithConfig(&memory.Config{RotationCap: maxRecords}))

	hotContent := "whiskey xray yankee zulu"
	hotID, err := mgr.Add(ctx, memory.Draft{Content: hotContent, Category: memory.CategoryLearning})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < maxRecords-1; i++ {
		if _, err := mgr.Add(ctx, memory.Draft{Content: filler(i), Category: memory.CategoryPattern}); err != nil {
			t.Fatalf("add filler %d: %v", i, err)
		}
	}

	for i := 0; i < 500; i++ {
		results, err := mgr.Search(ctx, hotContent, 1, nil)
		if err != nil {
			t.Fatalf("search #%d: %v", i+1, err)
		}
		if len(results) != 1 || results[0].ID != hotID {
			t.Fatalf("search #%d: expected the hot memory, got %+v", i+1, results)
		}
	}

	if _, err := mgr.Add(ctx, memory.Draft{Content: "one over the cap", Category: memory.CategoryPattern}); err != nil {
		t.Fatalf("overflow add: %v", err)
	}
	if store.Len() != maxRecords {
		t.Fatalf("expected %d records after eviction, got %d", maxRecords, store.Len())
	}
	rec, err := store.Get(hotID)
	if err != nil {
		t.Fatalf("the high-access memory was evicted: %v", err)
	}
	if rec.AccessCount != 500 {
		t.Errorf("expected access count 500, got %d", rec.AccessCount)
	}
}

func filler(i int) string {
	letters := []string{"one", "two", "three", "four", "five", "six", "seven"}
	return "filler " + letters[i%len(letters)] + " " + letters[(i/7)%len(letters)]
}

func TestManagerBijectionAfterMixedOps(t *testing.T) {
	ctx := context.Background()
	mgr, store, index := newTestManager(t, memory.WithConfig(&memory.Config{RotationCap: 5}))

	var ids []string
	for i := 0; i < 12; i++ {
		id, err := mgr.Add(ctx, memory.Draft{Content: filler(i), Category: memory.CategoryLearning})
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		ids = append(ids, id)
		if i == 6 {
			if err := mgr.Remove(ids[5]); err != nil {
				t.Fatalf("remove: %v", err)
			}
		}
	}

	if store.Len() != index.Len() {
		t.Fatalf("store has %d, index has %d", store.Len(), index.Len())
	}
	for _, rec := range store.All() {
		vec, err := index.Get(rec.ID)
		if err != nil {
			t.Errorf("record %s has no embedding: %v", rec.ID, err)
			continue
		}
		if len(vec) != index.Dimension() {
			t.Errorf("record %s embedding has %d dimensions", rec.ID, len(vec))
		}
	}
	for _, id := range index.IDs() {
		if _, err := store.Get(id); err != nil {
			t.Errorf("embedding %s has no record: %v", id, err)
		}
	}
}

func TestManagerFinalize(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{drafts: []memory.Draft{
		{Content: "use pnpm for the monorepo", Category: memory.CategoryDecision},
		{Content: "user prefers tabs", Category: memory.CategoryPreference},
		{Content: "invalid one", Category: "vibe"},
	}}
	mgr, store, _ := newTestManager(t, memory.WithExtractor(extractor))

	ids, err := mgr.Finalize(ctx, []memory.Turn{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 inserted ids, got %d", len(ids))
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 records, got %d", store.Len())
	}
}

func TestManagerFinalizeExtractionFailure(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{err: memory.ErrExtractionFailed}
	mgr, store, _ := newTestManager(t, memory.WithExtractor(extractor))

	ids, err := mgr.Finalize(ctx, []memory.Turn{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("extraction failure must be non-fatal, got %v", err)
	}
	if len(ids) != 0 || store.Len() != 0 {
		t.Error("extraction failure must leave the store untouched")
	}
}

func TestManagerFinalizeWithoutExtractor(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ids, err := mgr.Finalize(context.Background(), []memory.Turn{{Role: "user", Content: "hi"}})
	if err != nil || ids != nil {
		t.Errorf("expected silent no-op, got ids=%v err=%v", ids, err)
	}
}

func TestManagerInitialize(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	if _, err := mgr.Add(ctx, memory.Draft{Content: "sierra tango uniform", Category: memory.CategoryLearning}); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := mgr.Initialize(ctx, "sierra tango")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results from Initialize")
	}
}

func TestManagerRepair(t *testing.T) {
	ctx := context.Background()
	mgr, store, index := newTestManager(t)

	keepID, err := mgr.Add(ctx, memory.Draft{Content: "healthy entry", Category: memory.CategoryDecision})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Record without a vector.
	orphanRec, err := memory.NewRecord(memory.Draft{Content: "no vector", Category: memory.CategoryPattern})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Add(orphanRec); err != nil {
		t.Fatalf("store add: %v", err)
	}
	// Vector without a record.
	if err := index.Set("dangling", make(memory.Vector, index.Dimension())); err != nil {
		t.Fatalf("index set: %v", err)
	}

	removed, err := mgr.Repair()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 orphans healed, got %d", removed)
	}
	if _, err := store.Get(keepID); err != nil {
		t.Errorf("repair removed a healthy record: %v", err)
	}
	if store.Len() != 1 || index.Len() != 1 {
		t.Errorf("expected 1 record and 1 vector, got %d and %d", store.Len(), index.Len())
	}
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	for _, d := range []memory.Draft{
		{Content: "decided alpha", Category: memory.CategoryDecision},
		{Content: "decided beta", Category: memory.CategoryDecision},
		{Content: "learned gamma", Category: memory.CategoryLearning},
	} {
		if _, err := mgr.Add(ctx, d); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	stats := mgr.Stats()
	if stats.Total != 3 || stats.Embeddings != 3 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.ByCategory[memory.CategoryDecision] != 2 {
		t.Errorf("expected 2 decisions, got %d", stats.ByCategory[memory.CategoryDecision])
	}
}
