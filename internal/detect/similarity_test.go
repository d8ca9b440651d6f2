package detect

import (
	"context"
	"testing"

	"github.com/vkadlec/species-curator/internal/embedding/mock"
	"github.com/vkadlec/species-curator/internal/library"
	"github.com/vkadlec/species-curator/internal/vecindex"
)

func TestFindSimilarOnDemand(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	cache := NewCache()

	svc := NewSimilarityService(source, cache, provider, nil, 2)
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}

	if result.FromIndex {
		t.Error("FromIndex = true; want false without an index")
	}
	if result.Model != "mock" {
		t.Errorf("Model = %q; want mock", result.Model)
	}
	if result.TotalImages != 3 || result.ProcessedImages != 3 {
		t.Errorf("totals = %d/%d; want 3/3", result.TotalImages, result.ProcessedImages)
	}
	if len(result.SimilarGroups) != 1 {
		t.Fatalf("got %d groups; want 1", len(result.SimilarGroups))
	}

	group := result.SimilarGroups[0]
	if group.GroupID != 1 || group.Count != 2 {
		t.Errorf("group = id %d count %d; want id 1 count 2", group.GroupID, group.Count)
	}
	// Members sorted by size descending, so the larger b.jpg leads.
	if got := imageNames(group.Images); got[0] != "b.jpg" || got[1] != "a.jpg" {
		t.Errorf("group members = %v; want [b.jpg a.jpg]", got)
	}
	if result.TotalInGroups != 2 {
		t.Errorf("TotalInGroups = %d; want 2", result.TotalInGroups)
	}
	if got := cache.Stats().EmbeddingEntries; got != 1 {
		t.Errorf("Stats().EmbeddingEntries = %d; want 1", got)
	}
}

func TestFindSimilarCachedAcrossCalls(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	cache := NewCache()

	svc := NewSimilarityService(source, cache, provider, nil, 2)
	if _, err := svc.FindSimilar(context.Background(), "acacia", 0.85); err != nil {
		t.Fatalf("first FindSimilar() error = %v", err)
	}
	callsAfterFirst := provider.Calls()
	if callsAfterFirst != 3 {
		t.Fatalf("provider calls after first scan = %d; want 3", callsAfterFirst)
	}

	// A different threshold reuses the cached vectors for the same model.
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.99)
	if err != nil {
		t.Fatalf("second FindSimilar() error = %v", err)
	}
	if provider.Calls() != callsAfterFirst {
		t.Errorf("provider calls = %d; want %d (cache hit)", provider.Calls(), callsAfterFirst)
	}
	if len(result.SimilarGroups) != 1 {
		t.Errorf("got %d groups at 0.99; want 1", len(result.SimilarGroups))
	}
}

func TestFindSimilarProviderFailureRecorded(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	base := source.BaseDir()
	// No vector registered for this content, so the provider fails it.
	writeSpeciesFile(t, base, "acacia", "d.jpg", []byte("unregistered"))

	svc := NewSimilarityService(source, NewCache(), provider, nil, 2)
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}

	if len(result.Failures) != 1 || result.Failures[0].File != "d.jpg" {
		t.Fatalf("Failures = %v; want one entry for d.jpg", result.Failures)
	}
	if result.TotalImages != 4 || result.ProcessedImages != 3 {
		t.Errorf("totals = %d/%d; want 4/3", result.TotalImages, result.ProcessedImages)
	}
	if len(result.SimilarGroups) != 1 {
		t.Errorf("got %d groups; want 1 despite the failed image", len(result.SimilarGroups))
	}
}

func TestFindSimilarNotEnoughImages(t *testing.T) {
	source, base := newTestLibrary(t)
	writeSpeciesFile(t, base, "solo", "only.jpg", []byte("single"))
	provider := mock.NewMockProvider()

	svc := NewSimilarityService(source, NewCache(), provider, nil, 2)
	result, err := svc.FindSimilar(context.Background(), "solo", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if result.Message != msgNotEnoughForSimilarity {
		t.Errorf("Message = %q; want %q", result.Message, msgNotEnoughForSimilarity)
	}
	if provider.Calls() != 0 {
		t.Errorf("provider calls = %d; want 0 for a short-circuited scan", provider.Calls())
	}
}

func TestFindSimilarNoProvider(t *testing.T) {
	source, base := newTestLibrary(t)
	writeSpeciesFile(t, base, "acacia", "a.jpg", []byte("aa"))
	writeSpeciesFile(t, base, "acacia", "b.jpg", []byte("bb"))

	svc := NewSimilarityService(source, NewCache(), nil, nil, 2)
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if result.Message == "" {
		t.Error("expected a message explaining the missing provider")
	}
	if len(result.SimilarGroups) != 0 {
		t.Errorf("got %d groups; want 0 without a provider", len(result.SimilarGroups))
	}
}

func TestFindSimilarFromIndex(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	store := buildSimilarityIndex(t, "acacia")

	svc := NewSimilarityService(source, NewCache(), provider, store, 2)
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}

	if !result.FromIndex {
		t.Fatal("FromIndex = false; want true with a loaded index")
	}
	if result.Model != "resnet18" {
		t.Errorf("Model = %q; want the index model resnet18", result.Model)
	}
	if provider.Calls() != 0 {
		t.Errorf("provider calls = %d; want 0 on the indexed path", provider.Calls())
	}
	if result.ProcessedImages != 3 {
		t.Errorf("ProcessedImages = %d; want 3", result.ProcessedImages)
	}
	if len(result.SimilarGroups) != 1 {
		t.Fatalf("got %d groups; want 1", len(result.SimilarGroups))
	}
	if got := imageNames(result.SimilarGroups[0].Images); got[0] != "b.jpg" || got[1] != "a.jpg" {
		t.Errorf("group members = %v; want [b.jpg a.jpg]", got)
	}
}

func TestFindSimilarFallsBackWhenSpeciesNotIndexed(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	store := buildSimilarityIndex(t, "betula")

	svc := NewSimilarityService(source, NewCache(), provider, store, 2)
	result, err := svc.FindSimilar(context.Background(), "acacia", 0.85)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}

	if result.FromIndex {
		t.Error("FromIndex = true; want on-demand fallback for an unindexed species")
	}
	if provider.Calls() == 0 {
		t.Error("provider calls = 0; want the on-demand path to embed")
	}
	if len(result.SimilarGroups) != 1 {
		t.Errorf("got %d groups; want 1", len(result.SimilarGroups))
	}
}

func TestFindSimilarCancelledContext(t *testing.T) {
	source, provider := newSimilarityFixture(t)
	cache := NewCache()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewSimilarityService(source, cache, provider, nil, 2)
	if _, err := svc.FindSimilar(ctx, "acacia", 0.85); err == nil {
		t.Fatal("FindSimilar() with cancelled context expected error, got nil")
	}
	if got := cache.Stats().EmbeddingEntries; got != 0 {
		t.Errorf("Stats().EmbeddingEntries = %d; want 0 after cancelled scan", got)
	}
}

// Helper functions

// newSimilarityFixture builds a species of three images with registered
// mock vectors: a.jpg and b.jpg are near-parallel, c.jpg orthogonal.
// File sizes differ so group member order is deterministic.
func newSimilarityFixture(t *testing.T) (*library.Source, *mock.MockProvider) {
	t.Helper()
	src, base := newTestLibrary(t)

	contentA := []byte("aaaaaaaaaa")           // 10 bytes
	contentB := []byte("bbbbbbbbbbbbbbbbbbbb") // 20 bytes
	contentC := []byte("ccccc")                // 5 bytes
	writeSpeciesFile(t, base, "acacia", "a.jpg", contentA)
	writeSpeciesFile(t, base, "acacia", "b.jpg", contentB)
	writeSpeciesFile(t, base, "acacia", "c.jpg", contentC)

	p := mock.NewMockProvider()
	p.AddVector(contentA, []float32{1, 0, 0, 0})
	p.AddVector(contentB, []float32{0.99, 0.14, 0, 0})
	p.AddVector(contentC, []float32{0, 1, 0, 0})
	return src, p
}

// buildSimilarityIndex writes an index holding the fixture vectors
// under the given species and loads it back.
func buildSimilarityIndex(t *testing.T, species string) *vecindex.Store {
	t.Helper()
	dir := t.TempDir()

	items := []vecindex.BuildItem{
		{Species: species, Filename: "a.jpg", SizeBytes: 10, Embedding: []float32{1, 0, 0, 0}},
		{Species: species, Filename: "b.jpg", SizeBytes: 20, Embedding: []float32{0.99, 0.14, 0, 0}},
		{Species: species, Filename: "c.jpg", SizeBytes: 5, Embedding: []float32{0, 1, 0, 0}},
	}
	if _, err := vecindex.Build(dir, "resnet18", items); err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	store, err := vecindex.Load(dir)
	if err != nil {
		t.Fatalf("failed to load index: %v", err)
	}
	return store
}

func imageNames(images []ImageInfo) []string {
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Filename
	}
	return names
}
