package detect

import (
	"context"
	"errors"
	"testing"
)

func TestCacheGetOrComputeHashes(t *testing.T) {
	cache := NewCache()
	calls := 0
	compute := func() (map[string]string, error) {
		calls++
		return map[string]string{"/img/a.jpg": "abcd"}, nil
	}

	for i := 0; i < 3; i++ {
		m, err := cache.GetOrComputeHashes(context.Background(), "acacia", "16", compute)
		if err != nil {
			t.Fatalf("GetOrComputeHashes() error = %v", err)
		}
		if m["/img/a.jpg"] != "abcd" {
			t.Errorf("GetOrComputeHashes() map = %v; want hash for a.jpg", m)
		}
	}
	if calls != 1 {
		t.Errorf("compute ran %d times; want 1", calls)
	}
	if got := cache.Stats().HashEntries; got != 1 {
		t.Errorf("Stats().HashEntries = %d; want 1", got)
	}
}

func TestCacheComputeErrorNotStored(t *testing.T) {
	cache := NewCache()
	calls := 0

	_, err := cache.GetOrComputeHashes(context.Background(), "acacia", "16", func() (map[string]string, error) {
		calls++
		return nil, errors.New("disk on fire")
	})
	if err == nil {
		t.Fatal("GetOrComputeHashes() expected error, got nil")
	}
	if got := cache.Stats().HashEntries; got != 0 {
		t.Errorf("Stats().HashEntries after failed compute = %d; want 0", got)
	}

	// A later call must retry the computation.
	_, err = cache.GetOrComputeHashes(context.Background(), "acacia", "16", func() (map[string]string, error) {
		calls++
		return map[string]string{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrComputeHashes() retry error = %v", err)
	}
	if calls != 2 {
		t.Errorf("compute ran %d times; want 2", calls)
	}
}

func TestCacheCancelledComputationNotStored(t *testing.T) {
	cache := NewCache()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := cache.GetOrComputeEmbeddings(ctx, "acacia", "resnet18", func() (map[string][]float32, error) {
		cancel()
		return map[string][]float32{"/img/a.jpg": {1, 0}}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GetOrComputeEmbeddings() error = %v; want context.Canceled", err)
	}
	if got := cache.Stats().EmbeddingEntries; got != 0 {
		t.Errorf("Stats().EmbeddingEntries after cancelled compute = %d; want 0", got)
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	seed := func(species, sig string) {
		_, err := cache.GetOrComputeHashes(ctx, species, sig, func() (map[string]string, error) {
			return map[string]string{}, nil
		})
		if err != nil {
			t.Fatalf("seeding %s/%s: %v", species, sig, err)
		}
	}
	seed("Acacia", "16")
	seed("Acacia", "8")
	seed("Acacia_dealbata", "16")

	_, err := cache.GetOrComputeEmbeddings(ctx, "Acacia", "resnet18", func() (map[string][]float32, error) {
		return map[string][]float32{}, nil
	})
	if err != nil {
		t.Fatalf("seeding embeddings: %v", err)
	}

	removed := cache.Invalidate("Acacia")
	if removed != 3 {
		t.Errorf("Invalidate(Acacia) removed %d entries; want 3", removed)
	}

	stats := cache.Stats()
	if stats.HashEntries != 1 {
		t.Errorf("Stats().HashEntries = %d; want 1 (Acacia_dealbata must survive)", stats.HashEntries)
	}
	if stats.EmbeddingEntries != 0 {
		t.Errorf("Stats().EmbeddingEntries = %d; want 0", stats.EmbeddingEntries)
	}

	if got := cache.Invalidate("never_cached"); got != 0 {
		t.Errorf("Invalidate(never_cached) = %d; want 0", got)
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	_, _ = cache.GetOrComputeHashes(ctx, "acacia", "16", func() (map[string]string, error) {
		return map[string]string{}, nil
	})
	_, _ = cache.GetOrComputeEmbeddings(ctx, "acacia", "resnet18", func() (map[string][]float32, error) {
		return map[string][]float32{}, nil
	})

	cache.Clear()

	stats := cache.Stats()
	if stats.HashEntries != 0 || stats.EmbeddingEntries != 0 {
		t.Errorf("Stats() after Clear = %+v; want all zero", stats)
	}
}

func TestHashSignature(t *testing.T) {
	tests := []struct {
		name     string
		hashSize int
		exact    bool
		want     string
	}{
		{"perceptual", 16, false, "16"},
		{"exact keyspace is separate", 16, true, "16_exact"},
		{"other size", 8, false, "8"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := hashSignature(tc.hashSize, tc.exact); got != tc.want {
				t.Errorf("hashSignature(%d, %v) = %q; want %q", tc.hashSize, tc.exact, got, tc.want)
			}
		})
	}
}
