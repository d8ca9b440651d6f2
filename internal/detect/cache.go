package detect

import (
	"context"
	"strconv"
	"sync"
)

// cacheKey separates the species from the parameter signature so that
// invalidating one species never touches another whose name shares a
// prefix.
type cacheKey struct {
	species   string
	signature string
}

// hashSignature disambiguates hash cache entries. Exact digests get
// their own keyspace so perceptual and exact runs never collide.
func hashSignature(hashSize int, exact bool) string {
	sig := strconv.Itoa(hashSize)
	if exact {
		sig += "_exact"
	}
	return sig
}

// CacheStats reports entry counts per cache.
type CacheStats struct {
	HashEntries      int `json:"hash_cache_entries"`
	EmbeddingEntries int `json:"embedding_cache_entries"`
}

// Cache stores computed hash and embedding maps keyed by species and
// parameter signature. Entries never expire; deletion flows must call
// Invalidate for every affected species.
type Cache struct {
	mu     sync.Mutex
	hashes map[cacheKey]map[string]string
	embeds map[cacheKey]map[string][]float32
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		hashes: make(map[cacheKey]map[string]string),
		embeds: make(map[cacheKey]map[string][]float32),
	}
}

// GetOrComputeHashes returns the cached path-to-hash map for the key,
// calling compute on a miss. The result of a cancelled computation is
// returned as an error and never stored.
func (c *Cache) GetOrComputeHashes(ctx context.Context, species, signature string, compute func() (map[string]string, error)) (map[string]string, error) {
	key := cacheKey{species: species, signature: signature}

	c.mu.Lock()
	if m, ok := c.hashes[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := compute()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.hashes[key] = m
	c.mu.Unlock()
	return m, nil
}

// GetOrComputeEmbeddings returns the cached path-to-embedding map for
// the key, calling compute on a miss. The result of a cancelled
// computation is returned as an error and never stored.
func (c *Cache) GetOrComputeEmbeddings(ctx context.Context, species, signature string, compute func() (map[string][]float32, error)) (map[string][]float32, error) {
	key := cacheKey{species: species, signature: signature}

	c.mu.Lock()
	if m, ok := c.embeds[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := compute()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.embeds[key] = m
	c.mu.Unlock()
	return m, nil
}

// Invalidate drops every entry for the species and returns the number
// of entries removed. Called after files are deleted so stale hashes
// and embeddings never survive a mutation.
func (c *Cache) Invalidate(species string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.hashes {
		if k.species == species {
			delete(c.hashes, k)
			removed++
		}
	}
	for k := range c.embeds {
		if k.species == species {
			delete(c.embeds, k)
			removed++
		}
	}
	return removed
}

// Clear drops all entries from both caches.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = make(map[cacheKey]map[string]string)
	c.embeds = make(map[cacheKey]map[string][]float32)
}

// Stats returns current entry counts.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		HashEntries:      len(c.hashes),
		EmbeddingEntries: len(c.embeds),
	}
}
