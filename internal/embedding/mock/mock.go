// Package mock provides a mock embedding provider for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is an in-memory implementation of embedding.Provider.
// Vectors are registered per image content; unknown content fails, so
// tests state their fixtures explicitly.
type MockProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int

	// Error injection
	EmbedError error
	ModelName  string
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		vectors:   make(map[string][]float32),
		ModelName: "mock",
	}
}

// AddVector registers the embedding returned for the given image bytes.
func (m *MockProvider) AddVector(imageData []byte, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[string(imageData)] = vector
}

// Embed returns the registered vector for the image content.
func (m *MockProvider) Embed(ctx context.Context, imageData []byte) ([]float32, error) {
	if m.EmbedError != nil {
		return nil, m.EmbedError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	vector, ok := m.vectors[string(imageData)]
	if !ok {
		return nil, fmt.Errorf("no embedding registered for %d byte input", len(imageData))
	}
	return vector, nil
}

// Model returns the mock model name.
func (m *MockProvider) Model() string {
	return m.ModelName
}

// Calls returns how many embed calls reached the vector lookup.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
