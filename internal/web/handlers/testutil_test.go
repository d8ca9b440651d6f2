package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/deletion"
	"github.com/vkadlec/species-curator/internal/detect"
	"github.com/vkadlec/species-curator/internal/embedding/mock"
	"github.com/vkadlec/species-curator/internal/library"
)

// newTestServices builds a temp collection with two species and wires
// the full service set against it. Acacia_dealbata holds an identical
// pair plus one distinct image; Betula_pendula a single image. No
// embedding index is loaded; the mock provider starts empty.
func newTestServices(t *testing.T) (Services, *mock.MockProvider, string) {
	t.Helper()
	base := t.TempDir()

	pair := gradientPNG(t)
	writeSpeciesFile(t, base, "Acacia_dealbata", "a.png", pair)
	writeSpeciesFile(t, base, "Acacia_dealbata", "b.png", pair)
	writeSpeciesFile(t, base, "Acacia_dealbata", "c.png", texturePNG(t))
	writeSpeciesFile(t, base, "Betula_pendula", "only.png", texturePNG(t))

	source := library.NewSource(base)
	cache := detect.NewCache()
	provider := mock.NewMockProvider()

	queue, err := deletion.NewService(base, 2)
	if err != nil {
		t.Fatalf("failed to create deletion queue: %v", err)
	}

	duplicates := detect.NewDuplicateService(source, cache, 2)
	similarity := detect.NewSimilarityService(source, cache, provider, nil, 2)
	outliers := detect.NewOutlierService(nil)

	return Services{
		Source:     source,
		Cache:      cache,
		Duplicates: duplicates,
		Similarity: similarity,
		Outliers:   outliers,
		Combined:   detect.NewCombinedService(duplicates, similarity, outliers),
		Queue:      queue,
	}, provider, base
}

func testConfig() *config.Config {
	return config.Load()
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func writeSpeciesFile(t *testing.T, baseDir, species, filename string, data []byte) {
	t.Helper()
	dir := filepath.Join(baseDir, species)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create species dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", filename, err)
	}
}

func gradientPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(x * 4)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return encodePNG(t, img)
}

func texturePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8((x*53 + y*97) % 251)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v ^ 0xa5, A: 255})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
