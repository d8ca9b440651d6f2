package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeciesList(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/species", nil)
	recorder := httptest.NewRecorder()
	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp DashboardResponse
	parseJSONResponse(t, recorder, &resp)

	if resp.TotalSpecies != 2 {
		t.Errorf("expected 2 species, got %d", resp.TotalSpecies)
	}
	if resp.TotalImages != 4 {
		t.Errorf("expected 4 images, got %d", resp.TotalImages)
	}
	if resp.IndexAvailable {
		t.Error("expected index_available=false without a loaded store")
	}
	if len(resp.Species) != 2 {
		t.Fatalf("expected 2 species summaries, got %d", len(resp.Species))
	}
	if resp.Species[0].Name != "Acacia_dealbata" || resp.Species[0].ImageCount != 3 {
		t.Errorf("unexpected first species summary: %+v", resp.Species[0])
	}
}

func TestSpeciesGet(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/species/Betula_pendula", nil)
	req = requestWithChiParams(req, map[string]string{"species": "Betula_pendula"})
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var summary SpeciesSummary
	parseJSONResponse(t, recorder, &summary)
	if summary.Name != "Betula_pendula" || summary.ImageCount != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestSpeciesGetNotFound(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/species/Quercus_robur", nil)
	req = requestWithChiParams(req, map[string]string{"species": "Quercus_robur"})
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "species not found")
}

func TestSpeciesImage(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/Acacia_dealbata/a.png", nil)
	req = requestWithChiParams(req, map[string]string{"species": "Acacia_dealbata", "filename": "a.png"})
	recorder := httptest.NewRecorder()
	handler.Image(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if recorder.Body.Len() == 0 {
		t.Error("expected image bytes in response body")
	}
	if cc := recorder.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control header: %s", cc)
	}
}

func TestSpeciesImageRejectsUnsupportedExtension(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/Acacia_dealbata/notes.txt", nil)
	req = requestWithChiParams(req, map[string]string{"species": "Acacia_dealbata", "filename": "notes.txt"})
	recorder := httptest.NewRecorder()
	handler.Image(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "unsupported image type")
}

func TestSpeciesImageRejectsTraversal(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/x/x", nil)
	req = requestWithChiParams(req, map[string]string{"species": "..", "filename": "secret.png"})
	recorder := httptest.NewRecorder()
	handler.Image(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "invalid image path")
}

func TestSpeciesImageNotFound(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewSpeciesHandler(services)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/Acacia_dealbata/missing.png", nil)
	req = requestWithChiParams(req, map[string]string{"species": "Acacia_dealbata", "filename": "missing.png"})
	recorder := httptest.NewRecorder()
	handler.Image(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "image not found")
}
