package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// waitForJob polls until the job reaches a terminal state.
func waitForJob(t *testing.T, job *ScanJob) JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if status := job.GetStatus(); isJobTerminal(status) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job did not finish, status %s", job.GetStatus())
	return ""
}

func TestScansStartAndComplete(t *testing.T) {
	services, _, _ := newTestServices(t)
	jm := NewJobManager()
	handler := NewScansHandler(testConfig(), services, jm)

	body := strings.NewReader(`{"exact":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", body)
	recorder := httptest.NewRecorder()
	handler.Start(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var resp map[string]string
	parseJSONResponse(t, recorder, &resp)
	if resp["job_id"] == "" {
		t.Fatal("expected a job_id")
	}

	job := jm.GetJob(resp["job_id"])
	if job == nil {
		t.Fatal("job not registered with the manager")
	}

	if status := waitForJob(t, job); status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", status, job.Error)
	}

	job.mu.RLock()
	defer job.mu.RUnlock()
	if job.Result == nil {
		t.Fatal("expected a scan result")
	}
	if job.Result.TotalSpeciesScanned != 2 {
		t.Errorf("expected 2 species scanned, got %d", job.Result.TotalSpeciesScanned)
	}
	if job.Result.TotalDuplicates != 1 {
		t.Errorf("expected 1 duplicate across the collection, got %d", job.Result.TotalDuplicates)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
}

func TestScansStartEmptyBody(t *testing.T) {
	services, _, _ := newTestServices(t)
	jm := NewJobManager()
	handler := NewScansHandler(testConfig(), services, jm)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", nil)
	recorder := httptest.NewRecorder()
	handler.Start(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)
}

func TestScansStartInvalidOptions(t *testing.T) {
	services, _, _ := newTestServices(t)
	jm := NewJobManager()
	handler := NewScansHandler(testConfig(), services, jm)

	body := strings.NewReader(`{"hash_size":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", body)
	recorder := httptest.NewRecorder()
	handler.Start(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "hash_size out of range")
}

func TestScansStatus(t *testing.T) {
	services, _, _ := newTestServices(t)
	jm := NewJobManager()
	handler := NewScansHandler(testConfig(), services, jm)

	jm.CreateJob("test-job", ScanOptions{HashSize: 16, HammingThreshold: 5})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/test-job", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "test-job"})
	recorder := httptest.NewRecorder()
	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var status struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	parseJSONResponse(t, recorder, &status)
	if status.ID != "test-job" || status.Status != string(JobStatusPending) {
		t.Errorf("unexpected job status: %+v", status)
	}
}

func TestScansStatusNotFound(t *testing.T) {
	services, _, _ := newTestServices(t)
	handler := NewScansHandler(testConfig(), services, NewJobManager())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/nope", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nope"})
	recorder := httptest.NewRecorder()
	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}

func TestScansCancel(t *testing.T) {
	services, _, _ := newTestServices(t)
	jm := NewJobManager()
	handler := NewScansHandler(testConfig(), services, jm)

	job := jm.CreateJob("cancel-me", ScanOptions{HashSize: 16, HammingThreshold: 5})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/scans/cancel-me", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "cancel-me"})
	recorder := httptest.NewRecorder()
	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if job.GetStatus() != JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", job.GetStatus())
	}
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster

	ch := b.AddListener()
	b.SendEvent(JobEvent{Type: "progress"})

	select {
	case event := <-ch:
		if event.Type != "progress" {
			t.Errorf("expected progress event, got %s", event.Type)
		}
	default:
		t.Fatal("expected an event on the listener channel")
	}

	b.RemoveListener(ch)
	if _, ok := <-ch; ok {
		t.Error("expected listener channel to be closed")
	}
}

func TestEventBroadcasterDropsWhenBufferFull(t *testing.T) {
	var b EventBroadcaster

	ch := b.AddListener()
	for i := 0; i < eventChannelBuffer+10; i++ {
		b.SendEvent(JobEvent{Type: "progress"})
	}
	if len(ch) != eventChannelBuffer {
		t.Errorf("expected %d buffered events, got %d", eventChannelBuffer, len(ch))
	}
}
