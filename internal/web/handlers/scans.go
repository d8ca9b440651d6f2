package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vkadlec/species-curator/internal/config"
	"github.com/vkadlec/species-curator/internal/detect"
)

// ScansHandler runs whole-collection duplicate scans as async jobs with
// SSE progress streaming.
type ScansHandler struct {
	config     *config.Config
	services   Services
	jobManager *JobManager
}

// NewScansHandler creates a new scans handler.
func NewScansHandler(cfg *config.Config, services Services, jm *JobManager) *ScansHandler {
	return &ScansHandler{
		config:     cfg,
		services:   services,
		jobManager: jm,
	}
}

// StartRequest carries the optional scan parameters; omitted fields use
// the embedded parameter defaults.
type StartRequest struct {
	HashSize         *int  `json:"hash_size"`
	HammingThreshold *int  `json:"hamming_threshold"`
	Exact            bool  `json:"exact"`
}

// Start starts a new collection scan job.
func (h *ScansHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	options, err := h.scanOptions(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, options)

	// Start job in background
	go h.runScanJob(job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(JobStatusPending),
	})
}

// Status returns the status of a scan job.
func (h *ScansHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// Events streams job events via SSE.
func (h *ScansHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job
		},
	)
}

// Cancel cancels a scan job.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// scanOptions fills defaults from the parameter metadata and validates
// supplied values against its bounds.
func (h *ScansHandler) scanOptions(req StartRequest) (ScanOptions, error) {
	hashInfo, _ := h.config.Parameter("hash_size")
	hammingInfo, _ := h.config.Parameter("hamming_threshold")

	options := ScanOptions{
		HashSize:         int(hashInfo.Default),
		HammingThreshold: int(hammingInfo.Default),
		Exact:            req.Exact,
	}
	if req.HashSize != nil {
		if !hashInfo.InRange(float64(*req.HashSize)) {
			return options, errors.New("hash_size out of range")
		}
		options.HashSize = *req.HashSize
	}
	if req.HammingThreshold != nil {
		if !hammingInfo.InRange(float64(*req.HammingThreshold)) {
			return options, errors.New("hamming_threshold out of range")
		}
		options.HammingThreshold = *req.HammingThreshold
	}
	return options, nil
}

// runScanJob runs the collection scan in the background.
func (h *ScansHandler) runScanJob(job *ScanJob) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Collection scan started"})

	speciesList, err := h.services.Source.SpeciesList()
	if err != nil {
		h.failJob(job, "failed to list species: "+err.Error())
		return
	}

	job.mu.Lock()
	job.TotalSpecies = len(speciesList)
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "species_counted", Data: map[string]int{"total": len(speciesList)}})

	opts := detect.DuplicateOptions{
		HashSize:         job.Options.HashSize,
		HammingThreshold: job.Options.HammingThreshold,
		Exact:            job.Options.Exact,
	}

	result, err := h.services.Duplicates.FindAllDuplicates(ctx, opts, func(species string, speciesResult detect.DuplicateResult) {
		job.mu.Lock()
		job.ProcessedSpecies++
		if job.TotalSpecies > 0 {
			job.Progress = job.ProcessedSpecies * 100 / job.TotalSpecies
		}
		processed := job.ProcessedSpecies
		total := job.TotalSpecies
		job.mu.Unlock()

		job.SendEvent(JobEvent{
			Type: "progress",
			Data: map[string]any{
				"species":          species,
				"processed":        processed,
				"total":            total,
				"duplicates_found": speciesResult.TotalDuplicates,
			},
		})
	})

	if err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, "collection scan failed: "+err.Error())
		return
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = &result
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: result})
}

func (h *ScansHandler) failJob(job *ScanJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}
