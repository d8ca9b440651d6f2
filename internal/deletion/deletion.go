// Package deletion stages image files for removal and executes the
// batch under a path-traversal guard. The queue is the only component
// that mutates the collection; everything downstream of a confirmed
// deletion (result caches) is invalidated through a callback.
package deletion

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reason records why an image was queued.
type Reason string

const (
	ReasonDuplicate Reason = "duplicate"
	ReasonSimilar   Reason = "similar"
	ReasonOutlier   Reason = "outlier"
	// ReasonManual marks operator-picked files outside any detector finding.
	ReasonManual Reason = "manual"
)

// ValidReason reports whether r names a known queue reason.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonDuplicate, ReasonSimilar, ReasonOutlier, ReasonManual:
		return true
	}
	return false
}

// QueuedFile is one staged deletion. Path is the queue identity,
// always species/filename with a forward slash.
type QueuedFile struct {
	Species  string    `json:"species"`
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Reason   Reason    `json:"reason"`
	AddedAt  time.Time `json:"added_at"`
	Size     int64     `json:"size"`
}

// BulkFile names one file for AddBulk.
type BulkFile struct {
	Species  string `json:"species"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// QueueState is a point-in-time snapshot of the queue.
type QueueState struct {
	Files          []QueuedFile   `json:"files"`
	TotalCount     int            `json:"total_count"`
	TotalSize      int64          `json:"total_size"`
	TotalSizeHuman string         `json:"total_size_human"`
	BySpecies      map[string]int `json:"by_species"`
	ByReason       map[string]int `json:"by_reason"`
}

// Preview summarizes what a confirm would do, without doing it.
type Preview struct {
	TotalFiles      int            `json:"total_files"`
	TotalSizeBytes  int64          `json:"total_size_bytes"`
	TotalSizeHuman  string         `json:"total_size_human"`
	SpeciesAffected []string       `json:"species_affected"`
	ByReason        map[string]int `json:"by_reason"`
	Warnings        []string       `json:"warnings"`
}

// FailedFile itemizes one deletion failure.
type FailedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result is the full accounting of one confirmed deletion pass.
type Result struct {
	Success         bool         `json:"success"`
	DeletedCount    int          `json:"deleted_count"`
	DeletedFiles    []string     `json:"deleted_files"`
	FailedCount     int          `json:"failed_count"`
	FailedFiles     []FailedFile `json:"failed_files"`
	AffectedSpecies []string     `json:"affected_species"`
}

// Service is the thread-safe deletion queue. All operations take the
// service lock; Confirm holds it for the whole pass so adds and
// removes cannot race an in-flight deletion.
type Service struct {
	baseDir  string // absolute, set once
	warnSize int

	mu    sync.Mutex
	queue map[string]*QueuedFile
}

// NewService creates a queue rooted at baseDir. Previews warn about
// any single species losing more than warnSize images.
func NewService(baseDir string, warnSize int) (*Service, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if warnSize < 1 {
		warnSize = 50
	}
	return &Service{
		baseDir:  abs,
		warnSize: warnSize,
		queue:    make(map[string]*QueuedFile),
	}, nil
}

// BaseDir returns the absolute directory deletions are confined to.
func (s *Service) BaseDir() string {
	return s.baseDir
}

// Add stages one file. Adding an already-queued path updates its
// reason in place without creating a second entry.
func (s *Service) Add(species, filename string, reason Reason, size int64) QueuedFile {
	path := species + "/" + filename

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.queue[path]; ok {
		if existing.Reason != reason {
			existing.Reason = reason
		}
		return *existing
	}

	queued := &QueuedFile{
		Species:  species,
		Filename: filename,
		Path:     path,
		Reason:   reason,
		AddedAt:  time.Now(),
		Size:     size,
	}
	s.queue[path] = queued
	return *queued
}

// AddBulk stages many files under one reason, skipping paths already
// queued. Returns the number of new entries.
func (s *Service) AddBulk(files []BulkFile, reason Reason) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range files {
		path := f.Species + "/" + f.Filename
		if _, ok := s.queue[path]; ok {
			continue
		}
		s.queue[path] = &QueuedFile{
			Species:  f.Species,
			Filename: f.Filename,
			Path:     path,
			Reason:   reason,
			AddedAt:  time.Now(),
			Size:     f.Size,
		}
		added++
	}
	return added
}

// Remove unstages one path. Reports whether it was queued.
func (s *Service) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[path]; !ok {
		return false
	}
	delete(s.queue, path)
	return true
}

// Clear empties the queue and returns the number of dropped entries.
func (s *Service) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	s.queue = make(map[string]*QueuedFile)
	return n
}

// Len returns the number of queued files.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queue returns a snapshot with per-species and per-reason counts.
// Files are sorted by path.
func (s *Service) Queue() QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := QueueState{
		Files:     make([]QueuedFile, 0, len(s.queue)),
		BySpecies: make(map[string]int),
		ByReason:  make(map[string]int),
	}
	for _, f := range s.queue {
		state.Files = append(state.Files, *f)
		state.BySpecies[f.Species]++
		state.ByReason[string(f.Reason)]++
		state.TotalSize += f.Size
	}
	sort.Slice(state.Files, func(i, j int) bool { return state.Files[i].Path < state.Files[j].Path })
	state.TotalCount = len(state.Files)
	state.TotalSizeHuman = formatSize(state.TotalSize)
	return state
}

// Preview summarizes the pending deletions and warns about any species
// losing more than warnSize images.
func (s *Service) Preview() Preview {
	queue := s.Queue()

	preview := Preview{
		TotalFiles:      queue.TotalCount,
		TotalSizeBytes:  queue.TotalSize,
		TotalSizeHuman:  queue.TotalSizeHuman,
		SpeciesAffected: make([]string, 0, len(queue.BySpecies)),
		ByReason:        queue.ByReason,
		Warnings:        []string{},
	}
	for species := range queue.BySpecies {
		preview.SpeciesAffected = append(preview.SpeciesAffected, species)
	}
	sort.Strings(preview.SpeciesAffected)

	for _, species := range preview.SpeciesAffected {
		if count := queue.BySpecies[species]; count > s.warnSize {
			preview.Warnings = append(preview.Warnings, fmt.Sprintf("Large deletion: %d images from %s", count, species))
		}
	}
	return preview
}

// Confirm deletes every queued file. Paths resolving outside the base
// directory are rejected as failures and never touched; missing files
// are failures, not successes. Every entry leaves the queue whatever
// its outcome. After the pass the invalidate callback runs once per
// species that actually lost a file; a failing callback never changes
// the deletion result.
func (s *Service) Confirm(invalidate func(species string)) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Result{
		DeletedFiles: []string{},
		FailedFiles:  []FailedFile{},
	}
	affected := make(map[string]bool)

	paths := make([]string, 0, len(s.queue))
	for path := range s.queue {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		queued := s.queue[path]
		delete(s.queue, path)

		full, err := s.resolve(path)
		if err != nil {
			result.FailedFiles = append(result.FailedFiles, FailedFile{Path: path, Error: "Invalid path"})
			continue
		}
		if _, err := os.Stat(full); err != nil {
			msg := err.Error()
			if errors.Is(err, fs.ErrNotExist) {
				msg = "File not found"
			}
			result.FailedFiles = append(result.FailedFiles, FailedFile{Path: path, Error: msg})
			continue
		}
		if err := os.Remove(full); err != nil {
			result.FailedFiles = append(result.FailedFiles, FailedFile{Path: path, Error: err.Error()})
			continue
		}

		result.DeletedFiles = append(result.DeletedFiles, path)
		affected[queued.Species] = true
	}

	result.DeletedCount = len(result.DeletedFiles)
	result.FailedCount = len(result.FailedFiles)
	result.Success = result.FailedCount == 0

	result.AffectedSpecies = make([]string, 0, len(affected))
	for species := range affected {
		result.AffectedSpecies = append(result.AffectedSpecies, species)
	}
	sort.Strings(result.AffectedSpecies)

	if invalidate != nil {
		for _, species := range result.AffectedSpecies {
			invalidateSpecies(invalidate, species)
		}
	}
	return result
}

// invalidateSpecies shields the deletion result from a panicking
// cache callback.
func invalidateSpecies(invalidate func(string), species string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("warning: cache invalidation for %s failed: %v", species, r)
		}
	}()
	invalidate(species)
}

// resolve maps a queue path to an absolute file path, rejecting any
// path whose resolved form escapes the base directory.
func (s *Service) resolve(path string) (string, error) {
	full, err := filepath.Abs(filepath.Join(s.baseDir, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes base directory", path)
	}
	return full, nil
}

// formatSize renders a byte count as a human-readable decimal string.
func formatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f TB", value)
}
