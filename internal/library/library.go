// Package library reads a species-labeled image collection laid out as
// one directory per species under a base directory. Listings are the
// stable, filename-sorted input every detection service works from.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vkadlec/species-curator/internal/phash"
)

// ErrSpeciesNotFound means no directory exists for the requested species.
var ErrSpeciesNotFound = errors.New("species directory not found")

// ImageRecord identifies one image file. Identity is (Species, Filename);
// Path and SizeBytes are derived from the directory scan.
type ImageRecord struct {
	Species   string `json:"species"`
	Filename  string `json:"filename"`
	Path      string `json:"-"`
	SizeBytes int64  `json:"size"`
}

// Source scans the on-disk collection. It holds no state beyond the
// base directory, so concurrent use needs no locking.
type Source struct {
	baseDir string
}

// NewSource creates a Source rooted at baseDir.
func NewSource(baseDir string) *Source {
	return &Source{baseDir: baseDir}
}

// BaseDir returns the collection root.
func (s *Source) BaseDir() string {
	return s.baseDir
}

// SpeciesList returns the names of all species directories containing
// at least one image, sorted by name.
func (s *Source) SpeciesList() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var species []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		count, err := s.CountImages(entry.Name())
		if err != nil || count == 0 {
			continue
		}
		species = append(species, entry.Name())
	}
	return species, nil
}

// ListImages returns the image records for one species, sorted by
// filename (os.ReadDir order). Non-image files are skipped.
func (s *Source) ListImages(species string) ([]ImageRecord, error) {
	dir, err := s.speciesDir(species)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", species, ErrSpeciesNotFound)
		}
		return nil, fmt.Errorf("failed to read species directory: %w", err)
	}

	var records []ImageRecord
	for _, entry := range entries {
		if entry.IsDir() || !phash.SupportedExtension(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		records = append(records, ImageRecord{
			Species:   species,
			Filename:  entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			SizeBytes: info.Size(),
		})
	}
	return records, nil
}

// CountImages returns the number of image files for a species.
func (s *Source) CountImages(species string) (int, error) {
	records, err := s.ListImages(species)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Resolve maps a species name from user input to an existing directory
// name. It tries the exact name first, then falls back to a normalized
// comparison so "acacia dealbata" finds "Acacia_dealbata".
func (s *Source) Resolve(species string) (string, error) {
	dir, err := s.speciesDir(species)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return species, nil
	}

	wanted := NormalizeName(species)
	names, err := s.SpeciesList()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if NormalizeName(name) == wanted {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s: %w", species, ErrSpeciesNotFound)
}

// ImagePath returns the absolute path of one image, rejecting species
// or filename segments that would escape the base directory.
func (s *Source) ImagePath(species, filename string) (string, error) {
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	full, err := filepath.Abs(filepath.Join(base, species, filename))
	if err != nil {
		return "", fmt.Errorf("failed to resolve image path: %w", err)
	}
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path %s/%s", species, filename)
	}
	return full, nil
}

// ReadBytes loads one image file after path validation.
func (s *Source) ReadBytes(species, filename string) ([]byte, error) {
	path, err := s.ImagePath(species, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

func (s *Source) speciesDir(species string) (string, error) {
	if species == "" || strings.ContainsAny(species, "/\\") || strings.Contains(species, "..") {
		return "", fmt.Errorf("%s: %w", species, ErrSpeciesNotFound)
	}
	return filepath.Join(s.baseDir, species), nil
}
