// Package phash computes perceptual image fingerprints and a streaming
// content digest used for duplicate detection.
//
// The perceptual hash follows the classic DCT approach: downscale,
// grayscale, take the low-frequency block of a 2D DCT and threshold
// each coefficient against the block median. The average hash
// thresholds raw pixel intensities against their mean. Both produce
// hashSize*hashSize bits rendered as a fixed-width hex string so that
// hashes of equal size are directly comparable by Hamming distance.
package phash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultHashSize produces 256-bit hashes, a good balance between
	// sensitivity and hash map size for collections of web images.
	DefaultHashSize = 16
	MinHashSize     = 8
	MaxHashSize     = 32

	// highFreqFactor oversamples the DCT input so the kept block only
	// covers low frequencies.
	highFreqFactor = 4
)

var (
	// ErrUnsupportedFormat means the file extension is not a known image type.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode means the file contents could not be decoded as an image.
	ErrDecode = errors.New("image decode failed")
)

// Mode selects the fingerprint algorithm.
type Mode string

const (
	// Perceptual is the DCT-based hash, robust to re-encoding and resizing.
	Perceptual Mode = "perceptual"
	// Average is the intensity-mean hash, cheaper but less discriminating.
	Average Mode = "average"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// SupportedExtension reports whether the file name carries a decodable
// image extension.
func SupportedExtension(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// HashImage reads and fingerprints the image at path. The returned hex
// string has hashSize*hashSize bits. Unknown extensions fail with
// ErrUnsupportedFormat, undecodable contents with ErrDecode; both are
// per-image failures the caller records without aborting a batch.
func HashImage(path string, hashSize int, mode Mode) (string, error) {
	if !SupportedExtension(path) {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return HashBytes(data, hashSize, mode)
}

// HashBytes fingerprints an already-loaded image file.
func HashBytes(data []byte, hashSize int, mode Mode) (string, error) {
	if hashSize < MinHashSize || hashSize > MaxHashSize {
		return "", fmt.Errorf("hash size must be between %d and %d, got %d", MinHashSize, MaxHashSize, hashSize)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch mode {
	case Average:
		return averageHash(img, hashSize), nil
	case Perceptual, "":
		return perceptualHash(img, hashSize), nil
	default:
		return "", fmt.Errorf("unknown hash mode %q", mode)
	}
}

// HammingDistance counts differing bits between two hex-encoded hashes.
// Hashes of different lengths were computed with different parameters;
// the maximal possible distance is returned so they never group.
func HammingDistance(h1, h2 string) int {
	if len(h1) != len(h2) {
		return 4 * max(len(h1), len(h2))
	}
	distance := 0
	for i := 0; i < len(h1); i++ {
		xor := hexNibble(h1[i]) ^ hexNibble(h2[i])
		for xor != 0 {
			distance++
			xor &= xor - 1 // Clear lowest set bit
		}
	}
	return distance
}

// Similar returns true if two hashes are within the given Hamming threshold.
func Similar(h1, h2 string, threshold int) bool {
	return HammingDistance(h1, h2) <= threshold
}

// ContentHash streams the file through SHA-256 and returns the hex
// digest. Used by exact-duplicate mode, which groups by digest equality
// instead of Hamming threshold.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// perceptualHash computes the DCT hash: resize to 4x the hash size,
// transform, keep the top-left hashSize block and threshold against
// its median.
func perceptualHash(img image.Image, hashSize int) string {
	size := hashSize * highFreqFactor
	gray := toGrayscale(resizeImage(img, size, size))
	dct := computeDCT(gray)

	block := make([]float64, 0, hashSize*hashSize)
	for u := 0; u < hashSize; u++ {
		for v := 0; v < hashSize; v++ {
			block = append(block, dct[u][v])
		}
	}
	median := computeMedian(block)

	bits := make([]bool, len(block))
	for i, v := range block {
		bits[i] = v > median
	}
	return bitsToHex(bits)
}

// averageHash thresholds each pixel of the downscaled grayscale image
// against the mean intensity.
func averageHash(img image.Image, hashSize int) string {
	gray := toGrayscale(resizeImage(img, hashSize, hashSize))

	var sum float64
	for x := range gray {
		for y := range gray[x] {
			sum += gray[x][y]
		}
	}
	mean := sum / float64(hashSize*hashSize)

	bits := make([]bool, 0, hashSize*hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			bits = append(bits, gray[x][y] > mean)
		}
	}
	return bitsToHex(bits)
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := 0; x < width; x++ {
		gray[x] = make([]float64, height)
		for y := 0; y < height; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}

// computeDCT computes the 2D DCT-II of a square grayscale image as two
// separable 1D passes, rows then columns.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)

	// Precompute cosine values for efficiency.
	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := 0; j < size; j++ {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Rows.
	rows := make([][]float64, size)
	for x := 0; x < size; x++ {
		rows[x] = make([]float64, size)
		for u := 0; u < size; u++ {
			var sum float64
			for y := 0; y < size; y++ {
				sum += gray[x][y] * cosTable[u][y]
			}
			rows[x][u] = sum
		}
	}

	// Columns.
	dct := make([][]float64, size)
	for u := 0; u < size; u++ {
		dct[u] = make([]float64, size)
		for v := 0; v < size; v++ {
			var sum float64
			for x := 0; x < size; x++ {
				sum += rows[x][v] * cosTable[u][x]
			}
			dct[u][v] = sum
		}
	}

	return dct
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// bitsToHex renders bits (most significant first) as a lowercase hex
// string, left padded to a whole number of nibbles.
func bitsToHex(bits []bool) string {
	const digits = "0123456789abcdef"

	pad := (4 - len(bits)%4) % 4
	var sb strings.Builder
	sb.Grow((len(bits) + pad) / 4)

	nibble := 0
	count := pad
	for _, b := range bits {
		nibble <<= 1
		if b {
			nibble |= 1
		}
		count++
		if count == 4 {
			sb.WriteByte(digits[nibble])
			nibble = 0
			count = 0
		}
	}
	return sb.String()
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}
