// Package filetype classifies source image files by extension and exposes
// the per-type size/timeout policy enhancement providers enforce before
// upload (spec.md §4.3, §6). Grounded on
// original_source/lib/shared/config/constants.py's FILE_TYPE_CONFIG and
// original_source/lib/shared/utils/file_utils.py's classification helpers
// (that constants table itself was filtered out of the retrieval pack;
// the concrete numbers below are taken from spec.md §4.3/§6 instead).
package filetype

import (
	"path/filepath"
	"strings"

	"snapflow-core/internal/models"
)

// Config is the per-type size and timeout policy.
type Config struct {
	Extensions        []string
	MaxSizeMB         float64
	TimeoutMultiplier float64
}

var table = map[models.FileTypeClass]Config{
	models.FileTypeRAW:   {Extensions: []string{".dng", ".raw", ".cr2", ".nef", ".arw", ".orf", ".rw2"}, MaxSizeMB: 250, TimeoutMultiplier: 3.0},
	models.FileTypeCR3:   {Extensions: []string{".cr3"}, MaxSizeMB: 250, TimeoutMultiplier: 3.0},
	models.FileTypeTIFF:  {Extensions: []string{".tiff", ".tif"}, MaxSizeMB: 300, TimeoutMultiplier: 2.5},
	models.FileTypeJPEG:  {Extensions: []string{".jpg", ".jpeg"}, MaxSizeMB: 50, TimeoutMultiplier: 1.0},
	models.FileTypePNG:   {Extensions: []string{".png"}, MaxSizeMB: 100, TimeoutMultiplier: 1.5},
	models.FileTypeOther: {Extensions: []string{".heic", ".webp", ".bmp", ".gif"}, MaxSizeMB: 75, TimeoutMultiplier: 1.2},
}

// RawExtensions is the traditional-RAW set used by discovery's partial
// download decision — it excludes CR3, which needs a full download because
// its metadata lives in an MP4-style container.
var RawExtensions = []string{".dng", ".raw", ".cr2", ".nef", ".arw", ".orf", ".rw2"}

const (
	baseTimeoutSeconds = 120
	maxTimeoutSeconds  = 900
	scaleThresholdMB   = 50
)

func extensionOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// SupportedExtensions returns every extension any file-type class
// recognizes, for use as a storage provider's ListFiles extension filter.
func SupportedExtensions() []string {
	var out []string
	for _, cfg := range table {
		out = append(out, cfg.Extensions...)
	}
	return out
}

// Classify determines the file-type class for filename, defaulting to Other
// when no extension matches.
func Classify(filename string) models.FileTypeClass {
	ext := extensionOf(filename)
	for class, cfg := range table {
		for _, e := range cfg.Extensions {
			if e == ext {
				return class
			}
		}
	}
	return models.FileTypeOther
}

// IsRawFile reports whether filename is a traditional RAW format requiring
// partial-download EXIF handling (CR3 is excluded — see IsCR3File).
func IsRawFile(filename string) bool {
	ext := extensionOf(filename)
	if ext == ".cr3" {
		return false
	}
	for _, e := range RawExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// IsCR3File reports whether filename is Canon's MP4-container RAW format.
func IsCR3File(filename string) bool {
	return extensionOf(filename) == ".cr3"
}

// ValidateSize checks fileSizeBytes against the per-type maximum, returning
// a descriptive error when the file should be dropped from its bracket.
func ValidateSize(filename string, fileSizeBytes int64) error {
	class := Classify(filename)
	cfg := table[class]
	sizeMB := float64(fileSizeBytes) / (1024 * 1024)
	if sizeMB > cfg.MaxSizeMB {
		return &SizeError{Filename: filename, SizeMB: sizeMB, MaxSizeMB: cfg.MaxSizeMB, Class: class}
	}
	return nil
}

// SizeError reports an oversize file; callers drop the file and continue.
type SizeError struct {
	Filename  string
	SizeMB    float64
	MaxSizeMB float64
	Class     models.FileTypeClass
}

func (e *SizeError) Error() string {
	return "file too large: " + e.Filename
}

// UploadTimeoutSeconds computes the per-file PUT timeout: base timeout
// scaled by the type multiplier, further scaled up for files over 50 MiB,
// capped at 900 s.
func UploadTimeoutSeconds(filename string, fileSizeBytes int64) int {
	class := Classify(filename)
	cfg := table[class]
	sizeMB := float64(fileSizeBytes) / (1024 * 1024)

	timeout := float64(baseTimeoutSeconds) * cfg.TimeoutMultiplier
	if sizeMB > scaleThresholdMB {
		timeout *= sizeMB / scaleThresholdMB
	}
	if timeout > maxTimeoutSeconds {
		return maxTimeoutSeconds
	}
	return int(timeout)
}

// ContentType returns the MIME type guessed from the file extension, used
// when a provider's presigned URL needs an explicit content type.
func ContentType(filename string) string {
	ext := strings.TrimPrefix(extensionOf(filename), ".")
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

var contentTypes = map[string]string{
	"jpg": "image/jpeg", "jpeg": "image/jpeg",
	"png":  "image/png",
	"tiff": "image/tiff", "tif": "image/tiff",
	"heic": "image/heic", "webp": "image/webp", "bmp": "image/bmp", "gif": "image/gif",
	"dng": "image/x-adobe-dng", "raw": "application/octet-stream",
	"cr2": "image/x-canon-cr2", "cr3": "image/x-canon-cr3",
	"nef": "image/x-nikon-nef", "arw": "image/x-sony-arw",
	"orf": "image/x-olympus-orf", "rw2": "image/x-panasonic-rw2",
}
