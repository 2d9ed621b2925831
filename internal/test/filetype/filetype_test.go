package filetype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"snapflow-core/internal/filetype"
	"snapflow-core/internal/models"
)

const mib = 1024 * 1024

func TestClassify(t *testing.T) {
	cases := map[string]models.FileTypeClass{
		"IMG_0001.JPG":  models.FileTypeJPEG,
		"photo.jpeg":    models.FileTypeJPEG,
		"photo.png":     models.FileTypePNG,
		"photo.tiff":    models.FileTypeTIFF,
		"photo.tif":     models.FileTypeTIFF,
		"DJI_0001.dng":  models.FileTypeRAW,
		"photo.cr2":     models.FileTypeRAW,
		"photo.nef":     models.FileTypeRAW,
		"photo.cr3":     models.FileTypeCR3,
		"photo.heic":    models.FileTypeOther,
		"photo.unknown": models.FileTypeOther,
	}
	for name, want := range cases {
		assert.Equal(t, want, filetype.Classify(name), name)
	}
}

func TestIsRawFile_ExcludesCR3(t *testing.T) {
	assert.True(t, filetype.IsRawFile("photo.dng"))
	assert.True(t, filetype.IsRawFile("photo.CR2"))
	assert.False(t, filetype.IsRawFile("photo.cr3"))
	assert.False(t, filetype.IsRawFile("photo.jpg"))
}

func TestIsCR3File(t *testing.T) {
	assert.True(t, filetype.IsCR3File("photo.CR3"))
	assert.False(t, filetype.IsCR3File("photo.cr2"))
}

// Property (spec.md §8): JPEG at exactly 50 MiB is accepted; 50 MiB + 1 byte
// is rejected.
func TestValidateSize_JPEGBoundary(t *testing.T) {
	err := filetype.ValidateSize("photo.jpg", 50*mib)
	assert.NoError(t, err)

	err = filetype.ValidateSize("photo.jpg", 50*mib+1)
	assert.Error(t, err)
	var sizeErr *filetype.SizeError
	assert.ErrorAs(t, err, &sizeErr)
}

func TestValidateSize_PerTypeMaximums(t *testing.T) {
	assert.NoError(t, filetype.ValidateSize("photo.png", 100*mib))
	assert.Error(t, filetype.ValidateSize("photo.png", 100*mib+1))

	assert.NoError(t, filetype.ValidateSize("photo.tiff", 300*mib))
	assert.Error(t, filetype.ValidateSize("photo.tiff", 300*mib+1))

	assert.NoError(t, filetype.ValidateSize("photo.dng", 250*mib))
	assert.Error(t, filetype.ValidateSize("photo.dng", 250*mib+1))

	assert.NoError(t, filetype.ValidateSize("photo.cr3", 250*mib))
	assert.Error(t, filetype.ValidateSize("photo.cr3", 250*mib+1))

	assert.NoError(t, filetype.ValidateSize("photo.heic", 75*mib))
	assert.Error(t, filetype.ValidateSize("photo.heic", 75*mib+1))
}

func TestUploadTimeoutSeconds_BaseAndMultiplier(t *testing.T) {
	assert.Equal(t, 120, filetype.UploadTimeoutSeconds("photo.jpg", 1*mib))
	assert.Equal(t, 180, filetype.UploadTimeoutSeconds("photo.png", 1*mib))
	assert.Equal(t, 300, filetype.UploadTimeoutSeconds("photo.tiff", 1*mib))
	assert.Equal(t, 360, filetype.UploadTimeoutSeconds("photo.dng", 1*mib))
}

func TestUploadTimeoutSeconds_ScalesAboveThresholdAndCaps(t *testing.T) {
	// JPEG at 100 MiB: 120 * 1.0 * (100/50) = 240s.
	assert.Equal(t, 240, filetype.UploadTimeoutSeconds("photo.jpg", 100*mib))

	// RAW at 300 MiB would be 120*3.0*(300/50) = 2160s, capped at 900.
	assert.Equal(t, 900, filetype.UploadTimeoutSeconds("photo.dng", 300*mib))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", filetype.ContentType("a.jpg"))
	assert.Equal(t, "image/png", filetype.ContentType("a.png"))
	assert.Equal(t, "application/octet-stream", filetype.ContentType("a.unknownext"))
}

func TestSupportedExtensions_CoversEveryClass(t *testing.T) {
	exts := filetype.SupportedExtensions()
	for _, want := range []string{".jpg", ".png", ".tiff", ".dng", ".cr3", ".heic"} {
		assert.Contains(t, exts, want)
	}
}
