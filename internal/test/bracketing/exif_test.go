package bracketing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"snapflow-core/internal/bracketing"
)

func TestExtractCaptureTime_UnparseableBytesReturnEmpty(t *testing.T) {
	assert.Equal(t, "", bracketing.ExtractCaptureTime([]byte("not a jpeg"), "photo.jpg"))
	assert.Equal(t, "", bracketing.ExtractCaptureTime(nil, "photo.jpg"))
	assert.Equal(t, "", bracketing.ExtractCaptureTime([]byte{}, "DJI_0001.jpg"))
}
