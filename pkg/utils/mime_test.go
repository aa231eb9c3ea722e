package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageMediaType(t *testing.T) {
	assert.Equal(t, "image/png", ImageMediaType([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
	assert.Equal(t, "image/jpeg", ImageMediaType([]byte("\xff\xd8\xff\xe0\x00\x10JFIF")))
	assert.Equal(t, "image/png", ImageMediaType([]byte("not an image")))
	assert.Equal(t, "image/png", ImageMediaType(nil))
}

func TestDetectMimeAndExt(t *testing.T) {
	mimeType, ext := DetectMimeAndExt([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, ".png", ext)

	mimeType, _ = DetectMimeAndExt(nil)
	assert.Equal(t, "application/octet-stream", mimeType)
}
