package utils

import (
	"mime"
	"net/http"
	"strings"
)

// DetectMimeAndExt sniffs data to determine both its MIME type and standard
// extension. It returns ("application/octet-stream", ".bin") if
// identification fails.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := "application/octet-stream"
	if len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, mimeToExt(mimeType)
}

// ImageMediaType returns the media type of an encoded screenshot. Anything
// that does not sniff as an image is assumed to be PNG.
func ImageMediaType(data []byte) string {
	mimeType, _ := DetectMimeAndExt(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "image/png"
	}
	return mimeType
}

// mimeToExt converts a MIME type to its first standard extension.
func mimeToExt(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
