package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentType(t *testing.T) {
	assert.NoError(t, ValidateContentType("image/jpeg"))
	assert.NoError(t, ValidateContentType("audio/ogg; codecs=opus"))
	assert.NoError(t, ValidateContentType("VIDEO/MP4"))
	assert.Error(t, ValidateContentType("application/pdf"))
	assert.Error(t, ValidateContentType(""))
}

func TestValidateFileSize(t *testing.T) {
	assert.Error(t, ValidateFileSize(0, 10))
	assert.NoError(t, ValidateFileSize(10, 10))
	assert.Error(t, ValidateFileSize(11, 10))
	assert.NoError(t, ValidateFileSize(1<<30, 0))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".ogg", ExtensionFor("audio/ogg; codecs=opus"))
	assert.Equal(t, ".mp4", ExtensionFor("video/mp4"))
	assert.Equal(t, ".bin", ExtensionFor("application/x-unknown-thing"))
}

func TestUniqueKey(t *testing.T) {
	a := UniqueKey("sessions/abc", "photo.jpg")
	b := UniqueKey("sessions/abc", "photo.jpg")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sessions/abc/photo_"))
	assert.True(t, strings.HasSuffix(a, ".jpg"))
}
