package assets

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectNameFor(t *testing.T) {
	name := objectNameFor("/tmp/toko-upload-1/0.JPG")
	assert.Regexp(t, regexp.MustCompile(`^products/\d{4}-\d{2}-\d{2}/[0-9a-f-]{36}\.jpg$`), name)
	assert.NotEqual(t, name, objectNameFor("/tmp/toko-upload-1/0.JPG"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentTypeFor("a.jpeg"))
	assert.Equal(t, "image/jpeg", contentTypeFor("a.jpg"))
	assert.Equal(t, "image/png", contentTypeFor("a.png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a"))
}

func TestNewMinioStoreRequiresCredentials(t *testing.T) {
	_, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
