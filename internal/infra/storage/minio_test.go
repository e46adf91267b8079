package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"/up/model.IFC": "application/x-step",
		"site.jpeg":     "image/jpeg",
		"site.jpg":      "image/jpeg",
		"frente.png":    "image/png",
		"report.json":   "application/json",
		"unknown.bin":   "application/octet-stream",
		"no-extension":  "application/octet-stream",
	}
	for in, want := range cases {
		assert.Equal(t, want, ContentType(in), in)
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "models/d1/station.ifc", ObjectKey("models", "d1", "/var/uploads/p/station.ifc"))
}
