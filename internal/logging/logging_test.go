package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := logrus.New()
	Configure(l, "debug", "JSON", path)

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("run_id", "r1").Debug("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"r1"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestConfigureFallbacks(t *testing.T) {
	l := logrus.New()
	Configure(l, "loud", "text", filepath.Join(t.TempDir(), "missing", "dir", "app.log"))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.Equal(t, os.Stdout, l.Out)
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
