package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Kind)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Models.Image)
	assert.Equal(t, "storage/uploads", cfg.Uploads.Dir)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.MinioEnabled())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: postgres
  host: db
  user: metro
  password: "p@ss"
  name: metro
provider:
  kind: ollama
  host: http://ollama:11434
  model: llama3
  timeout: 15s
  models:
    comparison: llama3:70b
worker:
  staleAfter: 10m
minio:
  endpoint: minio:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres://metro:p%40ss@db:5432/metro?sslmode=disable", cfg.DSN())
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "llama3", cfg.Provider.Models.BIM)
	assert.Equal(t, "llama3:70b", cfg.Provider.Models.Comparison)
	assert.Equal(t, 10*time.Minute, cfg.Worker.StaleAfter)
	assert.True(t, cfg.MinioEnabled())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_DB_DRIVER", "sqlite")
	t.Setenv("APP_DB_PATH", "/tmp/m.db")
	t.Setenv("APP_PORT", "7070")
	t.Setenv("APP_WORKER_STALE_AFTER", "90s")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "file:/tmp/m.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", cfg.DSN())
	assert.Equal(t, 90*time.Second, cfg.Worker.StaleAfter)
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	var c Config
	c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name = "u", "p", "h", 3306, "metro"
	c.Database.Driver = DriverMySQL
	dsn := c.DSN()
	assert.Contains(t, dsn, "u:p@tcp(h:3306)/metro?")
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: oracle\n"))
	assert.ErrorContains(t, err, "oracle")

	_, err = Load(writeConfig(t, "provider:\n  kind: ollama\n"))
	assert.ErrorContains(t, err, "provider.host")

	_, err = Load(writeConfig(t, "provider: [\n"))
	assert.Error(t, err)
}
