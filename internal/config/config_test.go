package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  host: db.internal
  port: 5432
  user: plane
  password: secret
  dbname: plane
  sslmode: disable
github:
  page_size: 50
sync:
  max_pages_per_pass: 3
  retry:
    max_attempts: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
	assert.Equal(t, 50, cfg.Github.PageSize)
	assert.Equal(t, 3, cfg.Sync.MaxPagesPerPass)
	assert.Equal(t, 5, cfg.Sync.Retry.MaxAttempts)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://api.github.com", cfg.Github.BaseURL)
	assert.Equal(t, 100, cfg.Github.PageSize)
	assert.Equal(t, 10, cfg.Github.RateLimitFloor)
	assert.Equal(t, 30*time.Second, cfg.Github.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Sync.SweepInterval)
	assert.Equal(t, 15*time.Second, cfg.Importer.PollInterval)
	assert.Equal(t, 3, cfg.Importer.Retry.MaxAttempts)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, 64, cfg.Workers.QueueDepth)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "supersecret")

	cfg, err := Load(writeConfig(t, `
database:
  password: ${TEST_DB_PASSWORD}
`))
	require.NoError(t, err)

	assert.Equal(t, "supersecret", cfg.Database.Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
