package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadFrom_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rating.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
storage: postgres
database:
  url: postgres://file/db
executor:
  step_timeout: 5s
  iteration_workers: 8
`), 0o600))

	t.Setenv("RATING_DATABASE__URL", "postgres://env/db")
	t.Setenv("RATING_REDIS__ADDR", "localhost:6379")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL, "env overrides file")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Executor.StepTimeout)
	assert.Equal(t, 8, cfg.Executor.IterationWorkers)
	assert.Equal(t, "premium", cfg.Executor.PremiumField, "default kept")
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage", map[string]string{"RATING_STORAGE": "mongo"}},
		{"postgres without url", map[string]string{"RATING_STORAGE": "postgres"}},
		{"bad port", map[string]string{"RATING_HTTP__PORT": "70000"}},
		{"zero workers", map[string]string{"RATING_EXECUTOR__ITERATION_WORKERS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom("")
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "database.url", envKey("RATING_DATABASE__URL"))
	assert.Equal(t, "executor.step_timeout", envKey("RATING_EXECUTOR__STEP_TIMEOUT"))
	assert.Equal(t, "storage", envKey("RATING_STORAGE"))
}
