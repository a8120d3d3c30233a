package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "DATA_DIR", "BASE_PATH", "INFO_STORE", "DB_DSN", "LOG_LEVEL",
	"LOG_JSON", "MAX_SIZE", "EXPIRE_AFTER", "EXPIRY_EVERY", "EXPIRY_BATCH",
	"CORS_ORIGINS", "ENV_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := New()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "/files/", cfg.BasePath)
	assert.Equal(t, "sidecar", cfg.InfoStore)
	assert.Empty(t, cfg.DBDSN)
	assert.True(t, cfg.LogJSON)
	assert.Zero(t, cfg.MaxSize)
	assert.Zero(t, cfg.ExpireAfter)
	assert.Equal(t, 15*time.Minute, cfg.ExpiryEvery)
	assert.Equal(t, 256, cfg.ExpiryBatch)
	assert.Equal(t, []string{"*"}, cfg.CorsOrigins)
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/srv/tus")
	t.Setenv("BASE_PATH", "uploads")
	t.Setenv("INFO_STORE", "SQLite")
	t.Setenv("LOG_JSON", "false")
	t.Setenv("MAX_SIZE", "1048576")
	t.Setenv("EXPIRE_AFTER", "24h")
	t.Setenv("EXPIRY_BATCH", "10")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg := New()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/uploads/", cfg.BasePath)
	assert.Equal(t, "sqlite", cfg.InfoStore)
	assert.Equal(t, filepath.Join("/srv/tus", "meta.db"), cfg.DBDSN)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, int64(1048576), cfg.MaxSize)
	assert.Equal(t, 24*time.Hour, cfg.ExpireAfter)
	assert.Equal(t, 10, cfg.ExpiryBatch)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsOrigins)
}

func TestNew_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_SIZE", "-5")
	t.Setenv("EXPIRY_EVERY", "soon")
	t.Setenv("LOG_JSON", "maybe")
	t.Setenv("INFO_STORE", "redis")

	cfg := New()
	assert.Zero(t, cfg.MaxSize)
	assert.Equal(t, 15*time.Minute, cfg.ExpiryEvery)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "sidecar", cfg.InfoStore)
}

func TestNew_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BASE_PATH=/tus/\nMAX_SIZE=77\nLOG_LEVEL=error\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")

	// godotenv only fills variables that are absent, not empty ones
	require.NoError(t, os.Unsetenv("BASE_PATH"))
	require.NoError(t, os.Unsetenv("MAX_SIZE"))
	t.Cleanup(func() {
		_ = os.Unsetenv("BASE_PATH")
		_ = os.Unsetenv("MAX_SIZE")
	})

	cfg := New()
	assert.Equal(t, "/tus/", cfg.BasePath)
	assert.Equal(t, int64(77), cfg.MaxSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestCorsOptions_ExposesTusHeaders(t *testing.T) {
	clearEnv(t)
	opts := New().CorsOptions()
	assert.Contains(t, opts.ExposedHeaders, "Upload-Offset")
	assert.Contains(t, opts.ExposedHeaders, "Location")
	assert.Contains(t, opts.AllowedMethods, "PATCH")
}
