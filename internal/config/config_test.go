package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "noop", cfg.Messaging.Driver)
	assert.Equal(t, cfg.Database.WriterDSN, cfg.Database.ReaderDSN)
	assert.Equal(t, "uploads", cfg.Storage.UploadRoot)
	assert.Equal(t, "/files", cfg.Storage.PublicPrefix)
	assert.Equal(t, 3, cfg.Storage.PurgeRetries)
	assert.Equal(t, 5, cfg.Storage.UploadConflictRetries)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_WRITER_DSN", "file:orders.db")
	t.Setenv("UPLOAD_ROOT", "/var/lib/procura/uploads/")
	t.Setenv("FILES_PUBLIC_PREFIX", "attachments/")
	t.Setenv("PURGE_BACKOFF", "250ms")
	t.Setenv("OBS_PROMETHEUS_PATH", "prom")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "noop", cfg.Cache.Driver)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:orders.db", cfg.Database.ReaderDSN)
	assert.Equal(t, "/var/lib/procura/uploads", cfg.Storage.UploadRoot)
	assert.Equal(t, "/attachments", cfg.Storage.PublicPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.PurgeBackoff)
	assert.Equal(t, "/prom", cfg.Observability.PrometheusPath)
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"port":      {"HTTP_PORT": "0"},
		"cache":     {"CACHE_DRIVER": "memcached"},
		"db driver": {"DB_DRIVER": "oracle"},
		"messaging": {"MESSAGING_ENABLED": "true", "MESSAGING_DRIVER": "nats"},
		"kafka":     {"MESSAGING_ENABLED": "true", "KAFKA_TOPIC": ""},
		"upload":    {"UPLOAD_ROOT": " "},
		"prefix":    {"FILES_PUBLIC_PREFIX": "/"},
		"prefixes":  {"FILES_PUBLIC_PREFIX": "//"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestNewReportsMalformedValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("PURGE_BACKOFF", "soon")
	t.Setenv("GRPC_ENABLED", "")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `HTTP_PORT="eighty"`)
	assert.Contains(t, err.Error(), `PURGE_BACKOFF="soon"`)
	assert.NotContains(t, err.Error(), "GRPC_ENABLED")
}
