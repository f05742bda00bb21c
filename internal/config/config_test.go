package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("TRANSCRIPTION_WEBHOOK_URL", "http://hook.local/transcribe")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, int64(50<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "consult.sid", cfg.Session.CookieName)
	assert.Equal(t, int64(45<<20), cfg.Audio.MaxPayloadBytes)
	assert.Equal(t, 120*time.Second, cfg.Transcription.Timeout)
	assert.Equal(t, "s3cret", cfg.Secrets.SessionSecret)
	assert.NoError(t, cfg.ValidateAPI())
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\nstorage:\n  driver: postgres\n"), 0o600))

	t.Setenv("CONSULT_SERVER_PORT", "9090")
	t.Setenv("CONSULT_SESSION_TTL", "1h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
}

func TestValidateAPIReportsMissingSecrets(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: DriverBaaS},
		Session: SessionConfig{Store: DriverRedis},
		Media:   MediaConfig{Driver: DriverInline},
	}

	err := cfg.ValidateAPI()
	require.Error(t, err)
	for _, name := range []string{"SESSION_SECRET", "TRANSCRIPTION_WEBHOOK_URL", "BAAS_URL", "BAAS_KEY", "REDIS_URL"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestValidateAPIUnknownDriver(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: "mongo"}}
	assert.ErrorContains(t, cfg.ValidateAPI(), "unknown storage driver")
}

func TestValidateWorker(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.ValidateWorker(), "DATABASE_URL")

	cfg.Secrets.DatabaseURL = "postgres://localhost/consult"
	assert.NoError(t, cfg.ValidateWorker())
}
