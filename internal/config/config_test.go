package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: prod\napi_port: 9090\nvoice:\n  silence_timeout: 2s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 9090, cfg.ApiPort)
	assert.Equal(t, 2*time.Second, cfg.Voice.SilenceTimeout)
	assert.Equal(t, "en-US", cfg.Voice.Language)
	assert.True(t, cfg.Voice.Continuous)
	assert.Equal(t, 15*time.Second, cfg.Ledger.RequestTimeout)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voice:\n  language: en-US\n"), 0o600))

	t.Setenv("VOICE_LANGUAGE", "fr-FR")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fr-FR", cfg.Voice.Language)
	assert.Equal(t, "nats://localhost:4222", cfg.Nats.URL)
}
