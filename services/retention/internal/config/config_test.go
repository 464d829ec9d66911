package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "MONGO_URI", "DATABASE_NAME", "READINGS_COLLECTION",
		"RETENTION_MAX_AGE", "STORE_TIMEOUT", "DRY_RUN", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, kv[key])
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "memory://"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, cfg.MaxAge)
	assert.Equal(t, "readings", cfg.Collection)
	assert.False(t, cfg.DryRun)
}

func TestLoadMaxAgeFormats(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"48h":   48 * time.Hour,
		"P7D":   7 * 24 * time.Hour,
		"PT90M": 90 * time.Minute,
	} {
		setEnv(t, map[string]string{"DATABASE_URL": "memory://", "RETENTION_MAX_AGE": in})
		cfg, err := Load()
		require.NoError(t, err, in)
		assert.Equal(t, want, cfg.MaxAge, in)
	}
}

func TestLoadInvalidMaxAge(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "memory://", "RETENTION_MAX_AGE": "forever"})
	_, err := Load()
	require.ErrorContains(t, err, "invalid RETENTION_MAX_AGE")
}

func TestLoadDryRun(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE"} {
		setEnv(t, map[string]string{"MONGO_URI": "mongodb://localhost", "DRY_RUN": v})
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.DryRun, v)
		assert.Equal(t, "mongodb://localhost", cfg.DatabaseURL)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setEnv(t, nil)
	_, err := Load()
	require.EqualError(t, err, "DATABASE_URL is required")
}
