package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `{"jwt_secret":"s3cret","port":"9090","redis":{"addr":"redis:6379"}}`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "s3cret", cfg.JWTSecret)
		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "uploads", cfg.UploadDir)
		assert.Equal(t, 100, cfg.RateLimit.Requests)
	})

	t.Run("missing file uses defaults and env", func(t *testing.T) {
		t.Setenv("CRYSTAL_JWT_SECRET", "from-env")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.JWTSecret)
	})

	t.Run("missing secret is rejected", func(t *testing.T) {
		t.Setenv("CRYSTAL_JWT_SECRET", "")

		_, err := Load(writeConfig(t, `{"port":"8080"}`))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := Load(writeConfig(t, `{"port":`))
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRYSTAL_REDIS_DB", "3")
	t.Setenv("CRYSTAL_ADMIN_EMAILS", "a@example.com, b@example.com ,")
	t.Setenv("CRYSTAL_PUBLIC_URL", "https://crystal.example.com")

	cfg := Default()
	require.NoError(t, cfg.applyEnvOverrides())

	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
	assert.Equal(t, "https://crystal.example.com", cfg.PublicURL)
	assert.True(t, cfg.IsAdminEmail("B@Example.com"))
	assert.False(t, cfg.IsAdminEmail("c@example.com"))

	t.Setenv("CRYSTAL_REDIS_DB", "x")
	assert.Error(t, cfg.applyEnvOverrides())
}
