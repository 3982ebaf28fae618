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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "security:\n  jwt_secret: \"0123456789abcdef0123456789abcdef\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 5*time.Hour, cfg.Security.TokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.Security.RefreshTTL)
	assert.Equal(t, 12, cfg.Security.BcryptCost)
	assert.Equal(t, time.Duration(0), cfg.Social.PendingTTL)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  admin_ips: ["10.0.0.1"]
security:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: 30m
social:
  pending_ttl: 720h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Server.AdminIPs)
	assert.Equal(t, 30*time.Minute, cfg.Security.TokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.Social.PendingTTL)
}

func TestLoad_SecretFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")
	t.Setenv("MOVIEMASTER_SECURITY_JWT_SECRET", "env-secret-env-secret-env-secret-x")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret-env-secret-env-secret-x", cfg.Security.JWTSecret)
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	path := writeConfig(t, "security:\n  jwt_secret: short\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RefreshShorterThanAccess(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		TokenTTL:   time.Hour,
		RefreshTTL: time.Minute,
	}}
	assert.Error(t, cfg.Validate())
}
