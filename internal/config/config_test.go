package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PM_CONFIG", "PM_VAULT_DIR", "PM_BACKEND", "PM_KDF_ITERATIONS", "PM_IDLE_TIMEOUT",
		"PM_UNLOCK_INTERVAL", "PM_UNLOCK_BURST", "PM_CHECK_BREACHES", "PM_SHARE_TTL",
		"PM_SHARE_SCHEME", "PM_EMERGENCY_TIMEOUT", "PM_LOG_LEVEL", "PM_LOG_FORMAT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Vault.Backend)
	assert.Equal(t, 600_000, cfg.Vault.KDFIterations)
	assert.Equal(t, 5*time.Minute, cfg.Vault.IdleTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Emergency.RequestTimeout)
	assert.Equal(t, "rsa-oaep-sha256", cfg.Share.Scheme)
	assert.NotEmpty(t, cfg.Vault.Dir)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vault:
  dir: /tmp/vault-from-file
  backend: file
  kdf_iterations: 700000
  idle_timeout: 90s
share:
  ttl: 2h
  scheme: mlkem768-hkdf-aesgcm
log:
  level: debug
  format: json
`), 0o600))

	t.Setenv("PM_VAULT_DIR", "/tmp/vault-from-env")
	t.Setenv("PM_UNLOCK_BURST", "3")
	t.Setenv("PM_CHECK_BREACHES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/vault-from-env", cfg.Vault.Dir)
	assert.Equal(t, BackendFile, cfg.Vault.Backend)
	assert.Equal(t, 700_000, cfg.Vault.KDFIterations)
	assert.Equal(t, 90*time.Second, cfg.Vault.IdleTimeout)
	assert.Equal(t, 3, cfg.Vault.UnlockBurst)
	assert.True(t, cfg.Vault.CheckBreaches)
	assert.Equal(t, 2*time.Hour, cfg.Share.TTL)
	assert.Equal(t, "mlkem768-hkdf-aesgcm", cfg.Share.Scheme)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromPMConfig(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("share:\n  ttl: 10m\n"), 0o600))
	t.Setenv("PM_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Share.TTL)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	t.Setenv("PM_IDLE_TIMEOUT", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "PM_IDLE_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Vault.Backend = "postgres"
	cfg.Vault.KDFIterations = 1000
	cfg.Share.Scheme = "rot13"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "vault.backend")
	assert.ErrorContains(t, err, "kdf_iterations")
	assert.ErrorContains(t, err, "share.scheme")
	assert.ErrorContains(t, err, "log.level")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "share_id", "s1")
	assert.Contains(t, buf.String(), `"share_id":"s1"`)
}
