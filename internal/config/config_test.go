package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DATA_DIR", "SETTINGS_FILE", "LOCK_TIMEOUT",
		"LOW_STOCK_THRESHOLD", "INVOICE_PREFIX", "LOG_LEVEL", "LOG_DEVELOPMENT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/tmp/ledger")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "/tmp/ledger", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, "#SC", cfg.InvoicePrefix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.SettingsFile)
}

func TestLoadReadsDotEnvBehindEnvironment(t *testing.T) {
	clearEnv(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"# local\nexport DATA_DIR='/srv/shop'\nLOCK_TIMEOUT=2s\nLOW_STOCK_THRESHOLD=3\nLOG_LEVEL=DEBUG\n",
	), 0o644))
	t.Setenv("LOW_STOCK_THRESHOLD", "8")

	cfg, err := LoadFrom(envPath)
	require.NoError(t, err)
	assert.Equal(t, "/srv/shop", cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.LowStockThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsNonLoopbackListenAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())

	for _, addr := range []string{"0.0.0.0:8080", "192.168.1.10:80", ":8080"} {
		t.Setenv("LISTEN_ADDR", addr)
		_, err := LoadFrom(filepath.Join(t.TempDir(), ".env"))
		assert.Error(t, err, addr)
	}

	for _, addr := range []string{"localhost:9000", "[::1]:9000", "127.0.0.1:9000"} {
		t.Setenv("LISTEN_ADDR", addr)
		cfg, err := LoadFrom(filepath.Join(t.TempDir(), ".env"))
		require.NoError(t, err, addr)
		assert.Equal(t, addr, cfg.ListenAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"LOCK_TIMEOUT":        "soon",
		"LOW_STOCK_THRESHOLD": "-1",
		"INVOICE_PREFIX":      "SC-X",
		"LOG_DEVELOPMENT":     "maybe",
	}
	for key, value := range cases {
		clearEnv(t)
		t.Setenv("DATA_DIR", t.TempDir())
		t.Setenv(key, value)
		_, err := LoadFrom(filepath.Join(t.TempDir(), ".env"))
		assert.Error(t, err, key)
	}
}
