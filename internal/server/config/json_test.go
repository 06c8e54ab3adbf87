package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"database_dsn":      "postgres://db",
		"session_key":       "from-file-passphrase",
		"s3_bucket":         "bucket",
		"log_level":         "warn",
		"max_tree_depth":    64,
		"operation_timeout": "1m",
		"access_token_validity": "2h",
	})

	t.Run("loads from json, keeps unset fields", func(t *testing.T) {
		t.Setenv("GOPHDRIVE_CONFIG", "")
		cfg := &Config{}
		cfg.LoadDefaults()

		require.NoError(t, parseJSON(cfg, []string{"-config", path}))

		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
		assert.Equal(t, "from-file-passphrase", cfg.SessionKey)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 64, cfg.MaxTreeDepth)
		assert.Equal(t, time.Minute, cfg.OperationTimeout)
		assert.Equal(t, 2*time.Hour, cfg.AccessTokenValidity)
		assert.Equal(t, "secretKey", cfg.SecretKey)
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("env names the file", func(t *testing.T) {
		t.Setenv("GOPHDRIVE_CONFIG", path)
		cfg := &Config{}
		require.NoError(t, parseJSON(cfg, nil))
		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
	})

	t.Run("no file, no changes", func(t *testing.T) {
		t.Setenv("GOPHDRIVE_CONFIG", "")
		cfg := &Config{DatabaseDSN: "keep"}
		require.NoError(t, parseJSON(cfg, []string{"tree"}))
		assert.Equal(t, "keep", cfg.DatabaseDSN)
	})

	t.Run("invalid json", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ not json`), 0o600))

		err := parseJSON(&Config{}, []string{"-c", bad})
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		err := parseJSON(&Config{}, []string{"-c", filepath.Join(t.TempDir(), "nope.json")})
		require.Error(t, err)
	})
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	t.Setenv("GOPHDRIVE_CONFIG", "")
	path := writeTempJSON(t, map[string]any{"database_dsn": "from-file", "log_level": "error"})

	cfg, err := LoadConfig([]string{"-c", path, "-d", "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.DatabaseDSN)
	assert.Equal(t, "error", cfg.LogLevel)
}
