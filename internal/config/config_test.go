package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modacct.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "modacct.db", cfg.Database)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Log.File)
	assert.True(t, cfg.Log.Compress)
	assert.Equal(t, DefaultAdmin, cfg.Registry.Admin)
	assert.Equal(t, DefaultAdmin, cfg.Registry.PlatformAdmin)
	assert.Equal(t, DefaultFactory, cfg.Host.Factory)
	assert.Equal(t, 1000, cfg.Host.MaxSteps)
	assert.Equal(t, "mod", cfg.Host.AddressPrefix)
}

func TestLoad_File(t *testing.T) {
	path := writeTempConfig(t, `
database: /tmp/accounts.db
log:
  level: debug
  format: json
  file: /tmp/modacct.log
  max_backups: 3
host:
  max_steps: 50
  address_prefix: acct
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/accounts.db", cfg.Database)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/modacct.log", cfg.Log.File)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.Equal(t, 50, cfg.Host.MaxSteps)
	assert.Equal(t, "acct", cfg.Host.AddressPrefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODACCT_HOST_MAX_STEPS", "7")
	t.Setenv("MODACCT_LOG_LEVEL", "WARN")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Host.MaxSteps)
	assert.Equal(t, slog.LevelWarn, cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"format", "log:\n  format: xml\n", "log.format"},
		{"max steps", "host:\n  max_steps: 0\n", "host.max_steps"},
		{"factory", "host:\n  factory: Nope\n", "host.factory"},
		{"admin", "registry:\n  admin: x\n", "registry.admin"},
		{"prefix", "host:\n  address_prefix: Mod\n", "host.address_prefix"},
		{"database", "database: \"  \"\n", "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.body))
			var fe FieldError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestLoad_UnknownLevel(t *testing.T) {
	_, err := Load(writeTempConfig(t, "log:\n  level: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
