package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/config"
)

func TestNew_TextToStderr(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.LogConfig{Level: slog.LevelInfo, Format: "text"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("account created", "account", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"account created\" account=1")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(config.LogConfig{Level: slog.LevelDebug, Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("message dispatched", "type", "create_module")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "DEBUG", line["level"])
	assert.Equal(t, "create_module", line["type"])
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "modacct.log")
	logger, closer, err := New(config.LogConfig{
		Level:      slog.LevelInfo,
		Format:     "json",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("transaction committed", "tx", "tx-1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tx":"tx-1"`)
}
