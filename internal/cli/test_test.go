package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata"

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "modacct.db"), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "modacct.db"), "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out := mustExecute(t, filepath.Join(t.TempDir(), "modacct.db"), "test", scenariosDir, "--format", "json")

	var result TestResult
	resp := decode(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	out := mustExecute(t, filepath.Join(t.TempDir(), "modacct.db"), "test", scenariosDir, "--filter", "api_*")
	assert.Contains(t, out, "✓ api_replacement")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "lending_on_oracle")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "modacct.db"), "test", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandGolden(t *testing.T) {
	dir := t.TempDir()
	copyFile(t, filepath.Join(scenariosDir, "catalog.cue"), filepath.Join(dir, "catalog.cue"))
	copyFile(t, filepath.Join(scenariosDir, "lending_on_oracle.yaml"), filepath.Join(dir, "lending_on_oracle.yaml"))
	db := filepath.Join(t.TempDir(), "modacct.db")

	mustExecute(t, db, "test", dir, "--update")
	written, err := os.ReadFile(filepath.Join(dir, "golden", "lending_on_oracle.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "lending_on_oracle.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	mustExecute(t, db, "test", dir)

	// A drifted golden file fails the scenario.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "lending_on_oracle.golden"), []byte(`{"trace":[]}`), 0o644))
	out, err := execute(t, db, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))

	var result TestResult
	require.NoError(t, json.Unmarshal(decode(t, out, nil).Data, &result))
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors[0], "golden")
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}
