package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/harness"
)

const failingScenario = `name: wrong_effect
schemaFile: blog.cue
steps:
  - op: createEntity
    args: { type: Person, fields: { name: Ada } }
    expect:
      effect: updated
`

// copyScenarios copies the demo scenarios and their schema into a
// temporary directory.
func copyScenarios(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"blog.cue", "publish_lifecycle.yaml", "search_and_locks.yaml"} {
		data, err := os.ReadFile(filepath.Join("../../testdata/scenarios", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	return dir
}

func TestScenarioCommand_Pass(t *testing.T) {
	out, err := execute(t, "scenario", "../../testdata/scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ publish_lifecycle")
	assert.Contains(t, out, "✓ search_and_locks")
	assert.Contains(t, out, "Summary: 2 passed, 0 failed, 2 total")
}

func TestScenarioCommand_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "scenario", "../../testdata/scenarios")
	require.NoError(t, err)

	var res jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ok", res.Status)

	var suite harness.SuiteResult
	require.NoError(t, json.Unmarshal(res.Data, &suite))
	assert.Equal(t, 2, suite.TotalScenarios)
	assert.Equal(t, 2, suite.Passed)
}

func TestScenarioCommand_Filter(t *testing.T) {
	out, err := execute(t, "scenario", "../../testdata/scenarios", "--filter", "publish_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ publish_lifecycle")
	assert.NotContains(t, out, "search_and_locks")
	assert.Contains(t, out, "1 total")

	_, err = execute(t, "scenario", "../../testdata/scenarios", "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommand_Failure(t *testing.T) {
	dir := copyScenarios(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_effect.yaml"), []byte(failingScenario), 0644))

	out, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_effect")
	assert.Contains(t, out, "Summary: 2 passed, 1 failed, 3 total")

	out, err = execute(t, "--format", "json", "scenario", filepath.Join(dir, "wrong_effect.yaml"))
	require.Error(t, err)
	var res jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeTestFailed, res.Error.Code)
}

func TestScenarioCommand_UpdateGolden(t *testing.T) {
	dir := copyScenarios(t)

	_, err := execute(t, "scenario", dir, "--update")
	require.NoError(t, err)

	golden := filepath.Join(dir, "golden", "publish_lifecycle.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "publish_lifecycle")

	// The regenerated golden files match a fresh run.
	_, err = execute(t, "scenario", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0644))
	out, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestScenarioCommand_MissingPath(t *testing.T) {
	_, err := execute(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "demo.golden"), goldenFilePath(filepath.Join("a", "b", "demo.yaml")))
}
