package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dogScenario = `
name: dogs
description: "Collection listener sees a deletion"
index_base: one
classes:
  - name: Dog
    properties: [name]
setup:
  - create: {class: Dog, label: a, values: {name: a}}
  - create: {class: Dog, label: b, values: {name: b}}
listeners:
  - name: all
    results: Dog
steps:
  - write:
      - delete: a
assertions:
  - type: delivery_count
    listener: all
    count: 1
  - type: delivered
    listener: all
    change:
      deletions: [1]
`

const failingScenario = `
name: failing
description: "Expects a delivery that never happens"
classes:
  - name: Dog
    properties: [name]
listeners:
  - name: all
    results: Dog
steps:
  - write:
      - create: {class: Dog}
assertions:
  - type: delivery_count
    listener: all
    count: 3
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dogs.yaml", dogScenario)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Scenario: dogs (index base: one)")
	assert.Contains(t, out, "[1] all")
	assert.Contains(t, out, "deletions=[1]")
	assert.Contains(t, out, "✓ passed")
}

func TestRunCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dogs.yaml", dogScenario)

	out, err := execute(t, "--format", "json", "run", path)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Pass       bool   `json:"pass"`
			IndexBase  string `json:"index_base"`
			Deliveries []struct {
				Listener string         `json:"listener"`
				Change   map[string]any `json:"change"`
				OnLoop   bool           `json:"on_loop"`
			} `json:"deliveries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	require.Len(t, resp.Data.Deliveries, 1)
	assert.True(t, resp.Data.Deliveries[0].OnLoop)
	assert.Equal(t, []any{float64(1)}, resp.Data.Deliveries[0].Change["deletions"])
}

func TestRunCommand_IndexBaseFlagIgnoredWhenScenarioSetsIt(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dogs.yaml", dogScenario)

	out, err := execute(t, "run", "--index-base", "zero", path)
	require.NoError(t, err)
	assert.Contains(t, out, "index base: one")
}

func TestRunCommand_AssertionFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "failing.yaml", failingScenario)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failed")
	assert.Contains(t, out, "3 deliveries to all")
}

func TestRunCommand_MissingScenario(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_BadIndexBaseFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "failing.yaml", failingScenario)

	_, err := execute(t, "run", "--index-base", "two", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_Config(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dogs.yaml", dogScenario)
	cfg := writeFile(t, dir, "loopbridge.yaml", "database: "+filepath.Join(dir, "lb.db")+"\nworkers: 2\n")

	_, err := execute(t, "--config", cfg, "run", path)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "lb.db"))
	assert.NoError(t, err)
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dogs.yaml", dogScenario)
	cfg := writeFile(t, dir, "loopbridge.yaml", "workers: 0\nindex_base: sideways\n")

	_, err := execute(t, "--config", cfg, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestTestCommand_AllPass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dogs.yaml", dogScenario)
	writeFile(t, dir, "nested/dogs_again.yml", dogScenario)
	writeFile(t, dir, "README.md", "not a scenario")

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dogs.yaml", dogScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 passed, 1 failed")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dogs.yaml", dogScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	out, err := execute(t, "test", "--filter", "dog*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_GoldenUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dogs.yaml", dogScenario)

	out, err := execute(t, "test", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "dogs.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "dogs"`)

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "dogs.golden"), []byte("{}\n"), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "golden file mismatch")
}

func TestTestCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dogs.yaml", dogScenario)

	out, err := execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, "dogs", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_EmptyAndMissingDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, err = execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "dogs.yaml", dogScenario)
	bad := writeFile(t, dir, "bad.yaml", "name: bad\ndescription: d\nclasses: []\nsteps: []\n")

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+good+" (dogs)")

	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "✗ "+bad)
	assert.Contains(t, out, "classes list is required")

	out, err = execute(t, "--format", "json", "validate", good, bad)
	require.Error(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Data.Files, 2)
	assert.True(t, resp.Data.Files[0].Valid)
	assert.False(t, resp.Data.Files[1].Valid)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "loopbridge "+Version)

	out, err = execute(t, "--format", "json", "version")
	require.NoError(t, err)
	var resp struct {
		Data VersionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, Version, resp.Data.Version)
}
