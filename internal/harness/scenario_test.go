package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "people.yaml", `
entityTypes:
  - name: Person
    fields: [{ name: name, type: String }]
`)
	path := writeFile(t, dir, "test.yaml", `
name: test_scenario
description: "Test scenario for validation"
schemaFile: people.yaml
steps:
  - op: createEntity
    args: { type: Person, name: Ada }
    as: ada
    advance: 90s
    expect:
      effect: created
assertions:
  - type: trace_contains
    event: createEntity
    entity: $ada
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(dir, "people.yaml"), scenario.SchemaFile)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, "createEntity", scenario.Steps[0].Op)
	assert.Equal(t, "Ada", scenario.Steps[0].Args["name"])
	assert.Equal(t, Duration(90*time.Second), scenario.Steps[0].Advance)
	assert.Equal(t, "created", scenario.Steps[0].Expect.Effect)

	update, err := scenario.SchemaUpdate()
	require.NoError(t, err)
	require.NotNil(t, update)
	require.Len(t, update.EntityTypes, 1)
	assert.Equal(t, "Person", update.EntityTypes[0].Name)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.yaml", `
name: missing_schema
schemaFile: nope.cue
steps:
  - op: getSchema
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	var notFound *SchemaNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope.cue", notFound.SchemaFile)
}

func TestParseScenario_InlineSchema(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: inline
schema:
  entityTypes:
    - name: Person
      nameField: name
      fields:
        - { name: name, type: String, required: true }
steps:
  - op: getSchema
`), "")
	require.NoError(t, err)

	update, err := scenario.SchemaUpdate()
	require.NoError(t, err)
	require.Len(t, update.EntityTypes, 1)
	assert.Equal(t, "name", update.EntityTypes[0].NameField)
	assert.True(t, update.EntityTypes[0].Fields[0].Required)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\nstep:\n  - op: getSchema\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "steps:\n  - op: getSchema\n",
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			content: "name: x\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown op",
			content: "name: x\nsteps:\n  - op: dropTable\n",
			wantErr: `unknown op "dropTable"`,
		},
		{
			name:    "bad duration",
			content: "name: x\nsteps:\n  - op: getSchema\n    advance: soon\n",
			wantErr: "invalid duration",
		},
		{
			name:    "both schemas",
			content: "name: x\nschema: {}\nschemaFile: a.cue\nsteps:\n  - op: getSchema\n",
			wantErr: "mutually exclusive",
		},
		{
			name: "trace_count without event",
			content: `name: x
steps:
  - op: getSchema
assertions:
  - type: trace_count
    count: 1
`,
			wantErr: "event is required for trace_count",
		},
		{
			name: "final_state without expect",
			content: `name: x
steps:
  - op: getSchema
assertions:
  - type: final_state
    entity: $post
`,
			wantErr: "expect is required for final_state",
		},
		{
			name: "unknown assertion",
			content: `name: x
steps:
  - op: getSchema
assertions:
  - type: eventually
`,
			wantErr: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
