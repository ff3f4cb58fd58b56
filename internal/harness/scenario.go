package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/folio/internal/schema"
)

// Scenario defines a repository conformance scenario.
// A scenario applies a schema, runs a list of repository operations with
// expected outcomes, and asserts on the resulting event trace and final
// entity state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an inline schema specification update applied before the
	// first step.
	Schema map[string]any `yaml:"schema,omitempty"`

	// SchemaFile names a .cue, .yaml or .json specification update,
	// relative to the scenario file. Exclusive with Schema.
	SchemaFile string `yaml:"schemaFile,omitempty"`

	// Subject is the session subject for steps that do not name one.
	// Defaults to DefaultSubject.
	Subject string `yaml:"subject,omitempty"`

	// Steps are the repository operations, run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and entity state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DefaultSubject is the session subject steps run as unless the scenario
// or the step names another.
const DefaultSubject = "scenario"

// Step is one repository operation.
type Step struct {
	// Op names the operation, e.g. "createEntity" or "publishEntities".
	Op string `yaml:"op"`

	// Args are the operation's arguments, in the same shape as the
	// operation's JSON input. String values of the form "$name" are
	// replaced with the id bound by an earlier step's As.
	Args map[string]any `yaml:"args,omitempty"`

	// As binds the id of the entity this step wrote to a name.
	As string `yaml:"as,omitempty"`

	// Subject overrides the scenario subject for this step. "-" runs the
	// step anonymously.
	Subject string `yaml:"subject,omitempty"`

	// Advance moves the scenario clock forward before the step runs.
	Advance Duration `yaml:"advance,omitempty"`

	// Expect specifies the expected outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected step behavior. Only the fields that are
// set are checked.
type ExpectClause struct {
	// Error is the expected error kind, e.g. "Conflict". Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	// Effect is the expected effect of a write.
	Effect string `yaml:"effect,omitempty"`

	// Result is a subset match against the step's JSON output: objects
	// match on the listed keys, arrays element-wise.
	Result any `yaml:"result,omitempty"`

	// Names is the exact, ordered list of entity names a search or sample
	// returns.
	Names []string `yaml:"names,omitempty"`

	// Count is the expected number of results of a search, a sample or a
	// total count.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of the type appears, optionally naming an entity
	// - "trace_order": event types appear in order
	// - "trace_count": an event type appears exactly N times
	// - "final_state": an entity's latest or published state matches
	Type string `yaml:"type"`

	// Event is the event type (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Entity is an entity id or "$binding" (used by trace_contains,
	// final_state).
	Entity string `yaml:"entity,omitempty"`

	// Events is the expected event order (used by trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Published checks the published version instead of the latest
	// (used by final_state).
	Published bool `yaml:"published,omitempty"`

	// Expect contains expected entity attributes (used by final_state).
	// Subset match; the "fields" key is matched against the entity's
	// fields in wire form.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// SchemaNotFoundError is returned when a scenario's schemaFile does not exist.
type SchemaNotFoundError struct {
	Scenario     string
	SchemaFile   string
	ResolvedPath string
}

// Error implements the error interface.
func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf(
		"scenario %q references schema file %q which does not exist (resolved to: %s)",
		e.Scenario,
		e.SchemaFile,
		e.ResolvedPath,
	)
}

// LoadScenario reads and parses a scenario YAML file. A schemaFile is
// resolved relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema file relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. basePath resolves a relative
// schemaFile.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.SchemaFile != "" && !filepath.IsAbs(scenario.SchemaFile) && basePath != "" {
		scenario.SchemaFile = filepath.Join(basePath, scenario.SchemaFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// SchemaUpdate returns the scenario's schema as a specification update.
// A scenario without a schema starts from the empty schema.
func (s *Scenario) SchemaUpdate() (*schema.SpecificationUpdate, error) {
	switch {
	case s.SchemaFile != "":
		update, err := schema.LoadUpdateFile(s.SchemaFile)
		if err != nil {
			return nil, err
		}
		return &update, nil
	case s.Schema != nil:
		data, err := json.Marshal(s.Schema)
		if err != nil {
			return nil, fmt.Errorf("convert schema: %w", err)
		}
		update, err := schema.LoadJSON(data)
		if err != nil {
			return nil, err
		}
		return &update, nil
	}
	return nil, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Schema != nil && s.SchemaFile != "" {
		return fmt.Errorf("schema and schemaFile are mutually exclusive")
	}

	if s.SchemaFile != "" {
		if _, err := os.Stat(s.SchemaFile); os.IsNotExist(err) {
			return &SchemaNotFoundError{
				Scenario:     s.Name,
				SchemaFile:   filepath.Base(s.SchemaFile),
				ResolvedPath: s.SchemaFile,
			}
		}
	}

	for i, step := range s.Steps {
		if step.Op == "" {
			return fmt.Errorf("steps[%d]: op is required", i)
		}
		if _, ok := operations[step.Op]; !ok {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
