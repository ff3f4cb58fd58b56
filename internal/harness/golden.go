package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot renders the event trace of a scenario run, one event per
// line, preceded by the scenario name and the outcome of each step.
func TraceSnapshot(scenarioName string, result *Result) []byte {
	var b strings.Builder
	b.WriteString("# " + scenarioName + "\n")
	for _, step := range result.Steps {
		b.WriteString("step ")
		b.WriteString(step.Op)
		switch {
		case step.Error != "":
			b.WriteString(" error=" + string(step.Error))
		case step.Effect != "":
			b.WriteString(" effect=" + string(step.Effect))
		}
		b.WriteByte('\n')
	}
	for _, line := range result.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, TraceSnapshot(scenarioName, result))
}
