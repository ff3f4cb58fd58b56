package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Line)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an event of the given
// type, touching the given entity when one is named.
func assertTraceContains(trace []TraceEvent, assertion Assertion, entity string) error {
	for _, event := range trace {
		if string(event.Type) != assertion.Event {
			continue
		}
		if entity == "" || slices.Contains(event.Entities, entity) {
			return nil
		}
	}

	expected := "event " + assertion.Event
	if entity != "" {
		expected += " for entity " + entity
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if event types first appear in the specified
// order. Events don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected event
	positions := make(map[string]int)
	for i, event := range trace {
		t := string(event.Type)
		if positions[t] == 0 {
			positions[t] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all events found
	for _, t := range assertion.Events {
		if positions[t] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", t),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the event type appears exactly the specified
// number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if string(event.Type) == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState reads an entity's latest or published state and checks
// the expected attributes using subset semantics.
func assertFinalState(actx *AssertionContext, assertion Assertion, id string) error {
	var (
		view any
		err  error
	)
	if assertion.Published {
		var e ir.PublishedEntity
		e, err = actx.Repo.GetPublishedEntity(actx.Ctx, actx.Session, ir.EntityReference{ID: id})
		view = codec.EncodePublished(e)
	} else {
		var e ir.Entity
		e, err = actx.Repo.GetEntity(actx.Ctx, actx.Session, ir.EntityVersionReference{ID: id})
		view = codec.EncodeEntity(e)
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s", id),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	actual, err := toGeneric(view)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", id, err)
	}
	expected, err := toGeneric(assertion.Expect)
	if err != nil {
		return fmt.Errorf("encode expectation: %w", err)
	}
	if msg, ok := matchSubset(expected, actual, ""); !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s to match %s", id, formatExpect(assertion.Expect)),
			Actual:   msg,
		}
	}
	return nil
}

// formatExpect creates a human-readable description of expected values.
// Keys are sorted for deterministic output.
func formatExpect(expect map[string]any) string {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, expect[k]))
	}
	return strings.Join(parts, " ")
}

// matchSubset checks that actual contains expected: objects match on the
// expected keys only, arrays match element-wise with equal length, and
// scalars match exactly. Both sides must be plain JSON values. It returns a
// description of the first mismatch.
func matchSubset(expected, actual any, path string) (string, bool) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Sprintf("%s: expected an object, got %v", pathOrRoot(path), actual), false
		}
		for key, want := range exp {
			got, exists := act[key]
			if !exists && want != nil {
				return fmt.Sprintf("%s: missing", joinPath(path, key)), false
			}
			if msg, ok := matchSubset(want, got, joinPath(path, key)); !ok {
				return msg, false
			}
		}
		return "", true
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Sprintf("%s: expected an array, got %v", pathOrRoot(path), actual), false
		}
		if len(act) != len(exp) {
			return fmt.Sprintf("%s: expected %d items, got %d", pathOrRoot(path), len(exp), len(act)), false
		}
		for i := range exp {
			if msg, ok := matchSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); !ok {
				return msg, false
			}
		}
		return "", true
	default:
		if expected != actual {
			return fmt.Sprintf("%s: expected %v, got %v", pathOrRoot(path), expected, actual), false
		}
		return "", true
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func pathOrRoot(path string) string {
	if path == "" {
		return "result"
	}
	return path
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Repo *engine.Repository
	Ctx  context.Context
	// Session reads entities for final_state assertions.
	Session auth.Session
	// Bindings resolve "$name" entity references.
	Bindings map[string]any
}

// resolveEntity turns an entity reference into an id.
func (actx *AssertionContext) resolveEntity(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	if actx == nil {
		return "", fmt.Errorf("unbound name %q", ref)
	}
	bound, ok := actx.Bindings[name]
	if !ok {
		return "", fmt.Errorf("unbound name %q", ref)
	}
	id, ok := bound.(string)
	if !ok {
		return "", fmt.Errorf("name %q is not bound to an entity", ref)
	}
	return id, nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides repository access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			var entity string
			if assertion.Entity != "" {
				entity, err = actx.resolveEntity(assertion.Entity)
			}
			if err == nil {
				err = assertTraceContains(result.Trace, assertion, entity)
			}
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Repo == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a repository", i)
				break
			}
			var id string
			id, err = actx.resolveEntity(assertion.Entity)
			if err == nil {
				err = assertFinalState(actx, assertion, id)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
