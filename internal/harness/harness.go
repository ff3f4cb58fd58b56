package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/store"
	"github.com/roach88/folio/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against a fresh repository with deterministic time,
// ids and sampling.
type Harness struct {
	backend  store.Backend
	repo     *engine.Repository
	clock    *testutil.ManualClock
	subject  string
	bindings map[string]any
	logger   *slog.Logger
}

// Options configure a scenario run.
type Options struct {
	// Backend runs the scenario against an existing backend instead of a
	// fresh in-memory SQLite database. The backend is not closed.
	Backend store.Backend

	// Logger receives step logs. Defaults to discarding them.
	Logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Apply the scenario schema
// 3. Execute steps with expect validation
// 4. Read the event trace and evaluate assertions
//
// Run returns an error only when the scenario cannot be executed; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions executes a scenario with the given options.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	backend := opts.Backend
	if backend == nil {
		b, err := store.OpenSQLite(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer b.Close()
		backend = b
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	clock := testutil.NewManualClock()
	repo, err := engine.New(backend,
		engine.WithClock(clock),
		engine.WithUUIDGenerator(testutil.NewSequentialUUIDs(1)),
		engine.WithEventIDGenerator(testutil.NewSequentialUUIDs(2)),
		engine.WithRandomSeed(1),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	subject := scenario.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	h := &Harness{
		backend:  backend,
		repo:     repo,
		clock:    clock,
		subject:  subject,
		bindings: map[string]any{},
		logger:   logger,
	}

	update, err := scenario.SchemaUpdate()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if update != nil {
		if _, err := repo.UpdateSchemaSpecification(ctx, auth.Session{Subject: subject}, *update); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	trace, err := h.trace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	result.Trace = trace

	actx := &AssertionContext{
		Repo:     repo,
		Ctx:      ctx,
		Session:  auth.Session{Subject: subject},
		Bindings: h.bindings,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSteps runs all steps and validates expect clauses.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		if step.Advance > 0 {
			h.clock.Advance(time.Duration(step.Advance))
		}

		args, err := h.resolveArgs(step.Args)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}

		op := operations[step.Op]
		out, opErr := op(ctx, h.repo, h.session(step), args)

		var argErr *argsError
		if errors.As(opErr, &argErr) {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, opErr)
		}

		sr := StepResult{Index: i, Op: step.Op, Effect: out.effect}
		if opErr != nil {
			sr.Error = ir.KindOf(opErr)
		} else {
			sr.Output, err = toGeneric(out.output)
			if err != nil {
				return fmt.Errorf("step %d (%s): encode output: %w", i, step.Op, err)
			}
			if step.As != "" {
				if out.bind == nil {
					return fmt.Errorf("step %d (%s): nothing to bind to %q", i, step.Op, step.As)
				}
				h.bindings[step.As] = out.bind
			}
		}
		result.Steps = append(result.Steps, sr)

		expect, err := h.resolveExpect(step.Expect)
		if err != nil {
			return fmt.Errorf("step %d (%s): expect: %w", i, step.Op, err)
		}
		for _, msg := range checkExpect(expect, sr, opErr, out) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Op, msg))
		}

		h.logger.Info("scenario step completed",
			"step", i,
			"op", step.Op,
			"effect", sr.Effect,
			"error", sr.Error,
		)
	}
	return nil
}

// resolvedExpect is an expect clause with bindings substituted into the
// expected result.
type resolvedExpect struct {
	ExpectClause
	result any
}

func (h *Harness) resolveExpect(expect *ExpectClause) (resolvedExpect, error) {
	if expect == nil {
		return resolvedExpect{}, nil
	}
	out := resolvedExpect{ExpectClause: *expect}
	if expect.Result != nil {
		r, err := h.substitute(expect.Result)
		if err != nil {
			return resolvedExpect{}, err
		}
		if out.result, err = toGeneric(r); err != nil {
			return resolvedExpect{}, err
		}
	}
	return out, nil
}

// checkExpect compares a step outcome with its expect clause. A step
// without an expect clause must succeed.
func checkExpect(expect resolvedExpect, sr StepResult, opErr error, out outcome) []string {
	if expect.Error != "" {
		if opErr == nil {
			return []string{fmt.Sprintf("expected error %s, step succeeded", expect.Error)}
		}
		if string(sr.Error) != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", expect.Error, sr.Error, opErr)}
		}
		return nil
	}
	if opErr != nil {
		return []string{fmt.Sprintf("unexpected error: %v", opErr)}
	}

	var errs []string
	if expect.Effect != "" && string(out.effect) != expect.Effect {
		errs = append(errs, fmt.Sprintf("expected effect %s, got %s", expect.Effect, out.effect))
	}
	if expect.Count != nil {
		switch {
		case out.count == nil:
			errs = append(errs, "expected a count, step returns none")
		case *out.count != *expect.Count:
			errs = append(errs, fmt.Sprintf("expected count %d, got %d", *expect.Count, *out.count))
		}
	}
	if expect.Names != nil && !slices.Equal(expect.Names, out.names) {
		errs = append(errs, fmt.Sprintf("expected names %q, got %q", expect.Names, out.names))
	}
	if expect.Result != nil {
		if msg, ok := matchSubset(expect.result, sr.Output, ""); !ok {
			errs = append(errs, "result mismatch: "+msg)
		}
	}
	return errs
}

// session returns the session a step runs as.
func (h *Harness) session(step Step) auth.Session {
	switch step.Subject {
	case "":
		return auth.Session{Subject: h.subject}
	case "-":
		return auth.Session{}
	default:
		return auth.Session{Subject: step.Subject}
	}
}

// resolveArgs substitutes "$name" bindings and encodes the args as JSON.
func (h *Harness) resolveArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	resolved, err := h.substitute(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resolved)
}

func (h *Harness) substitute(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if name, ok := strings.CutPrefix(val, "$"); ok && name != "" {
			bound, ok := h.bindings[name]
			if !ok {
				return nil, fmt.Errorf("unbound name %q", val)
			}
			return bound, nil
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := h.substitute(elem)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := h.substitute(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// trace reads the whole event log in feed order.
func (h *Harness) trace(ctx context.Context) ([]TraceEvent, error) {
	trace := []TraceEvent{}
	after := ""
	for {
		page, err := h.repo.GetSyncEvents(ctx, eventlog.SyncQuery{After: after})
		if err != nil {
			return nil, err
		}
		for _, ev := range page.Events {
			trace = append(trace, traceEvent(len(trace)+1, ev))
		}
		if !page.HasMore {
			return trace, nil
		}
		after = page.NextCursor
	}
}

func traceEvent(seq int, ev ir.SyncEvent) TraceEvent {
	var ids []string
	if e := ev.Payload.Entity; e != nil {
		ids = append(ids, e.ID)
	}
	for _, ref := range ev.Payload.Entities {
		ids = append(ids, ref.ID)
	}
	return TraceEvent{
		Seq:      seq,
		Type:     ev.Type,
		Entities: ids,
		Line:     eventlog.String(ev),
	}
}

// toGeneric converts v to plain JSON values (map[string]any, []any,
// float64, string, bool, nil).
func toGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
