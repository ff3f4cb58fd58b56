package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/folio/internal/ir"
)

// storageError converts a storage failure into a Generic repository error.
// Repository errors pass through unchanged.
func storageError(err error, format string, args ...any) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return e
	}
	return ir.NewGeneric(err, format, args...)
}

// aggregate folds the per-entity failures of a batch into one BadRequest.
// Validation issues of each entity are kept, prefixed with its id; other
// failures become one issue each.
//
// A batch of one returns its failure unchanged, so a missing entity is
// still reported as NotFound.
func aggregate(verb string, attempted int, failures map[string]error, order []string) error {
	if len(failures) == 0 {
		return nil
	}
	if attempted == 1 {
		for _, err := range failures {
			return err
		}
	}
	var issues []ir.ValidationIssue
	for _, id := range order {
		err, ok := failures[id]
		if !ok {
			continue
		}
		e := ir.AsError(err)
		if len(e.Issues) == 0 {
			issues = append(issues, ir.ValidationIssue{
				Path:     ir.Path{id},
				Message:  e.Message,
				Severity: ir.SeverityPublish,
			})
			continue
		}
		for _, issue := range e.Issues {
			issues = append(issues, ir.ValidationIssue{
				Path:     append(ir.Path{id}, issue.Path...),
				Message:  issue.Message,
				Severity: issue.Severity,
			})
		}
	}
	msg := fmt.Sprintf("%s failed for %d of %d entities", verb, len(failures), attempted)
	return ir.NewValidationFailed(msg, issues)
}
