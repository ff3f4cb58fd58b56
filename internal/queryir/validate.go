package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/folio/internal/ir"
)

// Validate checks the structural rules of a Select:
//
//  1. The first predicate of the filter is AuthKeyIn.
//  2. AuthKeyIn appears nowhere else.
//  3. The order key is known.
//  4. Statuses, entity ids and bounding boxes are well-formed.
//
// All problems are reported together in one BadRequest.
func Validate(sel *Select) error {
	if sel == nil {
		return ir.NewBadRequest("invalid query: nil select")
	}
	v := &validator{}
	v.validateSelect(sel)
	if len(v.problems) == 0 {
		return nil
	}
	return ir.NewBadRequest("invalid query: %s", strings.Join(v.problems, "; "))
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateSelect(sel *Select) {
	if !ValidOrderKeys[sel.Order] {
		v.addProblem("unknown order %q", sel.Order)
	}

	preds := sel.Filter.Predicates
	if len(preds) == 0 {
		v.addProblem("authorization predicate is missing")
		return
	}
	if _, ok := preds[0].(AuthKeyIn); !ok {
		v.addProblem("authorization predicate must come first, got %T", preds[0])
	}
	for i, p := range preds {
		v.validatePredicate(p, i == 0)
	}
}

func (v *validator) validatePredicate(p Predicate, first bool) {
	switch pred := p.(type) {
	case AuthKeyIn:
		if !first {
			v.addProblem("authorization predicate may only appear first")
		}
	case TypeIn:
		if len(pred.Types) == 0 {
			v.addProblem("entity type filter is empty")
		}
	case ComponentTypeIn:
		if len(pred.Types) == 0 {
			v.addProblem("component type filter is empty")
		}
	case StatusIn:
		for _, s := range pred.Statuses {
			if !ir.ValidStatuses[s] {
				v.addProblem("unknown status %q", s)
			}
		}
	case ValidIs:
	case LinksTo:
		if !validateID(pred.ID) {
			v.addProblem("linksTo id %q is not a UUID", pred.ID)
		}
	case LinksFrom:
		if !validateID(pred.ID) {
			v.addProblem("linksFrom id %q is not a UUID", pred.ID)
		}
	case TextMatch:
		if strings.TrimSpace(pred.Text) == "" {
			v.addProblem("text filter is empty")
		}
	case WithinBoundingBox:
		v.validateBoundingBox(pred.Box)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, false)
		}
	case nil:
		v.addProblem("nil predicate")
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateBoundingBox(b BoundingBox) {
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLat > b.MaxLat {
		v.addProblem("bounding box latitude range [%g, %g] is invalid", b.MinLat, b.MaxLat)
	}
	if b.MinLng < -180 || b.MinLng > 180 || b.MaxLng < -180 || b.MaxLng > 180 {
		v.addProblem("bounding box longitude range [%g, %g] is invalid", b.MinLng, b.MaxLng)
	}
}
