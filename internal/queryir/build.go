package queryir

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/folio/internal/ir"
)

// Page sizes used when the repository is not configured otherwise.
const (
	DefaultPageSize = 25
	MaxPageSize     = 1000
)

// Build compiles a caller query into a Select. resolvedAuthKeys are the
// caller's authorization keys after resolution by the authorization
// adapter; they always become the first predicate.
//
// Build returns BadRequest for unknown order keys or statuses, malformed
// entity ids and out-of-range bounding boxes.
func Build(q EntityQuery, resolvedAuthKeys []string, scope Scope) (*Select, error) {
	order := q.Order
	if order == "" {
		order = OrderCreatedAt
	}

	keys := slices.Clone(resolvedAuthKeys)
	slices.Sort(keys)
	keys = slices.Compact(keys)
	if keys == nil {
		keys = []string{}
	}

	sel := &Select{
		Scope:   scope,
		Order:   order,
		Reverse: q.Reverse,
		Filter:  And{Predicates: []Predicate{AuthKeyIn{Keys: keys}}},
	}
	add := func(p Predicate) {
		sel.Filter.Predicates = append(sel.Filter.Predicates, p)
	}

	if len(q.EntityTypes) > 0 {
		add(TypeIn{Types: sortedSet(q.EntityTypes)})
	}
	if len(q.ComponentTypes) > 0 {
		add(ComponentTypeIn{Types: sortedSet(q.ComponentTypes)})
	}
	if len(q.Status) > 0 {
		statuses := slices.Clone(q.Status)
		slices.Sort(statuses)
		add(StatusIn{Statuses: slices.Compact(statuses)})
	}
	if q.Valid != nil {
		add(ValidIs{Valid: *q.Valid})
	}
	if q.LinksTo != "" {
		add(LinksTo{ID: q.LinksTo})
	}
	if q.LinksFrom != "" {
		add(LinksFrom{ID: q.LinksFrom})
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		add(TextMatch{Text: text})
	}
	if q.BoundingBox != nil {
		add(WithinBoundingBox{Box: *q.BoundingBox})
	}

	if err := Validate(sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// Page is resolved paging: a scan direction, a row count and optional
// exclusive bounds.
type Page struct {
	After  string
	Before string
	Count  int
	// Backward scans from the end; results are re-reversed by the caller.
	Backward bool
}

// ResolvePaging validates paging against the configured page sizes.
func ResolvePaging(p Paging, defaultSize, maxSize int) (Page, error) {
	if p.First != nil && p.Last != nil {
		return Page{}, ir.NewBadRequest("paging cannot specify both first and last")
	}
	page := Page{After: p.After, Before: p.Before, Count: defaultSize}
	var requested *int
	var param string
	switch {
	case p.First != nil:
		requested, param = p.First, "first"
	case p.Last != nil:
		requested, param = p.Last, "last"
		page.Backward = true
	}
	if requested != nil {
		n := *requested
		if n < 0 {
			return Page{}, ir.NewBadRequest("paging %s must not be negative, got %d", param, n)
		}
		if n > maxSize {
			return Page{}, ir.NewBadRequest("paging %s must not exceed %d, got %d", param, maxSize, n)
		}
		page.Count = n
	}
	return page, nil
}

// validateID reports whether id is a well-formed entity id.
func validateID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
