package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/ir"
)

func intPtr(n int) *int { return &n }

func TestBuild_AuthKeyIsFirstPredicate(t *testing.T) {
	valid := true
	q := EntityQuery{
		EntityTypes:    []string{"Person", "Article", "Person"},
		ComponentTypes: []string{"Quote"},
		Status:         []ir.EntityStatus{ir.StatusPublished, ir.StatusDraft},
		Valid:          &valid,
		LinksTo:        "11111111-1111-4111-8111-111111111111",
		Text:           "  hello  ",
		BoundingBox:    &BoundingBox{MinLat: 0, MaxLat: 1, MinLng: 0, MaxLng: 1},
		Order:          OrderName,
		Reverse:        true,
	}

	sel, err := Build(q, []string{"subject:b", "none", "subject:b"}, Scope{Published: true})
	require.NoError(t, err)

	assert.Equal(t, Scope{Published: true}, sel.Scope)
	assert.Equal(t, OrderName, sel.Order)
	assert.True(t, sel.Reverse)
	assert.Equal(t, []Predicate{
		AuthKeyIn{Keys: []string{"none", "subject:b"}},
		TypeIn{Types: []string{"Article", "Person"}},
		ComponentTypeIn{Types: []string{"Quote"}},
		StatusIn{Statuses: []ir.EntityStatus{ir.StatusDraft, ir.StatusPublished}},
		ValidIs{Valid: true},
		LinksTo{ID: "11111111-1111-4111-8111-111111111111"},
		TextMatch{Text: "hello"},
		WithinBoundingBox{Box: BoundingBox{MinLat: 0, MaxLat: 1, MinLng: 0, MaxLng: 1}},
	}, sel.Filter.Predicates)
}

func TestBuild_EmptyAuthKeysStillFilter(t *testing.T) {
	sel, err := Build(EntityQuery{}, nil, Scope{})
	require.NoError(t, err)

	require.Len(t, sel.Filter.Predicates, 1)
	assert.Equal(t, AuthKeyIn{Keys: []string{}}, sel.Filter.Predicates[0])
	assert.Equal(t, OrderCreatedAt, sel.Order)
}

func TestBuild_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		query EntityQuery
		want  string
	}{
		{"order", EntityQuery{Order: "random"}, "unknown order"},
		{"status", EntityQuery{Status: []ir.EntityStatus{"gone"}}, "unknown status"},
		{"linksFrom", EntityQuery{LinksFrom: "x"}, "linksFrom id"},
		{"bbox", EntityQuery{BoundingBox: &BoundingBox{MinLat: -91, MaxLat: 0}}, "latitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.query, []string{"none"}, Scope{})
			require.Error(t, err)
			assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvePaging(t *testing.T) {
	tests := []struct {
		name    string
		paging  Paging
		want    Page
		wantErr string
	}{
		{"default", Paging{}, Page{Count: 25}, ""},
		{"first", Paging{First: intPtr(10), After: "c1"}, Page{Count: 10, After: "c1"}, ""},
		{"last", Paging{Last: intPtr(3), Before: "c2"}, Page{Count: 3, Before: "c2", Backward: true}, ""},
		{"zero", Paging{First: intPtr(0)}, Page{Count: 0}, ""},
		{"both", Paging{First: intPtr(1), Last: intPtr(1)}, Page{}, "both first and last"},
		{"negative", Paging{Last: intPtr(-1)}, Page{}, "must not be negative"},
		{"too large", Paging{First: intPtr(1001)}, Page{}, "must not exceed 1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePaging(tt.paging, DefaultPageSize, MaxPageSize)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
