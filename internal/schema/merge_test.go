package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/ir"
)

func TestMergeIntoEmpty(t *testing.T) {
	next, err := Merge(Empty(), SpecificationUpdate{
		EntityTypes: []EntityTypeSpec{{
			Name:      "Person",
			NameField: "name",
			Fields:    []FieldSpec{{Name: "name", Type: KindString, Required: true}},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, next.Version)
	require.Len(t, next.EntityTypes, 1)
	assert.Equal(t, "Person", next.EntityTypes[0].Name)
}

func TestMergeNoChangeKeepsVersion(t *testing.T) {
	current := blogSpec()

	next, err := Merge(current, SpecificationUpdate{
		Patterns: []PatternSpec{{Name: "slug", Pattern: `^[a-z0-9-]+$`}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Version)
}

func TestMergeUpdatesFieldsInPlaceAndAppends(t *testing.T) {
	current := blogSpec()

	next, err := Merge(current, SpecificationUpdate{
		EntityTypes: []EntityTypeSpec{{
			Name:      "Person",
			NameField: "name",
			Fields: []FieldSpec{
				{Name: "age", Type: KindNumber},
				{Name: "email", Type: KindString},
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, next.Version)
	person := next.EntityTypes[1]
	require.Len(t, person.Fields, 4)
	assert.Equal(t, []string{"name", "age", "home", "email"}, fieldNames(person.Fields))
	assert.False(t, person.Fields[1].Integer, "updated field replaces attributes")

	// The input is not modified
	assert.Len(t, current.EntityTypes[1].Fields, 3)
}

func TestMergeRejectsKindChange(t *testing.T) {
	_, err := Merge(blogSpec(), SpecificationUpdate{
		EntityTypes: []EntityTypeSpec{{
			Name:   "Person",
			Fields: []FieldSpec{{Name: "age", Type: KindString}},
		}},
	})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
	assert.Contains(t, err.Error(), "cannot change field type")
}

func TestMergeRejectsListChange(t *testing.T) {
	_, err := Merge(blogSpec(), SpecificationUpdate{
		EntityTypes: []EntityTypeSpec{{
			Name:   "Person",
			Fields: []FieldSpec{{Name: "age", Type: KindNumber, List: true}},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot change list")
}

func TestMergeRejectsWrongVersion(t *testing.T) {
	_, err := Merge(blogSpec(), SpecificationUpdate{Version: 5})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
}

func TestMergeAppliesMigrations(t *testing.T) {
	next, err := Merge(blogSpec(), SpecificationUpdate{
		Migrations: []Migration{{
			Actions: []MigrationAction{
				{Action: ActionRenameField, EntityType: "Person", Field: "name", NewName: "fullName"},
				{Action: ActionRenameType, ComponentType: "Quote", NewName: "Citation"},
				{Action: ActionDeleteField, EntityType: "Person", Field: "home"},
				{Action: ActionRenameIndex, Index: "articleSlug", NewName: "slugs"},
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, next.Version)
	require.Len(t, next.Migrations, 1)
	assert.Equal(t, 2, next.Migrations[0].Version)

	person := next.EntityTypes[1]
	assert.Equal(t, []string{"fullName", "age"}, fieldNames(person.Fields))
	assert.Equal(t, "fullName", person.NameField)

	assert.Equal(t, "Citation", next.ComponentTypes[0].Name)
	assert.Equal(t, []string{"Citation"}, next.EntityTypes[0].Fields[3].ComponentTypes)
	assert.Equal(t, []string{"Citation"}, next.EntityTypes[0].Fields[4].ComponentTypes)

	assert.Equal(t, "slugs", next.Indexes[0].Name)
	assert.Equal(t, "slugs", next.EntityTypes[0].Fields[1].Index)
}

func TestMergeDeleteTypeClearsReferences(t *testing.T) {
	next, err := Merge(blogSpec(), SpecificationUpdate{
		Migrations: []Migration{{
			Actions: []MigrationAction{{Action: ActionDeleteType, EntityType: "Person"}},
		}},
	})
	require.NoError(t, err)

	require.Len(t, next.EntityTypes, 1)
	assert.Empty(t, next.EntityTypes[0].Fields[2].EntityTypes)
}

func TestMergeMigrationUnknownTarget(t *testing.T) {
	_, err := Merge(blogSpec(), SpecificationUpdate{
		Migrations: []Migration{{
			Actions: []MigrationAction{{Action: ActionRenameField, EntityType: "Person", Field: "nope", NewName: "x"}},
		}},
	})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
	assert.Contains(t, err.Error(), "unknown field")
}

func TestMergeValidatesResult(t *testing.T) {
	_, err := Merge(blogSpec(), SpecificationUpdate{
		EntityTypes: []EntityTypeSpec{{
			Name:   "Tag",
			Fields: []FieldSpec{{Name: "label", Type: KindString, MatchPattern: "missing"}},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownPattern)
}

func fieldNames(fields []FieldSpec) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
