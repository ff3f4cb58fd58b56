package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/ir"
)

func blogSpec() Specification {
	return Specification{
		Version: 1,
		EntityTypes: []EntityTypeSpec{
			{
				Name:           "Article",
				AuthKeyPattern: "anyKey",
				NameField:      "title",
				Fields: []FieldSpec{
					{Name: "title", Type: KindString, Required: true},
					{Name: "slug", Type: KindString, MatchPattern: "slug", Index: "articleSlug"},
					{Name: "author", Type: KindReference, EntityTypes: []string{"Person"}},
					{Name: "body", Type: KindRichText, ComponentTypes: []string{"Quote"}},
					{Name: "blocks", Type: KindComponent, List: true, ComponentTypes: []string{"Quote"}},
				},
			},
			{
				Name:      "Person",
				NameField: "name",
				Fields: []FieldSpec{
					{Name: "name", Type: KindString, Required: true},
					{Name: "age", Type: KindNumber, Integer: true},
					{Name: "home", Type: KindLocation},
				},
			},
		},
		ComponentTypes: []ComponentTypeSpec{
			{
				Name: "Quote",
				Fields: []FieldSpec{
					{Name: "text", Type: KindString, Required: true},
					{Name: "by", Type: KindReference},
				},
			},
		},
		Patterns: []PatternSpec{
			{Name: "slug", Pattern: `^[a-z0-9-]+$`},
			{Name: "anyKey", Pattern: `^(none|subject)$`},
		},
		Indexes:    []IndexSpec{{Name: "articleSlug", Type: IndexUnique}},
		Migrations: []Migration{},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidSpec(t *testing.T) {
	errs := Validate(blogSpec())
	assert.Empty(t, errs, "valid spec should have no errors")
}

func TestValidateDuplicateTypeAcrossKinds(t *testing.T) {
	spec := blogSpec()
	spec.ComponentTypes = append(spec.ComponentTypes, ComponentTypeSpec{Name: "Person"})

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateType, errs[0].Code)
	assert.Equal(t, "componentTypes[1].name", errs[0].Field)
}

func TestValidateDuplicateField(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[1].Fields = append(spec.EntityTypes[1].Fields, FieldSpec{Name: "name", Type: KindString})

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateField, errs[0].Code)
}

func TestValidateUnknownReferences(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[0].Fields[1].MatchPattern = "missing"
	spec.EntityTypes[0].Fields[1].Index = "nope"
	spec.EntityTypes[0].Fields[2].EntityTypes = []string{"Ghost"}
	spec.EntityTypes[0].Fields[4].ComponentTypes = []string{"Phantom"}

	errs := Validate(spec)
	assert.ElementsMatch(t, []string{ErrUnknownPattern, ErrUnknownIndex, ErrUnknownType, ErrUnknownType}, codes(errs))
}

func TestValidateInvalidRegex(t *testing.T) {
	spec := blogSpec()
	spec.Patterns[0].Pattern = `([a-z`

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidPattern, errs[0].Code)
	assert.Equal(t, "patterns[0].pattern", errs[0].Field)
}

func TestValidateIllegalAttributes(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[1].Fields[1].MatchPattern = "slug" // Number
	spec.EntityTypes[1].Fields[0].Integer = true       // String
	spec.EntityTypes[1].Fields[2].RichTextNodes = []string{"heading"}

	errs := Validate(spec)
	assert.ElementsMatch(t, []string{ErrIllegalAttribute, ErrIllegalAttribute, ErrIllegalAttribute}, codes(errs))
}

func TestValidateUnknownFieldKind(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[1].Fields[0].Type = "Date"

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownFieldKind, errs[0].Code)
	assert.Equal(t, "entityTypes[1].fields[0].type", errs[0].Field)
}

func TestValidateNameFieldOfValidKindStillChecked(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[1].Fields[0].Type = KindNumber

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidNameField, errs[0].Code)
	assert.Equal(t, "entityTypes[1].nameField", errs[0].Field)
}

func TestValidateNameField(t *testing.T) {
	spec := blogSpec()
	spec.EntityTypes[1].NameField = "age"

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidNameField, errs[0].Code)

	spec.EntityTypes[1].NameField = "nickname"
	errs = Validate(spec)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "nickname")
}

func TestValidateMigrationOrdering(t *testing.T) {
	spec := blogSpec()
	spec.Version = 3
	spec.Migrations = []Migration{
		{Version: 2, Actions: []MigrationAction{{Action: ActionDeleteField, EntityType: "Article", Field: "old"}}},
		{Version: 2, Actions: []MigrationAction{{Action: ActionDeleteField, EntityType: "Article", Field: "old2"}}},
		{Version: 4, Actions: []MigrationAction{{Action: ActionDeleteIndex, Index: "x"}}},
	}

	errs := Validate(spec)
	assert.Equal(t, []string{ErrMigrationOrder, ErrMigrationOrder}, codes(errs))
}

func TestValidateMigrationActions(t *testing.T) {
	spec := blogSpec()
	spec.Version = 2
	spec.Migrations = []Migration{{
		Version: 2,
		Actions: []MigrationAction{
			{Action: "splitField", EntityType: "Article"},
			{Action: ActionRenameField, EntityType: "Article", Field: "title"},
			{Action: ActionDeleteType},
		},
	}}

	errs := Validate(spec)
	assert.Equal(t, []string{ErrInvalidMigration, ErrInvalidMigration, ErrInvalidMigration}, codes(errs))
}

func TestToErrorIsBadRequest(t *testing.T) {
	spec := blogSpec()
	spec.Indexes = append(spec.Indexes, IndexSpec{Name: "articleSlug", Type: IndexUnique})

	err := ToError(Validate(spec))
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
	assert.Contains(t, err.Error(), ErrDuplicateIndex)

	assert.NoError(t, ToError(nil))
}
