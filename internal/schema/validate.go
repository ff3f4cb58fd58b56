package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/folio/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrEmptyName          = "E200" // type, field, pattern or index name is empty
	ErrDuplicateType      = "E201" // type name used twice across entity and component types
	ErrDuplicateField     = "E202" // field name used twice within a type
	ErrUnknownFieldKind   = "E203" // field type is not a known kind
	ErrUnknownPattern     = "E204" // referenced pattern does not exist
	ErrInvalidPattern     = "E205" // pattern regex does not compile
	ErrUnknownIndex       = "E206" // referenced index does not exist
	ErrUnknownType        = "E207" // referenced entity or component type does not exist
	ErrIllegalAttribute   = "E208" // attribute not allowed for the field kind
	ErrInvalidNameField   = "E209" // nameField is not a single String field
	ErrDuplicatePattern   = "E210" // pattern name used twice
	ErrDuplicateIndex     = "E211" // index name used twice
	ErrInvalidIndexType   = "E212" // index type is not known
	ErrInvalidMigration   = "E213" // malformed migration or migration action
	ErrMigrationOrder     = "E214" // migration versions not unique, ascending and <= version
	ErrUnknownRichTextTag = "E215" // richTextNodes names an unknown node type
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a specification for structural errors.
// Returns all errors found (does not fail-fast).
func Validate(spec Specification) []ValidationError {
	v := &validator{
		spec:           spec,
		entityTypes:    make(map[string]bool),
		componentTypes: make(map[string]bool),
		patterns:       make(map[string]bool),
		indexes:        make(map[string]bool),
	}
	v.collectNames()
	for i := range spec.EntityTypes {
		v.validateEntityType(i, &spec.EntityTypes[i])
	}
	for i := range spec.ComponentTypes {
		t := &spec.ComponentTypes[i]
		v.validateFields(fmt.Sprintf("componentTypes[%d]", i), t.Fields)
	}
	v.validateMigrations()
	return v.errs
}

// ToError converts validation errors into a BadRequest repository error.
func ToError(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	issues := make([]ir.ValidationIssue, len(errs))
	for i, e := range errs {
		issues[i] = ir.ValidationIssue{
			Path:     ir.Path{e.Field},
			Message:  fmt.Sprintf("[%s] %s", e.Code, e.Message),
			Severity: ir.SeveritySave,
		}
	}
	return ir.NewValidationFailed("invalid schema specification", issues)
}

type validator struct {
	spec           Specification
	entityTypes    map[string]bool
	componentTypes map[string]bool
	patterns       map[string]bool
	indexes        map[string]bool
	errs           []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) collectNames() {
	seenTypes := make(map[string]bool)
	checkType := func(path, name string) {
		if strings.TrimSpace(name) == "" {
			v.add(path, ErrEmptyName, "type name is required")
			return
		}
		if seenTypes[name] {
			v.add(path, ErrDuplicateType, "duplicate type name: %q", name)
		}
		seenTypes[name] = true
	}
	for i, t := range v.spec.EntityTypes {
		checkType(fmt.Sprintf("entityTypes[%d].name", i), t.Name)
		v.entityTypes[t.Name] = true
	}
	for i, t := range v.spec.ComponentTypes {
		checkType(fmt.Sprintf("componentTypes[%d].name", i), t.Name)
		v.componentTypes[t.Name] = true
	}

	for i, p := range v.spec.Patterns {
		path := fmt.Sprintf("patterns[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			v.add(path+".name", ErrEmptyName, "pattern name is required")
			continue
		}
		if v.patterns[p.Name] {
			v.add(path+".name", ErrDuplicatePattern, "duplicate pattern name: %q", p.Name)
		}
		v.patterns[p.Name] = true
		if _, err := regexp.Compile(p.Pattern); err != nil {
			v.add(path+".pattern", ErrInvalidPattern, "pattern %q does not compile: %v", p.Name, err)
		}
	}

	for i, idx := range v.spec.Indexes {
		path := fmt.Sprintf("indexes[%d]", i)
		if strings.TrimSpace(idx.Name) == "" {
			v.add(path+".name", ErrEmptyName, "index name is required")
			continue
		}
		if v.indexes[idx.Name] {
			v.add(path+".name", ErrDuplicateIndex, "duplicate index name: %q", idx.Name)
		}
		v.indexes[idx.Name] = true
		if idx.Type != IndexUnique {
			v.add(path+".type", ErrInvalidIndexType, "invalid index type %q, must be %q", idx.Type, IndexUnique)
		}
	}
}

func (v *validator) validateEntityType(i int, t *EntityTypeSpec) {
	path := fmt.Sprintf("entityTypes[%d]", i)
	v.validateFields(path, t.Fields)

	if t.AuthKeyPattern != "" && !v.patterns[t.AuthKeyPattern] {
		v.add(path+".authKeyPattern", ErrUnknownPattern, "unknown pattern %q", t.AuthKeyPattern)
	}
	if t.NameField != "" {
		f := t.Field(t.NameField)
		switch {
		case f == nil:
			v.add(path+".nameField", ErrInvalidNameField, "nameField %q is not a field of %q", t.NameField, t.Name)
		case !ValidKinds[f.Type]:
			// Already reported on the field.
		case f.Type != KindString || f.List:
			v.add(path+".nameField", ErrInvalidNameField, "nameField %q must be a single String field", t.NameField)
		}
	}
}

func (v *validator) validateFields(typePath string, fields []FieldSpec) {
	seen := make(map[string]bool)
	for j := range fields {
		f := &fields[j]
		path := fmt.Sprintf("%s.fields[%d]", typePath, j)
		if strings.TrimSpace(f.Name) == "" {
			v.add(path+".name", ErrEmptyName, "field name is required")
		} else if seen[f.Name] {
			v.add(path+".name", ErrDuplicateField, "duplicate field name: %q", f.Name)
		}
		seen[f.Name] = true

		if !ValidKinds[f.Type] {
			v.add(path+".type", ErrUnknownFieldKind, "invalid field type %q", f.Type)
			continue
		}
		v.validateFieldAttributes(path, f)
	}
}

func (v *validator) validateFieldAttributes(path string, f *FieldSpec) {
	illegal := func(attr string) {
		v.add(path+"."+attr, ErrIllegalAttribute, "%s is not allowed on %s fields", attr, f.Type)
	}

	if f.Type != KindString {
		if f.MatchPattern != "" {
			illegal("matchPattern")
		}
		if f.Index != "" {
			illegal("index")
		}
		if len(f.Values) > 0 {
			illegal("values")
		}
		if f.Multiline {
			illegal("multiline")
		}
	}
	if f.Type != KindNumber && f.Integer {
		illegal("integer")
	}
	if f.Type != KindReference && f.Type != KindRichText && len(f.EntityTypes) > 0 {
		illegal("entityTypes")
	}
	if f.Type != KindComponent && f.Type != KindRichText && len(f.ComponentTypes) > 0 {
		illegal("componentTypes")
	}
	if f.Type != KindRichText {
		if len(f.LinkEntityTypes) > 0 {
			illegal("linkEntityTypes")
		}
		if len(f.RichTextNodes) > 0 {
			illegal("richTextNodes")
		}
	}

	if f.MatchPattern != "" && !v.patterns[f.MatchPattern] {
		v.add(path+".matchPattern", ErrUnknownPattern, "unknown pattern %q", f.MatchPattern)
	}
	if f.Index != "" && !v.indexes[f.Index] {
		v.add(path+".index", ErrUnknownIndex, "unknown index %q", f.Index)
	}
	for k, name := range f.EntityTypes {
		if !v.entityTypes[name] {
			v.add(fmt.Sprintf("%s.entityTypes[%d]", path, k), ErrUnknownType, "unknown entity type %q", name)
		}
	}
	for k, name := range f.LinkEntityTypes {
		if !v.entityTypes[name] {
			v.add(fmt.Sprintf("%s.linkEntityTypes[%d]", path, k), ErrUnknownType, "unknown entity type %q", name)
		}
	}
	for k, name := range f.ComponentTypes {
		if !v.componentTypes[name] {
			v.add(fmt.Sprintf("%s.componentTypes[%d]", path, k), ErrUnknownType, "unknown component type %q", name)
		}
	}
	for k, node := range f.RichTextNodes {
		if !RichTextNodeTypes[node] {
			v.add(fmt.Sprintf("%s.richTextNodes[%d]", path, k), ErrUnknownRichTextTag, "unknown rich text node type %q", node)
		}
	}
}

func (v *validator) validateMigrations() {
	prev := 0
	for i, m := range v.spec.Migrations {
		path := fmt.Sprintf("migrations[%d]", i)
		if m.Version <= prev {
			v.add(path+".version", ErrMigrationOrder, "migration version %d must be greater than %d", m.Version, prev)
		}
		if m.Version > v.spec.Version {
			v.add(path+".version", ErrMigrationOrder, "migration version %d is newer than specification version %d", m.Version, v.spec.Version)
		}
		prev = max(prev, m.Version)

		for j, a := range m.Actions {
			v.validateAction(fmt.Sprintf("%s.actions[%d]", path, j), a)
		}
	}
}

func (v *validator) validateAction(path string, a MigrationAction) {
	if !ValidActions[a.Action] {
		v.add(path+".action", ErrInvalidMigration, "unknown migration action %q", a.Action)
		return
	}
	switch a.Action {
	case ActionRenameIndex, ActionDeleteIndex:
		if a.Index == "" {
			v.add(path+".index", ErrInvalidMigration, "%s requires index", a.Action)
		}
	default:
		if (a.EntityType == "") == (a.ComponentType == "") {
			v.add(path, ErrInvalidMigration, "%s requires exactly one of entityType and componentType", a.Action)
		}
		if (a.Action == ActionRenameField || a.Action == ActionDeleteField) && a.Field == "" {
			v.add(path+".field", ErrInvalidMigration, "%s requires field", a.Action)
		}
	}
	if (a.Action == ActionRenameField || a.Action == ActionRenameType || a.Action == ActionRenameIndex) && a.NewName == "" {
		v.add(path+".newName", ErrInvalidMigration, "%s requires newName", a.Action)
	}
}
