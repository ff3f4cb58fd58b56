package schema

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/folio/internal/ir"
)

// FieldKind is the closed set of field types.
type FieldKind string

const (
	KindBoolean   FieldKind = "Boolean"
	KindComponent FieldKind = "Component"
	KindLocation  FieldKind = "Location"
	KindNumber    FieldKind = "Number"
	KindReference FieldKind = "Reference"
	KindRichText  FieldKind = "RichText"
	KindString    FieldKind = "String"
)

// ValidKinds defines the allowed field kinds.
var ValidKinds = map[FieldKind]bool{
	KindBoolean:   true,
	KindComponent: true,
	KindLocation:  true,
	KindNumber:    true,
	KindReference: true,
	KindRichText:  true,
	KindString:    true,
}

// RichTextNodeTypes lists the rich text node types a richTextNodes allowlist
// may name.
var RichTextNodeTypes = map[string]bool{
	ir.RichTextNodeRoot:       true,
	ir.RichTextNodeParagraph:  true,
	ir.RichTextNodeText:       true,
	ir.RichTextNodeLineBreak:  true,
	ir.RichTextNodeTab:        true,
	ir.RichTextNodeEntity:     true,
	ir.RichTextNodeEntityLink: true,
	ir.RichTextNodeComponent:  true,
	"heading":                 true,
	"list":                    true,
	"listitem":                true,
	"quote":                   true,
	"code":                    true,
	"code-highlight":          true,
	"link":                    true,
}

// RichTextBaseNodes are always allowed, even when a field declares an
// allowlist.
var RichTextBaseNodes = map[string]bool{
	ir.RichTextNodeRoot:      true,
	ir.RichTextNodeParagraph: true,
	ir.RichTextNodeText:      true,
	ir.RichTextNodeLineBreak: true,
	ir.RichTextNodeTab:       true,
}

// FieldSpec describes one field of an entity or component type.
type FieldSpec struct {
	Name            string    `json:"name"`
	Type            FieldKind `json:"type"`
	List            bool      `json:"list,omitempty"`
	Required        bool      `json:"required,omitempty"`
	AdminOnly       bool      `json:"adminOnly,omitempty"`
	Index           string    `json:"index,omitempty"`
	MatchPattern    string    `json:"matchPattern,omitempty"`
	Values          []string  `json:"values,omitempty"`
	Integer         bool      `json:"integer,omitempty"`
	Multiline       bool      `json:"multiline,omitempty"`
	EntityTypes     []string  `json:"entityTypes,omitempty"`
	ComponentTypes  []string  `json:"componentTypes,omitempty"`
	LinkEntityTypes []string  `json:"linkEntityTypes,omitempty"`
	RichTextNodes   []string  `json:"richTextNodes,omitempty"`
}

// EntityTypeSpec describes an entity type.
type EntityTypeSpec struct {
	Name           string      `json:"name"`
	AdminOnly      bool        `json:"adminOnly,omitempty"`
	AuthKeyPattern string      `json:"authKeyPattern,omitempty"`
	NameField      string      `json:"nameField,omitempty"`
	Fields         []FieldSpec `json:"fields"`
}

// Field returns the named field, or nil.
func (t *EntityTypeSpec) Field(name string) *FieldSpec {
	return findField(t.Fields, name)
}

// ComponentTypeSpec describes a reusable nested structure.
type ComponentTypeSpec struct {
	Name      string      `json:"name"`
	AdminOnly bool        `json:"adminOnly,omitempty"`
	Fields    []FieldSpec `json:"fields"`
}

// Field returns the named field, or nil.
func (t *ComponentTypeSpec) Field(name string) *FieldSpec {
	return findField(t.Fields, name)
}

func findField(fields []FieldSpec, name string) *FieldSpec {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

// PatternSpec is a named regular expression.
type PatternSpec struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// IndexType is the kind of a declared index.
type IndexType string

const (
	IndexUnique IndexType = "unique"
)

// IndexSpec declares a named index.
type IndexSpec struct {
	Name string    `json:"name"`
	Type IndexType `json:"type"`
}

// ActionKind is a migration action.
type ActionKind string

const (
	ActionRenameField ActionKind = "renameField"
	ActionDeleteField ActionKind = "deleteField"
	ActionRenameType  ActionKind = "renameType"
	ActionDeleteType  ActionKind = "deleteType"
	ActionRenameIndex ActionKind = "renameIndex"
	ActionDeleteIndex ActionKind = "deleteIndex"
)

// ValidActions defines the migration actions the engine understands.
var ValidActions = map[ActionKind]bool{
	ActionRenameField: true,
	ActionDeleteField: true,
	ActionRenameType:  true,
	ActionDeleteType:  true,
	ActionRenameIndex: true,
	ActionDeleteIndex: true,
}

// MigrationAction is one structural rewrite. Exactly one of EntityType and
// ComponentType is set for field and type actions; Index is set for index
// actions.
type MigrationAction struct {
	Action        ActionKind `json:"action"`
	EntityType    string     `json:"entityType,omitempty"`
	ComponentType string     `json:"componentType,omitempty"`
	Field         string     `json:"field,omitempty"`
	Index         string     `json:"index,omitempty"`
	NewName       string     `json:"newName,omitempty"`
}

// TypeName returns the targeted type name and whether it is a component type.
func (a MigrationAction) TypeName() (string, bool) {
	if a.ComponentType != "" {
		return a.ComponentType, true
	}
	return a.EntityType, false
}

// Migration is the set of actions introduced by one schema version.
type Migration struct {
	Version int               `json:"version"`
	Actions []MigrationAction `json:"actions"`
}

// Specification is a complete, versioned schema.
type Specification struct {
	Version        int                 `json:"version"`
	EntityTypes    []EntityTypeSpec    `json:"entityTypes"`
	ComponentTypes []ComponentTypeSpec `json:"componentTypes"`
	Patterns       []PatternSpec       `json:"patterns"`
	Indexes        []IndexSpec         `json:"indexes"`
	Migrations     []Migration         `json:"migrations"`
}

// SpecificationUpdate is a partial schema merged into the current one.
// When Version is non-zero it must equal the current version plus one.
type SpecificationUpdate struct {
	Version        int                 `json:"version,omitempty"`
	EntityTypes    []EntityTypeSpec    `json:"entityTypes,omitempty"`
	ComponentTypes []ComponentTypeSpec `json:"componentTypes,omitempty"`
	Patterns       []PatternSpec       `json:"patterns,omitempty"`
	Indexes        []IndexSpec         `json:"indexes,omitempty"`
	Migrations     []Migration         `json:"migrations,omitempty"`
}

// Clone returns a deep copy via JSON. Specifications are plain data so the
// round trip is lossless.
func (s Specification) Clone() Specification {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("schema: clone specification: %v", err))
	}
	var out Specification
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("schema: clone specification: %v", err))
	}
	return out
}

// ToValue converts the specification into its generic JSON form.
func (s Specification) ToValue() (ir.Object, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal specification: %w", err)
	}
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("convert specification: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("specification is not an object")
	}
	return obj, nil
}

// Hash returns the content hash of the specification.
func (s Specification) Hash() (string, error) {
	obj, err := s.ToValue()
	if err != nil {
		return "", err
	}
	return ir.SchemaHash(obj)
}

// Empty returns the version 0 specification that precedes the first update.
func Empty() Specification {
	return Specification{
		EntityTypes:    []EntityTypeSpec{},
		ComponentTypes: []ComponentTypeSpec{},
		Patterns:       []PatternSpec{},
		Indexes:        []IndexSpec{},
		Migrations:     []Migration{},
	}
}
