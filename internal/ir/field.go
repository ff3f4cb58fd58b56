package ir

// FieldValue is the sealed, typed form of a decoded entity field value.
//
// The wire form of each variant:
//
//	StringValue      "text"
//	NumberValue      12 | 1.5
//	BooleanValue     true
//	LocationValue    {"lat": 59.3, "lng": 18.1}
//	ReferenceValue   {"id": "<uuid>"}
//	ComponentValue   {"type": "Quote", "<field>": ...}
//	RichTextValue    {"root": {"type": "root", "children": [...]}}
//	ListValue        [ ... ]
//
// An absent or null value is represented by a nil FieldValue.
type FieldValue interface {
	fieldValue() // Sealed - only these types implement it
}

// StringValue is the value of a String field.
type StringValue string

func (StringValue) fieldValue() {}

// NumberValue is the value of a Number field.
type NumberValue float64

func (NumberValue) fieldValue() {}

// BooleanValue is the value of a Boolean field.
type BooleanValue bool

func (BooleanValue) fieldValue() {}

// LocationValue is a WGS84 coordinate.
type LocationValue struct {
	Lat float64
	Lng float64
}

func (LocationValue) fieldValue() {}

// ReferenceValue points at another entity by id.
type ReferenceValue struct {
	ID string
}

func (ReferenceValue) fieldValue() {}

// ComponentValue is an instance of a component type.
type ComponentValue struct {
	Type   string
	Fields Fields
}

func (ComponentValue) fieldValue() {}

// RichTextValue is a rich text document.
type RichTextValue struct {
	Root RichTextNode
}

func (RichTextValue) fieldValue() {}

// ListValue holds the items of a list field. Null items are never stored.
type ListValue []FieldValue

func (ListValue) fieldValue() {}

// Fields maps field names to values.
type Fields map[string]FieldValue

// Rich text node types with structural meaning. Any other node type is
// carried opaquely.
const (
	RichTextNodeRoot       = "root"
	RichTextNodeParagraph  = "paragraph"
	RichTextNodeText       = "text"
	RichTextNodeLineBreak  = "linebreak"
	RichTextNodeTab        = "tab"
	RichTextNodeEntity     = "entity"
	RichTextNodeEntityLink = "entityLink"
	RichTextNodeComponent  = "component"
)

// RichTextNode is one node of a rich text tree.
//
// Children is nil when the wire node has no "children" key and empty when it
// has an empty array, so documents round-trip exactly. Component is set for
// "component" nodes (wire key "data"), Reference for "entity" and
// "entityLink" nodes (wire key "reference"). Attrs holds every other key.
type RichTextNode struct {
	Type      string
	Children  []RichTextNode
	Component *ComponentValue
	Reference *ReferenceValue
	Attrs     Object
}

// Text returns the "text" attribute of a text node.
func (n RichTextNode) Text() string {
	if s, ok := n.Attrs["text"].(String); ok {
		return string(s)
	}
	return ""
}
