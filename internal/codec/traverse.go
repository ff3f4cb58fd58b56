package codec

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// NodeKind is the category of a traversal node.
type NodeKind int

const (
	NodeField NodeKind = iota
	NodeValue
	NodeComponent
	NodeRichTextNode
	NodeError
)

func (k NodeKind) String() string {
	switch k {
	case NodeField:
		return "field"
	case NodeValue:
		return "value"
	case NodeComponent:
		return "component"
	case NodeRichTextNode:
		return "richTextNode"
	case NodeError:
		return "error"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Node is one position in a field document.
type Node struct {
	Kind NodeKind
	Path ir.Path

	// Field is the field spec governing the node. For rich text nodes and
	// their embedded components it is the enclosing rich text field.
	Field *schema.FieldSpec

	// Raw is the wire value at this position.
	Raw ir.Value

	// Value is the decoded leaf for NodeValue.
	Value ir.FieldValue

	// ComponentType is the resolved type for NodeComponent.
	ComponentType *schema.ComponentTypeSpec

	// RichText holds the node's type, attributes and reference for
	// NodeRichTextNode. Children is empty (not nil) when the wire node has a
	// children array; visitors build the rest from the continuation.
	RichText *ir.RichTextNode

	// Message describes the problem for NodeError.
	Message string
}

// Child pairs a node with the result its visitor produced.
type Child[T any] struct {
	Node   *Node
	Result T
}

// Visitor is called once per node in pre-order. Container methods receive
// a continuation that visits the node's children and returns their results;
// a visitor that never calls next prunes the subtree.
type Visitor[T any] interface {
	VisitField(n *Node, next func() []Child[T]) T
	VisitValue(n *Node) T
	VisitComponent(n *Node, next func() []Child[T]) T
	VisitRichTextNode(n *Node, next func() []Child[T]) T
	VisitError(n *Node) T
}

// Traverse walks an entity field document against the entity type's
// specification and returns one child per top-level field, in spec order,
// followed by error nodes for unknown keys in sorted order.
//
// Malformed values never abort the walk; they become error nodes.
func Traverse[T any](s *schema.Schema, entityType string, doc ir.Object, v Visitor[T]) ([]Child[T], error) {
	t, ok := s.EntityType(entityType)
	if !ok {
		return nil, ir.NewBadRequest("unknown entity type %q", entityType).With("entityType", entityType)
	}
	w := &walker[T]{schema: s, visitor: v}
	return w.fields(ir.Path{}, t.Fields, doc, nil), nil
}

type walker[T any] struct {
	schema  *schema.Schema
	visitor Visitor[T]
}

// fields visits the fields of an entity or component. skip names keys that
// are not fields (the component "type" token).
func (w *walker[T]) fields(base ir.Path, specs []schema.FieldSpec, obj ir.Object, skip map[string]bool) []Child[T] {
	out := make([]Child[T], 0, len(specs))
	known := make(map[string]bool, len(specs))
	for i := range specs {
		f := &specs[i]
		known[f.Name] = true
		out = append(out, w.field(base.Key(f.Name), f, obj[f.Name]))
	}

	var unknown []string
	for k := range obj {
		if !known[k] && !skip[k] {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	for _, k := range unknown {
		out = append(out, w.fail(base.Key(k), nil, obj[k], fmt.Sprintf("unknown field %q", k)))
	}
	return out
}

func (w *walker[T]) field(path ir.Path, f *schema.FieldSpec, raw ir.Value) Child[T] {
	n := &Node{Kind: NodeField, Path: path, Field: f, Raw: raw}
	next := func() []Child[T] {
		if ir.IsNull(raw) {
			return nil
		}
		if !f.List {
			if c, ok := w.item(path, f, raw); ok {
				return []Child[T]{c}
			}
			return nil
		}
		items, ok := raw.(ir.Array)
		if !ok {
			return []Child[T]{w.fail(path, f, raw, "expected a list")}
		}
		out := make([]Child[T], 0, len(items))
		for i, item := range items {
			if c, ok := w.item(path.Index(i), f, item); ok {
				out = append(out, c)
			}
		}
		return out
	}
	return Child[T]{Node: n, Result: w.visitor.VisitField(n, next)}
}

// item visits a single (non-list) value of a field. Null list items are
// skipped.
func (w *walker[T]) item(path ir.Path, f *schema.FieldSpec, raw ir.Value) (Child[T], bool) {
	if ir.IsNull(raw) {
		return Child[T]{}, false
	}

	switch f.Type {
	case schema.KindString:
		s, ok := raw.(ir.String)
		if !ok {
			return w.fail(path, f, raw, "expected a string"), true
		}
		return w.value(path, f, raw, ir.StringValue(s)), true

	case schema.KindNumber:
		num, ok := ir.NumberOf(raw)
		if !ok {
			return w.fail(path, f, raw, "expected a number"), true
		}
		return w.value(path, f, raw, ir.NumberValue(num)), true

	case schema.KindBoolean:
		b, ok := raw.(ir.Bool)
		if !ok {
			return w.fail(path, f, raw, "expected a boolean"), true
		}
		return w.value(path, f, raw, ir.BooleanValue(b)), true

	case schema.KindLocation:
		loc, msg := decodeLocation(raw)
		if msg != "" {
			return w.fail(path, f, raw, msg), true
		}
		return w.value(path, f, raw, loc), true

	case schema.KindReference:
		ref, msg := decodeReference(raw)
		if msg != "" {
			return w.fail(path, f, raw, msg), true
		}
		return w.value(path, f, raw, ref), true

	case schema.KindComponent:
		return w.component(path, f, raw), true

	case schema.KindRichText:
		obj, ok := raw.(ir.Object)
		if !ok {
			return w.fail(path, f, raw, "expected a rich text object"), true
		}
		root, ok := obj["root"].(ir.Object)
		if !ok {
			return w.fail(path, f, raw, "rich text is missing its root node"), true
		}
		for k := range obj {
			if k != "root" {
				return w.fail(path.Key(k), f, obj[k], fmt.Sprintf("unknown rich text key %q", k)), true
			}
		}
		return w.richTextNode(path.Key("root"), f, root), true

	default:
		panic(fmt.Sprintf("codec: unhandled field kind %q", f.Type))
	}
}

func (w *walker[T]) value(path ir.Path, f *schema.FieldSpec, raw ir.Value, v ir.FieldValue) Child[T] {
	n := &Node{Kind: NodeValue, Path: path, Field: f, Raw: raw, Value: v}
	return Child[T]{Node: n, Result: w.visitor.VisitValue(n)}
}

func (w *walker[T]) fail(path ir.Path, f *schema.FieldSpec, raw ir.Value, msg string) Child[T] {
	n := &Node{Kind: NodeError, Path: path, Field: f, Raw: raw, Message: msg}
	return Child[T]{Node: n, Result: w.visitor.VisitError(n)}
}

func (w *walker[T]) component(path ir.Path, f *schema.FieldSpec, raw ir.Value) Child[T] {
	obj, ok := raw.(ir.Object)
	if !ok {
		return w.fail(path, f, raw, "expected a component object")
	}
	typeName, ok := obj["type"].(ir.String)
	if !ok {
		return w.fail(path, f, raw, "component is missing its type")
	}
	ct, ok := w.schema.ComponentType(string(typeName))
	if !ok {
		return w.fail(path, f, raw, fmt.Sprintf("unknown component type %q", typeName))
	}

	n := &Node{Kind: NodeComponent, Path: path, Field: f, Raw: raw, ComponentType: ct}
	next := func() []Child[T] {
		return w.fields(path, ct.Fields, obj, map[string]bool{"type": true})
	}
	return Child[T]{Node: n, Result: w.visitor.VisitComponent(n, next)}
}

// richTextNode visits one node of a rich text tree. The continuation yields
// the embedded component (for component nodes) followed by child nodes.
func (w *walker[T]) richTextNode(path ir.Path, f *schema.FieldSpec, obj ir.Object) Child[T] {
	nodeType, ok := obj["type"].(ir.String)
	if !ok {
		return w.fail(path, f, obj, "rich text node is missing its type")
	}

	rt := &ir.RichTextNode{Type: string(nodeType)}
	for k, v := range obj {
		switch k {
		case "type", "children", "data":
		case "reference":
			ref, msg := decodeReference(v)
			if msg != "" {
				return w.fail(path.Key("reference"), f, v, msg)
			}
			rt.Reference = &ref
		default:
			if rt.Attrs == nil {
				rt.Attrs = ir.Object{}
			}
			rt.Attrs[k] = v
		}
	}

	var children ir.Array
	if raw, present := obj["children"]; present {
		arr, ok := raw.(ir.Array)
		if !ok {
			return w.fail(path.Key("children"), f, raw, "expected a list of rich text nodes")
		}
		children = arr
		rt.Children = []ir.RichTextNode{}
	}

	if path[len(path)-1] == "root" && rt.Type != ir.RichTextNodeRoot {
		return w.fail(path, f, obj, fmt.Sprintf("rich text root node has type %q", rt.Type))
	}
	if rt.Type == ir.RichTextNodeComponent {
		if _, ok := obj["data"].(ir.Object); !ok {
			return w.fail(path.Key("data"), f, obj["data"], "component node is missing its data")
		}
	}
	if (rt.Type == ir.RichTextNodeEntity || rt.Type == ir.RichTextNodeEntityLink) && rt.Reference == nil {
		return w.fail(path.Key("reference"), f, nil, "entity node is missing its reference")
	}

	n := &Node{Kind: NodeRichTextNode, Path: path, Field: f, Raw: obj, RichText: rt}
	next := func() []Child[T] {
		var out []Child[T]
		if rt.Type == ir.RichTextNodeComponent {
			out = append(out, w.component(path.Key("data"), f, obj["data"]))
		}
		for i, child := range children {
			childPath := path.Key("children").Index(i)
			childObj, ok := child.(ir.Object)
			if !ok {
				out = append(out, w.fail(childPath, f, child, "expected a rich text node"))
				continue
			}
			out = append(out, w.richTextNode(childPath, f, childObj))
		}
		return out
	}
	return Child[T]{Node: n, Result: w.visitor.VisitRichTextNode(n, next)}
}

func decodeLocation(raw ir.Value) (ir.LocationValue, string) {
	obj, ok := raw.(ir.Object)
	if !ok {
		return ir.LocationValue{}, "expected a location object"
	}
	lat, okLat := ir.NumberOf(obj["lat"])
	lng, okLng := ir.NumberOf(obj["lng"])
	if !okLat || !okLng || len(obj) != 2 {
		return ir.LocationValue{}, "location must have numeric lat and lng"
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ir.LocationValue{}, "location is out of range"
	}
	return ir.LocationValue{Lat: lat, Lng: lng}, ""
}

func decodeReference(raw ir.Value) (ir.ReferenceValue, string) {
	obj, ok := raw.(ir.Object)
	if !ok {
		return ir.ReferenceValue{}, "expected a reference object"
	}
	id, ok := obj["id"].(ir.String)
	if !ok || len(obj) != 1 {
		return ir.ReferenceValue{}, "reference must have a single string id"
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return ir.ReferenceValue{}, fmt.Sprintf("reference id %q is not a UUID", id)
	}
	return ir.ReferenceValue{ID: string(id)}, ""
}
