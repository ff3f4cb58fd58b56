package codec

import (
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// normalizer rewrites a document into its canonical shape: nulls, empty
// lists and malformed values are dropped, numbers use their narrowest form.
// Order of list items and rich text children is preserved.
type normalizer struct{}

func (normalizer) VisitField(n *Node, next func() []Child[ir.Value]) ir.Value {
	children := next()
	if !n.Field.List {
		for _, c := range children {
			if c.Result != nil {
				return c.Result
			}
		}
		return nil
	}
	items := make(ir.Array, 0, len(children))
	for _, c := range children {
		if c.Result != nil {
			items = append(items, c.Result)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

func (normalizer) VisitValue(n *Node) ir.Value {
	return EncodeValue(n.Value)
}

func (normalizer) VisitComponent(n *Node, next func() []Child[ir.Value]) ir.Value {
	obj := ir.Object{"type": ir.String(n.ComponentType.Name)}
	for _, c := range next() {
		if c.Node.Kind == NodeField && c.Result != nil {
			obj[c.Node.Field.Name] = c.Result
		}
	}
	return obj
}

func (normalizer) VisitRichTextNode(n *Node, next func() []Child[ir.Value]) ir.Value {
	obj := n.RichText.Attrs.Clone()
	if obj == nil {
		obj = ir.Object{}
	}
	obj["type"] = ir.String(n.RichText.Type)
	if n.RichText.Reference != nil {
		obj["reference"] = ir.Object{"id": ir.String(n.RichText.Reference.ID)}
	}
	var children ir.Array
	if n.RichText.Children != nil {
		children = ir.Array{}
	}
	for _, c := range next() {
		if c.Result == nil {
			continue
		}
		if c.Node.Kind == NodeComponent {
			obj["data"] = c.Result
			continue
		}
		children = append(children, c.Result)
	}
	if children != nil {
		obj["children"] = children
	}
	if n.RichText.Type == ir.RichTextNodeComponent && obj["data"] == nil {
		return nil
	}
	if n.Path[len(n.Path)-1] == "root" {
		return ir.Object{"root": obj}
	}
	return obj
}

func (normalizer) VisitError(*Node) ir.Value {
	return nil
}

// Normalize returns the canonical wire form of a document.
func Normalize(s *schema.Schema, entityType string, doc ir.Object) (ir.Object, error) {
	children, err := Traverse[ir.Value](s, entityType, doc, normalizer{})
	if err != nil {
		return nil, err
	}
	out := ir.Object{}
	for _, c := range children {
		if c.Node.Kind == NodeField && c.Result != nil {
			out[c.Node.Field.Name] = c.Result
		}
	}
	return out, nil
}
