package codec

import (
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// decoder turns wire values into typed field values. Error nodes are
// recorded as issues and decode to nothing.
type decoder struct {
	issues []ir.ValidationIssue
}

func (d *decoder) VisitField(n *Node, next func() []Child[ir.FieldValue]) ir.FieldValue {
	children := next()
	if n.Field == nil || !n.Field.List {
		for _, c := range children {
			if c.Result != nil {
				return c.Result
			}
		}
		return nil
	}
	var items ir.ListValue
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

func (d *decoder) VisitValue(n *Node) ir.FieldValue {
	return n.Value
}

func (d *decoder) VisitComponent(n *Node, next func() []Child[ir.FieldValue]) ir.FieldValue {
	fields := ir.Fields{}
	for _, c := range next() {
		if c.Node.Kind == NodeField && c.Result != nil {
			fields[c.Node.Field.Name] = c.Result
		}
	}
	return ir.ComponentValue{Type: n.ComponentType.Name, Fields: fields}
}

func (d *decoder) VisitRichTextNode(n *Node, next func() []Child[ir.FieldValue]) ir.FieldValue {
	node := ir.RichTextNode{
		Type:      n.RichText.Type,
		Reference: n.RichText.Reference,
		Attrs:     n.RichText.Attrs,
	}
	if n.RichText.Children != nil {
		node.Children = []ir.RichTextNode{}
	}
	for _, c := range next() {
		switch v := c.Result.(type) {
		case ir.ComponentValue:
			comp := v
			node.Component = &comp
		case ir.RichTextValue:
			node.Children = append(node.Children, v.Root)
		}
	}
	return ir.RichTextValue{Root: node}
}

func (d *decoder) VisitError(n *Node) ir.FieldValue {
	d.issues = append(d.issues, ir.ValidationIssue{
		Path:     n.Path,
		Message:  n.Message,
		Severity: ir.SeveritySave,
	})
	return nil
}

// Decode converts a wire document into typed fields. Malformed values are
// reported as issues and left out of the result.
func Decode(s *schema.Schema, entityType string, doc ir.Object) (ir.Fields, []ir.ValidationIssue, error) {
	d := &decoder{}
	children, err := Traverse[ir.FieldValue](s, entityType, doc, d)
	if err != nil {
		return nil, nil, err
	}
	fields := ir.Fields{}
	for _, c := range children {
		if c.Node.Kind == NodeField && c.Result != nil {
			fields[c.Node.Field.Name] = c.Result
		}
	}
	return fields, d.issues, nil
}

// DecodeStrict decodes a document supplied by a caller and fails with
// BadRequest when any value is malformed.
func DecodeStrict(s *schema.Schema, entityType string, doc ir.Object) (ir.Fields, error) {
	fields, issues, err := Decode(s, entityType, doc)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, ir.NewValidationFailed("malformed field values", issues).With("entityType", entityType)
	}
	return fields, nil
}
