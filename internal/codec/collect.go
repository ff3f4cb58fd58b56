package codec

import (
	"slices"
	"strings"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// UniqueValue is a value claimed in a unique index.
type UniqueValue struct {
	Index string
	Value string
}

// Collected holds the side data a document contributes to search and
// integrity tables.
type Collected struct {
	// Text is the full-text content, in document order.
	Text []string
	// References are the distinct referenced entity ids, sorted.
	References []string
	// Locations are every location value, in document order.
	Locations []ir.LocationValue
	// UniqueValues are the values of indexed string fields.
	UniqueValues []UniqueValue
}

// FullText joins the collected text with spaces.
func (c Collected) FullText() string {
	return strings.Join(c.Text, " ")
}

type collector struct {
	out  Collected
	refs map[string]bool
}

func (c *collector) ref(id string) {
	if !c.refs[id] {
		c.refs[id] = true
		c.out.References = append(c.out.References, id)
	}
}

func (c *collector) VisitField(_ *Node, next func() []Child[struct{}]) struct{} {
	next()
	return struct{}{}
}

func (c *collector) VisitValue(n *Node) struct{} {
	switch val := n.Value.(type) {
	case ir.StringValue:
		c.out.Text = append(c.out.Text, string(val))
		if n.Field.Index != "" {
			c.out.UniqueValues = append(c.out.UniqueValues, UniqueValue{Index: n.Field.Index, Value: string(val)})
		}
	case ir.ReferenceValue:
		c.ref(val.ID)
	case ir.LocationValue:
		c.out.Locations = append(c.out.Locations, val)
	}
	return struct{}{}
}

func (c *collector) VisitComponent(_ *Node, next func() []Child[struct{}]) struct{} {
	next()
	return struct{}{}
}

func (c *collector) VisitRichTextNode(n *Node, next func() []Child[struct{}]) struct{} {
	rt := n.RichText
	if rt.Type == ir.RichTextNodeText {
		if text := rt.Text(); text != "" {
			c.out.Text = append(c.out.Text, text)
		}
	}
	if rt.Reference != nil {
		c.ref(rt.Reference.ID)
	}
	next()
	return struct{}{}
}

func (c *collector) VisitError(*Node) struct{} {
	return struct{}{}
}

// Collect gathers full-text content, references, locations and unique
// index values from a document.
func Collect(s *schema.Schema, entityType string, doc ir.Object) (Collected, error) {
	c := &collector{refs: make(map[string]bool)}
	if _, err := Traverse[struct{}](s, entityType, doc, c); err != nil {
		return Collected{}, err
	}
	slices.Sort(c.out.References)
	return c.out, nil
}

// PublishedFields removes admin-only fields from a document before it is
// exposed as published data. Nested admin-only fields of components are
// removed too.
func PublishedFields(s *schema.Schema, entityType string, doc ir.Object) (ir.Object, error) {
	children, err := Traverse[ir.Value](s, entityType, doc, publicNormalizer{})
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

// publicNormalizer normalizes while pruning admin-only fields.
type publicNormalizer struct {
	normalizer
}

func (p publicNormalizer) VisitField(n *Node, next func() []Child[ir.Value]) ir.Value {
	if n.Field.AdminOnly {
		return nil
	}
	return p.normalizer.VisitField(n, next)
}
