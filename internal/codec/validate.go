package codec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// ReferenceResolver returns the entity type of a referenced entity, or false
// when no such entity exists.
type ReferenceResolver func(id string) (entityType string, ok bool)

// ValidateOptions tunes validation.
type ValidateOptions struct {
	// Published validates the document as published data: admin-only
	// component types become publish-severity issues.
	Published bool

	// Resolve looks up referenced entities. When nil, reference type
	// allowlists are not checked.
	Resolve ReferenceResolver
}

type validator struct {
	schema *schema.Schema
	opts   ValidateOptions
	issues []ir.ValidationIssue
}

func (v *validator) add(path ir.Path, severity ir.Severity, format string, args ...any) {
	v.issues = append(v.issues, ir.ValidationIssue{
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	})
}

func (v *validator) VisitField(n *Node, next func() []Child[struct{}]) struct{} {
	children := next()
	if n.Field.Required {
		present := 0
		for _, c := range children {
			if c.Node.Kind != NodeError {
				present++
			}
		}
		if present == 0 {
			v.add(n.Path, ir.SeverityPublish, "value is required")
		}
	}
	return struct{}{}
}

func (v *validator) VisitValue(n *Node) struct{} {
	f := n.Field
	switch val := n.Value.(type) {
	case ir.StringValue:
		s := string(val)
		if f.MatchPattern != "" {
			re, err := v.schema.Pattern(f.MatchPattern)
			if err != nil {
				v.add(n.Path, ir.SeveritySave, "%v", err)
			} else if !re.MatchString(s) {
				v.add(n.Path, ir.SeveritySave, "value does not match pattern %q", f.MatchPattern)
			}
		}
		if len(f.Values) > 0 && !slices.Contains(f.Values, s) {
			v.add(n.Path, ir.SeveritySave, "value %q is not one of the allowed values", s)
		}
		if !f.Multiline && strings.ContainsAny(s, "\r\n") {
			v.add(n.Path, ir.SeveritySave, "value must be a single line")
		}
	case ir.NumberValue:
		if f.Integer && float64(val) != float64(int64(val)) {
			v.add(n.Path, ir.SeveritySave, "value must be an integer")
		}
	case ir.ReferenceValue:
		v.checkReference(n.Path, val.ID, f.EntityTypes)
	}
	return struct{}{}
}

func (v *validator) checkReference(path ir.Path, id string, allowed []string) {
	if v.opts.Resolve == nil {
		return
	}
	entityType, ok := v.opts.Resolve(id)
	if !ok {
		v.add(path, ir.SeveritySave, "referenced entity %s does not exist", id)
		return
	}
	if len(allowed) > 0 && !slices.Contains(allowed, entityType) {
		v.add(path, ir.SeveritySave, "referenced entity type %q is not allowed", entityType)
	}
}

func (v *validator) VisitComponent(n *Node, next func() []Child[struct{}]) struct{} {
	ct := n.ComponentType
	if len(n.Field.ComponentTypes) > 0 && !slices.Contains(n.Field.ComponentTypes, ct.Name) {
		v.add(n.Path, ir.SeveritySave, "component type %q is not allowed", ct.Name)
	}
	if v.opts.Published && ct.AdminOnly {
		v.add(n.Path, ir.SeverityPublish, "component type %q is admin only and cannot be published", ct.Name)
	}
	next()
	return struct{}{}
}

func (v *validator) VisitRichTextNode(n *Node, next func() []Child[struct{}]) struct{} {
	f := n.Field
	rt := n.RichText
	if len(f.RichTextNodes) > 0 && !schema.RichTextBaseNodes[rt.Type] && !slices.Contains(f.RichTextNodes, rt.Type) {
		v.add(n.Path, ir.SeveritySave, "rich text node type %q is not allowed", rt.Type)
	}
	switch rt.Type {
	case ir.RichTextNodeEntity:
		v.checkReference(n.Path.Key("reference"), rt.Reference.ID, f.EntityTypes)
	case ir.RichTextNodeEntityLink:
		v.checkReference(n.Path.Key("reference"), rt.Reference.ID, f.LinkEntityTypes)
	}
	next()
	return struct{}{}
}

func (v *validator) VisitError(n *Node) struct{} {
	v.add(n.Path, ir.SeveritySave, "%s", n.Message)
	return struct{}{}
}

// Validate checks a document against its entity type and returns every
// issue found, in document order.
func Validate(s *schema.Schema, entityType string, doc ir.Object, opts ValidateOptions) ([]ir.ValidationIssue, error) {
	v := &validator{schema: s, opts: opts}
	if _, err := Traverse[struct{}](s, entityType, doc, v); err != nil {
		return nil, err
	}
	return v.issues, nil
}

// HasSeverity reports whether any issue has the given severity.
func HasSeverity(issues []ir.ValidationIssue, severity ir.Severity) bool {
	return slices.ContainsFunc(issues, func(i ir.ValidationIssue) bool { return i.Severity == severity })
}

// ValidLatest reports whether a latest version with these issues is valid.
// Only save-severity issues make a draft invalid.
func ValidLatest(issues []ir.ValidationIssue) bool {
	return !HasSeverity(issues, ir.SeveritySave)
}

// ValidPublished reports whether published data with these issues is valid.
func ValidPublished(issues []ir.ValidationIssue) bool {
	return len(issues) == 0
}
