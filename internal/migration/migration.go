// Package migration rewrites stored entity field documents from the schema
// version they were written with to the current schema version.
//
// Every action is a pure structural rewrite of the generic JSON document: it
// renames or drops field keys and type tokens. The input document is never
// mutated.
package migration

import (
	"slices"
	"strconv"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// Result is a migrated document.
type Result struct {
	// Type is the entity type after type renames.
	Type string
	// Fields is the rewritten field document.
	Fields ir.Object
	// Applied lists the migration versions that were applied, in order.
	Applied []int
}

// Apply runs every migration newer than storedVersion against doc, in
// ascending version order. When no migration is newer the document is
// returned unchanged (as a copy).
func Apply(storedVersion int, entityType string, doc ir.Object, migrations []schema.Migration) (Result, error) {
	pending := make([]schema.Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > storedVersion {
			pending = append(pending, m)
		}
	}
	slices.SortStableFunc(pending, func(a, b schema.Migration) int { return a.Version - b.Version })

	r := &rewriter{entityType: entityType, doc: doc.Clone()}
	if r.doc == nil {
		r.doc = ir.Object{}
	}
	var applied []int
	for i, m := range pending {
		if i > 0 && pending[i-1].Version == m.Version {
			return Result{}, ir.NewGeneric(nil, "migration version %d appears twice", m.Version).
				With("version", strconv.Itoa(m.Version))
		}
		for _, a := range m.Actions {
			if err := r.apply(a); err != nil {
				return Result{}, err
			}
		}
		applied = append(applied, m.Version)
	}
	return Result{Type: r.entityType, Fields: r.doc, Applied: applied}, nil
}

type rewriter struct {
	entityType string
	doc        ir.Object
}

func (r *rewriter) apply(a schema.MigrationAction) error {
	typeName, component := a.TypeName()

	switch a.Action {
	case schema.ActionRenameField:
		if component {
			r.eachComponent(typeName, func(c ir.Object) { renameKey(c, a.Field, a.NewName) })
		} else if typeName == r.entityType {
			renameKey(r.doc, a.Field, a.NewName)
		}

	case schema.ActionDeleteField:
		if component {
			r.eachComponent(typeName, func(c ir.Object) { deleteKey(c, a.Field) })
		} else if typeName == r.entityType {
			deleteKey(r.doc, a.Field)
		}

	case schema.ActionRenameType:
		if component {
			r.eachComponent(typeName, func(c ir.Object) { c["type"] = ir.String(a.NewName) })
		} else if typeName == r.entityType {
			r.entityType = a.NewName
		}

	case schema.ActionDeleteType:
		if !component {
			if typeName == r.entityType {
				return ir.NewGeneric(nil, "entity type %q was deleted", typeName).With("entityType", typeName)
			}
			return nil
		}
		r.doc = pruneObject(r.doc, func(c ir.Object) bool { return componentType(c) == typeName })

	case schema.ActionRenameIndex, schema.ActionDeleteIndex:
		// Indexes live outside the document.

	default:
		return ir.NewGeneric(nil, "unsupported migration action %q", a.Action).With("action", string(a.Action))
	}
	return nil
}

// eachComponent calls fn for every instance of the named component type in
// the document, outermost first.
func (r *rewriter) eachComponent(typeName string, fn func(c ir.Object)) {
	for _, k := range r.doc.SortedKeys() {
		walkValue(r.doc[k], func(c ir.Object) {
			if componentType(c) == typeName {
				fn(c)
			}
		})
	}
}

func walkValue(v ir.Value, fn func(c ir.Object)) {
	switch val := v.(type) {
	case ir.Array:
		for _, elem := range val {
			walkValue(elem, fn)
		}
	case ir.Object:
		if componentType(val) != "" {
			fn(val)
			for _, k := range val.SortedKeys() {
				if k != "type" {
					walkValue(val[k], fn)
				}
			}
			return
		}
		if root, ok := val["root"].(ir.Object); ok {
			walkRichTextNode(root, fn)
		}
	}
}

func walkRichTextNode(node ir.Object, fn func(c ir.Object)) {
	if t, _ := node["type"].(ir.String); t == ir.RichTextNodeComponent {
		if data, ok := node["data"].(ir.Object); ok {
			walkValue(data, fn)
		}
	}
	if children, ok := node["children"].(ir.Array); ok {
		for _, child := range children {
			if c, ok := child.(ir.Object); ok {
				walkRichTextNode(c, fn)
			}
		}
	}
}

// pruneObject removes component instances matching drop from every value of
// obj. Object-valued fields holding a dropped instance are removed; list
// items and rich text nodes are filtered out.
func pruneObject(obj ir.Object, drop func(c ir.Object) bool) ir.Object {
	for _, k := range obj.SortedKeys() {
		v, keep := pruneValue(obj[k], drop)
		if !keep {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	return obj
}

func pruneValue(v ir.Value, drop func(c ir.Object) bool) (ir.Value, bool) {
	switch val := v.(type) {
	case ir.Array:
		out := make(ir.Array, 0, len(val))
		for _, elem := range val {
			if pruned, keep := pruneValue(elem, drop); keep {
				out = append(out, pruned)
			}
		}
		return out, true
	case ir.Object:
		if componentType(val) != "" {
			if drop(val) {
				return nil, false
			}
			return pruneObject(val, drop), true
		}
		if root, ok := val["root"].(ir.Object); ok {
			val["root"] = pruneRichTextNode(root, drop)
		}
		return val, true
	default:
		return v, true
	}
}

func pruneRichTextNode(node ir.Object, drop func(c ir.Object) bool) ir.Object {
	if t, _ := node["type"].(ir.String); t == ir.RichTextNodeComponent {
		if data, ok := node["data"].(ir.Object); ok {
			node["data"] = pruneObject(data, drop)
		}
	}
	children, ok := node["children"].(ir.Array)
	if !ok {
		return node
	}
	out := make(ir.Array, 0, len(children))
	for _, child := range children {
		c, ok := child.(ir.Object)
		if !ok {
			out = append(out, child)
			continue
		}
		if t, _ := c["type"].(ir.String); t == ir.RichTextNodeComponent {
			if data, ok := c["data"].(ir.Object); ok && drop(data) {
				continue
			}
		}
		out = append(out, pruneRichTextNode(c, drop))
	}
	node["children"] = out
	return node
}

func componentType(obj ir.Object) string {
	if t, ok := obj["type"].(ir.String); ok {
		return string(t)
	}
	return ""
}

func renameKey(obj ir.Object, from, to string) {
	v, ok := obj[from]
	if !ok {
		return
	}
	delete(obj, from)
	if _, exists := obj[to]; !exists {
		obj[to] = v
	}
}

func deleteKey(obj ir.Object, key string) {
	delete(obj, key)
}
