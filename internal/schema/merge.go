package schema

import (
	"slices"

	"github.com/roach88/folio/internal/ir"
)

// Merge applies an update to the current specification and returns the next
// one. The version increments by one when anything changed; an update that
// changes nothing returns the current specification as-is.
//
// Migrations carried by the update are applied to the specification first
// (renames and deletions), then types, patterns and indexes are merged by
// name. A field's kind and list-ness can never change.
func Merge(current Specification, update SpecificationUpdate) (Specification, error) {
	next := current.Clone()
	next.normalize()
	target := current.Version + 1

	if update.Version != 0 && update.Version != target {
		return Specification{}, ir.NewBadRequest("specification version %d must be %d", update.Version, target)
	}

	if len(update.Migrations) > 0 {
		merged := Migration{Version: target}
		for _, m := range update.Migrations {
			if m.Version != 0 && m.Version != target {
				return Specification{}, ir.NewBadRequest("migration version %d must be %d", m.Version, target)
			}
			for _, a := range m.Actions {
				if err := applyActionToSpec(&next, a); err != nil {
					return Specification{}, err
				}
			}
			merged.Actions = append(merged.Actions, m.Actions...)
		}
		next.Migrations = append(next.Migrations, merged)
	}

	for _, ut := range update.EntityTypes {
		if i := indexOfEntityType(next.EntityTypes, ut.Name); i >= 0 {
			existing := &next.EntityTypes[i]
			fields, err := mergeFields(ut.Name, existing.Fields, ut.Fields)
			if err != nil {
				return Specification{}, err
			}
			existing.AdminOnly = ut.AdminOnly
			existing.AuthKeyPattern = ut.AuthKeyPattern
			existing.NameField = ut.NameField
			existing.Fields = fields
		} else {
			next.EntityTypes = append(next.EntityTypes, cloneEntityType(ut))
		}
	}

	for _, ut := range update.ComponentTypes {
		if i := indexOfComponentType(next.ComponentTypes, ut.Name); i >= 0 {
			existing := &next.ComponentTypes[i]
			fields, err := mergeFields(ut.Name, existing.Fields, ut.Fields)
			if err != nil {
				return Specification{}, err
			}
			existing.AdminOnly = ut.AdminOnly
			existing.Fields = fields
		} else {
			next.ComponentTypes = append(next.ComponentTypes, cloneComponentType(ut))
		}
	}

	for _, p := range update.Patterns {
		if i := slices.IndexFunc(next.Patterns, func(x PatternSpec) bool { return x.Name == p.Name }); i >= 0 {
			next.Patterns[i] = p
		} else {
			next.Patterns = append(next.Patterns, p)
		}
	}

	for _, idx := range update.Indexes {
		if i := slices.IndexFunc(next.Indexes, func(x IndexSpec) bool { return x.Name == idx.Name }); i >= 0 {
			next.Indexes[i] = idx
		} else {
			next.Indexes = append(next.Indexes, idx)
		}
	}

	next.normalize()
	changed, err := specChanged(current, next)
	if err != nil {
		return Specification{}, ir.NewGeneric(err, "compare specifications")
	}
	if !changed {
		return current, nil
	}
	next.Version = target

	if errs := Validate(next); len(errs) > 0 {
		return Specification{}, ToError(errs)
	}
	return next, nil
}

func mergeFields(typeName string, existing, updates []FieldSpec) ([]FieldSpec, error) {
	out := slices.Clone(existing)
	for _, uf := range updates {
		i := slices.IndexFunc(out, func(f FieldSpec) bool { return f.Name == uf.Name })
		if i < 0 {
			out = append(out, uf)
			continue
		}
		if out[i].Type != uf.Type {
			return nil, ir.NewBadRequest("%s.%s: cannot change field type from %s to %s", typeName, uf.Name, out[i].Type, uf.Type)
		}
		if out[i].List != uf.List {
			return nil, ir.NewBadRequest("%s.%s: cannot change list from %t to %t", typeName, uf.Name, out[i].List, uf.List)
		}
		out[i] = uf
	}
	return out, nil
}

func specChanged(a, b Specification) (bool, error) {
	a = a.Clone()
	a.Version, b.Version = 0, 0
	a.normalize()
	ha, err := a.Hash()
	if err != nil {
		return false, err
	}
	hb, err := b.Hash()
	if err != nil {
		return false, err
	}
	return ha != hb, nil
}

// applyActionToSpec applies the schema-level effect of a migration action.
func applyActionToSpec(spec *Specification, a MigrationAction) error {
	switch a.Action {
	case ActionRenameField, ActionDeleteField:
		typeName, component := a.TypeName()
		fields, nameField := spec.fieldsOf(typeName, component)
		if fields == nil {
			return ir.NewBadRequest("%s: unknown type %q", a.Action, typeName)
		}
		i := slices.IndexFunc(*fields, func(f FieldSpec) bool { return f.Name == a.Field })
		if i < 0 {
			return ir.NewBadRequest("%s: unknown field %s.%s", a.Action, typeName, a.Field)
		}
		if a.Action == ActionRenameField {
			if slices.ContainsFunc(*fields, func(f FieldSpec) bool { return f.Name == a.NewName }) {
				return ir.NewBadRequest("renameField: %s.%s already exists", typeName, a.NewName)
			}
			(*fields)[i].Name = a.NewName
			if nameField != nil && *nameField == a.Field {
				*nameField = a.NewName
			}
		} else {
			*fields = slices.Delete(*fields, i, i+1)
			if nameField != nil && *nameField == a.Field {
				*nameField = ""
			}
		}

	case ActionRenameType:
		typeName, component := a.TypeName()
		if component {
			i := indexOfComponentType(spec.ComponentTypes, typeName)
			if i < 0 {
				return ir.NewBadRequest("renameType: unknown component type %q", typeName)
			}
			spec.ComponentTypes[i].Name = a.NewName
		} else {
			i := indexOfEntityType(spec.EntityTypes, typeName)
			if i < 0 {
				return ir.NewBadRequest("renameType: unknown entity type %q", typeName)
			}
			spec.EntityTypes[i].Name = a.NewName
		}
		spec.eachField(func(f *FieldSpec) {
			if component {
				f.ComponentTypes = replaceName(f.ComponentTypes, typeName, a.NewName)
			} else {
				f.EntityTypes = replaceName(f.EntityTypes, typeName, a.NewName)
				f.LinkEntityTypes = replaceName(f.LinkEntityTypes, typeName, a.NewName)
			}
		})

	case ActionDeleteType:
		typeName, component := a.TypeName()
		if component {
			i := indexOfComponentType(spec.ComponentTypes, typeName)
			if i < 0 {
				return ir.NewBadRequest("deleteType: unknown component type %q", typeName)
			}
			spec.ComponentTypes = slices.Delete(spec.ComponentTypes, i, i+1)
		} else {
			i := indexOfEntityType(spec.EntityTypes, typeName)
			if i < 0 {
				return ir.NewBadRequest("deleteType: unknown entity type %q", typeName)
			}
			spec.EntityTypes = slices.Delete(spec.EntityTypes, i, i+1)
		}
		spec.eachField(func(f *FieldSpec) {
			if component {
				f.ComponentTypes = removeName(f.ComponentTypes, typeName)
			} else {
				f.EntityTypes = removeName(f.EntityTypes, typeName)
				f.LinkEntityTypes = removeName(f.LinkEntityTypes, typeName)
			}
		})

	case ActionRenameIndex:
		i := slices.IndexFunc(spec.Indexes, func(x IndexSpec) bool { return x.Name == a.Index })
		if i < 0 {
			return ir.NewBadRequest("renameIndex: unknown index %q", a.Index)
		}
		spec.Indexes[i].Name = a.NewName
		spec.eachField(func(f *FieldSpec) {
			if f.Index == a.Index {
				f.Index = a.NewName
			}
		})

	case ActionDeleteIndex:
		i := slices.IndexFunc(spec.Indexes, func(x IndexSpec) bool { return x.Name == a.Index })
		if i < 0 {
			return ir.NewBadRequest("deleteIndex: unknown index %q", a.Index)
		}
		spec.Indexes = slices.Delete(spec.Indexes, i, i+1)
		spec.eachField(func(f *FieldSpec) {
			if f.Index == a.Index {
				f.Index = ""
			}
		})

	default:
		return ir.NewBadRequest("unknown migration action %q", a.Action)
	}
	return nil
}

func (s *Specification) fieldsOf(typeName string, component bool) (*[]FieldSpec, *string) {
	if component {
		if i := indexOfComponentType(s.ComponentTypes, typeName); i >= 0 {
			return &s.ComponentTypes[i].Fields, nil
		}
		return nil, nil
	}
	if i := indexOfEntityType(s.EntityTypes, typeName); i >= 0 {
		return &s.EntityTypes[i].Fields, &s.EntityTypes[i].NameField
	}
	return nil, nil
}

func (s *Specification) eachField(fn func(f *FieldSpec)) {
	for i := range s.EntityTypes {
		for j := range s.EntityTypes[i].Fields {
			fn(&s.EntityTypes[i].Fields[j])
		}
	}
	for i := range s.ComponentTypes {
		for j := range s.ComponentTypes[i].Fields {
			fn(&s.ComponentTypes[i].Fields[j])
		}
	}
}

// normalize replaces nil slices with empty ones so equal specifications
// always hash the same.
func (s *Specification) normalize() {
	if s.EntityTypes == nil {
		s.EntityTypes = []EntityTypeSpec{}
	}
	if s.ComponentTypes == nil {
		s.ComponentTypes = []ComponentTypeSpec{}
	}
	if s.Patterns == nil {
		s.Patterns = []PatternSpec{}
	}
	if s.Indexes == nil {
		s.Indexes = []IndexSpec{}
	}
	if s.Migrations == nil {
		s.Migrations = []Migration{}
	}
	for i := range s.EntityTypes {
		if s.EntityTypes[i].Fields == nil {
			s.EntityTypes[i].Fields = []FieldSpec{}
		}
	}
	for i := range s.ComponentTypes {
		if s.ComponentTypes[i].Fields == nil {
			s.ComponentTypes[i].Fields = []FieldSpec{}
		}
	}
	for i := range s.Migrations {
		if s.Migrations[i].Actions == nil {
			s.Migrations[i].Actions = []MigrationAction{}
		}
	}
}

func indexOfEntityType(types []EntityTypeSpec, name string) int {
	return slices.IndexFunc(types, func(t EntityTypeSpec) bool { return t.Name == name })
}

func indexOfComponentType(types []ComponentTypeSpec, name string) int {
	return slices.IndexFunc(types, func(t ComponentTypeSpec) bool { return t.Name == name })
}

func cloneEntityType(t EntityTypeSpec) EntityTypeSpec {
	t.Fields = slices.Clone(t.Fields)
	return t
}

func cloneComponentType(t ComponentTypeSpec) ComponentTypeSpec {
	t.Fields = slices.Clone(t.Fields)
	return t
}

func replaceName(names []string, from, to string) []string {
	if !slices.Contains(names, from) {
		return names
	}
	out := slices.Clone(names)
	for i := range out {
		if out[i] == from {
			out[i] = to
		}
	}
	return out
}

func removeName(names []string, name string) []string {
	if !slices.Contains(names, name) {
		return names
	}
	return slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == name })
}
