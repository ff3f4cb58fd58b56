package schema

import (
	"slices"

	"github.com/roach88/folio/internal/ir"
)

// ChangeKind classifies a type or field in a delta.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeRenamed ChangeKind = "renamed"
	ChangeChanged ChangeKind = "changed"
)

// FieldDelta describes what happened to one field.
type FieldDelta struct {
	Name       string     `json:"name"`
	NewName    string     `json:"newName,omitempty"`
	Change     ChangeKind `json:"change"`
	Revalidate bool       `json:"revalidate,omitempty"`
	Reindex    bool       `json:"reindex,omitempty"`
}

// TypeDelta describes what happened to one entity or component type.
type TypeDelta struct {
	Name       string       `json:"name"`
	NewName    string       `json:"newName,omitempty"`
	Component  bool         `json:"component,omitempty"`
	Change     ChangeKind   `json:"change"`
	Fields     []FieldDelta `json:"fields,omitempty"`
	Revalidate bool         `json:"revalidate,omitempty"`
	Reindex    bool         `json:"reindex,omitempty"`
}

// Delta is the classified difference between two specifications.
type Delta struct {
	Types           []TypeDelta       `json:"types,omitempty"`
	ChangedPatterns []string          `json:"changedPatterns,omitempty"`
	RenamedIndexes  map[string]string `json:"renamedIndexes,omitempty"`
	DeletedIndexes  []string          `json:"deletedIndexes,omitempty"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Types) == 0 && len(d.ChangedPatterns) == 0 && len(d.RenamedIndexes) == 0 && len(d.DeletedIndexes) == 0
}

// RenamedEntityTypes returns old → new names of renamed entity types.
func (d Delta) RenamedEntityTypes() map[string]string {
	out := make(map[string]string)
	for _, t := range d.Types {
		if !t.Component && t.NewName != "" && t.NewName != t.Name {
			out[t.Name] = t.NewName
		}
	}
	return out
}

// DeletedEntityTypes returns the entity types removed by the delta.
func (d Delta) DeletedEntityTypes() []string {
	var out []string
	for _, t := range d.Types {
		if !t.Component && t.Change == ChangeRemoved {
			out = append(out, t.Name)
		}
	}
	return out
}

// DirtyFlags returns, per entity type of next, the dirty flags entities of
// that type need after the change. A changed component type dirties every
// entity type that can contain it.
func (d Delta) DirtyFlags(next *Schema) map[string]int {
	own := make(map[string]int)
	components := make(map[string]int)
	componentDeleted := false
	for _, t := range d.Types {
		flags := 0
		if t.Revalidate {
			flags |= ir.DirtyValidate
		}
		if t.Reindex {
			flags |= ir.DirtyIndex
		}
		name := t.Name
		if t.NewName != "" {
			name = t.NewName
		}
		if t.Component {
			if t.Change == ChangeRemoved {
				componentDeleted = true
			}
			components[name] |= flags
		} else {
			own[name] |= flags
		}
	}

	out := make(map[string]int)
	for _, entityType := range next.EntityTypeNames() {
		flags := own[entityType]
		if componentDeleted {
			flags |= ir.DirtyValidate | ir.DirtyIndex
		}
		for component := range next.ReachableComponentTypes(entityType) {
			flags |= components[component]
		}
		if flags != 0 {
			out[entityType] = flags
		}
	}
	return out
}

// trackedType follows one type of the old specification through the pending
// migration actions.
type trackedType struct {
	component bool
	current   string
	deleted   bool
	fields    map[string]string
	dropped   map[string]bool
}

// Diff classifies the difference between old and next. Removals and
// renames must be backed by migrations in next newer than old's version;
// changing a field's kind or list-ness is rejected.
func Diff(old, next Specification) (Delta, error) {
	tracked := make(map[string]*trackedType)
	key := func(name string, component bool) string {
		if component {
			return "c:" + name
		}
		return "e:" + name
	}
	for _, t := range old.EntityTypes {
		tracked[key(t.Name, false)] = newTracked(t.Name, false, t.Fields)
	}
	for _, t := range old.ComponentTypes {
		tracked[key(t.Name, true)] = newTracked(t.Name, true, t.Fields)
	}
	find := func(name string, component bool) *trackedType {
		for _, tt := range tracked {
			if tt.component == component && !tt.deleted && tt.current == name {
				return tt
			}
		}
		return nil
	}

	delta := Delta{}
	for _, m := range next.Migrations {
		if m.Version <= old.Version {
			continue
		}
		for _, a := range m.Actions {
			typeName, component := a.TypeName()
			switch a.Action {
			case ActionRenameType:
				if tt := find(typeName, component); tt != nil {
					tt.current = a.NewName
				}
			case ActionDeleteType:
				if tt := find(typeName, component); tt != nil {
					tt.deleted = true
				}
			case ActionRenameField:
				if tt := find(typeName, component); tt != nil {
					for orig, cur := range tt.fields {
						if cur == a.Field && !tt.dropped[orig] {
							tt.fields[orig] = a.NewName
						}
					}
				}
			case ActionDeleteField:
				if tt := find(typeName, component); tt != nil {
					for orig, cur := range tt.fields {
						if cur == a.Field {
							tt.dropped[orig] = true
						}
					}
				}
			case ActionRenameIndex:
				if delta.RenamedIndexes == nil {
					delta.RenamedIndexes = make(map[string]string)
				}
				delta.RenamedIndexes[a.Index] = a.NewName
			case ActionDeleteIndex:
				delta.DeletedIndexes = append(delta.DeletedIndexes, a.Index)
			}
		}
	}

	oldPatterns := make(map[string]string)
	for _, p := range old.Patterns {
		oldPatterns[p.Name] = p.Pattern
	}
	changedPatterns := make(map[string]bool)
	for _, p := range next.Patterns {
		if prev, ok := oldPatterns[p.Name]; ok && prev != p.Pattern {
			changedPatterns[p.Name] = true
			delta.ChangedPatterns = append(delta.ChangedPatterns, p.Name)
		}
	}

	seen := make(map[string]bool)
	diffType := func(oldName string, component bool, oldFields []FieldSpec, nextFields []FieldSpec, found bool) (*TypeDelta, error) {
		tt := tracked[key(oldName, component)]
		if tt.deleted {
			return &TypeDelta{Name: oldName, Component: component, Change: ChangeRemoved, Reindex: true}, nil
		}
		if !found {
			return nil, ir.NewBadRequest("type %q removed without a deleteType or renameType migration", oldName).With("type", oldName)
		}
		seen[key(tt.current, component)] = true

		td := TypeDelta{Name: oldName, Component: component, Change: ChangeChanged}
		if tt.current != oldName {
			td.NewName = tt.current
			td.Change = ChangeRenamed
		}

		matched := make(map[string]bool)
		for _, of := range oldFields {
			if tt.dropped[of.Name] {
				td.Fields = append(td.Fields, FieldDelta{Name: of.Name, Change: ChangeRemoved, Reindex: true})
				td.Reindex = true
				continue
			}
			cur := tt.fields[of.Name]
			nf := findField(nextFields, cur)
			if nf == nil {
				return nil, ir.NewBadRequest("field %s.%s removed without a deleteField or renameField migration", oldName, of.Name).
					With("type", oldName).With("field", of.Name)
			}
			matched[cur] = true
			if nf.Type != of.Type {
				return nil, ir.NewBadRequest("field %s.%s: cannot change type from %s to %s", oldName, of.Name, of.Type, nf.Type)
			}
			if nf.List != of.List {
				return nil, ir.NewBadRequest("field %s.%s: cannot change list from %t to %t", oldName, of.Name, of.List, nf.List)
			}
			fd := FieldDelta{Name: of.Name}
			if cur != of.Name {
				fd.NewName = cur
				fd.Change = ChangeRenamed
			}
			fd.Revalidate = validationChanged(of, *nf) || (nf.MatchPattern != "" && changedPatterns[nf.MatchPattern])
			fd.Reindex = of.Index != nf.Index
			if fd.Change == "" && (fd.Revalidate || fd.Reindex) {
				fd.Change = ChangeChanged
			}
			if fd.Change != "" {
				td.Fields = append(td.Fields, fd)
				td.Revalidate = td.Revalidate || fd.Revalidate
				td.Reindex = td.Reindex || fd.Reindex
			}
		}
		for _, nf := range nextFields {
			if matched[nf.Name] {
				continue
			}
			td.Fields = append(td.Fields, FieldDelta{Name: nf.Name, Change: ChangeAdded, Revalidate: nf.Required})
			td.Revalidate = td.Revalidate || nf.Required
		}

		if td.Change == ChangeChanged && len(td.Fields) == 0 && !td.Revalidate {
			return nil, nil
		}
		return &td, nil
	}

	for _, ot := range old.EntityTypes {
		tt := tracked[key(ot.Name, false)]
		i := indexOfEntityType(next.EntityTypes, tt.current)
		var nextFields []FieldSpec
		if i >= 0 {
			nextFields = next.EntityTypes[i].Fields
		}
		td, err := diffType(ot.Name, false, ot.Fields, nextFields, i >= 0)
		if err != nil {
			return Delta{}, err
		}
		if i >= 0 && ot.AuthKeyPattern != next.EntityTypes[i].AuthKeyPattern {
			if td == nil {
				td = &TypeDelta{Name: ot.Name, Change: ChangeChanged}
			}
			td.Revalidate = true
		}
		if td != nil {
			delta.Types = append(delta.Types, *td)
		}
	}
	for _, ot := range old.ComponentTypes {
		tt := tracked[key(ot.Name, true)]
		i := indexOfComponentType(next.ComponentTypes, tt.current)
		var nextFields []FieldSpec
		if i >= 0 {
			nextFields = next.ComponentTypes[i].Fields
		}
		td, err := diffType(ot.Name, true, ot.Fields, nextFields, i >= 0)
		if err != nil {
			return Delta{}, err
		}
		if i >= 0 && ot.AdminOnly != next.ComponentTypes[i].AdminOnly {
			if td == nil {
				td = &TypeDelta{Name: ot.Name, Component: true, Change: ChangeChanged}
			}
			td.Revalidate = true
		}
		if td != nil {
			delta.Types = append(delta.Types, *td)
		}
	}

	for _, t := range next.EntityTypes {
		if !seen[key(t.Name, false)] {
			delta.Types = append(delta.Types, TypeDelta{Name: t.Name, Change: ChangeAdded})
		}
	}
	for _, t := range next.ComponentTypes {
		if !seen[key(t.Name, true)] {
			delta.Types = append(delta.Types, TypeDelta{Name: t.Name, Component: true, Change: ChangeAdded})
		}
	}

	return delta, nil
}

func newTracked(name string, component bool, fields []FieldSpec) *trackedType {
	tt := &trackedType{
		component: component,
		current:   name,
		fields:    make(map[string]string, len(fields)),
		dropped:   make(map[string]bool),
	}
	for _, f := range fields {
		tt.fields[f.Name] = f.Name
	}
	return tt
}

// validationChanged reports whether a field change can turn valid stored
// values invalid or the other way round.
func validationChanged(a, b FieldSpec) bool {
	return a.Required != b.Required ||
		a.AdminOnly != b.AdminOnly ||
		a.MatchPattern != b.MatchPattern ||
		a.Integer != b.Integer ||
		a.Index != b.Index ||
		!slices.Equal(a.Values, b.Values) ||
		!slices.Equal(a.EntityTypes, b.EntityTypes) ||
		!slices.Equal(a.ComponentTypes, b.ComponentTypes) ||
		!slices.Equal(a.LinkEntityTypes, b.LinkEntityTypes) ||
		!slices.Equal(a.RichTextNodes, b.RichTextNodes)
}
