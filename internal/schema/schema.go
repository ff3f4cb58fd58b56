package schema

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/roach88/folio/internal/ir"
)

// Schema is an immutable, validated specification with lookup tables.
//
// Compiled patterns are memoized per instance, so schemas of different
// versions can be read concurrently without sharing mutable state.
type Schema struct {
	spec           Specification
	entityTypes    map[string]*EntityTypeSpec
	componentTypes map[string]*ComponentTypeSpec
	patterns       map[string]string
	indexes        map[string]IndexSpec

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewSchema validates spec and wraps it. The specification is copied; later
// changes to the argument do not affect the schema.
func NewSchema(spec Specification) (*Schema, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return nil, ToError(errs)
	}
	c := spec.Clone()
	c.normalize()
	return newSchema(c), nil
}

func newSchema(spec Specification) *Schema {
	s := &Schema{
		spec:           spec,
		entityTypes:    make(map[string]*EntityTypeSpec, len(spec.EntityTypes)),
		componentTypes: make(map[string]*ComponentTypeSpec, len(spec.ComponentTypes)),
		patterns:       make(map[string]string, len(spec.Patterns)),
		indexes:        make(map[string]IndexSpec, len(spec.Indexes)),
		compiled:       make(map[string]*regexp.Regexp),
	}
	for i := range s.spec.EntityTypes {
		s.entityTypes[s.spec.EntityTypes[i].Name] = &s.spec.EntityTypes[i]
	}
	for i := range s.spec.ComponentTypes {
		s.componentTypes[s.spec.ComponentTypes[i].Name] = &s.spec.ComponentTypes[i]
	}
	for _, p := range s.spec.Patterns {
		s.patterns[p.Name] = p.Pattern
	}
	for _, idx := range s.spec.Indexes {
		s.indexes[idx.Name] = idx
	}
	return s
}

// Spec returns a copy of the underlying specification.
func (s *Schema) Spec() Specification {
	return s.spec.Clone()
}

// Version returns the specification version.
func (s *Schema) Version() int {
	return s.spec.Version
}

// EntityType returns the named entity type.
func (s *Schema) EntityType(name string) (*EntityTypeSpec, bool) {
	t, ok := s.entityTypes[name]
	return t, ok
}

// ComponentType returns the named component type.
func (s *Schema) ComponentType(name string) (*ComponentTypeSpec, bool) {
	t, ok := s.componentTypes[name]
	return t, ok
}

// EntityTypeNames returns entity type names in declaration order.
func (s *Schema) EntityTypeNames() []string {
	names := make([]string, len(s.spec.EntityTypes))
	for i, t := range s.spec.EntityTypes {
		names[i] = t.Name
	}
	return names
}

// Index returns the named index.
func (s *Schema) Index(name string) (IndexSpec, bool) {
	idx, ok := s.indexes[name]
	return idx, ok
}

// Pattern returns the compiled regular expression for a named pattern.
// Patterns compile on first use and are cached for the schema's lifetime.
func (s *Schema) Pattern(name string) (*regexp.Regexp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if re, ok := s.compiled[name]; ok {
		return re, nil
	}
	source, ok := s.patterns[name]
	if !ok {
		return nil, ir.NewBadRequest("unknown pattern %q", name)
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, ir.NewBadRequest("pattern %q does not compile: %v", name, err)
	}
	s.compiled[name] = re
	return re, nil
}

// MigrationsAfter returns migrations with a version greater than version,
// in ascending order.
func (s *Schema) MigrationsAfter(version int) []Migration {
	var out []Migration
	for _, m := range s.spec.Migrations {
		if m.Version > version {
			out = append(out, m)
		}
	}
	return out
}

// AllowedComponentTypes returns the component types a field may hold. An
// empty allowlist admits every component type.
func (s *Schema) AllowedComponentTypes(f *FieldSpec) []string {
	if len(f.ComponentTypes) > 0 {
		return f.ComponentTypes
	}
	names := make([]string, len(s.spec.ComponentTypes))
	for i, t := range s.spec.ComponentTypes {
		names[i] = t.Name
	}
	return names
}

// ReachableComponentTypes returns every component type that can appear
// somewhere inside an entity of the given type.
func (s *Schema) ReachableComponentTypes(entityType string) map[string]bool {
	reached := make(map[string]bool)
	t, ok := s.entityTypes[entityType]
	if !ok {
		return reached
	}
	var walk func(fields []FieldSpec)
	walk = func(fields []FieldSpec) {
		for i := range fields {
			f := &fields[i]
			if f.Type != KindComponent && f.Type != KindRichText {
				continue
			}
			for _, name := range s.AllowedComponentTypes(f) {
				if reached[name] {
					continue
				}
				reached[name] = true
				if ct, ok := s.componentTypes[name]; ok {
					walk(ct.Fields)
				}
			}
		}
	}
	walk(t.Fields)
	return reached
}

// String returns a short description for logs.
func (s *Schema) String() string {
	return fmt.Sprintf("schema v%d (%d entity types, %d component types)",
		s.spec.Version, len(s.spec.EntityTypes), len(s.spec.ComponentTypes))
}
