package queryir

import "github.com/roach88/folio/internal/ir"

// OrderKey names the ordering of a search.
type OrderKey string

const (
	// OrderCreatedAt orders by creation, which is row id order.
	OrderCreatedAt OrderKey = "createdAt"
	// OrderUpdatedAt orders by last update time, then row id.
	OrderUpdatedAt OrderKey = "updatedAt"
	// OrderName orders by entity name, then row id.
	OrderName OrderKey = "name"
)

// ValidOrderKeys defines allowed ordering keys.
var ValidOrderKeys = map[OrderKey]bool{
	OrderCreatedAt: true,
	OrderUpdatedAt: true,
	OrderName:      true,
}

// BoundingBox is a geographic rectangle. West may be greater than East when
// the box crosses the antimeridian.
type BoundingBox struct {
	MinLat float64 `json:"minLat" yaml:"minLat"`
	MaxLat float64 `json:"maxLat" yaml:"maxLat"`
	MinLng float64 `json:"minLng" yaml:"minLng"`
	MaxLng float64 `json:"maxLng" yaml:"maxLng"`
}

// EntityQuery is a structured entity search as supplied by a caller. Every
// filter is optional; an empty query matches every entity the caller is
// authorized for.
type EntityQuery struct {
	EntityTypes    []string          `json:"entityTypes,omitempty" yaml:"entityTypes,omitempty"`
	ComponentTypes []string          `json:"componentTypes,omitempty" yaml:"componentTypes,omitempty"`
	Status         []ir.EntityStatus `json:"status,omitempty" yaml:"status,omitempty"`
	AuthKeys       []string          `json:"authKeys,omitempty" yaml:"authKeys,omitempty"`
	Valid          *bool             `json:"valid,omitempty" yaml:"valid,omitempty"`
	LinksTo        string            `json:"linksTo,omitempty" yaml:"linksTo,omitempty"`
	LinksFrom      string            `json:"linksFrom,omitempty" yaml:"linksFrom,omitempty"`
	Text           string            `json:"text,omitempty" yaml:"text,omitempty"`
	BoundingBox    *BoundingBox      `json:"boundingBox,omitempty" yaml:"boundingBox,omitempty"`
	Order          OrderKey          `json:"order,omitempty" yaml:"order,omitempty"`
	Reverse        bool              `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// Paging selects one page of a search. First and Last are mutually
// exclusive; After and Before are opaque cursors from earlier pages.
type Paging struct {
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
	First  *int   `json:"first,omitempty" yaml:"first,omitempty"`
	Last   *int   `json:"last,omitempty" yaml:"last,omitempty"`
}

// SampleOptions configures a deterministic random sample. A nil Seed asks
// the repository to choose one.
type SampleOptions struct {
	Seed  *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
	Count int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Scope tells which version of each entity a search runs against.
type Scope struct {
	// Published searches published versions; otherwise latest versions.
	Published bool
}

// Select is a compiled entity search: a conjunction of predicates over the
// entities in scope, plus an ordering.
type Select struct {
	Scope   Scope
	Filter  And
	Order   OrderKey
	Reverse bool
}

// Predicate is a filter condition in a Select.
//
// This is a sealed interface: only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// AuthKeyIn matches entities whose resolved authorization key is one of
// Keys. An empty Keys matches nothing.
type AuthKeyIn struct {
	Keys []string
}

func (AuthKeyIn) predicateNode() {}

// TypeIn matches entities of one of the given types.
type TypeIn struct {
	Types []string
}

func (TypeIn) predicateNode() {}

// ComponentTypeIn matches entities whose field document contains a
// component of one of the given types.
type ComponentTypeIn struct {
	Types []string
}

func (ComponentTypeIn) predicateNode() {}

// StatusIn matches entities in one of the given states.
type StatusIn struct {
	Statuses []ir.EntityStatus
}

func (StatusIn) predicateNode() {}

// ValidIs matches entities whose in-scope version has the given validity.
type ValidIs struct {
	Valid bool
}

func (ValidIs) predicateNode() {}

// LinksTo matches entities that reference the entity ID.
type LinksTo struct {
	ID string
}

func (LinksTo) predicateNode() {}

// LinksFrom matches entities that the entity ID references.
type LinksFrom struct {
	ID string
}

func (LinksFrom) predicateNode() {}

// TextMatch matches entities whose full-text content contains every word
// of Text.
type TextMatch struct {
	Text string
}

func (TextMatch) predicateNode() {}

// WithinBoundingBox matches entities with at least one location inside Box.
type WithinBoundingBox struct {
	Box BoundingBox
}

func (WithinBoundingBox) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
