package ir

import "time"

// EntityStatus is the lifecycle state of an entity.
type EntityStatus string

const (
	StatusDraft     EntityStatus = "draft"
	StatusPublished EntityStatus = "published"
	StatusModified  EntityStatus = "modified"
	StatusWithdrawn EntityStatus = "withdrawn"
	StatusArchived  EntityStatus = "archived"
)

// ValidStatuses defines allowed status filter values.
var ValidStatuses = map[EntityStatus]bool{
	StatusDraft:     true,
	StatusPublished: true,
	StatusModified:  true,
	StatusWithdrawn: true,
	StatusArchived:  true,
}

// Entity is a typed, versioned document as seen by admin readers.
type Entity struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Name            string       `json:"name"`
	AuthKey         string       `json:"authKey"`
	ResolvedAuthKey string       `json:"-"`
	Status          EntityStatus `json:"status"`
	Version         int          `json:"version"`
	ValidLatest     bool         `json:"validLatest"`
	ValidPublished  *bool        `json:"validPublished,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	Fields          Fields       `json:"-"`
}

// PublishedEntity is the published version of an entity.
type PublishedEntity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	AuthKey   string    `json:"authKey"`
	Version   int       `json:"version"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"createdAt"`
	Fields    Fields    `json:"-"`
}

// EntityReference identifies an entity.
type EntityReference struct {
	ID string `json:"id"`
}

// EntityVersionReference identifies one version of an entity. A zero
// Version means "the latest version".
type EntityVersionReference struct {
	ID      string `json:"id"`
	Version int    `json:"version,omitempty"`
}

// Effect describes what a mutation did.
type Effect string

const (
	EffectCreated     Effect = "created"
	EffectUpdated     Effect = "updated"
	EffectNone        Effect = "none"
	EffectPublished   Effect = "published"
	EffectUnpublished Effect = "unpublished"
	EffectArchived    Effect = "archived"
	EffectUnarchived  Effect = "unarchived"
)

// Dirty flags mark entities that need background work after a schema change.
const (
	DirtyValidateLatest    = 1 << 0
	DirtyValidatePublished = 1 << 1
	DirtyIndexLatest       = 1 << 2
	DirtyIndexPublished    = 1 << 3

	DirtyValidate = DirtyValidateLatest | DirtyValidatePublished
	DirtyIndex    = DirtyIndexLatest | DirtyIndexPublished
)

// PageInfo describes where a page sits in its result set.
type PageInfo struct {
	HasPreviousPage bool   `json:"hasPreviousPage"`
	HasNextPage     bool   `json:"hasNextPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Edge is one paged result with its opaque cursor.
type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

// Connection is one page of a cursor-paged result set.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges"`
	PageInfo PageInfo  `json:"pageInfo"`
}

// NewConnection builds a page from rows fetched with one extra row of
// lookahead. rows are in scan order; backward scans are re-reversed so the
// page is always in result order. cursor renders a row's cursor.
func NewConnection[R, T any](rows []R, count int, backward bool, node func(R) T, cursor func(R) (string, error)) (Connection[T], error) {
	more := len(rows) > count
	if more {
		rows = rows[:count]
	}
	conn := Connection[T]{Edges: make([]Edge[T], 0, len(rows))}
	for i := range rows {
		r := rows[i]
		if backward {
			r = rows[len(rows)-1-i]
		}
		c, err := cursor(r)
		if err != nil {
			return Connection[T]{}, err
		}
		conn.Edges = append(conn.Edges, Edge[T]{Cursor: c, Node: node(r)})
	}
	if backward {
		conn.PageInfo.HasPreviousPage = more
	} else {
		conn.PageInfo.HasNextPage = more
	}
	if n := len(conn.Edges); n > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[n-1].Cursor
	}
	return conn, nil
}
