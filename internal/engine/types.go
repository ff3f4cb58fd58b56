package engine

import (
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// EntityCreate is a new entity supplied by a caller.
type EntityCreate struct {
	// ID is generated when empty.
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	// Name is used when the entity type has no nameField, or when the
	// nameField is empty.
	Name string `json:"name,omitempty"`
	// AuthKey defaults to "none".
	AuthKey string    `json:"authKey,omitempty"`
	Fields  ir.Object `json:"fields,omitempty"`
}

// EntityUpdate is a change to an existing entity.
//
// Fields are merged into the latest fields: keys that are present replace
// the stored value and null removes it. Type and AuthKey may be given but
// must match the stored entity.
type EntityUpdate struct {
	ID      string `json:"id"`
	Type    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
	AuthKey string `json:"authKey,omitempty"`
	// Version is the latest version the caller expects. Zero skips the
	// check and the update wins against whatever is latest.
	Version int       `json:"version,omitempty"`
	Fields  ir.Object `json:"fields,omitempty"`
}

// WriteOptions tune CreateEntity, UpdateEntity and UpsertEntity.
type WriteOptions struct {
	// Publish publishes the written version in the same transaction.
	Publish bool `json:"publish,omitempty"`
}

// EntityResult is the outcome of an entity write.
type EntityResult struct {
	Effect ir.Effect `json:"effect"`
	Entity ir.Entity `json:"entity"`
}

// StatusResult is the outcome of a lifecycle operation on one entity.
type StatusResult struct {
	ID      string          `json:"id"`
	Version int             `json:"version"`
	Status  ir.EntityStatus `json:"status"`
	Effect  ir.Effect       `json:"effect"`
}

// EntityLookup is one result of GetEntities: the entity or the reason it
// could not be read.
type EntityLookup struct {
	Entity *ir.Entity `json:"entity,omitempty"`
	Err    *ir.Error  `json:"-"`
}

// Sample is a deterministic random sample of a search.
type Sample[T any] struct {
	// Seed reproduces the sample. It is the caller's seed, or the one the
	// repository chose.
	Seed       int64 `json:"seed"`
	TotalCount int   `json:"totalCount"`
	Items      []T   `json:"items"`
}

// SchemaResult is the outcome of a schema update.
type SchemaResult struct {
	Effect        ir.Effect            `json:"effect"`
	Specification schema.Specification `json:"schemaSpecification"`
}

// BackgroundResult describes the entity a background job processed.
type BackgroundResult struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	ValidLatest    bool   `json:"validLatest"`
	ValidPublished *bool  `json:"validPublished,omitempty"`
}
