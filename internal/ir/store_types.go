package ir

import (
	"encoding/json"
	"time"
)

// EventType is the kind of mutation an event records.
type EventType string

const (
	EventCreateEntity      EventType = "createEntity"
	EventUpdateEntity      EventType = "updateEntity"
	EventPublishEntities   EventType = "publishEntities"
	EventUnpublishEntities EventType = "unpublishEntities"
	EventArchiveEntity     EventType = "archiveEntity"
	EventUnarchiveEntity   EventType = "unarchiveEntity"
	EventUpdateSchema      EventType = "updateSchema"
)

// ValidEventTypes defines the event types the log accepts.
var ValidEventTypes = map[EventType]bool{
	EventCreateEntity:      true,
	EventUpdateEntity:      true,
	EventPublishEntities:   true,
	EventUnpublishEntities: true,
	EventArchiveEntity:     true,
	EventUnarchiveEntity:   true,
	EventUpdateSchema:      true,
}

// EventEntity is one entity touched by an event.
type EventEntity struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Type    string `json:"type"`
	Name    string `json:"name"`
}

// ChangelogEvent is the admin view of an event.
type ChangelogEvent struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"type"`
	CreatedBy     string        `json:"createdBy"`
	CreatedAt     time.Time     `json:"createdAt"`
	Entities      []EventEntity `json:"entities,omitempty"`
	SchemaVersion int           `json:"schemaVersion,omitempty"`
}

// SyncEntity is the replayable state of an entity write.
type SyncEntity struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	AuthKey       string `json:"authKey"`
	Version       int    `json:"version"`
	SchemaVersion int    `json:"schemaVersion"`
	Fields        Object `json:"fields"`
}

// SyncPayload carries everything needed to replay an event on another
// repository instance.
type SyncPayload struct {
	Entity        *SyncEntity              `json:"entity,omitempty"`
	Publish       bool                     `json:"publish,omitempty"`
	Entities      []EntityVersionReference `json:"entities,omitempty"`
	SchemaVersion int                      `json:"schemaVersion,omitempty"`
	Schema        json.RawMessage          `json:"schemaSpecification,omitempty"`
}

// SyncEvent is a replicated, ordered record of a committed mutation.
type SyncEvent struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	CreatedBy string      `json:"createdBy"`
	CreatedAt time.Time   `json:"createdAt"`
	Payload   SyncPayload `json:"payload"`
}

// AdvisoryLock is a named, leased cooperative mutex.
type AdvisoryLock struct {
	Name          string        `json:"name"`
	Handle        int32         `json:"handle"`
	LeaseDuration time.Duration `json:"leaseDuration"`
	AcquiredAt    time.Time     `json:"acquiredAt"`
	RenewedAt     time.Time     `json:"renewedAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}
