package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// ApplySyncEvent applies an event read from another repository's sync feed.
//
// Replay is idempotent: an event whose id is already in the log is skipped
// with effect none. Events must be applied in feed order. An entity event
// written against a different schema version, or whose version does not
// directly follow the stored one, is a Conflict; the replica has missed an
// event. The applied event is logged with the source event's id, author and
// time, so the replica's feed matches the source's.
func (r *Repository) ApplySyncEvent(ctx context.Context, ev ir.SyncEvent) (ir.Effect, error) {
	started := time.Now()
	if !ir.ValidEventTypes[ev.Type] {
		return "", r.observe(ctx, "applySyncEvent", started, "",
			ir.NewBadRequest("unknown event type %q", ev.Type))
	}
	if ev.ID == "" {
		return "", r.observe(ctx, "applySyncEvent", started, "",
			ir.NewBadRequest("sync event has no id"))
	}

	var (
		effect ir.Effect
		stored *schema.Schema
	)
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		seen, err := r.events.Exists(ctx, tx, ev.ID)
		if err != nil {
			return err
		}
		if seen {
			effect = ir.EffectNone
			return nil
		}
		m, err := r.begin(ctx, tx, auth.Session{Subject: ev.CreatedBy}, &ev)
		if err != nil {
			return err
		}
		effect, stored, err = r.replay(ctx, m, ev)
		return err
	})
	if err := r.observe(ctx, "applySyncEvent", started, effect, err); err != nil {
		return "", err
	}
	if stored != nil {
		r.schemas.Add(stored.Version(), stored)
		r.metrics.SchemaVersion(stored.Version())
	}
	r.logger.InfoContext(ctx, "sync event applied",
		"op", "applySyncEvent",
		"event_id", ev.ID,
		"type", ev.Type,
		"effect", effect,
	)
	return effect, nil
}

func (r *Repository) replay(ctx context.Context, m *mutation, ev ir.SyncEvent) (ir.Effect, *schema.Schema, error) {
	p := ev.Payload
	switch ev.Type {
	case ir.EventUpdateSchema:
		var spec schema.Specification
		if err := json.Unmarshal(p.Schema, &spec); err != nil {
			return "", nil, ir.NewBadRequest("sync event %s has a malformed schema: %v", ev.ID, err)
		}
		s, err := r.storeSchema(ctx, m, spec)
		if err != nil {
			return "", nil, err
		}
		return ir.EffectUpdated, s, nil

	case ir.EventCreateEntity, ir.EventUpdateEntity:
		e := p.Entity
		if e == nil {
			return "", nil, ir.NewBadRequest("sync event %s has no entity", ev.ID)
		}
		if e.SchemaVersion != m.schema.Version() {
			return "", nil, ir.NewConflict("sync event %s needs schema version %d, repository is at %d",
				ev.ID, e.SchemaVersion, m.schema.Version()).
				With("id", e.ID)
		}
		opts := WriteOptions{Publish: p.Publish}
		if ev.Type == ir.EventCreateEntity {
			if e.Version != 1 {
				return "", nil, ir.NewBadRequest("sync event %s creates entity %s at version %d", ev.ID, e.ID, e.Version)
			}
			_, err := r.createEntity(ctx, m, EntityCreate{
				ID:      e.ID,
				Type:    e.Type,
				Name:    e.Name,
				AuthKey: e.AuthKey,
				Fields:  e.Fields,
			}, opts)
			return ir.EffectCreated, nil, err
		}
		st, err := r.loadState(ctx, m.tx, e.ID)
		if err != nil {
			return "", nil, err
		}
		if e.Version != st.LatestVersion+1 {
			return "", nil, ir.NewConflict("sync event %s writes version %d of entity %s, which is at version %d",
				ev.ID, e.Version, e.ID, st.LatestVersion).
				With("id", e.ID)
		}
		_, effect, err := r.updateEntity(ctx, m, EntityUpdate{
			ID:      e.ID,
			Type:    e.Type,
			Name:    e.Name,
			AuthKey: e.AuthKey,
			Version: st.LatestVersion,
			Fields:  e.Fields,
		}, opts, true)
		return effect, nil, err

	case ir.EventPublishEntities:
		_, err := r.publishEntities(ctx, m, p.Entities)
		return ir.EffectPublished, nil, err

	case ir.EventUnpublishEntities:
		refs := make([]ir.EntityReference, len(p.Entities))
		for i, ref := range p.Entities {
			refs[i] = ir.EntityReference{ID: ref.ID}
		}
		_, err := r.unpublishEntities(ctx, m, refs)
		return ir.EffectUnpublished, nil, err

	case ir.EventArchiveEntity, ir.EventUnarchiveEntity:
		if len(p.Entities) != 1 {
			return "", nil, ir.NewBadRequest("sync event %s must name exactly one entity", ev.ID)
		}
		res, err := r.setArchived(ctx, m, ir.EntityReference{ID: p.Entities[0].ID}, ev.Type == ir.EventArchiveEntity)
		return res.Effect, nil, err
	}
	return "", nil, ir.NewBadRequest("unknown event type %q", ev.Type)
}
