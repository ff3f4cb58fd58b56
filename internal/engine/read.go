package engine

import (
	"context"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// GetEntity returns one version of an entity, the latest when ref.Version
// is 0. Stored documents are migrated to the current schema on read.
func (r *Repository) GetEntity(ctx context.Context, session auth.Session, ref ir.EntityVersionReference) (ir.Entity, error) {
	started := time.Now()
	var entity ir.Entity
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		cur, err := r.currentSchema(ctx, tx)
		if err != nil {
			return err
		}
		entity, err = r.getEntity(ctx, tx, cur, session, ref)
		return err
	})
	if err := r.observe(ctx, "getEntity", started, ir.EffectNone, err); err != nil {
		return ir.Entity{}, err
	}
	return entity, nil
}

// GetEntities looks up several entities in one snapshot. Each lookup
// carries its own entity or error; only storage failures fail the call.
func (r *Repository) GetEntities(ctx context.Context, session auth.Session, refs []ir.EntityVersionReference) ([]EntityLookup, error) {
	started := time.Now()
	results := make([]EntityLookup, len(refs))
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		cur, err := r.currentSchema(ctx, tx)
		if err != nil {
			return err
		}
		for i, ref := range refs {
			entity, err := r.getEntity(ctx, tx, cur, session, ref)
			if err != nil {
				e := ir.AsError(err)
				if e.Kind == ir.ErrGeneric {
					return e
				}
				results[i] = EntityLookup{Err: e}
				continue
			}
			results[i] = EntityLookup{Entity: &entity}
		}
		return nil
	})
	if err := r.observe(ctx, "getEntities", started, ir.EffectNone, err); err != nil {
		return nil, err
	}
	return results, nil
}

// GetPublishedEntity returns the published version of an entity with its
// non-public fields removed. An entity that is not published is NotFound.
func (r *Repository) GetPublishedEntity(ctx context.Context, session auth.Session, ref ir.EntityReference) (ir.PublishedEntity, error) {
	started := time.Now()
	var entity ir.PublishedEntity
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		cur, err := r.currentSchema(ctx, tx)
		if err != nil {
			return err
		}
		st, err := r.loadState(ctx, tx, ref.ID)
		if err != nil {
			return err
		}
		if err := r.authorize(ctx, session, st); err != nil {
			return err
		}
		if st.PublishedVersion == 0 {
			return ir.NewNotFound("entity %s is not published", st.ID).With("id", st.ID)
		}
		v, err := r.loadVersion(ctx, tx, st, st.PublishedVersion)
		if err != nil {
			return err
		}
		migrated, err := migrate(cur, v.SchemaVersion, v.Type, v.Fields)
		if err != nil {
			return err
		}
		public, err := codec.PublishedFields(cur, st.Type, migrated.Fields)
		if err != nil {
			return err
		}
		fields, _, err := codec.Decode(cur, st.Type, public)
		if err != nil {
			return err
		}
		entity = ir.PublishedEntity{
			ID:        st.ID,
			Type:      st.Type,
			Name:      v.Name,
			AuthKey:   st.AuthKey,
			Version:   v.Version,
			Valid:     st.ValidPublished,
			CreatedAt: st.CreatedAt,
			Fields:    fields,
		}
		return nil
	})
	if err := r.observe(ctx, "getPublishedEntity", started, ir.EffectNone, err); err != nil {
		return ir.PublishedEntity{}, err
	}
	return entity, nil
}

func (r *Repository) getEntity(ctx context.Context, q store.Queryer, cur *schema.Schema, session auth.Session, ref ir.EntityVersionReference) (ir.Entity, error) {
	if ref.Version < 0 {
		return ir.Entity{}, ir.NewBadRequest("entity version must not be negative, got %d", ref.Version)
	}
	st, err := r.loadState(ctx, q, ref.ID)
	if err != nil {
		return ir.Entity{}, err
	}
	if err := r.authorize(ctx, session, st); err != nil {
		return ir.Entity{}, err
	}
	return r.entityAt(ctx, q, cur, st, ref.Version)
}

// readEntity reads an entity without authorization, for results of writes
// the caller was already authorized for.
func (r *Repository) readEntity(ctx context.Context, q store.Queryer, cur *schema.Schema, id string, version int) (ir.Entity, error) {
	st, err := r.loadState(ctx, q, id)
	if err != nil {
		return ir.Entity{}, err
	}
	return r.entityAt(ctx, q, cur, st, version)
}

func (r *Repository) entityAt(ctx context.Context, q store.Queryer, cur *schema.Schema, st entityState, version int) (ir.Entity, error) {
	if version == 0 {
		version = st.LatestVersion
	}
	v, err := r.loadVersion(ctx, q, st, version)
	if err != nil {
		return ir.Entity{}, err
	}
	migrated, err := migrate(cur, v.SchemaVersion, v.Type, v.Fields)
	if err != nil {
		return ir.Entity{}, err
	}
	fields, _, err := codec.Decode(cur, st.Type, migrated.Fields)
	if err != nil {
		return ir.Entity{}, err
	}
	return entityOf(st, v, fields), nil
}
