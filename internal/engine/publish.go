package engine

import (
	"context"
	"strconv"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/lifecycle"
)

// PublishEntities publishes one version of each referenced entity, the
// latest when a reference has version 0.
//
// Publishing is all or nothing: every reference is attempted so the error
// lists every failure, and any failure rolls the whole batch back. A
// version with validation issues of any severity cannot be published. The
// batch is recorded as one publishEntities event naming the entities that
// changed.
func (r *Repository) PublishEntities(ctx context.Context, session auth.Session, refs []ir.EntityVersionReference) ([]StatusResult, error) {
	if len(refs) == 0 {
		return nil, ir.NewBadRequest("no entities to publish")
	}
	var results []StatusResult
	_, err := r.mutate(ctx, "publishEntities", session, func(m *mutation) (ir.Effect, error) {
		var err error
		results, err = r.publishEntities(ctx, m, refs)
		return ir.EffectPublished, err
	})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Effect == ir.EffectPublished {
			r.logger.InfoContext(ctx, "entity published",
				"op", "publishEntities",
				"entity_id", res.ID,
				"version", res.Version,
			)
		}
	}
	return results, nil
}

func (r *Repository) publishEntities(ctx context.Context, m *mutation, refs []ir.EntityVersionReference) ([]StatusResult, error) {
	var (
		results  = make([]StatusResult, 0, len(refs))
		failures = make(map[string]error)
		order    []string
		affected []eventlog.Affected
		changed  []ir.EntityVersionReference
	)
	for _, ref := range refs {
		res, rowID, err := r.publishRef(ctx, m, ref)
		if err != nil {
			if ir.KindOf(err) == ir.ErrGeneric {
				return nil, err
			}
			if _, seen := failures[ref.ID]; !seen {
				order = append(order, ref.ID)
			}
			failures[ref.ID] = err
			continue
		}
		results = append(results, res)
		if res.Effect == ir.EffectPublished {
			affected = append(affected, eventlog.Affected{RowID: rowID, Version: res.Version})
			changed = append(changed, ir.EntityVersionReference{ID: res.ID, Version: res.Version})
		}
	}
	if err := aggregate("publish", len(refs), failures, order); err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return results, nil
	}
	err := r.appendEvent(ctx, m, eventlog.Event{
		Type:     ir.EventPublishEntities,
		Entities: affected,
		Payload:  ir.SyncPayload{Entities: changed},
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) publishRef(ctx context.Context, m *mutation, ref ir.EntityVersionReference) (StatusResult, int64, error) {
	st, err := r.loadState(ctx, m.tx, ref.ID)
	if err != nil {
		return StatusResult{}, 0, err
	}
	if m.replica == nil {
		if err := r.authorize(ctx, m.session, st); err != nil {
			return StatusResult{}, 0, err
		}
	}
	version := ref.Version
	if version == 0 {
		version = st.LatestVersion
	}
	published, err := r.publishOne(ctx, m, st, version)
	if err != nil {
		return StatusResult{}, 0, err
	}
	effect := ir.EffectNone
	if published {
		effect = ir.EffectPublished
	}
	after, err := r.loadStateByRow(ctx, m.tx, st.RowID)
	if err != nil {
		return StatusResult{}, 0, err
	}
	return StatusResult{ID: st.ID, Version: version, Status: after.Status, Effect: effect}, st.RowID, nil
}

// publishOne publishes one version of an entity. It reports false when the
// version was already published.
func (r *Repository) publishOne(ctx context.Context, m *mutation, st entityState, version int) (bool, error) {
	if version < 1 || version > st.LatestVersion {
		return false, ir.NewNotFound("entity %s has no version %d", st.ID, version).
			With("id", st.ID).
			With("version", strconv.Itoa(version))
	}
	t, ok := m.schema.EntityType(st.Type)
	if !ok {
		return false, ir.NewGeneric(nil, "entity %s has unknown type %q", st.ID, st.Type)
	}
	if t.AdminOnly {
		return false, ir.NewBadRequest("entities of type %q are admin only and cannot be published", st.Type).
			With("id", st.ID).
			With("entityType", st.Type)
	}

	ev := lifecycle.EventPublishOlder
	if version == st.LatestVersion {
		ev = lifecycle.EventPublishLatest
	}
	status, _, err := r.machine.Transition(ctx, st.Status, ev, st.NeverPublished)
	if err != nil {
		return false, err
	}
	if st.PublishedVersion == version {
		return false, nil
	}

	v, err := r.loadVersion(ctx, m.tx, st, version)
	if err != nil {
		return false, err
	}
	migrated, err := migrate(m.schema, v.SchemaVersion, v.Type, v.Fields)
	if err != nil {
		return false, err
	}
	issues, err := r.validate(ctx, m.tx, m.schema, st.Type, migrated.Fields, true)
	if err != nil {
		return false, err
	}
	if len(issues) > 0 {
		return false, ir.NewValidationFailed("entity "+st.ID+" cannot be published", issues).
			With("id", st.ID).
			With("version", strconv.Itoa(version))
	}

	public, err := codec.PublishedFields(m.schema, st.Type, migrated.Fields)
	if err != nil {
		return false, err
	}
	collected, err := codec.Collect(m.schema, st.Type, public)
	if err != nil {
		return false, err
	}

	res, err := m.tx.ExecContext(ctx, `
		UPDATE entities
		SET published_version = ?, never_published = 0, status = ?, valid_published = 1,
			updated_at = ?, dirty = dirty & ?
		WHERE id = ? AND latest_version = ?
	`, version, string(status), m.now.UnixMicro(),
		ir.DirtyValidateLatest|ir.DirtyIndexLatest,
		st.RowID, st.LatestVersion)
	if err != nil {
		return false, storageError(err, "publish entity %s", st.ID)
	}
	if err := expectOneRow(res, st); err != nil {
		return false, err
	}
	if err := r.writeSideTables(ctx, m.tx, st, scopePublished, v.Name, collected); err != nil {
		return false, err
	}
	return true, nil
}

// UnpublishEntities withdraws the published version of each referenced
// entity. Like publishing, the batch is all or nothing.
func (r *Repository) UnpublishEntities(ctx context.Context, session auth.Session, refs []ir.EntityReference) ([]StatusResult, error) {
	if len(refs) == 0 {
		return nil, ir.NewBadRequest("no entities to unpublish")
	}
	var results []StatusResult
	_, err := r.mutate(ctx, "unpublishEntities", session, func(m *mutation) (ir.Effect, error) {
		var err error
		results, err = r.unpublishEntities(ctx, m, refs)
		return ir.EffectUnpublished, err
	})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Effect == ir.EffectUnpublished {
			r.logger.InfoContext(ctx, "entity unpublished",
				"op", "unpublishEntities",
				"entity_id", res.ID,
			)
		}
	}
	return results, nil
}

func (r *Repository) unpublishEntities(ctx context.Context, m *mutation, refs []ir.EntityReference) ([]StatusResult, error) {
	var (
		results  = make([]StatusResult, 0, len(refs))
		failures = make(map[string]error)
		order    []string
		affected []eventlog.Affected
		changed  []ir.EntityVersionReference
	)
	for _, ref := range refs {
		res, st, err := r.unpublishRef(ctx, m, ref)
		if err != nil {
			if ir.KindOf(err) == ir.ErrGeneric {
				return nil, err
			}
			if _, seen := failures[ref.ID]; !seen {
				order = append(order, ref.ID)
			}
			failures[ref.ID] = err
			continue
		}
		results = append(results, res)
		if res.Effect == ir.EffectUnpublished {
			affected = append(affected, eventlog.Affected{RowID: st.RowID, Version: st.LatestVersion})
			changed = append(changed, ir.EntityVersionReference{ID: st.ID, Version: st.LatestVersion})
		}
	}
	if err := aggregate("unpublish", len(refs), failures, order); err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return results, nil
	}
	err := r.appendEvent(ctx, m, eventlog.Event{
		Type:     ir.EventUnpublishEntities,
		Entities: affected,
		Payload:  ir.SyncPayload{Entities: changed},
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) unpublishRef(ctx context.Context, m *mutation, ref ir.EntityReference) (StatusResult, entityState, error) {
	st, err := r.loadState(ctx, m.tx, ref.ID)
	if err != nil {
		return StatusResult{}, entityState{}, err
	}
	if m.replica == nil {
		if err := r.authorize(ctx, m.session, st); err != nil {
			return StatusResult{}, entityState{}, err
		}
	}
	status, _, err := r.machine.Transition(ctx, st.Status, lifecycle.EventUnpublish, st.NeverPublished)
	if err != nil {
		return StatusResult{}, entityState{}, err
	}
	if st.PublishedVersion == 0 {
		return StatusResult{ID: st.ID, Version: st.LatestVersion, Status: st.Status, Effect: ir.EffectNone}, st, nil
	}

	res, err := m.tx.ExecContext(ctx, `
		UPDATE entities
		SET published_version = NULL, status = ?, valid_published = 1, updated_at = ?,
			dirty = dirty & ?
		WHERE id = ? AND latest_version = ?
	`, string(status), m.now.UnixMicro(),
		ir.DirtyValidateLatest|ir.DirtyIndexLatest,
		st.RowID, st.LatestVersion)
	if err != nil {
		return StatusResult{}, entityState{}, storageError(err, "unpublish entity %s", st.ID)
	}
	if err := expectOneRow(res, st); err != nil {
		return StatusResult{}, entityState{}, err
	}
	if err := r.clearSideTables(ctx, m.tx, st.RowID, scopePublished); err != nil {
		return StatusResult{}, entityState{}, err
	}
	return StatusResult{ID: st.ID, Version: st.LatestVersion, Status: status, Effect: ir.EffectUnpublished}, st, nil
}

// ArchiveEntity hides an entity that has nothing published. Archiving a
// published or modified entity is a BadRequest; unpublish it first.
func (r *Repository) ArchiveEntity(ctx context.Context, session auth.Session, ref ir.EntityReference) (StatusResult, error) {
	return r.toggleArchived(ctx, "archiveEntity", session, ref, true)
}

// UnarchiveEntity restores an archived entity. It comes back as draft if it
// was never published and as modified otherwise.
func (r *Repository) UnarchiveEntity(ctx context.Context, session auth.Session, ref ir.EntityReference) (StatusResult, error) {
	return r.toggleArchived(ctx, "unarchiveEntity", session, ref, false)
}

func (r *Repository) toggleArchived(ctx context.Context, op string, session auth.Session, ref ir.EntityReference, archive bool) (StatusResult, error) {
	var result StatusResult
	_, err := r.mutate(ctx, op, session, func(m *mutation) (ir.Effect, error) {
		var err error
		result, err = r.setArchived(ctx, m, ref, archive)
		return result.Effect, err
	})
	if err != nil {
		return StatusResult{}, err
	}
	if result.Effect != ir.EffectNone {
		r.logger.InfoContext(ctx, "entity archive state changed",
			"op", op,
			"entity_id", result.ID,
			"status", result.Status,
		)
	}
	return result, nil
}

func (r *Repository) setArchived(ctx context.Context, m *mutation, ref ir.EntityReference, archive bool) (StatusResult, error) {
	st, err := r.loadState(ctx, m.tx, ref.ID)
	if err != nil {
		return StatusResult{}, err
	}
	if m.replica == nil {
		if err := r.authorize(ctx, m.session, st); err != nil {
			return StatusResult{}, err
		}
	}
	ev, effect, eventType := lifecycle.EventArchive, ir.EffectArchived, ir.EventArchiveEntity
	if !archive {
		ev, effect, eventType = lifecycle.EventUnarchive, ir.EffectUnarchived, ir.EventUnarchiveEntity
	}
	status, changed, err := r.machine.Transition(ctx, st.Status, ev, st.NeverPublished)
	if err != nil {
		return StatusResult{}, err
	}
	if !changed {
		return StatusResult{ID: st.ID, Version: st.LatestVersion, Status: st.Status, Effect: ir.EffectNone}, nil
	}

	res, err := m.tx.ExecContext(ctx, `
		UPDATE entities SET archived = ?, status = ?, updated_at = ?
		WHERE id = ? AND latest_version = ?
	`, boolInt(archive), string(status), m.now.UnixMicro(), st.RowID, st.LatestVersion)
	if err != nil {
		return StatusResult{}, storageError(err, "%s entity %s", ev, st.ID)
	}
	if err := expectOneRow(res, st); err != nil {
		return StatusResult{}, err
	}
	err = r.appendEvent(ctx, m, eventlog.Event{
		Type:     eventType,
		Entities: []eventlog.Affected{{RowID: st.RowID, Version: st.LatestVersion}},
		Payload: ir.SyncPayload{
			Entities: []ir.EntityVersionReference{{ID: st.ID, Version: st.LatestVersion}},
		},
	})
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{ID: st.ID, Version: st.LatestVersion, Status: status, Effect: effect}, nil
}
