package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// MarkEntitiesDirty sets dirty flags on every entity of the given types, so
// the background jobs revisit them. It returns the number of entities
// marked.
func (r *Repository) MarkEntitiesDirty(ctx context.Context, entityTypes []string, flags int) (int64, error) {
	started := time.Now()
	if flags&^(ir.DirtyValidate|ir.DirtyIndex) != 0 {
		return 0, r.observe(ctx, "markEntitiesDirty", started, "",
			ir.NewBadRequest("unknown dirty flags %d", flags))
	}
	var n int64
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		var err error
		n, err = markDirty(ctx, tx, entityTypes, flags)
		return err
	})
	if err := r.observe(ctx, "markEntitiesDirty", started, ir.EffectUpdated, err); err != nil {
		return 0, err
	}
	return n, nil
}

// RevalidateNextEntity revalidates the latest and published versions of
// the next entity marked for validation and clears its validation flags.
// It returns nil when no entity is marked.
func (r *Repository) RevalidateNextEntity(ctx context.Context) (*BackgroundResult, error) {
	return r.processNext(ctx, "revalidateNextEntity", ir.DirtyValidate, r.revalidate)
}

// ReindexNextEntity rebuilds the side data (references, locations, full
// text, unique values) of the next entity marked for indexing and clears
// its index flags. An entity whose unique values now collide with another
// entity is marked invalid. It returns nil when no entity is marked.
func (r *Repository) ReindexNextEntity(ctx context.Context) (*BackgroundResult, error) {
	return r.processNext(ctx, "reindexNextEntity", ir.DirtyIndex, r.reindex)
}

type backgroundJob func(ctx context.Context, tx store.Queryer, cur *schema.Schema, st entityState) (BackgroundResult, error)

func (r *Repository) processNext(ctx context.Context, op string, mask int, job backgroundJob) (*BackgroundResult, error) {
	started := time.Now()
	var result *BackgroundResult
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		cur, err := r.currentSchema(ctx, tx)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			SELECT `+stateColumns+` FROM entities
			WHERE (dirty & ?) <> 0
			ORDER BY id ASC
			LIMIT 1
		`, mask)
		st, err := scanState(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storageError(err, "find next dirty entity")
		}
		res, err := job(ctx, tx, cur, st)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE entities SET dirty = dirty & ? WHERE id = ?`,
			(ir.DirtyValidate|ir.DirtyIndex)&^mask, st.RowID)
		if err != nil {
			return storageError(err, "clear dirty flags of entity %s", st.ID)
		}
		result = &res
		return nil
	})
	effect := ir.EffectNone
	if result != nil {
		effect = ir.EffectUpdated
	}
	if err := r.observe(ctx, op, started, effect, err); err != nil {
		return nil, err
	}
	if result != nil {
		valid := result.ValidLatest && (result.ValidPublished == nil || *result.ValidPublished)
		r.metrics.Revalidated(op, valid)
		r.logger.DebugContext(ctx, "background job processed entity",
			"op", op,
			"entity_id", result.ID,
			"valid", valid,
		)
	}
	return result, nil
}

// versionIssues migrates one version and validates it. Malformed values
// are reported as save issues.
func (r *Repository) versionIssues(ctx context.Context, tx store.Queryer, cur *schema.Schema, st entityState, version int, published bool) ([]ir.ValidationIssue, error) {
	v, err := r.loadVersion(ctx, tx, st, version)
	if err != nil {
		return nil, err
	}
	migrated, err := migrate(cur, v.SchemaVersion, v.Type, v.Fields)
	if err != nil {
		return nil, err
	}
	return r.validate(ctx, tx, cur, st.Type, migrated.Fields, published)
}

func (r *Repository) revalidate(ctx context.Context, tx store.Queryer, cur *schema.Schema, st entityState) (BackgroundResult, error) {
	res := BackgroundResult{ID: st.ID, Type: st.Type}
	issues, err := r.versionIssues(ctx, tx, cur, st, st.LatestVersion, false)
	if err != nil {
		return res, err
	}
	res.ValidLatest = codec.ValidLatest(issues)
	validPublished := true
	if st.PublishedVersion != 0 {
		issues, err := r.versionIssues(ctx, tx, cur, st, st.PublishedVersion, true)
		if err != nil {
			return res, err
		}
		validPublished = codec.ValidPublished(issues)
		res.ValidPublished = &validPublished
	}
	_, err = tx.ExecContext(ctx, `UPDATE entities SET valid_latest = ?, valid_published = ? WHERE id = ?`,
		boolInt(res.ValidLatest), boolInt(validPublished), st.RowID)
	if err != nil {
		return res, storageError(err, "store validity of entity %s", st.ID)
	}
	return res, nil
}

func (r *Repository) reindex(ctx context.Context, tx store.Queryer, cur *schema.Schema, st entityState) (BackgroundResult, error) {
	res := BackgroundResult{ID: st.ID, Type: st.Type, ValidLatest: st.ValidLatest}
	if st.PublishedVersion != 0 {
		valid := st.ValidPublished
		res.ValidPublished = &valid
	}

	latest, err := r.loadVersion(ctx, tx, st, st.LatestVersion)
	if err != nil {
		return res, err
	}
	doc, err := migrate(cur, latest.SchemaVersion, latest.Type, latest.Fields)
	if err != nil {
		return res, err
	}
	collected, err := codec.Collect(cur, st.Type, doc.Fields)
	if err != nil {
		return res, err
	}
	if err := r.writeSideTables(ctx, tx, st, scopeLatest, latest.Name, collected); err != nil {
		res.ValidLatest = false
		if err := r.markInvalid(ctx, tx, st, scopeLatest, err); err != nil {
			return res, err
		}
	}

	if st.PublishedVersion == 0 {
		return res, nil
	}
	published, err := r.loadVersion(ctx, tx, st, st.PublishedVersion)
	if err != nil {
		return res, err
	}
	doc, err = migrate(cur, published.SchemaVersion, published.Type, published.Fields)
	if err != nil {
		return res, err
	}
	public, err := codec.PublishedFields(cur, st.Type, doc.Fields)
	if err != nil {
		return res, err
	}
	collected, err = codec.Collect(cur, st.Type, public)
	if err != nil {
		return res, err
	}
	if err := r.writeSideTables(ctx, tx, st, scopePublished, published.Name, collected); err != nil {
		invalid := false
		res.ValidPublished = &invalid
		if err := r.markInvalid(ctx, tx, st, scopePublished, err); err != nil {
			return res, err
		}
	}
	return res, nil
}

// markInvalid records a reindex failure. A unique value collision marks
// the scope invalid; anything else is returned.
func (r *Repository) markInvalid(ctx context.Context, tx store.Queryer, st entityState, s scope, cause error) error {
	if !ir.IsKind(cause, ir.ErrConflict) {
		return cause
	}
	r.logger.WarnContext(ctx, "unique value collision during reindex",
		"entity_id", st.ID,
		"scope", string(s),
		"error", cause,
	)
	if _, err := tx.ExecContext(ctx, `UPDATE entities SET valid_`+string(s)+` = 0 WHERE id = ?`, st.RowID); err != nil {
		return storageError(err, "mark entity %s invalid", st.ID)
	}
	return nil
}
