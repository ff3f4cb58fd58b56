package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/lifecycle"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// maxNameAttempts bounds the number of suffixed names tried when an entity
// name is taken.
const maxNameAttempts = 5

// CreateEntity stores a new entity at version 1 with status draft, and
// publishes it in the same transaction when opts.Publish is set.
//
// Malformed field values are a BadRequest. Values that are well-formed
// but break a rule (a pattern, an allowlist, a missing reference) are
// stored and the entity is marked invalid. A taken name is made unique
// with a "#nnnnnn" suffix.
func (r *Repository) CreateEntity(ctx context.Context, session auth.Session, in EntityCreate, opts WriteOptions) (EntityResult, error) {
	var entity ir.Entity
	effect, err := r.mutate(ctx, "createEntity", session, func(m *mutation) (ir.Effect, error) {
		var err error
		entity, err = r.createEntity(ctx, m, in, opts)
		return ir.EffectCreated, err
	})
	if err != nil {
		return EntityResult{}, err
	}
	r.logWrite(ctx, "createEntity", entity)
	return EntityResult{Effect: effect, Entity: entity}, nil
}

// UpdateEntity stores a new version of an entity.
//
// When in.Version is set it must equal the latest version, otherwise the
// update is a Conflict. An update that changes neither fields nor name
// stores nothing and has effect none.
func (r *Repository) UpdateEntity(ctx context.Context, session auth.Session, in EntityUpdate, opts WriteOptions) (EntityResult, error) {
	var entity ir.Entity
	effect, err := r.mutate(ctx, "updateEntity", session, func(m *mutation) (ir.Effect, error) {
		var (
			effect ir.Effect
			err    error
		)
		entity, effect, err = r.updateEntity(ctx, m, in, opts, false)
		return effect, err
	})
	if err != nil {
		return EntityResult{}, err
	}
	if effect != ir.EffectNone {
		r.logWrite(ctx, "updateEntity", entity)
	}
	return EntityResult{Effect: effect, Entity: entity}, nil
}

// UpsertEntity updates the entity with in.ID when it exists and creates it
// otherwise. in.ID is required.
func (r *Repository) UpsertEntity(ctx context.Context, session auth.Session, in EntityCreate, opts WriteOptions) (EntityResult, error) {
	if in.ID == "" {
		return EntityResult{}, ir.NewBadRequest("upsert requires an entity id")
	}
	var entity ir.Entity
	effect, err := r.mutate(ctx, "upsertEntity", session, func(m *mutation) (ir.Effect, error) {
		exists, err := entityExists(ctx, m.tx, in.ID)
		if err != nil {
			return "", err
		}
		if !exists {
			entity, err = r.createEntity(ctx, m, in, opts)
			return ir.EffectCreated, err
		}
		var effect ir.Effect
		entity, effect, err = r.updateEntity(ctx, m, EntityUpdate{
			ID:      in.ID,
			Type:    in.Type,
			Name:    in.Name,
			AuthKey: in.AuthKey,
			Fields:  in.Fields,
		}, opts, false)
		return effect, err
	})
	if err != nil {
		return EntityResult{}, err
	}
	if effect != ir.EffectNone {
		r.logWrite(ctx, "upsertEntity", entity)
	}
	return EntityResult{Effect: effect, Entity: entity}, nil
}

func (r *Repository) logWrite(ctx context.Context, op string, e ir.Entity) {
	r.logger.InfoContext(ctx, "entity written",
		"op", op,
		"entity_id", e.ID,
		"version", e.Version,
		"status", e.Status,
	)
}

func entityExists(ctx context.Context, q store.Queryer, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE uuid = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError(err, "look up entity %s", id)
	}
	return true, nil
}

// prepared is a caller document checked against the current schema.
type prepared struct {
	doc       ir.Object
	issues    []ir.ValidationIssue
	collected codec.Collected
}

// prepare decodes, normalizes and validates a document. Malformed values
// fail; rule violations are returned as issues.
func (r *Repository) prepare(ctx context.Context, m *mutation, entityType string, doc ir.Object) (prepared, error) {
	if doc == nil {
		doc = ir.Object{}
	}
	if _, err := codec.DecodeStrict(m.schema, entityType, doc); err != nil {
		return prepared{}, err
	}
	normalized, err := codec.Normalize(m.schema, entityType, doc)
	if err != nil {
		return prepared{}, err
	}
	issues, err := r.validate(ctx, m.tx, m.schema, entityType, normalized, false)
	if err != nil {
		return prepared{}, err
	}
	collected, err := codec.Collect(m.schema, entityType, normalized)
	if err != nil {
		return prepared{}, err
	}
	return prepared{doc: normalized, issues: issues, collected: collected}, nil
}

// entityName picks the name of a version: the nameField value when the
// type has one and it is set, else the given name, else fallback.
func entityName(t *schema.EntityTypeSpec, doc ir.Object, given, fallback string) (string, error) {
	name := ""
	if t.NameField != "" {
		if s, ok := doc[t.NameField].(ir.String); ok {
			name = string(s)
		}
	}
	if strings.TrimSpace(name) == "" {
		name = given
	}
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ir.NewBadRequest("entity name is required").With("entityType", t.Name)
	}
	return name, nil
}

// claimName returns a name no other entity holds: base itself, or base
// with a random suffix. self is the row id of the entity being named, 0 for
// a new entity. Replicated writes keep their name exactly.
func (r *Repository) claimName(ctx context.Context, m *mutation, base string, self int64) (string, error) {
	candidate := base
	for attempt := 1; ; attempt++ {
		var owner int64
		err := m.tx.QueryRowContext(ctx, `SELECT id FROM entities WHERE name = ?`, candidate).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return candidate, nil
		case err != nil:
			return "", storageError(err, "look up entity name %q", candidate)
		case owner == self:
			return candidate, nil
		}
		if m.replica != nil || attempt == maxNameAttempts {
			return "", ir.NewConflict("entity name %q is already taken", candidate).With("name", candidate)
		}
		r.logger.WarnContext(ctx, "entity name taken, retrying with suffix",
			"name", candidate,
			"attempt", attempt,
		)
		candidate = fmt.Sprintf("%s#%06d", base, r.randIntN(1_000_000))
	}
}

// sameName reports whether name is base, or base with a collision suffix.
func sameName(name, base string) bool {
	if name == base {
		return true
	}
	suffix, ok := strings.CutPrefix(name, base+"#")
	if !ok || len(suffix) != 6 {
		return false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (r *Repository) createEntity(ctx context.Context, m *mutation, in EntityCreate, opts WriteOptions) (ir.Entity, error) {
	t, ok := m.schema.EntityType(in.Type)
	if !ok {
		return ir.Entity{}, ir.NewBadRequest("unknown entity type %q", in.Type).With("entityType", in.Type)
	}
	p, err := r.prepare(ctx, m, in.Type, in.Fields)
	if err != nil {
		return ir.Entity{}, err
	}

	var name string
	if m.replica != nil {
		name = in.Name
	} else if name, err = entityName(t, p.doc, in.Name, ""); err != nil {
		return ir.Entity{}, err
	}

	authKey := in.AuthKey
	if authKey == "" {
		authKey = auth.KeyNone
	}
	if t.AuthKeyPattern != "" {
		re, err := m.schema.Pattern(t.AuthKeyPattern)
		if err != nil {
			return ir.Entity{}, err
		}
		if !re.MatchString(authKey) {
			return ir.Entity{}, ir.NewBadRequest("authorization key %q does not match pattern %q", authKey, t.AuthKeyPattern).
				With("authKey", authKey)
		}
	}
	resolved, err := auth.Resolve(ctx, r.auth, r.authSession(m), authKey)
	if err != nil {
		return ir.Entity{}, err
	}

	id := in.ID
	if id == "" {
		id = r.entityIDs.Generate()
	}
	exists, err := entityExists(ctx, m.tx, id)
	if err != nil {
		return ir.Entity{}, err
	}
	if exists {
		return ir.Entity{}, ir.NewConflict("entity %s already exists", id).With("id", id)
	}
	if name, err = r.claimName(ctx, m, name, 0); err != nil {
		return ir.Entity{}, err
	}

	valid := codec.ValidLatest(p.issues)
	st := entityState{
		ID:              id,
		Type:            in.Type,
		Name:            name,
		AuthKey:         authKey,
		ResolvedAuthKey: resolved,
		Status:          ir.StatusDraft,
		LatestVersion:   1,
		NeverPublished:  true,
		ValidLatest:     valid,
		ValidPublished:  true,
		CreatedAt:       m.now,
		UpdatedAt:       m.now,
	}
	err = m.tx.QueryRowContext(ctx, `
		INSERT INTO entities (uuid, type, name, auth_key, resolved_auth_key, status,
			latest_version, valid_latest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		RETURNING id
	`, id, in.Type, name, authKey, resolved, string(ir.StatusDraft), boolInt(valid), m.now.UnixMicro(), m.now.UnixMicro()).Scan(&st.RowID)
	if err != nil {
		switch {
		case r.backend.IsUniqueViolation(err, store.ConstraintEntityUUID):
			return ir.Entity{}, ir.NewConflict("entity %s already exists", id).With("id", id)
		case r.backend.IsUniqueViolation(err, store.ConstraintEntityName):
			return ir.Entity{}, ir.NewConflict("entity name %q is already taken", name).With("name", name)
		}
		return ir.Entity{}, storageError(err, "insert entity %s", id)
	}

	if err := r.insertVersion(ctx, m, st, 1, name, p.doc); err != nil {
		return ir.Entity{}, err
	}
	if err := r.writeSideTables(ctx, m.tx, st, scopeLatest, name, p.collected); err != nil {
		return ir.Entity{}, err
	}

	affected := []eventlog.Affected{{RowID: st.RowID, Version: 1}}
	if opts.Publish {
		if _, err := r.publishOne(ctx, m, st, 1); err != nil {
			return ir.Entity{}, err
		}
	}
	err = r.appendEvent(ctx, m, eventlog.Event{
		Type:     ir.EventCreateEntity,
		Entities: affected,
		Payload: ir.SyncPayload{
			Entity:  syncEntity(st, 1, name, m.schema.Version(), p.doc),
			Publish: opts.Publish,
		},
	})
	if err != nil {
		return ir.Entity{}, err
	}
	return r.readEntity(ctx, m.tx, m.schema, st.ID, 0)
}

func (r *Repository) updateEntity(ctx context.Context, m *mutation, in EntityUpdate, opts WriteOptions, replace bool) (ir.Entity, ir.Effect, error) {
	st, err := r.loadState(ctx, m.tx, in.ID)
	if err != nil {
		return ir.Entity{}, "", err
	}
	if m.replica == nil {
		if err := r.authorize(ctx, m.session, st); err != nil {
			return ir.Entity{}, "", err
		}
	}
	if in.Type != "" && in.Type != st.Type {
		return ir.Entity{}, "", ir.NewBadRequest("entity %s has type %q, not %q", st.ID, st.Type, in.Type).With("id", st.ID)
	}
	if in.AuthKey != "" && in.AuthKey != st.AuthKey {
		return ir.Entity{}, "", ir.NewBadRequest("the authorization key of entity %s cannot change", st.ID).With("id", st.ID)
	}
	if in.Version != 0 && in.Version != st.LatestVersion {
		return ir.Entity{}, "", ir.NewConflict("entity %s is at version %d, expected %d", st.ID, st.LatestVersion, in.Version).
			With("id", st.ID).
			With("version", fmt.Sprint(st.LatestVersion))
	}
	t, ok := m.schema.EntityType(st.Type)
	if !ok {
		return ir.Entity{}, "", ir.NewGeneric(nil, "entity %s has unknown type %q", st.ID, st.Type)
	}

	latest, err := r.loadVersion(ctx, m.tx, st, st.LatestVersion)
	if err != nil {
		return ir.Entity{}, "", err
	}
	migrated, err := migrate(m.schema, latest.SchemaVersion, latest.Type, latest.Fields)
	if err != nil {
		return ir.Entity{}, "", err
	}

	doc := in.Fields
	if !replace {
		doc = migrated.Fields.Clone()
		for k, v := range in.Fields {
			if ir.IsNull(v) {
				delete(doc, k)
			} else {
				doc[k] = v
			}
		}
	}
	p, err := r.prepare(ctx, m, st.Type, doc)
	if err != nil {
		return ir.Entity{}, "", err
	}

	name := in.Name
	if m.replica == nil {
		base, err := entityName(t, p.doc, in.Name, st.Name)
		if err != nil {
			return ir.Entity{}, "", err
		}
		name = base
		if sameName(st.Name, base) {
			name = st.Name
		}
	}

	if name == st.Name && ir.Equal(p.doc, migrated.Fields) && latest.SchemaVersion == m.schema.Version() {
		effect := ir.EffectNone
		if opts.Publish && st.PublishedVersion != st.LatestVersion {
			ref := ir.EntityVersionReference{ID: st.ID, Version: st.LatestVersion}
			if _, err := r.publishEntities(ctx, m, []ir.EntityVersionReference{ref}); err != nil {
				return ir.Entity{}, "", err
			}
			effect = ir.EffectPublished
		}
		e, err := r.readEntity(ctx, m.tx, m.schema, st.ID, 0)
		return e, effect, err
	}

	if name, err = r.claimName(ctx, m, name, st.RowID); err != nil {
		return ir.Entity{}, "", err
	}
	status, _, err := r.machine.Transition(ctx, st.Status, lifecycle.EventUpdate, st.NeverPublished)
	if err != nil {
		return ir.Entity{}, "", err
	}

	version := st.LatestVersion + 1
	valid := codec.ValidLatest(p.issues)
	res, err := m.tx.ExecContext(ctx, `
		UPDATE entities
		SET latest_version = ?, name = ?, status = ?, valid_latest = ?, updated_at = ?,
			dirty = dirty & ?
		WHERE id = ? AND latest_version = ?
	`, version, name, string(status), boolInt(valid), m.now.UnixMicro(),
		ir.DirtyValidatePublished|ir.DirtyIndexPublished,
		st.RowID, st.LatestVersion)
	if err != nil {
		if r.backend.IsUniqueViolation(err, store.ConstraintEntityName) {
			return ir.Entity{}, "", ir.NewConflict("entity name %q is already taken", name).With("name", name)
		}
		return ir.Entity{}, "", storageError(err, "update entity %s", st.ID)
	}
	if err := expectOneRow(res, st); err != nil {
		return ir.Entity{}, "", err
	}
	st.LatestVersion, st.Name, st.Status, st.ValidLatest = version, name, status, valid

	if err := r.insertVersion(ctx, m, st, version, name, p.doc); err != nil {
		return ir.Entity{}, "", err
	}
	if err := r.writeSideTables(ctx, m.tx, st, scopeLatest, name, p.collected); err != nil {
		return ir.Entity{}, "", err
	}
	if opts.Publish {
		if _, err := r.publishOne(ctx, m, st, version); err != nil {
			return ir.Entity{}, "", err
		}
	}
	err = r.appendEvent(ctx, m, eventlog.Event{
		Type:     ir.EventUpdateEntity,
		Entities: []eventlog.Affected{{RowID: st.RowID, Version: version}},
		Payload: ir.SyncPayload{
			Entity:  syncEntity(st, version, name, m.schema.Version(), p.doc),
			Publish: opts.Publish,
		},
	})
	if err != nil {
		return ir.Entity{}, "", err
	}
	e, err := r.readEntity(ctx, m.tx, m.schema, st.ID, 0)
	return e, ir.EffectUpdated, err
}

// authSession is the session authorization keys are resolved for. A
// replayed write resolves keys as its original author.
func (r *Repository) authSession(m *mutation) auth.Session {
	if m.replica != nil {
		return auth.Session{Subject: m.replica.CreatedBy}
	}
	return m.session
}

func (r *Repository) insertVersion(ctx context.Context, m *mutation, st entityState, version int, name string, doc ir.Object) error {
	fields, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = m.tx.ExecContext(ctx, `
		INSERT INTO entity_versions (entity_id, version, type, name, schema_version, fields, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, st.RowID, version, st.Type, name, m.schema.Version(), fields, m.actor(), m.now.UnixMicro())
	if err != nil {
		return storageError(err, "insert version %d of entity %s", version, st.ID)
	}
	return nil
}

// expectOneRow turns a compare-and-swap update that matched nothing into a
// Conflict: another writer moved the entity first.
func expectOneRow(res sql.Result, st entityState) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "update entity %s", st.ID)
	}
	if n != 1 {
		return ir.NewConflict("entity %s was modified concurrently", st.ID).
			With("id", st.ID).
			With("version", fmt.Sprint(st.LatestVersion))
	}
	return nil
}

func syncEntity(st entityState, version int, name string, schemaVersion int, doc ir.Object) *ir.SyncEntity {
	return &ir.SyncEntity{
		ID:            st.ID,
		Type:          st.Type,
		Name:          name,
		AuthKey:       st.AuthKey,
		Version:       version,
		SchemaVersion: schemaVersion,
		Fields:        doc,
	}
}
