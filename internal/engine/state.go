package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/migration"
	"github.com/roach88/folio/internal/querysql"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// entityState is the stored head row of an entity.
type entityState struct {
	RowID            int64
	ID               string
	Type             string
	Name             string
	AuthKey          string
	ResolvedAuthKey  string
	Status           ir.EntityStatus
	LatestVersion    int
	PublishedVersion int
	NeverPublished   bool
	Archived         bool
	ValidLatest      bool
	ValidPublished   bool
	Dirty            int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const stateColumns = `id, uuid, type, name, auth_key, resolved_auth_key, status,
	latest_version, published_version, never_published, archived,
	valid_latest, valid_published, dirty, created_at, updated_at`

func scanState(s querysql.Scanner) (entityState, error) {
	var (
		st        entityState
		status    string
		published sql.NullInt64
		created   int64
		updated   int64
	)
	err := s.Scan(
		&st.RowID, &st.ID, &st.Type, &st.Name, &st.AuthKey, &st.ResolvedAuthKey, &status,
		&st.LatestVersion, &published, &st.NeverPublished, &st.Archived,
		&st.ValidLatest, &st.ValidPublished, &st.Dirty, &created, &updated,
	)
	if err != nil {
		return entityState{}, err
	}
	st.Status = ir.EntityStatus(status)
	st.PublishedVersion = int(published.Int64)
	st.CreatedAt = time.UnixMicro(created).UTC()
	st.UpdatedAt = time.UnixMicro(updated).UTC()
	return st, nil
}

// validateID checks the form of an entity id supplied by a caller.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ir.NewBadRequest("invalid entity id %q", id).With("id", id)
	}
	return nil
}

// loadState reads the head row of the entity with the given id.
func (r *Repository) loadState(ctx context.Context, q store.Queryer, id string) (entityState, error) {
	if err := validateID(id); err != nil {
		return entityState{}, err
	}
	row := q.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM entities WHERE uuid = ?`, id)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entityState{}, ir.NewNotFound("no entity with id %s", id).With("id", id)
	}
	if err != nil {
		return entityState{}, storageError(err, "load entity %s", id)
	}
	return st, nil
}

// loadStateByRow reads the head row of an entity by storage row id.
func (r *Repository) loadStateByRow(ctx context.Context, q store.Queryer, rowID int64) (entityState, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM entities WHERE id = ?`, rowID)
	st, err := scanState(row)
	if err != nil {
		return entityState{}, storageError(err, "load entity row %d", rowID)
	}
	return st, nil
}

// versionRecord is one stored version of an entity.
type versionRecord struct {
	Version int
	// Type is the entity type the version was written as.
	Type          string
	Name          string
	SchemaVersion int
	Fields        ir.Object
	CreatedBy     string
	CreatedAt     time.Time
}

// loadVersion reads one version of an entity. A missing version is
// NotFound.
func (r *Repository) loadVersion(ctx context.Context, q store.Queryer, st entityState, version int) (versionRecord, error) {
	var (
		v       = versionRecord{Version: version}
		fields  string
		created int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT type, name, schema_version, fields, created_by, created_at
		FROM entity_versions
		WHERE entity_id = ? AND version = ?
	`, st.RowID, version).Scan(&v.Type, &v.Name, &v.SchemaVersion, &fields, &v.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return versionRecord{}, ir.NewNotFound("entity %s has no version %d", st.ID, version).
			With("id", st.ID).
			With("version", strconv.Itoa(version))
	}
	if err != nil {
		return versionRecord{}, storageError(err, "load version %d of entity %s", version, st.ID)
	}
	doc, err := decodeDocument(fields)
	if err != nil {
		return versionRecord{}, ir.NewGeneric(err, "decode version %d of entity %s", version, st.ID)
	}
	v.Fields = doc
	v.CreatedAt = time.UnixMicro(created).UTC()
	return v, nil
}

// decodeDocument parses a stored canonical JSON field document.
func decodeDocument(data string) (ir.Object, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, err
	}
	doc, ok := v.(ir.Object)
	if !ok {
		return nil, errors.New("field document is not an object")
	}
	return doc, nil
}

// encodeDocument renders a field document for storage.
func encodeDocument(doc ir.Object) (string, error) {
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", ir.NewGeneric(err, "encode field document")
	}
	return string(data), nil
}

// migrate rewrites a stored document to the current schema.
func migrate(cur *schema.Schema, schemaVersion int, entityType string, doc ir.Object) (migration.Result, error) {
	return migration.Apply(schemaVersion, entityType, doc, cur.MigrationsAfter(schemaVersion))
}

// referenceResolver looks up referenced entities on q for validation. The
// returned check reports the first storage error the resolver hit.
func (r *Repository) referenceResolver(ctx context.Context, q store.Queryer) (codec.ReferenceResolver, func() error) {
	var firstErr error
	cache := make(map[string]string)
	resolve := func(id string) (string, bool) {
		if t, ok := cache[id]; ok {
			return t, t != ""
		}
		var entityType string
		err := q.QueryRowContext(ctx, `SELECT type FROM entities WHERE uuid = ?`, id).Scan(&entityType)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			if firstErr == nil {
				firstErr = storageError(err, "resolve reference %s", id)
			}
		}
		cache[id] = entityType
		return entityType, entityType != ""
	}
	return resolve, func() error { return firstErr }
}

// validate runs the codec validator with a reference resolver over q.
func (r *Repository) validate(ctx context.Context, q store.Queryer, cur *schema.Schema, entityType string, doc ir.Object, published bool) ([]ir.ValidationIssue, error) {
	resolve, check := r.referenceResolver(ctx, q)
	issues, err := codec.Validate(cur, entityType, doc, codec.ValidateOptions{Published: published, Resolve: resolve})
	if err != nil {
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}
	return issues, nil
}

// authorize checks that the session may access an entity: the entity's
// authorization key must resolve, for this session, to the stored key.
func (r *Repository) authorize(ctx context.Context, session auth.Session, st entityState) error {
	resolved, err := auth.Resolve(ctx, r.auth, session, st.AuthKey)
	if err != nil {
		return err
	}
	if resolved != st.ResolvedAuthKey {
		return ir.NewNotAuthorized("not authorized to access entity %s", st.ID).With("id", st.ID)
	}
	return nil
}

// entityOf assembles the admin view of one version.
func entityOf(st entityState, v versionRecord, fields ir.Fields) ir.Entity {
	e := ir.Entity{
		ID:              st.ID,
		Type:            st.Type,
		Name:            v.Name,
		AuthKey:         st.AuthKey,
		ResolvedAuthKey: st.ResolvedAuthKey,
		Status:          st.Status,
		Version:         v.Version,
		ValidLatest:     st.ValidLatest,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
		Fields:          fields,
	}
	if st.PublishedVersion != 0 {
		valid := st.ValidPublished
		e.ValidPublished = &valid
	}
	return e
}

// boolInt renders a flag column value. Flags are 0/1 integers on every
// backend.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
