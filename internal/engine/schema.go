package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// emptySchema is the version 0 schema every repository starts with.
var emptySchema = func() *schema.Schema {
	s, err := schema.NewSchema(schema.Empty())
	if err != nil {
		panic("engine: empty schema does not validate: " + err.Error())
	}
	return s
}()

// currentSchema returns the newest stored schema.
func (r *Repository) currentSchema(ctx context.Context, q store.Queryer) (*schema.Schema, error) {
	var version int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	if err != nil {
		return nil, storageError(err, "read current schema version")
	}
	return r.schemaAt(ctx, q, version)
}

// schemaAt returns the schema of one version. Parsed schemas are cached;
// a stored version never changes.
func (r *Repository) schemaAt(ctx context.Context, q store.Queryer, version int) (*schema.Schema, error) {
	if version == 0 {
		return emptySchema, nil
	}
	if cached, ok := r.schemas.Get(version); ok {
		return cached.(*schema.Schema), nil
	}

	var data string
	err := q.QueryRowContext(ctx, `SELECT specification FROM schema_versions WHERE version = ?`, version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ir.NewNotFound("no schema specification with version %d", version).
			With("version", strconv.Itoa(version))
	}
	if err != nil {
		return nil, storageError(err, "read schema version %d", version)
	}
	var spec schema.Specification
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return nil, ir.NewGeneric(err, "decode schema version %d", version)
	}
	s, err := schema.NewSchema(spec)
	if err != nil {
		return nil, ir.NewGeneric(err, "stored schema version %d does not validate", version)
	}
	r.schemas.Add(version, s)
	return s, nil
}

// GetSchemaSpecification returns the current schema specification. A new
// repository has the empty version 0 specification.
func (r *Repository) GetSchemaSpecification(ctx context.Context) (schema.Specification, error) {
	s, err := r.currentSchema(ctx, r.backend.Queryer())
	if err != nil {
		return schema.Specification{}, err
	}
	return s.Spec(), nil
}

// GetSchemaSpecificationVersion returns one stored version of the schema
// specification.
func (r *Repository) GetSchemaSpecificationVersion(ctx context.Context, version int) (schema.Specification, error) {
	if version < 0 {
		return schema.Specification{}, ir.NewBadRequest("schema version must not be negative, got %d", version)
	}
	s, err := r.schemaAt(ctx, r.backend.Queryer(), version)
	if err != nil {
		return schema.Specification{}, err
	}
	return s.Spec(), nil
}

// UpdateSchemaSpecification merges update into the current specification
// and stores the result as the next version.
//
// An update that changes nothing has effect none and stores nothing.
// Entity type renames are applied to stored entities immediately; field
// changes are applied lazily when documents are read, and entities whose
// validation or indexing may have changed are marked dirty for the
// background jobs. Deleting an entity type that still has entities is a
// BadRequest.
func (r *Repository) UpdateSchemaSpecification(ctx context.Context, session auth.Session, update schema.SpecificationUpdate) (SchemaResult, error) {
	started := time.Now()
	var (
		result SchemaResult
		stored *schema.Schema
	)
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		m, err := r.begin(ctx, tx, session, nil)
		if err != nil {
			return err
		}
		next, err := schema.Merge(m.schema.Spec(), update)
		if err != nil {
			return err
		}
		if next.Version == m.schema.Version() {
			result = SchemaResult{Effect: ir.EffectNone, Specification: next}
			return nil
		}
		stored, err = r.storeSchema(ctx, m, next)
		if err != nil {
			return err
		}
		result = SchemaResult{Effect: ir.EffectUpdated, Specification: stored.Spec()}
		return nil
	})
	if err := r.observe(ctx, "updateSchemaSpecification", started, result.Effect, err); err != nil {
		return SchemaResult{}, err
	}
	if stored != nil {
		r.schemas.Add(stored.Version(), stored)
		r.metrics.SchemaVersion(stored.Version())
		r.logger.InfoContext(ctx, "schema specification updated",
			"op", "updateSchemaSpecification",
			"version", stored.Version(),
		)
	}
	return result, nil
}

// storeSchema validates next against the current schema, applies its
// eager side effects and appends the updateSchema event.
func (r *Repository) storeSchema(ctx context.Context, m *mutation, next schema.Specification) (*schema.Schema, error) {
	cur := m.schema
	if next.Version != cur.Version()+1 {
		return nil, ir.NewConflict("schema version %d does not follow current version %d", next.Version, cur.Version()).
			With("version", strconv.Itoa(next.Version))
	}
	s, err := schema.NewSchema(next)
	if err != nil {
		return nil, err
	}
	delta, err := schema.Diff(cur.Spec(), s.Spec())
	if err != nil {
		return nil, err
	}

	for _, entityType := range delta.DeletedEntityTypes() {
		var count int
		err := m.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE type = ?`, entityType).Scan(&count)
		if err != nil {
			return nil, storageError(err, "count entities of type %s", entityType)
		}
		if count > 0 {
			return nil, ir.NewBadRequest("cannot delete entity type %q: %d entities exist", entityType, count).
				With("entityType", entityType)
		}
	}
	if err := renameColumn(ctx, m.tx, "entities", "type", delta.RenamedEntityTypes()); err != nil {
		return nil, err
	}
	if err := renameColumn(ctx, m.tx, "unique_index_values", "index_name", delta.RenamedIndexes); err != nil {
		return nil, err
	}
	for _, index := range delta.DeletedIndexes {
		if _, err := m.tx.ExecContext(ctx, `DELETE FROM unique_index_values WHERE index_name = ?`, index); err != nil {
			return nil, storageError(err, "delete unique index %s", index)
		}
	}

	spec := s.Spec()
	obj, err := spec.ToValue()
	if err != nil {
		return nil, ir.NewGeneric(err, "encode schema version %d", spec.Version)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return nil, ir.NewGeneric(err, "encode schema version %d", spec.Version)
	}
	hash, err := ir.SchemaHash(obj)
	if err != nil {
		return nil, ir.NewGeneric(err, "hash schema version %d", spec.Version)
	}
	_, err = m.tx.ExecContext(ctx, `
		INSERT INTO schema_versions (version, specification, hash, created_at)
		VALUES (?, ?, ?, ?)
	`, spec.Version, string(data), hash, m.now.UnixMicro())
	if err != nil {
		if r.backend.IsUniqueViolation(err, store.ConstraintSchemaVersion) {
			return nil, ir.NewConflict("schema version %d was stored concurrently", spec.Version).
				With("version", strconv.Itoa(spec.Version))
		}
		return nil, storageError(err, "store schema version %d", spec.Version)
	}

	for entityType, flags := range delta.DirtyFlags(s) {
		if _, err := markDirty(ctx, m.tx, []string{entityType}, flags); err != nil {
			return nil, err
		}
	}

	err = r.appendEvent(ctx, m, eventlog.Event{
		Type:          ir.EventUpdateSchema,
		SchemaVersion: spec.Version,
		Payload: ir.SyncPayload{
			SchemaVersion: spec.Version,
			Schema:        json.RawMessage(data),
		},
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// renameColumn renames values of one column in a single statement, so
// swapped names do not collide.
func renameColumn(ctx context.Context, tx store.Queryer, table, column string, renames map[string]string) error {
	if len(renames) == 0 {
		return nil
	}
	var (
		cases []string
		in    []string
		args  []any
		olds  []any
	)
	for old, next := range renames {
		cases = append(cases, "WHEN ? THEN ?")
		args = append(args, old, next)
		in = append(in, "?")
		olds = append(olds, old)
	}
	query := "UPDATE " + table + " SET " + column + " = CASE " + column + " " + strings.Join(cases, " ") +
		" END WHERE " + column + " IN (" + strings.Join(in, ", ") + ")"
	if _, err := tx.ExecContext(ctx, query, append(args, olds...)...); err != nil {
		return storageError(err, "rename %s.%s", table, column)
	}
	return nil
}
