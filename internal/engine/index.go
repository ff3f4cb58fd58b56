package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/store"
)

// scope selects the latest or the published side data of an entity. The
// values are column names of unique_index_values and prefixes of the
// entities full-text columns.
type scope string

const (
	scopeLatest    scope = "latest"
	scopePublished scope = "published"
)

func (s scope) flag() int {
	if s == scopePublished {
		return 1
	}
	return 0
}

// fullText is the searchable text of a version: its name, then every
// string and rich text run of its fields.
func fullText(name string, c codec.Collected) string {
	if text := c.FullText(); text != "" {
		return name + " " + text
	}
	return name
}

// writeSideTables replaces the references, locations, full text and unique
// index values of one scope of an entity.
//
// A unique value already claimed by another entity is a Conflict; the
// caller's transaction must then roll back or record the entity as
// invalid.
func (r *Repository) writeSideTables(ctx context.Context, tx store.Queryer, st entityState, s scope, name string, c codec.Collected) error {
	if err := r.clearSideTables(ctx, tx, st.RowID, s); err != nil {
		return err
	}

	for _, ref := range c.References {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_references (from_entity_id, published, to_uuid)
			VALUES (?, ?, ?)
		`, st.RowID, s.flag(), ref)
		if err != nil {
			return storageError(err, "store reference of entity %s", st.ID)
		}
	}
	for _, loc := range c.Locations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_locations (entity_id, published, lat, lng)
			VALUES (?, ?, ?, ?)
		`, st.RowID, s.flag(), loc.Lat, loc.Lng)
		if err != nil {
			return storageError(err, "store location of entity %s", st.ID)
		}
	}
	_, err := tx.ExecContext(ctx, `UPDATE entities SET `+string(s)+`_fts = ? WHERE id = ?`, fullText(name, c), st.RowID)
	if err != nil {
		return storageError(err, "store full text of entity %s", st.ID)
	}

	seen := make(map[codec.UniqueValue]bool, len(c.UniqueValues))
	for _, uv := range c.UniqueValues {
		if seen[uv] {
			continue
		}
		seen[uv] = true
		if err := r.claimUniqueValue(ctx, tx, st, s, uv); err != nil {
			return err
		}
	}
	return nil
}

// clearSideTables removes one scope of an entity's side data.
func (r *Repository) clearSideTables(ctx context.Context, tx store.Queryer, rowID int64, s scope) error {
	statements := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM entity_references WHERE from_entity_id = ? AND published = ?`, []any{rowID, s.flag()}},
		{`DELETE FROM entity_locations WHERE entity_id = ? AND published = ?`, []any{rowID, s.flag()}},
		{`UPDATE entities SET ` + string(s) + `_fts = '' WHERE id = ?`, []any{rowID}},
		{`UPDATE unique_index_values SET ` + string(s) + ` = 0 WHERE entity_id = ?`, []any{rowID}},
		{`DELETE FROM unique_index_values WHERE entity_id = ? AND latest = 0 AND published = 0`, []any{rowID}},
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return storageError(err, "clear %s side data of entity row %d", s, rowID)
		}
	}
	return nil
}

// claimUniqueValue records that the entity holds a value in a unique
// index. The owner is looked up first so a collision is reported without
// relying on a failed insert, which would abort a Postgres transaction.
func (r *Repository) claimUniqueValue(ctx context.Context, tx store.Queryer, st entityState, s scope, uv codec.UniqueValue) error {
	var owner int64
	err := tx.QueryRowContext(ctx, `
		SELECT entity_id FROM unique_index_values WHERE index_name = ? AND value = ?
	`, uv.Index, uv.Value).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		latest, published := 0, 0
		if s == scopePublished {
			published = 1
		} else {
			latest = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO unique_index_values (index_name, value, entity_id, latest, published)
			VALUES (?, ?, ?, ?, ?)
		`, uv.Index, uv.Value, st.RowID, latest, published)
		if r.backend.IsUniqueViolation(err, store.ConstraintUniqueValue) {
			return uniqueConflict(st, uv)
		}
		if err != nil {
			return storageError(err, "store unique value of entity %s", st.ID)
		}
		return nil
	case err != nil:
		return storageError(err, "look up unique value of entity %s", st.ID)
	case owner != st.RowID:
		return uniqueConflict(st, uv)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE unique_index_values SET `+string(s)+` = 1 WHERE index_name = ? AND value = ?
	`, uv.Index, uv.Value)
	if err != nil {
		return storageError(err, "store unique value of entity %s", st.ID)
	}
	return nil
}

func uniqueConflict(st entityState, uv codec.UniqueValue) *ir.Error {
	return ir.NewConflict("value %q is already used in unique index %q", uv.Value, uv.Index).
		With("id", st.ID).
		With("index", uv.Index).
		With("value", uv.Value)
}

// markDirty sets dirty flags on every entity of the given types and
// returns how many entities were marked.
func markDirty(ctx context.Context, tx store.Queryer, entityTypes []string, flags int) (int64, error) {
	if len(entityTypes) == 0 || flags == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(entityTypes)), ", ")
	args := []any{flags}
	for _, t := range entityTypes {
		args = append(args, t)
	}
	res, err := tx.ExecContext(ctx, `UPDATE entities SET dirty = dirty | ? WHERE type IN (`+ph+`)`, args...)
	if err != nil {
		return 0, storageError(err, "mark entities dirty with flags %d", flags)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "mark entities dirty")
	}
	return n, nil
}
