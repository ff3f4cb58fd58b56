package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
)

// Compiler renders queryir Selects to parameterized SQL for one dialect.
//
// All values are parameterized, never interpolated. Every search ends its
// ORDER BY with the entity row id, so results are totally ordered.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(d Dialect) Compiler {
	return Compiler{Dialect: d}
}

// Search is a compiled search page.
type Search struct {
	SQL    string
	Params []any
	// Limit is the row count requested from the database: one more than
	// the page size, to detect further pages.
	Limit int
	// Reversed is set for backward scans; the caller reverses the rows
	// before returning them.
	Reversed bool
	order    queryir.OrderKey
}

// CursorFor returns the ordering key values of a row. The backend encodes
// them into an opaque cursor.
func (s Search) CursorFor(row Row) ir.Array {
	return CursorKeys(s.order, row)
}

// CursorKeys returns the ordering key values of a row for an order.
func CursorKeys(order queryir.OrderKey, row Row) ir.Array {
	switch order {
	case queryir.OrderUpdatedAt:
		return ir.Array{ir.Int(row.UpdatedAt), ir.Int(row.RowID)}
	case queryir.OrderName:
		return ir.Array{ir.String(row.Name), ir.Int(row.RowID)}
	default:
		return ir.Array{ir.Int(row.RowID)}
	}
}

// CompileSearch compiles one page of a search. after and before are the
// decoded cursor keys of the paging bounds, nil when absent.
func (c Compiler) CompileSearch(sel *queryir.Select, page queryir.Page, after, before ir.Array) (Search, error) {
	b := c.newBuilder()
	if err := b.selectFrom(sel); err != nil {
		return Search{}, err
	}

	keys := c.orderColumns(sel.Order)
	// Logical direction of the result order.
	descending := sel.Reverse
	if after != nil {
		vals, err := cursorParams(sel.Order, after)
		if err != nil {
			return Search{}, err
		}
		b.sb.WriteString(" AND ")
		b.keyset(keys, vals, !descending)
	}
	if before != nil {
		vals, err := cursorParams(sel.Order, before)
		if err != nil {
			return Search{}, err
		}
		b.sb.WriteString(" AND ")
		b.keyset(keys, vals, descending)
	}

	// Scan direction: backward pages scan against the result order.
	scanDesc := descending != page.Backward
	dir := " ASC"
	if scanDesc {
		dir = " DESC"
	}
	b.sb.WriteString(" ORDER BY ")
	for i, k := range keys {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(k + dir)
	}
	limit := page.Count + 1
	b.sb.WriteString(" LIMIT " + b.arg(limit))

	return Search{
		SQL:      b.sb.String(),
		Params:   b.params,
		Limit:    limit,
		Reversed: page.Backward,
		order:    sel.Order,
	}, nil
}

// CompileCount compiles the total count of a search.
func (c Compiler) CompileCount(sel *queryir.Select) (string, []any, error) {
	b := c.newBuilder()
	b.sb.WriteString("SELECT COUNT(*)")
	if err := b.fromWhere(sel); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.params, nil
}

// CompileSampleRow compiles a query for the row at offset in row id order.
func (c Compiler) CompileSampleRow(sel *queryir.Select, offset int) (string, []any, error) {
	b := c.newBuilder()
	if err := b.selectFrom(sel); err != nil {
		return "", nil, err
	}
	b.sb.WriteString(" ORDER BY e.id ASC LIMIT 1 OFFSET " + b.arg(offset))
	return b.sb.String(), b.params, nil
}

func (c Compiler) orderColumns(order queryir.OrderKey) []string {
	switch order {
	case queryir.OrderUpdatedAt:
		return []string{"e.updated_at", "e.id"}
	case queryir.OrderName:
		return []string{c.Dialect.collate("v.name"), "e.id"}
	default:
		return []string{"e.id"}
	}
}

// cursorParams checks decoded cursor keys against the order and converts
// them to SQL parameters.
func cursorParams(order queryir.OrderKey, keys ir.Array) ([]any, error) {
	want := len(CursorKeys(order, Row{}))
	if len(keys) != want {
		return nil, ir.NewBadRequest("invalid cursor for order %q", order)
	}
	out := make([]any, len(keys))
	for i, k := range keys {
		switch v := k.(type) {
		case ir.Int:
			out[i] = int64(v)
		case ir.String:
			if order != queryir.OrderName || i != 0 {
				return nil, ir.NewBadRequest("invalid cursor for order %q", order)
			}
			out[i] = string(v)
		default:
			return nil, ir.NewBadRequest("invalid cursor for order %q", order)
		}
	}
	if order == queryir.OrderName {
		if _, ok := out[0].(string); !ok {
			return nil, ir.NewBadRequest("invalid cursor for order %q", order)
		}
	}
	return out, nil
}

type builder struct {
	dialect Dialect
	sb      strings.Builder
	params  []any
}

func (c Compiler) newBuilder() *builder {
	return &builder{dialect: c.Dialect}
}

// arg appends a parameter and returns its placeholder.
func (b *builder) arg(v any) string {
	b.params = append(b.params, v)
	return b.dialect.placeholder(len(b.params))
}

func (b *builder) selectFrom(sel *queryir.Select) error {
	b.sb.WriteString("SELECT " + Columns)
	return b.fromWhere(sel)
}

func (b *builder) fromWhere(sel *queryir.Select) error {
	if err := queryir.Validate(sel); err != nil {
		return err
	}
	pointer := "e.latest_version"
	if sel.Scope.Published {
		pointer = "e.published_version"
	}
	b.sb.WriteString(" FROM entities e JOIN entity_versions v ON v.entity_id = e.id AND v.version = " + pointer)
	b.sb.WriteString(" WHERE ")
	return b.predicate(sel.Scope, sel.Filter)
}

// keyset writes the exclusive bound "keys after vals" (greater when
// ascending is set) in expanded form:
//
//	(k1 > ? OR (k1 = ? AND k2 > ?))
func (b *builder) keyset(keys []string, vals []any, greater bool) {
	op := " < "
	if greater {
		op = " > "
	}
	b.sb.WriteString("(")
	for i := range keys {
		if i > 0 {
			b.sb.WriteString(" OR (")
			for j := 0; j < i; j++ {
				b.sb.WriteString(keys[j] + " = " + b.arg(vals[j]) + " AND ")
			}
		}
		b.sb.WriteString(keys[i] + op + b.arg(vals[i]))
		if i > 0 {
			b.sb.WriteString(")")
		}
	}
	b.sb.WriteString(")")
}

func (b *builder) in(col string, values []string) {
	if len(values) == 0 {
		b.sb.WriteString("1 = 0")
		return
	}
	if b.dialect == Postgres {
		b.sb.WriteString(col + " = ANY(" + b.arg(values) + ")")
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = b.arg(v)
	}
	b.sb.WriteString(col + " IN (" + strings.Join(ph, ", ") + ")")
}

func publishedFlag(scope queryir.Scope) int {
	if scope.Published {
		return 1
	}
	return 0
}

// predicate writes one predicate. Exhaustive over queryir predicate types.
func (b *builder) predicate(scope queryir.Scope, p queryir.Predicate) error {
	switch pred := p.(type) {
	case queryir.AuthKeyIn:
		b.in("e.resolved_auth_key", pred.Keys)

	case queryir.TypeIn:
		b.in("e.type", pred.Types)

	case queryir.ComponentTypeIn:
		b.sb.WriteString("(")
		for i, t := range pred.Types {
			if i > 0 {
				b.sb.WriteString(" OR ")
			}
			pattern := "%" + escapeLike(`"type":"`+t+`"`) + "%"
			b.sb.WriteString("v.fields LIKE " + b.arg(pattern) + ` ESCAPE '\'`)
		}
		b.sb.WriteString(")")

	case queryir.StatusIn:
		statuses := make([]string, len(pred.Statuses))
		for i, s := range pred.Statuses {
			statuses[i] = string(s)
		}
		b.in("e.status", statuses)

	case queryir.ValidIs:
		col := "e.valid_latest"
		if scope.Published {
			col = "e.valid_published"
		}
		flag := 0
		if pred.Valid {
			flag = 1
		}
		b.sb.WriteString(col + " = " + b.arg(flag))

	case queryir.LinksTo:
		b.sb.WriteString("e.id IN (SELECT r.from_entity_id FROM entity_references r WHERE r.to_uuid = " +
			b.arg(pred.ID) + " AND r.published = " + b.arg(publishedFlag(scope)) + ")")

	case queryir.LinksFrom:
		b.sb.WriteString("e.uuid IN (SELECT r.to_uuid FROM entity_references r JOIN entities f ON f.id = r.from_entity_id WHERE f.uuid = " +
			b.arg(pred.ID) + " AND r.published = " + b.arg(publishedFlag(scope)) + ")")

	case queryir.TextMatch:
		col := "e.latest_fts"
		if scope.Published {
			col = "e.published_fts"
		}
		b.dialect.textMatch(b, col, pred.Text)

	case queryir.WithinBoundingBox:
		box := pred.Box
		b.sb.WriteString("e.id IN (SELECT l.entity_id FROM entity_locations l WHERE l.published = " + b.arg(publishedFlag(scope)))
		b.sb.WriteString(" AND l.lat >= " + b.arg(box.MinLat) + " AND l.lat <= " + b.arg(box.MaxLat))
		if box.MinLng <= box.MaxLng {
			b.sb.WriteString(" AND l.lng >= " + b.arg(box.MinLng) + " AND l.lng <= " + b.arg(box.MaxLng) + ")")
		} else {
			b.sb.WriteString(" AND (l.lng >= " + b.arg(box.MinLng) + " OR l.lng <= " + b.arg(box.MaxLng) + "))")
		}

	case queryir.And:
		if len(pred.Predicates) == 0 {
			b.sb.WriteString("1 = 1")
			return nil
		}
		for i, sub := range pred.Predicates {
			if i > 0 {
				b.sb.WriteString(" AND ")
			}
			if nested, ok := sub.(queryir.And); ok && len(nested.Predicates) > 1 {
				b.sb.WriteString("(")
				if err := b.predicate(scope, nested); err != nil {
					return err
				}
				b.sb.WriteString(")")
				continue
			}
			if err := b.predicate(scope, sub); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
	return nil
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
