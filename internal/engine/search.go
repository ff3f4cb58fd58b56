package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/querysql"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// SearchEntities returns one page of the latest versions of the entities
// matching q. Cursors are keyset positions, so a page is stable under
// concurrent inserts.
func (r *Repository) SearchEntities(ctx context.Context, session auth.Session, q queryir.EntityQuery, paging queryir.Paging) (ir.Connection[ir.Entity], error) {
	return search(ctx, r, "searchEntities", session, q, paging, queryir.Scope{}, r.latestNode)
}

// SearchPublishedEntities is SearchEntities over published versions, with
// non-public fields removed.
func (r *Repository) SearchPublishedEntities(ctx context.Context, session auth.Session, q queryir.EntityQuery, paging queryir.Paging) (ir.Connection[ir.PublishedEntity], error) {
	return search(ctx, r, "searchPublishedEntities", session, q, paging, queryir.Scope{Published: true}, r.publishedNode)
}

// GetEntitiesTotalCount counts the entities matching q.
func (r *Repository) GetEntitiesTotalCount(ctx context.Context, session auth.Session, q queryir.EntityQuery) (int, error) {
	return r.totalCount(ctx, "getEntitiesTotalCount", session, q, queryir.Scope{})
}

// GetPublishedEntitiesTotalCount counts the published entities matching q.
func (r *Repository) GetPublishedEntitiesTotalCount(ctx context.Context, session auth.Session, q queryir.EntityQuery) (int, error) {
	return r.totalCount(ctx, "getPublishedEntitiesTotalCount", session, q, queryir.Scope{Published: true})
}

// SampleEntities draws a random sample of the entities matching q. The
// same seed over the same data returns the same sample. A nil seed is
// chosen by the repository and returned.
func (r *Repository) SampleEntities(ctx context.Context, session auth.Session, q queryir.EntityQuery, opts queryir.SampleOptions) (Sample[ir.Entity], error) {
	return sample(ctx, r, "sampleEntities", session, q, opts, queryir.Scope{}, r.latestNode)
}

// SamplePublishedEntities is SampleEntities over published versions.
func (r *Repository) SamplePublishedEntities(ctx context.Context, session auth.Session, q queryir.EntityQuery, opts queryir.SampleOptions) (Sample[ir.PublishedEntity], error) {
	return sample(ctx, r, "samplePublishedEntities", session, q, opts, queryir.Scope{Published: true}, r.publishedNode)
}

// nodeFunc converts a search row into a result.
type nodeFunc[T any] func(cur *schema.Schema, row querysql.Row) (T, error)

type converted[T any] struct {
	row  querysql.Row
	node T
}

// buildSelect resolves the caller's authorization keys and compiles q.
func (r *Repository) buildSelect(ctx context.Context, session auth.Session, q queryir.EntityQuery, scope queryir.Scope) (*queryir.Select, error) {
	keys := q.AuthKeys
	if len(keys) == 0 {
		keys = r.defaultAuthKeys
	}
	resolved, err := auth.ResolveAll(ctx, r.auth, session, keys)
	if err != nil {
		return nil, err
	}
	return queryir.Build(q, resolved, scope)
}

func search[T any](ctx context.Context, r *Repository, op string, session auth.Session, q queryir.EntityQuery, paging queryir.Paging, scope queryir.Scope, node nodeFunc[T]) (ir.Connection[T], error) {
	started := time.Now()
	var conn ir.Connection[T]
	err := func() error {
		sel, err := r.buildSelect(ctx, session, q, scope)
		if err != nil {
			return err
		}
		page, err := queryir.ResolvePaging(paging, r.defaultPage, r.maxPage)
		if err != nil {
			return err
		}
		after, err := r.decodeCursor(page.After)
		if err != nil {
			return err
		}
		before, err := r.decodeCursor(page.Before)
		if err != nil {
			return err
		}
		compiled, err := r.compiler.CompileSearch(sel, page, after, before)
		if err != nil {
			return err
		}

		return r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
			cur, err := r.currentSchema(ctx, tx)
			if err != nil {
				return err
			}
			rows, err := tx.QueryContext(ctx, compiled.SQL, compiled.Params...)
			if err != nil {
				return storageError(err, "search entities")
			}
			defer rows.Close()
			var results []converted[T]
			for rows.Next() {
				row, err := querysql.ScanRow(rows)
				if err != nil {
					return storageError(err, "scan search row")
				}
				n, err := node(cur, row)
				if err != nil {
					return err
				}
				results = append(results, converted[T]{row: row, node: n})
			}
			if err := rows.Err(); err != nil {
				return storageError(err, "search entities")
			}

			conn, err = ir.NewConnection(results, page.Count, compiled.Reversed,
				func(c converted[T]) T { return c.node },
				func(c converted[T]) (string, error) {
					return r.backend.EncodeCursor(compiled.CursorFor(c.row))
				},
			)
			if err != nil {
				return err
			}
			// A page that starts after a cursor has rows before it, and one
			// that ends before a cursor has rows after it.
			if page.After != "" {
				conn.PageInfo.HasPreviousPage = true
			}
			if page.Before != "" {
				conn.PageInfo.HasNextPage = true
			}
			return nil
		})
	}()
	if err := r.observe(ctx, op, started, ir.EffectNone, err); err != nil {
		return ir.Connection[T]{}, err
	}
	return conn, nil
}

func (r *Repository) decodeCursor(cursor string) (ir.Array, error) {
	if cursor == "" {
		return nil, nil
	}
	return r.backend.DecodeCursor(cursor)
}

func (r *Repository) totalCount(ctx context.Context, op string, session auth.Session, q queryir.EntityQuery, scope queryir.Scope) (int, error) {
	started := time.Now()
	var count int
	err := func() error {
		sel, err := r.buildSelect(ctx, session, q, scope)
		if err != nil {
			return err
		}
		query, params, err := r.compiler.CompileCount(sel)
		if err != nil {
			return err
		}
		if err := r.backend.Queryer().QueryRowContext(ctx, query, params...).Scan(&count); err != nil {
			return storageError(err, "count entities")
		}
		return nil
	}()
	if err := r.observe(ctx, op, started, ir.EffectNone, err); err != nil {
		return 0, err
	}
	return count, nil
}

func sample[T any](ctx context.Context, r *Repository, op string, session auth.Session, q queryir.EntityQuery, opts queryir.SampleOptions, scope queryir.Scope, node nodeFunc[T]) (Sample[T], error) {
	started := time.Now()
	var result Sample[T]
	err := func() error {
		count := opts.Count
		if count == 0 {
			count = r.defaultPage
		}
		if count < 0 || count > r.maxPage {
			return ir.NewBadRequest("sample count must be between 0 and %d, got %d", r.maxPage, opts.Count)
		}
		seed := r.randSeed()
		if opts.Seed != nil {
			seed = *opts.Seed
		}
		sel, err := r.buildSelect(ctx, session, q, scope)
		if err != nil {
			return err
		}
		countSQL, countParams, err := r.compiler.CompileCount(sel)
		if err != nil {
			return err
		}

		return r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
			cur, err := r.currentSchema(ctx, tx)
			if err != nil {
				return err
			}
			var total int
			if err := tx.QueryRowContext(ctx, countSQL, countParams...).Scan(&total); err != nil {
				return storageError(err, "count sample entities")
			}
			result = Sample[T]{Seed: seed, TotalCount: total, Items: []T{}}
			for _, offset := range querysql.SampleOffsets(seed, count, total) {
				query, params, err := r.compiler.CompileSampleRow(sel, offset)
				if err != nil {
					return err
				}
				row, err := querysql.ScanRow(tx.QueryRowContext(ctx, query, params...))
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				if err != nil {
					return storageError(err, "read sample row %d", offset)
				}
				n, err := node(cur, row)
				if err != nil {
					return err
				}
				result.Items = append(result.Items, n)
			}
			return nil
		})
	}()
	if err := r.observe(ctx, op, started, ir.EffectNone, err); err != nil {
		return Sample[T]{}, err
	}
	return result, nil
}

// rowDocument migrates the field document of a search row to the current
// schema.
func rowDocument(cur *schema.Schema, row querysql.Row) (ir.Object, error) {
	doc, err := decodeDocument(row.Fields)
	if err != nil {
		return nil, ir.NewGeneric(err, "decode version %d of entity %s", row.Version, row.ID)
	}
	migrated, err := migrate(cur, row.SchemaVersion, row.VersionType, doc)
	if err != nil {
		return nil, err
	}
	return migrated.Fields, nil
}

func (r *Repository) latestNode(cur *schema.Schema, row querysql.Row) (ir.Entity, error) {
	doc, err := rowDocument(cur, row)
	if err != nil {
		return ir.Entity{}, err
	}
	fields, _, err := codec.Decode(cur, row.Type, doc)
	if err != nil {
		return ir.Entity{}, err
	}
	e := ir.Entity{
		ID:          row.ID,
		Type:        row.Type,
		Name:        row.Name,
		AuthKey:     row.AuthKey,
		Status:      ir.EntityStatus(row.Status),
		Version:     row.Version,
		ValidLatest: row.ValidLatest,
		CreatedAt:   time.UnixMicro(row.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMicro(row.UpdatedAt).UTC(),
		Fields:      fields,
	}
	if row.PublishedVersion.Valid {
		valid := row.ValidPublished
		e.ValidPublished = &valid
	}
	return e, nil
}

func (r *Repository) publishedNode(cur *schema.Schema, row querysql.Row) (ir.PublishedEntity, error) {
	doc, err := rowDocument(cur, row)
	if err != nil {
		return ir.PublishedEntity{}, err
	}
	public, err := codec.PublishedFields(cur, row.Type, doc)
	if err != nil {
		return ir.PublishedEntity{}, err
	}
	fields, _, err := codec.Decode(cur, row.Type, public)
	if err != nil {
		return ir.PublishedEntity{}, err
	}
	return ir.PublishedEntity{
		ID:        row.ID,
		Type:      row.Type,
		Name:      row.Name,
		AuthKey:   row.AuthKey,
		Version:   row.Version,
		Valid:     row.ValidPublished,
		CreatedAt: time.UnixMicro(row.CreatedAt).UTC(),
		Fields:    fields,
	}, nil
}
