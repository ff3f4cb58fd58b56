// Package eventlog is the append-only log of committed mutations.
//
// Every mutation appends exactly one event inside its own transaction, so
// an event exists if and only if its mutation committed. Events are
// ordered by their row id, which is assigned at insert and never reused.
// The log is read two ways: a cursor-paged changelog for administrators and
// a "since cursor" sync feed for replicas.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/store"
)

// Event is a mutation record ready to append.
type Event struct {
	// ID is the event's UUID. Replicated events keep the id of the source
	// event.
	ID            string
	Type          ir.EventType
	CreatedBy     string
	CreatedAt     time.Time
	SchemaVersion int
	// Entities are the entities the mutation touched.
	Entities []Affected
	Payload  ir.SyncPayload
}

// Affected is one entity touched by an event, by storage row id.
type Affected struct {
	RowID   int64
	Version int
}

// ChangelogQuery filters the changelog.
type ChangelogQuery struct {
	// EntityID limits the changelog to events touching one entity.
	EntityID string `json:"entityId,omitempty" yaml:"entityId,omitempty"`
	// Reverse lists newest events first.
	Reverse bool `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// SyncQuery selects the next batch of the sync feed. An empty After starts
// from the beginning of the log.
type SyncQuery struct {
	After string `json:"after,omitempty" yaml:"after,omitempty"`
	Limit int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// SyncPage is one batch of the sync feed.
type SyncPage struct {
	Events []ir.SyncEvent `json:"events"`
	// NextCursor resumes after the last event. It equals the query's After
	// when the batch is empty, so consumers can keep polling with it.
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Log appends and reads events.
type Log struct {
	backend     store.Backend
	defaultPage int
	maxPage     int
	logger      *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithPageSizes sets the default and maximum page sizes.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(l *Log) {
		l.defaultPage = defaultSize
		l.maxPage = maxSize
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates a Log. The backend encodes cursors.
func New(backend store.Backend, opts ...Option) *Log {
	l := &Log{
		backend:     backend,
		defaultPage: queryir.DefaultPageSize,
		maxPage:     queryir.MaxPageSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes ev and its per-entity rows on tx and returns the event's
// row id. It must run in the transaction of the mutation it records.
func (l *Log) Append(ctx context.Context, tx store.Queryer, ev Event) (int64, error) {
	if !ir.ValidEventTypes[ev.Type] {
		return 0, ir.NewGeneric(nil, "unknown event type %q", ev.Type)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, ir.NewGeneric(err, "encode %s event payload", ev.Type)
	}

	var rowID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (uuid, type, created_by, created_at, schema_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, ev.ID, string(ev.Type), ev.CreatedBy, ev.CreatedAt.UnixMicro(), ev.SchemaVersion, string(payload)).Scan(&rowID)
	if err != nil {
		if l.backend.IsUniqueViolation(err, store.ConstraintEventUUID) {
			return 0, ir.NewConflict("event %s already exists", ev.ID).With("eventId", ev.ID)
		}
		return 0, ir.NewGeneric(err, "append %s event", ev.Type)
	}

	for _, a := range dedupe(ev.Entities) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_entities (event_id, entity_id, entity_version)
			VALUES (?, ?, ?)
		`, rowID, a.RowID, a.Version)
		if err != nil {
			return 0, ir.NewGeneric(err, "append %s event entity", ev.Type)
		}
	}

	l.logger.DebugContext(ctx, "event appended",
		"event_id", ev.ID,
		"type", ev.Type,
		"entities", len(ev.Entities),
	)
	return rowID, nil
}

// dedupe keeps the first row per entity; an event lists an entity once.
func dedupe(in []Affected) []Affected {
	seen := make(map[int64]bool, len(in))
	out := make([]Affected, 0, len(in))
	for _, a := range in {
		if seen[a.RowID] {
			continue
		}
		seen[a.RowID] = true
		out = append(out, a)
	}
	return out
}

// Exists reports whether an event with the UUID was appended.
func (l *Log) Exists(ctx context.Context, q store.Queryer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE uuid = ?`, id).Scan(&n)
	if err != nil {
		return false, ir.NewGeneric(err, "look up event %s", id)
	}
	return n > 0, nil
}

// changelogRow is one events row in scan order.
type changelogRow struct {
	rowID int64
	event ir.ChangelogEvent
}

// Changelog returns one page of events, oldest first unless the query is
// reversed. Cursors follow the same contract as entity searches.
func (l *Log) Changelog(ctx context.Context, q store.Queryer, query ChangelogQuery, paging queryir.Paging) (ir.Connection[ir.ChangelogEvent], error) {
	page, err := queryir.ResolvePaging(paging, l.defaultPage, l.maxPage)
	if err != nil {
		return ir.Connection[ir.ChangelogEvent]{}, err
	}

	where, args := filter(query)
	if page.After != "" {
		id, err := l.decodeCursor(page.After)
		if err != nil {
			return ir.Connection[ir.ChangelogEvent]{}, err
		}
		where = append(where, "ev.id "+cmp(!query.Reverse)+" ?")
		args = append(args, id)
	}
	if page.Before != "" {
		id, err := l.decodeCursor(page.Before)
		if err != nil {
			return ir.Connection[ir.ChangelogEvent]{}, err
		}
		where = append(where, "ev.id "+cmp(query.Reverse)+" ?")
		args = append(args, id)
	}

	dir := "ASC"
	if query.Reverse != page.Backward {
		dir = "DESC"
	}
	args = append(args, page.Count+1)
	rows, err := q.QueryContext(ctx, `
		SELECT ev.id, ev.uuid, ev.type, ev.created_by, ev.created_at, ev.schema_version
		FROM events ev
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY ev.id `+dir+`
		LIMIT ?
	`, args...)
	if err != nil {
		return ir.Connection[ir.ChangelogEvent]{}, ir.NewGeneric(err, "query changelog")
	}
	var records []changelogRow
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var (
				r         changelogRow
				typ       string
				createdAt int64
			)
			if err := rows.Scan(&r.rowID, &r.event.ID, &typ, &r.event.CreatedBy, &createdAt, &r.event.SchemaVersion); err != nil {
				return err
			}
			r.event.Type = ir.EventType(typ)
			r.event.CreatedAt = time.UnixMicro(createdAt).UTC()
			records = append(records, r)
		}
		return rows.Err()
	}()
	if err != nil {
		return ir.Connection[ir.ChangelogEvent]{}, ir.NewGeneric(err, "scan changelog")
	}

	if err := l.loadEntities(ctx, q, records); err != nil {
		return ir.Connection[ir.ChangelogEvent]{}, err
	}

	l.logger.DebugContext(ctx, "changelog page", "entity_id", query.EntityID, "events", len(records))
	return ir.NewConnection(records, page.Count, page.Backward,
		func(r changelogRow) ir.ChangelogEvent { return r.event },
		func(r changelogRow) (string, error) { return l.backend.EncodeCursor(ir.Array{ir.Int(r.rowID)}) },
	)
}

// TotalCount returns the number of events matching the query.
func (l *Log) TotalCount(ctx context.Context, q store.Queryer, query ChangelogQuery) (int, error) {
	where, args := filter(query)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events ev WHERE `+strings.Join(where, " AND "), args...).Scan(&n)
	if err != nil {
		return 0, ir.NewGeneric(err, "count changelog")
	}
	return n, nil
}

func filter(query ChangelogQuery) ([]string, []any) {
	where := []string{"1 = 1"}
	var args []any
	if query.EntityID != "" {
		where = append(where, `ev.id IN (
			SELECT ee.event_id FROM event_entities ee
			JOIN entities e ON e.id = ee.entity_id
			WHERE e.uuid = ?)`)
		args = append(args, query.EntityID)
	}
	return where, args
}

// cmp returns the comparison that selects rows after a cursor in the
// given direction.
func cmp(ascending bool) string {
	if ascending {
		return ">"
	}
	return "<"
}

// loadEntities fills in the entities of each record, sorted by id.
func (l *Log) loadEntities(ctx context.Context, q store.Queryer, records []changelogRow) error {
	if len(records) == 0 {
		return nil
	}
	byRow := make(map[int64]*ir.ChangelogEvent, len(records))
	lo, hi := records[0].rowID, records[0].rowID
	for i := range records {
		r := &records[i]
		byRow[r.rowID] = &r.event
		lo, hi = min(lo, r.rowID), max(hi, r.rowID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT ee.event_id, e.uuid, ee.entity_version, e.type, e.name
		FROM event_entities ee
		JOIN entities e ON e.id = ee.entity_id
		WHERE ee.event_id BETWEEN ? AND ?
	`, lo, hi)
	if err != nil {
		return ir.NewGeneric(err, "query changelog entities")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			eventID int64
			ent     ir.EventEntity
		)
		if err := rows.Scan(&eventID, &ent.ID, &ent.Version, &ent.Type, &ent.Name); err != nil {
			return ir.NewGeneric(err, "scan changelog entity")
		}
		if ev, ok := byRow[eventID]; ok {
			ev.Entities = append(ev.Entities, ent)
		}
	}
	if err := rows.Err(); err != nil {
		return ir.NewGeneric(err, "scan changelog entities")
	}
	for _, ev := range byRow {
		slices.SortFunc(ev.Entities, func(a, b ir.EventEntity) int { return strings.Compare(a.ID, b.ID) })
	}
	return nil
}

// SyncEvents returns the events after the query's cursor in strict
// creation order.
func (l *Log) SyncEvents(ctx context.Context, q store.Queryer, query SyncQuery) (SyncPage, error) {
	limit := query.Limit
	switch {
	case limit < 0:
		return SyncPage{}, ir.NewBadRequest("sync limit must not be negative, got %d", limit)
	case limit > l.maxPage:
		return SyncPage{}, ir.NewBadRequest("sync limit must not exceed %d, got %d", l.maxPage, limit)
	case limit == 0:
		limit = l.defaultPage
	}

	var after int64
	if query.After != "" {
		id, err := l.decodeCursor(query.After)
		if err != nil {
			return SyncPage{}, err
		}
		after = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, uuid, type, created_by, created_at, payload
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, after, limit+1)
	if err != nil {
		return SyncPage{}, ir.NewGeneric(err, "query sync events")
	}
	defer rows.Close()

	page := SyncPage{Events: []ir.SyncEvent{}, NextCursor: query.After}
	var lastRow int64
	for rows.Next() {
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		var (
			ev        ir.SyncEvent
			typ       string
			createdAt int64
			payload   string
		)
		if err := rows.Scan(&lastRow, &ev.ID, &typ, &ev.CreatedBy, &createdAt, &payload); err != nil {
			return SyncPage{}, ir.NewGeneric(err, "scan sync event")
		}
		ev.Type = ir.EventType(typ)
		ev.CreatedAt = time.UnixMicro(createdAt).UTC()
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return SyncPage{}, ir.NewGeneric(err, "decode payload of event %s", ev.ID)
		}
		page.Events = append(page.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return SyncPage{}, ir.NewGeneric(err, "scan sync events")
	}

	if len(page.Events) > 0 {
		cursor, err := l.backend.EncodeCursor(ir.Array{ir.Int(lastRow)})
		if err != nil {
			return SyncPage{}, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// decodeCursor extracts the event row id from a cursor.
func (l *Log) decodeCursor(cursor string) (int64, error) {
	keys, err := l.backend.DecodeCursor(cursor)
	if err != nil {
		return 0, err
	}
	id, ok := keys[0].(ir.Int)
	if len(keys) != 1 || !ok {
		return 0, ir.NewBadRequest("invalid event cursor %q", cursor)
	}
	return int64(id), nil
}

// NormalizeSyncEvent returns a copy of ev with set-valued payload lists
// sorted, so events from two replicas compare equal regardless of the
// order their rows were stored in.
func NormalizeSyncEvent(ev ir.SyncEvent) ir.SyncEvent {
	out := ev
	if len(ev.Payload.Entities) > 0 {
		out.Payload.Entities = slices.Clone(ev.Payload.Entities)
		slices.SortFunc(out.Payload.Entities, func(a, b ir.EntityVersionReference) int {
			if c := strings.Compare(a.ID, b.ID); c != 0 {
				return c
			}
			return a.Version - b.Version
		})
	}
	return out
}

// String renders an event as one line, for traces and CLI output.
func String(ev ir.SyncEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s by=%s", ev.Type, ev.ID, ev.CreatedBy)
	if e := ev.Payload.Entity; e != nil {
		fmt.Fprintf(&b, " entity=%s v%d %s %q", e.ID, e.Version, e.Type, e.Name)
		if ev.Payload.Publish {
			b.WriteString(" publish")
		}
	}
	for _, ref := range NormalizeSyncEvent(ev).Payload.Entities {
		fmt.Fprintf(&b, " %s@%d", ref.ID, ref.Version)
	}
	if ev.Payload.SchemaVersion != 0 {
		fmt.Fprintf(&b, " schema=v%d", ev.Payload.SchemaVersion)
	}
	return b.String()
}
