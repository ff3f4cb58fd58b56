package engine

import (
	"context"
	"time"

	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
)

// GetChangelogEvents returns one page of the event log, oldest first
// unless query.Reverse is set.
func (r *Repository) GetChangelogEvents(ctx context.Context, query eventlog.ChangelogQuery, paging queryir.Paging) (ir.Connection[ir.ChangelogEvent], error) {
	started := time.Now()
	conn, err := r.events.Changelog(ctx, r.backend.Queryer(), query, paging)
	if err := r.observe(ctx, "getChangelogEvents", started, ir.EffectNone, err); err != nil {
		return ir.Connection[ir.ChangelogEvent]{}, err
	}
	return conn, nil
}

// GetChangelogEventsTotalCount counts the events matching query.
func (r *Repository) GetChangelogEventsTotalCount(ctx context.Context, query eventlog.ChangelogQuery) (int, error) {
	started := time.Now()
	n, err := r.events.TotalCount(ctx, r.backend.Queryer(), query)
	if err := r.observe(ctx, "getChangelogEventsTotalCount", started, ir.EffectNone, err); err != nil {
		return 0, err
	}
	return n, nil
}

// GetSyncEvents returns the events after query.After in commit order, with
// the payloads a replica needs to apply them.
func (r *Repository) GetSyncEvents(ctx context.Context, query eventlog.SyncQuery) (eventlog.SyncPage, error) {
	started := time.Now()
	page, err := r.events.SyncEvents(ctx, r.backend.Queryer(), query)
	if err := r.observe(ctx, "getSyncEvents", started, ir.EffectNone, err); err != nil {
		return eventlog.SyncPage{}, err
	}
	return page, nil
}
