package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/testutil"
)

func traceOf(t *testing.T, f *fixture) []string {
	t.Helper()
	page, err := f.repo.GetSyncEvents(f.ctx, syncAll)
	require.NoError(t, err)
	out := make([]string, len(page.Events))
	for i, ev := range page.Events {
		out[i] = eventlog.String(ev)
	}
	return out
}

func TestApplySyncEvent_ReplicatesRepository(t *testing.T) {
	source := newFixture(t).withSchema()
	ada := source.person("Ada")
	post := source.post("Hello", ir.Object{
		"author": ir.Object{"id": ir.String(ada.ID)},
		"slug":   ir.String("hello"),
	})
	source.publish(post.ID)
	_, err := source.repo.UpdateEntity(source.ctx, alice, EntityUpdate{
		ID:     post.ID,
		Fields: ir.Object{"title": ir.String("Hello again")},
	}, WriteOptions{Publish: true})
	require.NoError(t, err)
	_, err = source.repo.ArchiveEntity(source.ctx, alice, ir.EntityReference{ID: ada.ID})
	require.NoError(t, err)

	feed, err := source.repo.GetSyncEvents(source.ctx, syncAll)
	require.NoError(t, err)
	require.Len(t, feed.Events, 6)

	replica := newFixture(t, WithUUIDGenerator(testutil.NewSequentialUUIDs(5)))
	for _, ev := range feed.Events {
		effect, err := replica.repo.ApplySyncEvent(replica.ctx, ev)
		require.NoError(t, err, "apply %s", eventlog.String(ev))
		assert.NotEqual(t, ir.EffectNone, effect)
	}

	assert.Equal(t, traceOf(t, source), traceOf(t, replica))

	got, err := replica.repo.GetEntity(replica.ctx, alice, ir.EntityVersionReference{ID: post.ID})
	require.NoError(t, err)
	want := source.get(post.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Fields, got.Fields)
	assert.Equal(t, want.UpdatedAt, got.UpdatedAt)

	archived, err := replica.repo.GetEntity(replica.ctx, alice, ir.EntityVersionReference{ID: ada.ID})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusArchived, archived.Status)

	// Replay is idempotent.
	for _, ev := range feed.Events {
		effect, err := replica.repo.ApplySyncEvent(replica.ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, ir.EffectNone, effect)
	}
	assert.Equal(t, traceOf(t, source), traceOf(t, replica))
}

func TestApplySyncEvent_RejectsGaps(t *testing.T) {
	source := newFixture(t).withSchema()
	e := source.person("Ada")
	for _, name := range []string{"Ada L", "Ada K"} {
		_, err := source.repo.UpdateEntity(source.ctx, alice, EntityUpdate{
			ID:     e.ID,
			Fields: ir.Object{"name": ir.String(name)},
		}, WriteOptions{})
		require.NoError(t, err)
	}
	feed, err := source.repo.GetSyncEvents(source.ctx, syncAll)
	require.NoError(t, err)
	require.Len(t, feed.Events, 4)

	replica := newFixture(t)

	// An entity event before its schema.
	_, err = replica.repo.ApplySyncEvent(replica.ctx, feed.Events[1])
	requireKind(t, err, ir.ErrConflict)

	for _, ev := range feed.Events[:2] {
		_, err := replica.repo.ApplySyncEvent(replica.ctx, ev)
		require.NoError(t, err)
	}

	// Version 3 cannot follow version 1.
	_, err = replica.repo.ApplySyncEvent(replica.ctx, feed.Events[3])
	requireKind(t, err, ir.ErrConflict)

	_, err = replica.repo.ApplySyncEvent(replica.ctx, ir.SyncEvent{ID: "x", Type: "dropEntity"})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestGetSyncEvents_Cursor(t *testing.T) {
	f := newFixture(t).withSchema()
	f.person("Ada")
	f.person("Grace")

	first, err := f.repo.GetSyncEvents(f.ctx, eventlog.SyncQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	assert.True(t, first.HasMore)

	rest, err := f.repo.GetSyncEvents(f.ctx, eventlog.SyncQuery{After: first.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rest.Events, 1)
	assert.False(t, rest.HasMore)

	idle, err := f.repo.GetSyncEvents(f.ctx, eventlog.SyncQuery{After: rest.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, idle.Events)
	assert.Equal(t, rest.NextCursor, idle.NextCursor)
}
