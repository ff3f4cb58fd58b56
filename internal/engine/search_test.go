package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
)

func intPtr(n int) *int { return &n }

func names[T any](conn ir.Connection[T], name func(T) string) []string {
	out := make([]string, len(conn.Edges))
	for i, e := range conn.Edges {
		out[i] = name(e.Node)
	}
	return out
}

func nameOf(e ir.Entity) string { return e.Name }

func TestSearch_PagesForward(t *testing.T) {
	f := newFixture(t).withSchema()
	for i := 1; i <= 5; i++ {
		f.person(fmt.Sprintf("P%d", i))
	}
	q := queryir.EntityQuery{EntityTypes: []string{"Person"}}

	first, err := f.repo.SearchEntities(f.ctx, alice, q, queryir.Paging{First: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, names(first, nameOf))
	assert.True(t, first.PageInfo.HasNextPage)
	assert.False(t, first.PageInfo.HasPreviousPage)

	// Inserts between pages do not shift the next page.
	f.person("P6")

	second, err := f.repo.SearchEntities(f.ctx, alice, q, queryir.Paging{First: intPtr(2), After: first.PageInfo.EndCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"P3", "P4"}, names(second, nameOf))
	assert.True(t, second.PageInfo.HasPreviousPage)

	third, err := f.repo.SearchEntities(f.ctx, alice, q, queryir.Paging{First: intPtr(10), After: second.PageInfo.EndCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"P5", "P6"}, names(third, nameOf))
	assert.False(t, third.PageInfo.HasNextPage)
}

func TestSearch_PagesBackward(t *testing.T) {
	f := newFixture(t).withSchema()
	for i := 1; i <= 4; i++ {
		f.person(fmt.Sprintf("P%d", i))
	}
	q := queryir.EntityQuery{EntityTypes: []string{"Person"}}

	last, err := f.repo.SearchEntities(f.ctx, alice, q, queryir.Paging{Last: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"P3", "P4"}, names(last, nameOf))
	assert.True(t, last.PageInfo.HasPreviousPage)

	before, err := f.repo.SearchEntities(f.ctx, alice, q, queryir.Paging{Last: intPtr(2), Before: last.PageInfo.StartCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, names(before, nameOf))
	assert.False(t, before.PageInfo.HasPreviousPage)
	assert.True(t, before.PageInfo.HasNextPage)
}

func TestSearch_OrderAndFilters(t *testing.T) {
	f := newFixture(t).withSchema()
	f.person("Charlie")
	f.person("Alice")
	bob := f.person("Bob")
	f.publish(bob.ID)
	f.post("Charlie's post", nil)

	byName, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{
		EntityTypes: []string{"Person"},
		Order:       queryir.OrderName,
	}, queryir.Paging{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, names(byName, nameOf))

	reversed, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{
		EntityTypes: []string{"Person"},
		Order:       queryir.OrderName,
		Reverse:     true,
	}, queryir.Paging{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Charlie", "Bob", "Alice"}, names(reversed, nameOf))

	published, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{
		Status: []ir.EntityStatus{ir.StatusPublished},
	}, queryir.Paging{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(published, nameOf))

	text, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{Text: "charlie"}, queryir.Paging{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Charlie", "Charlie's post"}, names(text, nameOf))

	count, err := f.repo.GetEntitiesTotalCount(f.ctx, alice, queryir.EntityQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	publishedCount, err := f.repo.GetPublishedEntitiesTotalCount(f.ctx, alice, queryir.EntityQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, publishedCount)
}

func TestSearch_PublishedSeesPublishedVersion(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")
	f.publish(e.ID)
	_, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{ID: e.ID, Fields: ir.Object{"name": ir.String("Ada L")}}, WriteOptions{})
	require.NoError(t, err)

	conn, err := f.repo.SearchPublishedEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.Paging{})
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	node := conn.Edges[0].Node
	assert.Equal(t, 1, node.Version)
	assert.Equal(t, "Ada", node.Name)
	assert.Equal(t, ir.StringValue("Ada"), node.Fields["name"])
}

func TestSearch_BoundingBox(t *testing.T) {
	f := newFixture(t).withSchema()
	f.post("Stockholm", ir.Object{"location": ir.Object{"lat": ir.Float(59.33), "lng": ir.Float(18.07)}})
	f.post("Sydney", ir.Object{"location": ir.Object{"lat": ir.Float(-33.87), "lng": ir.Float(151.21)}})

	conn, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{
		BoundingBox: &queryir.BoundingBox{MinLat: 50, MaxLat: 70, MinLng: 0, MaxLng: 30},
	}, queryir.Paging{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Stockholm"}, names(conn, nameOf))
}

func TestSearch_RejectsBadInput(t *testing.T) {
	f := newFixture(t).withSchema()

	_, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.Paging{First: intPtr(1), Last: intPtr(1)})
	requireKind(t, err, ir.ErrBadRequest)

	_, err = f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.Paging{After: "%%%"})
	requireKind(t, err, ir.ErrBadRequest)

	_, err = f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{Order: "size"}, queryir.Paging{})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestSample_Deterministic(t *testing.T) {
	f := newFixture(t).withSchema()
	for i := 1; i <= 10; i++ {
		f.person(fmt.Sprintf("P%02d", i))
	}
	seed := int64(42)
	opts := queryir.SampleOptions{Seed: &seed, Count: 4}

	a, err := f.repo.SampleEntities(f.ctx, alice, queryir.EntityQuery{}, opts)
	require.NoError(t, err)
	b, err := f.repo.SampleEntities(f.ctx, alice, queryir.EntityQuery{}, opts)
	require.NoError(t, err)

	assert.Equal(t, int64(42), a.Seed)
	assert.Equal(t, 10, a.TotalCount)
	require.Len(t, a.Items, 4)
	assert.Equal(t, a.Items, b.Items)

	seen := map[string]bool{}
	for _, e := range a.Items {
		assert.False(t, seen[e.ID], "sample repeats %s", e.ID)
		seen[e.ID] = true
	}
}

func TestSample_ChoosesSeed(t *testing.T) {
	f := newFixture(t).withSchema()
	f.person("Ada")
	f.person("Grace")

	s, err := f.repo.SampleEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.SampleOptions{Count: 5})
	require.NoError(t, err)
	assert.Len(t, s.Items, 2, "a sample never exceeds the matching entities")

	replay, err := f.repo.SampleEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.SampleOptions{Seed: &s.Seed, Count: 5})
	require.NoError(t, err)
	assert.Equal(t, s.Items, replay.Items)

	empty, err := f.repo.SamplePublishedEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.SampleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalCount)
	assert.Empty(t, empty.Items)

	_, err = f.repo.SampleEntities(f.ctx, alice, queryir.EntityQuery{}, queryir.SampleOptions{Count: -1})
	requireKind(t, err, ir.ErrBadRequest)
}
