package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
	"github.com/roach88/folio/internal/testutil"
)

var (
	alice = auth.Session{Subject: "alice"}
	bob   = auth.Session{Subject: "bob"}
)

// blogSchema is the schema most repository tests run against.
var blogSchema = schema.SpecificationUpdate{
	EntityTypes: []schema.EntityTypeSpec{
		{
			Name:      "BlogPost",
			NameField: "title",
			Fields: []schema.FieldSpec{
				{Name: "title", Type: schema.KindString, Required: true},
				{Name: "slug", Type: schema.KindString, Index: "slug"},
				{Name: "category", Type: schema.KindString, Values: []string{"news", "tech"}},
				{Name: "author", Type: schema.KindReference, EntityTypes: []string{"Person"}},
				{Name: "location", Type: schema.KindLocation},
			},
		},
		{
			Name:      "Person",
			NameField: "name",
			Fields: []schema.FieldSpec{
				{Name: "name", Type: schema.KindString, Required: true},
			},
		},
		{
			Name:      "Note",
			AdminOnly: true,
			Fields: []schema.FieldSpec{
				{Name: "text", Type: schema.KindString},
			},
		},
	},
	Indexes: []schema.IndexSpec{{Name: "slug", Type: schema.IndexUnique}},
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	repo    *Repository
	backend store.Backend
	clock   *testutil.ManualClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openBackend opens a fresh SQLite repository database.
func openBackend(t *testing.T) store.Backend {
	t.Helper()
	backend, err := store.OpenSQLite(filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	return backend
}

// newFixture opens a repository with a manual clock and sequential ids.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, openBackend(t), opts...)
}

func newFixtureOn(t *testing.T, backend store.Backend, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewManualClock()
	base := []Option{
		WithClock(clock),
		WithUUIDGenerator(testutil.NewSequentialUUIDs(1)),
		WithEventIDGenerator(testutil.NewSequentialUUIDs(2)),
		WithLogger(discardLogger()),
		WithRandomSeed(7),
	}
	repo, err := New(backend, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return &fixture{t: t, ctx: context.Background(), repo: repo, backend: backend, clock: clock}
}

// withSchema applies blogSchema.
func (f *fixture) withSchema() *fixture {
	f.t.Helper()
	_, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, blogSchema)
	require.NoError(f.t, err)
	return f
}

func (f *fixture) create(session auth.Session, in EntityCreate) ir.Entity {
	f.t.Helper()
	res, err := f.repo.CreateEntity(f.ctx, session, in, WriteOptions{})
	require.NoError(f.t, err)
	return res.Entity
}

func (f *fixture) person(name string) ir.Entity {
	f.t.Helper()
	return f.create(alice, EntityCreate{Type: "Person", Fields: ir.Object{"name": ir.String(name)}})
}

func (f *fixture) post(title string, extra ir.Object) ir.Entity {
	f.t.Helper()
	fields := ir.Object{"title": ir.String(title)}
	for k, v := range extra {
		fields[k] = v
	}
	return f.create(alice, EntityCreate{Type: "BlogPost", Fields: fields})
}

func (f *fixture) publish(id string) StatusResult {
	f.t.Helper()
	res, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: id}})
	require.NoError(f.t, err)
	require.Len(f.t, res, 1)
	return res[0]
}

func (f *fixture) get(id string) ir.Entity {
	f.t.Helper()
	e, err := f.repo.GetEntity(f.ctx, alice, ir.EntityVersionReference{ID: id})
	require.NoError(f.t, err)
	return e
}

// eventTypes lists the types of every logged event, oldest first.
func (f *fixture) eventTypes() []ir.EventType {
	f.t.Helper()
	page, err := f.repo.GetSyncEvents(f.ctx, syncAll)
	require.NoError(f.t, err)
	types := make([]ir.EventType, len(page.Events))
	for i, ev := range page.Events {
		types[i] = ev.Type
	}
	return types
}

func requireKind(t *testing.T, err error, kind ir.ErrorKind) *ir.Error {
	t.Helper()
	require.Error(t, err)
	e := ir.AsError(err)
	require.Equal(t, kind, e.Kind, "unexpected error: %v", err)
	return e
}

// failingBackend fails every transactional statement containing failOn,
// to check that a failed step rolls back the whole mutation.
type failingBackend struct {
	store.Backend
	failOn string
}

func (b failingBackend) WithTransaction(ctx context.Context, fn func(tx store.Queryer) error) error {
	return b.Backend.WithTransaction(ctx, func(tx store.Queryer) error {
		return fn(failingQueryer{Queryer: tx, failOn: b.failOn})
	})
}

type failingQueryer struct {
	store.Queryer
	failOn string
}

var errInjected = errors.New("injected failure")

func (q failingQueryer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if strings.Contains(query, q.failOn) {
		return nil, errInjected
	}
	return q.Queryer.ExecContext(ctx, query, args...)
}
