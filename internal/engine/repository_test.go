package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/testutil"
)

var syncAll = eventlog.SyncQuery{Limit: 1000}

func TestRepository_EmptySchema(t *testing.T) {
	f := newFixture(t)

	spec, err := f.repo.GetSchemaSpecification(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, spec.Version)
	assert.Empty(t, spec.EntityTypes)

	_, err = f.repo.CreateEntity(f.ctx, alice, EntityCreate{Type: "BlogPost"}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_SchemaUpdate(t *testing.T) {
	f := newFixture(t)

	res, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, blogSchema)
	require.NoError(t, err)
	assert.Equal(t, ir.EffectUpdated, res.Effect)
	assert.Equal(t, 1, res.Specification.Version)

	again, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, blogSchema)
	require.NoError(t, err)
	assert.Equal(t, ir.EffectNone, again.Effect)
	assert.Equal(t, 1, again.Specification.Version)

	v1, err := f.repo.GetSchemaSpecificationVersion(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, v1.EntityTypes, 3)

	_, err = f.repo.GetSchemaSpecificationVersion(f.ctx, 2)
	requireKind(t, err, ir.ErrNotFound)

	assert.Equal(t, []ir.EventType{ir.EventUpdateSchema}, f.eventTypes())
}

func TestRepository_Lifecycle(t *testing.T) {
	f := newFixture(t).withSchema()

	created, err := f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		Type:   "BlogPost",
		Fields: ir.Object{"title": ir.String("Hello")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectCreated, created.Effect)
	e := created.Entity
	assert.Equal(t, "Hello", e.Name)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, ir.StatusDraft, e.Status)
	assert.True(t, e.ValidLatest)
	assert.Nil(t, e.ValidPublished)
	assert.Equal(t, ir.StringValue("Hello"), e.Fields["title"])

	pub := f.publish(e.ID)
	assert.Equal(t, ir.StatusPublished, pub.Status)
	assert.Equal(t, ir.EffectPublished, pub.Effect)
	assert.Equal(t, 1, pub.Version)

	updated, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"title": ir.String("Hello again")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectUpdated, updated.Effect)
	assert.Equal(t, 2, updated.Entity.Version)
	assert.Equal(t, ir.StatusModified, updated.Entity.Status)
	assert.Equal(t, "Hello again", updated.Entity.Name)

	published, err := f.repo.GetPublishedEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, published.Version)
	assert.Equal(t, ir.StringValue("Hello"), published.Fields["title"])

	old, err := f.repo.GetEntity(f.ctx, alice, ir.EntityVersionReference{ID: e.ID, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "Hello", old.Name)

	unpub, err := f.repo.UnpublishEntities(f.ctx, alice, []ir.EntityReference{{ID: e.ID}})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusWithdrawn, unpub[0].Status)
	assert.Equal(t, ir.EffectUnpublished, unpub[0].Effect)

	_, err = f.repo.GetPublishedEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
	requireKind(t, err, ir.ErrNotFound)

	assert.Equal(t, []ir.EventType{
		ir.EventUpdateSchema,
		ir.EventCreateEntity,
		ir.EventPublishEntities,
		ir.EventUpdateEntity,
		ir.EventUnpublishEntities,
	}, f.eventTypes())

	changelog, err := f.repo.GetChangelogEvents(f.ctx, eventlog.ChangelogQuery{EntityID: e.ID}, queryir.Paging{})
	require.NoError(t, err)
	require.Len(t, changelog.Edges, 4)
	publishEvent := changelog.Edges[1].Node
	assert.Equal(t, ir.EventPublishEntities, publishEvent.Type)
	assert.Equal(t, "alice", publishEvent.CreatedBy)
	require.Len(t, publishEvent.Entities, 1)
	assert.Equal(t, e.ID, publishEvent.Entities[0].ID)
	assert.Equal(t, 1, publishEvent.Entities[0].Version)

	total, err := f.repo.GetChangelogEventsTotalCount(f.ctx, eventlog.ChangelogQuery{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestRepository_CreateAndPublish(t *testing.T) {
	f := newFixture(t).withSchema()

	res, err := f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		Type:   "Person",
		Fields: ir.Object{"name": ir.String("Ada")},
	}, WriteOptions{Publish: true})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPublished, res.Entity.Status)
	require.NotNil(t, res.Entity.ValidPublished)
	assert.True(t, *res.Entity.ValidPublished)

	// One mutation, one event.
	assert.Equal(t, []ir.EventType{ir.EventUpdateSchema, ir.EventCreateEntity}, f.eventTypes())
}

func TestRepository_VersionsAreMonotonic(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	for i, name := range []string{"Ada L", "Ada Lovelace", "Ada King"} {
		res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
			ID:     e.ID,
			Fields: ir.Object{"name": ir.String(name)},
		}, WriteOptions{})
		require.NoError(t, err)
		assert.Equal(t, i+2, res.Entity.Version)
	}
}

func TestRepository_UpdateExpectedVersion(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	_, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:      e.ID,
		Version: 1,
		Fields:  ir.Object{"name": ir.String("Ada L")},
	}, WriteOptions{})
	require.NoError(t, err)

	_, err = f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:      e.ID,
		Version: 1,
		Fields:  ir.Object{"name": ir.String("Ada K")},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrConflict)
	assert.Equal(t, "Ada L", f.get(e.ID).Name)
}

func TestRepository_IdenticalUpdateIsNone(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"name": ir.String("Ada")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectNone, res.Effect)
	assert.Equal(t, 1, res.Entity.Version)
	assert.Equal(t, []ir.EventType{ir.EventUpdateSchema, ir.EventCreateEntity}, f.eventTypes())
}

func TestRepository_UpdateMergesFields(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.post("Hello", ir.Object{"category": ir.String("news"), "slug": ir.String("hello")})

	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"category": ir.Null{}},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.NotContains(t, res.Entity.Fields, "category")
	assert.Equal(t, ir.StringValue("hello"), res.Entity.Fields["slug"])
	assert.Equal(t, ir.StringValue("Hello"), res.Entity.Fields["title"])
}

func TestRepository_UpdateRejectsTypeAndAuthKeyChanges(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	_, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{ID: e.ID, Type: "BlogPost"}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)

	_, err = f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{ID: e.ID, AuthKey: auth.KeySubject}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_Upsert(t *testing.T) {
	f := newFixture(t).withSchema()
	id := "00000000-0000-4000-8000-00000000abcd"

	res, err := f.repo.UpsertEntity(f.ctx, alice, EntityCreate{
		ID:     id,
		Type:   "Person",
		Fields: ir.Object{"name": ir.String("Ada")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectCreated, res.Effect)
	assert.Equal(t, id, res.Entity.ID)

	res, err = f.repo.UpsertEntity(f.ctx, alice, EntityCreate{
		ID:     id,
		Type:   "Person",
		Fields: ir.Object{"name": ir.String("Grace")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectUpdated, res.Effect)
	assert.Equal(t, 2, res.Entity.Version)

	_, err = f.repo.UpsertEntity(f.ctx, alice, EntityCreate{Type: "Person"}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_CreateRejectsMalformedFields(t *testing.T) {
	f := newFixture(t).withSchema()

	_, err := f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		Type:   "BlogPost",
		Fields: ir.Object{"title": ir.Int(3)},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)

	_, err = f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		Type:   "BlogPost",
		Fields: ir.Object{"title": ir.String("x"), "unknown": ir.String("y")},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)

	assert.Equal(t, []ir.EventType{ir.EventUpdateSchema}, f.eventTypes())
}

func TestRepository_CreateRejectsDuplicateID(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	_, err := f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		ID:     e.ID,
		Type:   "Person",
		Fields: ir.Object{"name": ir.String("Grace")},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrConflict)

	_, err = f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		ID:     "not-a-uuid",
		Type:   "Person",
		Fields: ir.Object{"name": ir.String("Grace")},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_InvalidValuesAreStoredButNotPublished(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.post("Hello", ir.Object{"category": ir.String("sports")})
	assert.False(t, e.ValidLatest)

	_, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: e.ID}})
	ierr := requireKind(t, err, ir.ErrBadRequest)
	require.NotEmpty(t, ierr.Issues)
	assert.Equal(t, "category", ierr.Issues[0].Path.String())
	assert.Equal(t, ir.StatusDraft, f.get(e.ID).Status)
}

func TestRepository_MissingRequiredFieldBlocksPublish(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.create(alice, EntityCreate{Type: "BlogPost", Name: "Untitled"})
	assert.True(t, e.ValidLatest, "required fields only block publishing")

	_, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: e.ID}})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_PublishAggregatesFailures(t *testing.T) {
	f := newFixture(t).withSchema()
	good := f.person("Ada")
	bad1 := f.post("One", ir.Object{"category": ir.String("sports")})
	bad2 := f.post("Two", ir.Object{"category": ir.String("cooking")})

	_, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{
		{ID: good.ID}, {ID: bad1.ID}, {ID: bad2.ID},
	})
	ierr := requireKind(t, err, ir.ErrBadRequest)
	assert.Contains(t, ierr.Message, "2 of 3")
	require.Len(t, ierr.Issues, 2)
	assert.Equal(t, bad1.ID, ierr.Issues[0].Path[0])
	assert.Equal(t, bad2.ID, ierr.Issues[1].Path[0])

	// All or nothing.
	assert.Equal(t, ir.StatusDraft, f.get(good.ID).Status)
	assert.NotContains(t, f.eventTypes(), ir.EventPublishEntities)
}

func TestRepository_PublishOlderVersion(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")
	_, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{ID: e.ID, Fields: ir.Object{"name": ir.String("Ada L")}}, WriteOptions{})
	require.NoError(t, err)

	res, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: e.ID, Version: 1}})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusModified, res[0].Status)

	again, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: e.ID, Version: 1}})
	require.NoError(t, err)
	assert.Equal(t, ir.EffectNone, again[0].Effect)

	_, err = f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: e.ID, Version: 9}})
	requireKind(t, err, ir.ErrNotFound)
}

func TestRepository_AdminOnlyTypeCannotBePublished(t *testing.T) {
	f := newFixture(t).withSchema()
	note := f.create(alice, EntityCreate{Type: "Note", Name: "todo", Fields: ir.Object{"text": ir.String("x")}})

	_, err := f.repo.PublishEntities(f.ctx, alice, []ir.EntityVersionReference{{ID: note.ID}})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_ArchiveAndUnarchive(t *testing.T) {
	f := newFixture(t).withSchema()

	t.Run("draft", func(t *testing.T) {
		e := f.person("Draft")
		res, err := f.repo.ArchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		require.NoError(t, err)
		assert.Equal(t, ir.StatusArchived, res.Status)
		assert.Equal(t, ir.EffectArchived, res.Effect)

		again, err := f.repo.ArchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		require.NoError(t, err)
		assert.Equal(t, ir.EffectNone, again.Effect)

		res, err = f.repo.UnarchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		require.NoError(t, err)
		assert.Equal(t, ir.StatusDraft, res.Status)
	})

	t.Run("published", func(t *testing.T) {
		e := f.person("Published")
		f.publish(e.ID)

		_, err := f.repo.ArchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		requireKind(t, err, ir.ErrBadRequest)

		_, err = f.repo.UnpublishEntities(f.ctx, alice, []ir.EntityReference{{ID: e.ID}})
		require.NoError(t, err)
		_, err = f.repo.ArchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		require.NoError(t, err)

		res, err := f.repo.UnarchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
		require.NoError(t, err)
		assert.Equal(t, ir.StatusModified, res.Status)
		assert.Equal(t, ir.StatusModified, f.get(e.ID).Status)
	})
}

func TestRepository_UpdateAfterUnpublishIsModified(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")
	f.publish(e.ID)

	unpub, err := f.repo.UnpublishEntities(f.ctx, alice, []ir.EntityReference{{ID: e.ID}})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusWithdrawn, unpub[0].Status)

	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"name": ir.String("Grace")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entity.Version)
	assert.Equal(t, ir.StatusModified, res.Entity.Status)
	assert.Equal(t, ir.StatusModified, f.get(e.ID).Status)

	// Nothing is published, so it still cannot be archived.
	_, err = f.repo.ArchiveEntity(f.ctx, alice, ir.EntityReference{ID: e.ID})
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_NameCollisionGetsSuffix(t *testing.T) {
	f := newFixture(t).withSchema()
	first := f.person("Ada")
	second := f.person("Ada")

	assert.Equal(t, "Ada", first.Name)
	assert.Regexp(t, `^Ada#\d{6}$`, second.Name)

	// Updating without a name change keeps the suffix.
	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     second.ID,
		Fields: ir.Object{"name": ir.String("Ada")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, second.Name, res.Entity.Name)
}

func TestRepository_NamesAreNormalized(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("  Café ")
	assert.Equal(t, "Café", e.Name)
}

func TestRepository_UniqueIndexConflict(t *testing.T) {
	f := newFixture(t).withSchema()
	first := f.post("One", ir.Object{"slug": ir.String("hello")})

	_, err := f.repo.CreateEntity(f.ctx, alice, EntityCreate{
		Type:   "BlogPost",
		Fields: ir.Object{"title": ir.String("Two"), "slug": ir.String("hello")},
	}, WriteOptions{})
	ierr := requireKind(t, err, ir.ErrConflict)
	assert.Equal(t, "slug", ierr.Details["index"])

	// The owner can keep and republish its own value.
	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     first.ID,
		Fields: ir.Object{"title": ir.String("One again")},
	}, WriteOptions{Publish: true})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPublished, res.Entity.Status)
}

func TestRepository_FailedEventRollsBackMutation(t *testing.T) {
	backend := openBackend(t)
	f := newFixtureOn(t, backend).withSchema()
	e := f.person("Ada")

	// The broken repository shares the database, so it must not reuse the
	// event ids the first one already wrote.
	broken := newFixtureOn(t, failingBackend{Backend: backend, failOn: "INSERT INTO event_entities"},
		WithEventIDGenerator(testutil.NewSequentialUUIDs(9)),
	)
	_, err := broken.repo.UpdateEntity(broken.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"name": ir.String("Grace")},
	}, WriteOptions{})
	requireKind(t, err, ir.ErrGeneric)
	assert.ErrorIs(t, err, errInjected)

	after := f.get(e.ID)
	assert.Equal(t, 1, after.Version)
	assert.Equal(t, "Ada", after.Name)
	assert.Equal(t, []ir.EventType{ir.EventUpdateSchema, ir.EventCreateEntity}, f.eventTypes())
}

func TestRepository_Authorization(t *testing.T) {
	f := newFixture(t).withSchema()
	private := f.create(alice, EntityCreate{
		Type:    "Person",
		AuthKey: auth.KeySubject,
		Fields:  ir.Object{"name": ir.String("Secret")},
	})
	assert.Equal(t, auth.KeySubject, private.AuthKey)

	_, err := f.repo.GetEntity(f.ctx, alice, ir.EntityVersionReference{ID: private.ID})
	require.NoError(t, err)

	_, err = f.repo.GetEntity(f.ctx, bob, ir.EntityVersionReference{ID: private.ID})
	requireKind(t, err, ir.ErrNotAuthorized)

	_, err = f.repo.GetEntity(f.ctx, auth.Session{}, ir.EntityVersionReference{ID: private.ID})
	requireKind(t, err, ir.ErrNotAuthorized)

	_, err = f.repo.UpdateEntity(f.ctx, bob, EntityUpdate{ID: private.ID, Fields: ir.Object{"name": ir.String("Mine")}}, WriteOptions{})
	requireKind(t, err, ir.ErrNotAuthorized)

	q := queryir.EntityQuery{AuthKeys: []string{auth.KeySubject}}
	mine, err := f.repo.GetEntitiesTotalCount(f.ctx, alice, q)
	require.NoError(t, err)
	assert.Equal(t, 1, mine)
	theirs, err := f.repo.GetEntitiesTotalCount(f.ctx, bob, q)
	require.NoError(t, err)
	assert.Equal(t, 0, theirs)
}

func TestRepository_GetEntities(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.person("Ada")

	results, err := f.repo.GetEntities(f.ctx, alice, []ir.EntityVersionReference{
		{ID: e.ID},
		{ID: "00000000-0000-4000-8000-000000000999"},
		{ID: e.ID, Version: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NotNil(t, results[0].Entity)
	assert.Equal(t, "Ada", results[0].Entity.Name)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, ir.ErrNotFound, results[1].Err.Kind)
	require.NotNil(t, results[2].Err)
	assert.Equal(t, ir.ErrNotFound, results[2].Err.Kind)
}

func TestRepository_ReferencesAreValidated(t *testing.T) {
	f := newFixture(t).withSchema()
	ada := f.person("Ada")
	post := f.post("By Ada", ir.Object{"author": ir.Object{"id": ir.String(ada.ID)}})
	assert.True(t, post.ValidLatest)

	dangling := f.post("By nobody", ir.Object{"author": ir.Object{"id": ir.String("00000000-0000-4000-8000-000000000999")}})
	assert.False(t, dangling.ValidLatest)

	wrongType := f.post("By a post", ir.Object{"author": ir.Object{"id": ir.String(post.ID)}})
	assert.False(t, wrongType.ValidLatest)

	links, err := f.repo.SearchEntities(f.ctx, alice, queryir.EntityQuery{LinksTo: ada.ID}, queryir.Paging{})
	require.NoError(t, err)
	require.Len(t, links.Edges, 1)
	assert.Equal(t, post.ID, links.Edges[0].Node.ID)
}

func TestRepository_SchemaRenameType(t *testing.T) {
	f := newFixture(t).withSchema()
	e := f.post("Hello", ir.Object{"slug": ir.String("hello")})

	_, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, schema.SpecificationUpdate{
		Migrations: []schema.Migration{{Actions: []schema.MigrationAction{
			{Action: schema.ActionRenameType, EntityType: "BlogPost", NewName: "Article"},
			{Action: schema.ActionRenameField, EntityType: "Article", Field: "slug", NewName: "path"},
		}}},
	})
	require.NoError(t, err)

	got := f.get(e.ID)
	assert.Equal(t, "Article", got.Type)
	assert.Equal(t, ir.StringValue("hello"), got.Fields["path"])
	assert.NotContains(t, got.Fields, "slug")

	count, err := f.repo.GetEntitiesTotalCount(f.ctx, alice, queryir.EntityQuery{EntityTypes: []string{"Article"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Updates write the migrated document.
	res, err := f.repo.UpdateEntity(f.ctx, alice, EntityUpdate{
		ID:     e.ID,
		Fields: ir.Object{"path": ir.String("hello-2")},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, ir.StringValue("hello-2"), res.Entity.Fields["path"])
}

func TestRepository_SchemaDeleteTypeWithEntities(t *testing.T) {
	f := newFixture(t).withSchema()
	f.person("Ada")

	_, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, schema.SpecificationUpdate{
		Migrations: []schema.Migration{{Actions: []schema.MigrationAction{
			{Action: schema.ActionDeleteType, EntityType: "Person"},
		}}},
	})
	requireKind(t, err, ir.ErrBadRequest)

	spec, err := f.repo.GetSchemaSpecification(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Version)
}

func TestRepository_Revalidate(t *testing.T) {
	f := newFixture(t).withSchema()
	news := f.post("News", ir.Object{"category": ir.String("news")})
	tech := f.post("Tech", ir.Object{"category": ir.String("tech")})

	_, err := f.repo.UpdateSchemaSpecification(f.ctx, alice, schema.SpecificationUpdate{
		EntityTypes: []schema.EntityTypeSpec{{
			Name:      "BlogPost",
			NameField: "title",
			Fields: []schema.FieldSpec{
				{Name: "category", Type: schema.KindString, Values: []string{"news"}},
			},
		}},
	})
	require.NoError(t, err)

	n, err := f.repo.MarkEntitiesDirty(f.ctx, []string{"BlogPost"}, ir.DirtyValidate)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var processed []BackgroundResult
	for {
		res, err := f.repo.RevalidateNextEntity(f.ctx)
		require.NoError(t, err)
		if res == nil {
			break
		}
		processed = append(processed, *res)
	}
	require.Len(t, processed, 2)
	assert.True(t, f.get(news.ID).ValidLatest)
	assert.False(t, f.get(tech.ID).ValidLatest)

	_, err = f.repo.MarkEntitiesDirty(f.ctx, []string{"BlogPost"}, 64)
	requireKind(t, err, ir.ErrBadRequest)
}

func TestRepository_ReindexMarksCollisionsInvalid(t *testing.T) {
	f := newFixture(t).withSchema()
	one := f.post("One", ir.Object{"slug": ir.String("a")})
	f.post("Two", ir.Object{"slug": ir.String("b")})

	_, err := f.backend.Queryer().ExecContext(f.ctx, `DELETE FROM unique_index_values`)
	require.NoError(t, err)
	_, err = f.backend.Queryer().ExecContext(f.ctx,
		`UPDATE entity_versions SET fields = '{"slug":"b","title":"One"}' WHERE entity_id = (SELECT id FROM entities WHERE uuid = ?)`, one.ID)
	require.NoError(t, err)

	_, err = f.repo.MarkEntitiesDirty(f.ctx, []string{"BlogPost"}, ir.DirtyIndex)
	require.NoError(t, err)

	first, err := f.repo.ReindexNextEntity(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.ValidLatest)

	second, err := f.repo.ReindexNextEntity(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.False(t, second.ValidLatest)

	none, err := f.repo.ReindexNextEntity(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepository_AdvisoryLocks(t *testing.T) {
	f := newFixture(t)

	lock, err := f.repo.AcquireAdvisoryLock(f.ctx, "reindex", time.Minute)
	require.NoError(t, err)
	assert.Positive(t, lock.Handle)

	_, err = f.repo.AcquireAdvisoryLock(f.ctx, "reindex", time.Minute)
	requireKind(t, err, ir.ErrConflict)

	renewed, err := f.repo.RenewAdvisoryLock(f.ctx, "reindex", lock.Handle)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lock.ExpiresAt))

	_, err = f.repo.RenewAdvisoryLock(f.ctx, "reindex", lock.Handle+1)
	requireKind(t, err, ir.ErrNotFound)

	f.clock.Advance(2 * time.Minute)
	_, err = f.repo.RenewAdvisoryLock(f.ctx, "reindex", lock.Handle)
	requireKind(t, err, ir.ErrNotFound)

	next, err := f.repo.AcquireAdvisoryLock(f.ctx, "reindex", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.repo.ReleaseAdvisoryLock(f.ctx, "reindex", next.Handle))

	err = f.repo.ReleaseAdvisoryLock(f.ctx, "reindex", next.Handle)
	requireKind(t, err, ir.ErrNotFound)
}
