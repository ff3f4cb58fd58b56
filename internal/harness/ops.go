package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/schema"
)

// outcome is what a step observed.
type outcome struct {
	output any
	effect ir.Effect
	// bind is the value Step.As binds: an entity id or a lock handle.
	bind any
	// names lists the entity names a search or sample returned.
	names []string
	count *int
}

type operation func(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error)

// operations maps step ops to repository calls.
var operations = map[string]operation{
	"updateSchema":                   opUpdateSchema,
	"getSchema":                      opGetSchema,
	"createEntity":                   opCreateEntity,
	"updateEntity":                   opUpdateEntity,
	"upsertEntity":                   opUpsertEntity,
	"getEntity":                      opGetEntity,
	"getPublishedEntity":             opGetPublishedEntity,
	"publishEntities":                opPublishEntities,
	"unpublishEntities":              opUnpublishEntities,
	"archiveEntity":                  opArchive(true),
	"unarchiveEntity":                opArchive(false),
	"searchEntities":                 opSearchEntities,
	"searchPublishedEntities":        opSearchPublishedEntities,
	"getEntitiesTotalCount":          opTotalCount(false),
	"getPublishedEntitiesTotalCount": opTotalCount(true),
	"sampleEntities":                 opSampleEntities,
	"samplePublishedEntities":        opSamplePublishedEntities,
	"getChangelogEvents":             opGetChangelogEvents,
	"acquireAdvisoryLock":            opAcquireLock,
	"renewAdvisoryLock":              opRenewLock,
	"releaseAdvisoryLock":            opReleaseLock,
	"markEntitiesDirty":              opMarkDirty,
	"revalidateNextEntity":           opBackground(false),
	"reindexNextEntity":              opBackground(true),
}

// argsError reports step arguments that do not decode. It fails the
// scenario instead of the step.
type argsError struct {
	err error
}

func (e *argsError) Error() string {
	return fmt.Sprintf("invalid args: %v", e.err)
}

func (e *argsError) Unwrap() error {
	return e.err
}

// decodeArgs decodes step args into out, rejecting unknown keys.
func decodeArgs(args []byte, out any) error {
	if len(args) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &argsError{err: err}
	}
	return nil
}

func opUpdateSchema(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	update, err := schema.LoadJSON(args)
	if err != nil {
		return outcome{}, &argsError{err: err}
	}
	res, err := repo.UpdateSchemaSpecification(ctx, session, update)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: res, effect: res.Effect}, nil
}

func opGetSchema(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in struct {
		Version int `json:"version"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	var (
		spec schema.Specification
		err  error
	)
	if in.Version > 0 {
		spec, err = repo.GetSchemaSpecificationVersion(ctx, in.Version)
	} else {
		spec, err = repo.GetSchemaSpecification(ctx)
	}
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: spec}, nil
}

type createArgs struct {
	engine.EntityCreate
	engine.WriteOptions
}

type updateArgs struct {
	engine.EntityUpdate
	engine.WriteOptions
}

func writeOutcome(res engine.EntityResult) outcome {
	return outcome{output: codec.EncodeEntity(res.Entity), effect: res.Effect, bind: res.Entity.ID}
}

func opCreateEntity(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in createArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	res, err := repo.CreateEntity(ctx, session, in.EntityCreate, in.WriteOptions)
	if err != nil {
		return outcome{}, err
	}
	return writeOutcome(res), nil
}

func opUpdateEntity(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in updateArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	res, err := repo.UpdateEntity(ctx, session, in.EntityUpdate, in.WriteOptions)
	if err != nil {
		return outcome{}, err
	}
	return writeOutcome(res), nil
}

func opUpsertEntity(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in createArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	res, err := repo.UpsertEntity(ctx, session, in.EntityCreate, in.WriteOptions)
	if err != nil {
		return outcome{}, err
	}
	return writeOutcome(res), nil
}

func opGetEntity(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var ref ir.EntityVersionReference
	if err := decodeArgs(args, &ref); err != nil {
		return outcome{}, err
	}
	e, err := repo.GetEntity(ctx, session, ref)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: codec.EncodeEntity(e), bind: e.ID}, nil
}

func opGetPublishedEntity(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var ref ir.EntityReference
	if err := decodeArgs(args, &ref); err != nil {
		return outcome{}, err
	}
	e, err := repo.GetPublishedEntity(ctx, session, ref)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: codec.EncodePublished(e), bind: e.ID}, nil
}

// statusOutcome reports the effect of a single-entity status change.
func statusOutcome(res []engine.StatusResult) outcome {
	out := outcome{output: res}
	if len(res) == 1 {
		out.effect = res[0].Effect
		out.bind = res[0].ID
	}
	return out
}

func opPublishEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in struct {
		Entities []ir.EntityVersionReference `json:"entities"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	res, err := repo.PublishEntities(ctx, session, in.Entities)
	if err != nil {
		return outcome{}, err
	}
	return statusOutcome(res), nil
}

func opUnpublishEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in struct {
		Entities []ir.EntityReference `json:"entities"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	res, err := repo.UnpublishEntities(ctx, session, in.Entities)
	if err != nil {
		return outcome{}, err
	}
	return statusOutcome(res), nil
}

func opArchive(archive bool) operation {
	return func(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
		var ref ir.EntityReference
		if err := decodeArgs(args, &ref); err != nil {
			return outcome{}, err
		}
		change := repo.UnarchiveEntity
		if archive {
			change = repo.ArchiveEntity
		}
		res, err := change(ctx, session, ref)
		if err != nil {
			return outcome{}, err
		}
		return outcome{output: res, effect: res.Effect, bind: res.ID}, nil
	}
}

type searchArgs struct {
	Query  queryir.EntityQuery `json:"query"`
	Paging queryir.Paging      `json:"paging"`
}

func opSearchEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in searchArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	conn, err := repo.SearchEntities(ctx, session, in.Query, in.Paging)
	if err != nil {
		return outcome{}, err
	}
	names := make([]string, len(conn.Edges))
	edges := make([]ir.Edge[codec.EntityDocument], len(conn.Edges))
	for i, e := range conn.Edges {
		names[i] = e.Node.Name
		edges[i] = ir.Edge[codec.EntityDocument]{Cursor: e.Cursor, Node: codec.EncodeEntity(e.Node)}
	}
	n := len(names)
	return outcome{
		output: ir.Connection[codec.EntityDocument]{Edges: edges, PageInfo: conn.PageInfo},
		names:  names,
		count:  &n,
	}, nil
}

func opSearchPublishedEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in searchArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	conn, err := repo.SearchPublishedEntities(ctx, session, in.Query, in.Paging)
	if err != nil {
		return outcome{}, err
	}
	names := make([]string, len(conn.Edges))
	edges := make([]ir.Edge[codec.PublishedDocument], len(conn.Edges))
	for i, e := range conn.Edges {
		names[i] = e.Node.Name
		edges[i] = ir.Edge[codec.PublishedDocument]{Cursor: e.Cursor, Node: codec.EncodePublished(e.Node)}
	}
	n := len(names)
	return outcome{
		output: ir.Connection[codec.PublishedDocument]{Edges: edges, PageInfo: conn.PageInfo},
		names:  names,
		count:  &n,
	}, nil
}

func opTotalCount(published bool) operation {
	return func(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
		var in struct {
			Query queryir.EntityQuery `json:"query"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return outcome{}, err
		}
		count := repo.GetEntitiesTotalCount
		if published {
			count = repo.GetPublishedEntitiesTotalCount
		}
		n, err := count(ctx, session, in.Query)
		if err != nil {
			return outcome{}, err
		}
		return outcome{output: map[string]int{"totalCount": n}, count: &n}, nil
	}
}

type sampleArgs struct {
	Query   queryir.EntityQuery   `json:"query"`
	Options queryir.SampleOptions `json:"options"`
}

func opSampleEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in sampleArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	s, err := repo.SampleEntities(ctx, session, in.Query, in.Options)
	if err != nil {
		return outcome{}, err
	}
	names := make([]string, len(s.Items))
	items := make([]codec.EntityDocument, len(s.Items))
	for i, e := range s.Items {
		names[i] = e.Name
		items[i] = codec.EncodeEntity(e)
	}
	n := len(names)
	return outcome{
		output: engine.Sample[codec.EntityDocument]{Seed: s.Seed, TotalCount: s.TotalCount, Items: items},
		names:  names,
		count:  &n,
	}, nil
}

func opSamplePublishedEntities(ctx context.Context, repo *engine.Repository, session auth.Session, args []byte) (outcome, error) {
	var in sampleArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	s, err := repo.SamplePublishedEntities(ctx, session, in.Query, in.Options)
	if err != nil {
		return outcome{}, err
	}
	names := make([]string, len(s.Items))
	items := make([]codec.PublishedDocument, len(s.Items))
	for i, e := range s.Items {
		names[i] = e.Name
		items[i] = codec.EncodePublished(e)
	}
	n := len(names)
	return outcome{
		output: engine.Sample[codec.PublishedDocument]{Seed: s.Seed, TotalCount: s.TotalCount, Items: items},
		names:  names,
		count:  &n,
	}, nil
}

func opGetChangelogEvents(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in struct {
		Query  eventlog.ChangelogQuery `json:"query"`
		Paging queryir.Paging          `json:"paging"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	conn, err := repo.GetChangelogEvents(ctx, in.Query, in.Paging)
	if err != nil {
		return outcome{}, err
	}
	n := len(conn.Edges)
	return outcome{output: conn, count: &n}, nil
}

type lockArgs struct {
	Name   string `json:"name"`
	Lease  string `json:"lease,omitempty"`
	Handle int32  `json:"handle,omitempty"`
}

func opAcquireLock(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in lockArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	lease, err := time.ParseDuration(in.Lease)
	if err != nil {
		return outcome{}, &argsError{err: fmt.Errorf("lease: %w", err)}
	}
	lock, err := repo.AcquireAdvisoryLock(ctx, in.Name, lease)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: lock, bind: lock.Handle}, nil
}

func opRenewLock(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in lockArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	lock, err := repo.RenewAdvisoryLock(ctx, in.Name, in.Handle)
	if err != nil {
		return outcome{}, err
	}
	return outcome{output: lock, bind: lock.Handle}, nil
}

func opReleaseLock(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in lockArgs
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	if err := repo.ReleaseAdvisoryLock(ctx, in.Name, in.Handle); err != nil {
		return outcome{}, err
	}
	return outcome{}, nil
}

func opMarkDirty(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
	var in struct {
		EntityTypes []string `json:"entityTypes"`
		Flags       int      `json:"flags"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return outcome{}, err
	}
	n, err := repo.MarkEntitiesDirty(ctx, in.EntityTypes, in.Flags)
	if err != nil {
		return outcome{}, err
	}
	count := int(n)
	return outcome{output: map[string]int64{"marked": n}, count: &count}, nil
}

func opBackground(reindex bool) operation {
	return func(ctx context.Context, repo *engine.Repository, _ auth.Session, args []byte) (outcome, error) {
		if err := decodeArgs(args, &struct{}{}); err != nil {
			return outcome{}, err
		}
		next := repo.RevalidateNextEntity
		if reindex {
			next = repo.ReindexNextEntity
		}
		res, err := next(ctx)
		if err != nil {
			return outcome{}, err
		}
		out := outcome{output: res}
		if res != nil {
			out.bind = res.ID
		}
		return out, nil
	}
}
