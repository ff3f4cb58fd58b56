package engine

import (
	"context"
	"time"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
	"github.com/roach88/folio/internal/store"
)

// anonymous is recorded as the author of events written without a
// session subject.
const anonymous = "anonymous"

// mutation is the context of one mutating operation: its transaction,
// caller, schema and timestamp.
type mutation struct {
	tx      store.Queryer
	session auth.Session
	schema  *schema.Schema
	now     time.Time
	// replica is the event being replayed, nil for local mutations.
	replica *ir.SyncEvent
}

// actor is the createdBy of rows and events the mutation writes.
func (m *mutation) actor() string {
	if m.replica != nil {
		return m.replica.CreatedBy
	}
	if m.session.Subject == "" {
		return anonymous
	}
	return m.session.Subject
}

// begin loads the current schema on tx and stamps the mutation time.
// Replayed events keep the time of the source event.
func (r *Repository) begin(ctx context.Context, tx store.Queryer, session auth.Session, replica *ir.SyncEvent) (*mutation, error) {
	cur, err := r.currentSchema(ctx, tx)
	if err != nil {
		return nil, err
	}
	m := &mutation{tx: tx, session: session, schema: cur, now: r.now(), replica: replica}
	if replica != nil {
		m.now = replica.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	return m, nil
}

// mutate runs fn as one mutating operation in its own transaction and
// records its outcome.
func (r *Repository) mutate(ctx context.Context, op string, session auth.Session, fn func(m *mutation) (ir.Effect, error)) (ir.Effect, error) {
	started := time.Now()
	var effect ir.Effect
	err := r.backend.WithTransaction(ctx, func(tx store.Queryer) error {
		m, err := r.begin(ctx, tx, session, nil)
		if err != nil {
			return err
		}
		effect, err = fn(m)
		return err
	})
	if err := r.observe(ctx, op, started, effect, err); err != nil {
		return "", err
	}
	return effect, nil
}

// appendEvent records the mutation in the event log. Id, author and time
// come from the mutation; replayed events keep the source event's id.
func (r *Repository) appendEvent(ctx context.Context, m *mutation, ev eventlog.Event) error {
	if m.replica != nil {
		ev.ID = m.replica.ID
	} else {
		ev.ID = r.eventIDs.Generate()
	}
	ev.CreatedBy = m.actor()
	ev.CreatedAt = m.now
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = m.schema.Version()
	}
	if _, err := r.events.Append(ctx, m.tx, ev); err != nil {
		return err
	}
	r.metrics.EventAppended(string(ev.Type))
	return nil
}
