// Package lifecycle holds the entity status state machine.
//
// Status is a function of five facts about an entity: whether it is
// archived, which version is published, which is latest, whether it was
// ever published, and whether it was withdrawn and left unchanged since.
// Derive computes it; Machine moves it through the
// transition table on looplab/fsm.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/roach88/folio/internal/ir"
)

// Event is a lifecycle operation applied to an entity.
type Event string

const (
	EventUpdate        Event = "update"
	EventPublishLatest Event = "publishLatest"
	EventPublishOlder  Event = "publishOlder"
	EventUnpublish     Event = "unpublish"
	EventArchive       Event = "archive"
	EventUnarchive     Event = "unarchive"
)

// eventUnarchivePublished is EventUnarchive for entities that were
// published at some point; they come back as modified, not draft.
const eventUnarchivePublished = "unarchivePublished"

// State is the stored lifecycle facts of an entity.
type State struct {
	Archived bool
	// PublishedVersion is 0 when nothing is published.
	PublishedVersion int
	LatestVersion    int
	NeverPublished   bool
	// Withdrawn is set by unpublishing and cleared by any later update or
	// unarchive.
	Withdrawn bool
}

// Derive computes the status of an entity from its lifecycle facts.
func Derive(s State) ir.EntityStatus {
	switch {
	case s.Archived:
		return ir.StatusArchived
	case s.PublishedVersion != 0 && s.PublishedVersion == s.LatestVersion:
		return ir.StatusPublished
	case s.PublishedVersion != 0:
		return ir.StatusModified
	case s.NeverPublished:
		return ir.StatusDraft
	case s.Withdrawn:
		return ir.StatusWithdrawn
	default:
		return ir.StatusModified
	}
}

const (
	draft     = string(ir.StatusDraft)
	published = string(ir.StatusPublished)
	modified  = string(ir.StatusModified)
	withdrawn = string(ir.StatusWithdrawn)
	archived  = string(ir.StatusArchived)
)

// transitions is the status table. A transition whose destination equals
// its source is a no-op; a missing source is a BadRequest.
var transitions = fsm.Events{
	{Name: string(EventUpdate), Src: []string{draft}, Dst: draft},
	{Name: string(EventUpdate), Src: []string{published, modified, withdrawn}, Dst: modified},
	{Name: string(EventUpdate), Src: []string{archived}, Dst: archived},

	{Name: string(EventPublishLatest), Src: []string{draft, published, modified, withdrawn}, Dst: published},
	{Name: string(EventPublishOlder), Src: []string{draft, published, modified, withdrawn}, Dst: modified},

	{Name: string(EventUnpublish), Src: []string{published, modified}, Dst: withdrawn},
	{Name: string(EventUnpublish), Src: []string{draft}, Dst: draft},
	{Name: string(EventUnpublish), Src: []string{withdrawn}, Dst: withdrawn},
	{Name: string(EventUnpublish), Src: []string{archived}, Dst: archived},

	{Name: string(EventArchive), Src: []string{draft, withdrawn, archived}, Dst: archived},

	{Name: string(EventUnarchive), Src: []string{archived}, Dst: draft},
	{Name: eventUnarchivePublished, Src: []string{archived}, Dst: modified},
}

func init() {
	// Unarchiving anything that is not archived is a no-op.
	for _, s := range []string{draft, published, modified, withdrawn} {
		transitions = append(transitions,
			fsm.EventDesc{Name: string(EventUnarchive), Src: []string{s}, Dst: s},
			fsm.EventDesc{Name: eventUnarchivePublished, Src: []string{s}, Dst: s},
		)
	}
}

// Machine applies lifecycle events to entity statuses.
type Machine struct {
	logger *slog.Logger
}

// NewMachine creates a Machine that logs transitions at debug level.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger}
}

// Transition returns the status an entity in status from ends up in after
// ev. changed is false for no-op transitions. Forbidden transitions, such
// as archiving a published entity, return BadRequest.
func (m *Machine) Transition(ctx context.Context, from ir.EntityStatus, ev Event, neverPublished bool) (to ir.EntityStatus, changed bool, err error) {
	name := string(ev)
	if ev == EventUnarchive && !neverPublished {
		name = eventUnarchivePublished
	}

	f := fsm.NewFSM(
		string(from),
		transitions,
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.logger.DebugContext(ctx, "entity status transition",
					"event", string(ev),
					"from", e.Src,
					"to", e.Dst,
				)
			},
		},
	)

	err = f.Event(ctx, name)
	var noTransition fsm.NoTransitionError
	var invalid fsm.InvalidEventError
	switch {
	case err == nil:
		return ir.EntityStatus(f.Current()), true, nil
	case errors.As(err, &noTransition):
		return from, false, nil
	case errors.As(err, &invalid):
		return from, false, ir.NewBadRequest("cannot %s an entity with status %s", ev, from).
			With("status", string(from)).
			With("event", string(ev))
	default:
		return from, false, ir.NewGeneric(err, "status transition %s from %s", ev, from)
	}
}
