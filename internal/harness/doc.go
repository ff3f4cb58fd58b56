// Package harness runs conformance scenarios against a repository.
//
// A scenario applies a schema, runs repository operations with expected
// outcomes, and asserts on the resulting event log and final entity state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schemaFile: blog.cue        # or an inline schema: {...}
//	steps:
//	  - op: createEntity
//	    args: { type: BlogPost, fields: { title: Hello } }
//	    as: post
//	    expect:
//	      effect: created
//	  - op: publishEntities
//	    args: { entities: [{ id: $post }] }
//	  - op: updateEntity
//	    args: { id: $post, version: 1, fields: { title: Hi } }
//	    expect:
//	      result: { status: modified, version: 2 }
//	assertions:
//	  - type: trace_order
//	    events: [updateSchema, createEntity, publishEntities, updateEntity]
//	  - type: final_state
//	    entity: $post
//	    expect: { status: modified, fields: { title: Hi } }
//
// String arguments of the form "$name" refer to the entity id (or lock
// handle) bound by an earlier step's "as".
//
// # Assertion Types
//
//   - trace_contains: an event of the type appears, optionally for an entity
//   - trace_order: event types first appear in the specified order
//   - trace_count: an event type appears exactly N times
//   - final_state: an entity's latest or published state matches (subset)
//
// # Deterministic Testing
//
// Every scenario runs on a fresh in-memory SQLite repository with a manual
// clock, sequential entity and event ids, and a fixed sampling seed, so
// the event trace is identical across runs and can be compared against a
// golden file with RunWithGolden.
package harness
