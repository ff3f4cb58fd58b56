// Package engine implements the folio content repository.
//
// Repository is the facade every caller goes through. It wires the schema
// model, the entity codec, the query compiler, the lifecycle state machine,
// advisory locks and the event log onto one storage backend.
//
// DATA FLOW:
//
// A mutation enters the repository, the codec normalizes, decodes and
// validates the fields against the current schema, the entity rows and
// their side tables (references, locations, unique index values, full
// text) are written, and the event log appends one event. All of it runs
// in a single storage transaction, so an event exists if and only if its
// mutation committed.
//
// A read or search compiles the caller's query to SQL (the authorization
// key filter always comes first), reads rows, migrates documents written
// with older schema versions and decodes them.
//
// CONCURRENCY:
//
// The repository holds no in-memory locks across storage calls. Contended
// state (the latest and published version pointers, the schema version)
// is protected by compare-and-swap updates and unique constraints; losers
// get Conflict and may retry. The only shared in-memory state is the
// cache of parsed schema versions, which is immutable per version.
package engine
