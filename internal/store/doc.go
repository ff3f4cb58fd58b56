// Package store provides the storage backends of a folio repository.
//
// A Backend is the narrow capability the repository needs from a
// database: transactional query execution, unique-violation detection,
// cursor encoding and UUID generation. Two implementations share one
// database/sql core:
//
//   - SQLite via mattn/go-sqlite3 (OpenSQLite)
//   - Postgres via the pgx stdlib driver (OpenPostgres)
//
// # Tables
//
//   - schema_versions: append-only schema specifications
//   - entities: one row per entity with latest/published pointers
//   - entity_versions: append-only field documents
//   - entity_references, entity_locations, unique_index_values: side
//     tables rewritten on every write and publish
//   - events, event_entities: the changelog and sync feed
//   - advisory_locks: leased named locks
//
// Every table has a monotonic integer row id. Ordered reads always end
// with the row id so results are deterministic.
//
// # SQLite configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Field documents, event payloads and schema specifications are stored as
// canonical JSON (see ir.MarshalCanonical).
package store
