// Package queryir provides the intermediate representation for entity
// searches.
//
// A caller-facing EntityQuery is built into a Select: a conjunction of
// sealed predicates plus an ordering. Select is the abstraction boundary
// between the repository and the SQL dialects in package querysql, which
// render it for SQLite or Postgres.
//
//	[EntityQuery] -> Build -> [Select] -> querysql -> [SQL + params]
//
// # Authorization first
//
// Build always places AuthKeyIn as the first predicate of the conjunction,
// and Validate rejects any Select that does not. An empty key list is kept
// as a predicate that matches nothing, so a caller without keys never sees
// rows.
//
// # Sealed interfaces
//
// Predicate is sealed with a marker method, so dialect compilers can switch
// exhaustively over the predicate types:
//
//	switch p := pred.(type) {
//	case AuthKeyIn:
//	case TypeIn:
//	...
//	}
//
// # Ordering
//
// Every ordering ends with the internal row id as tie-breaker, so keyset
// pagination never skips or repeats a row.
package queryir
