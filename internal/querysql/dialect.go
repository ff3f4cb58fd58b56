package querysql

import (
	"strconv"
	"strings"
)

// Dialect selects how SQL is rendered for a database.
type Dialect int

const (
	// SQLite uses ? placeholders, IN lists and LIKE text search.
	SQLite Dialect = iota
	// Postgres uses $n placeholders, = ANY arrays and tsvector search.
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "Dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDialect maps a driver name to its dialect.
func ParseDialect(name string) (Dialect, bool) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "pgx", "postgresql":
		return Postgres, true
	default:
		return 0, false
	}
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// collate makes text comparison bytewise so ordering does not depend on the
// database locale.
func (d Dialect) collate(col string) string {
	if d == Postgres {
		return col + ` COLLATE "C"`
	}
	return col + " COLLATE BINARY"
}

func (d Dialect) textMatch(b *builder, col, text string) {
	if d == Postgres {
		b.sb.WriteString("to_tsvector('simple', " + col + ") @@ plainto_tsquery('simple', " + b.arg(text) + ")")
		return
	}
	words := strings.Fields(text)
	b.sb.WriteString("(")
	for i, w := range words {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		b.sb.WriteString(col + " LIKE " + b.arg("%"+escapeLike(w)+"%") + ` ESCAPE '\'`)
	}
	b.sb.WriteString(")")
}

// Rebind rewrites ? placeholders of hand-written SQL for the dialect.
// Question marks inside single-quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			quoted = !quoted
			sb.WriteByte(ch)
		case ch == '?' && !quoted:
			n++
			sb.WriteString("$" + strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
