package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/folio/internal/querysql"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// pgUniqueViolation is the SQLSTATE of unique_violation.
const pgUniqueViolation = "23505"

// OpenPostgres connects to a Postgres repository database through the pgx
// database/sql driver and creates missing tables.
func OpenPostgres(dsn string) (Backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Without parameters pgx uses the simple protocol, which accepts the
	// multi-statement schema script.
	if _, err := db.Exec(postgresSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &sqlBackend{db: db, dialect: querysql.Postgres, unique: postgresUnique}, nil
}

func postgresUnique(err error, c Constraint) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == string(c)
}
