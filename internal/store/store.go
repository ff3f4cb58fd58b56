package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/querysql"
)

// Queryer executes SQL, inside or outside a transaction.
//
// Hand-written statements use ? placeholders; the backend rebinds them for
// its dialect. Statements compiled by querysql are already in dialect form.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Backend is the storage capability the repository needs from a database.
type Backend interface {
	// Dialect tells querysql how to render searches.
	Dialect() querysql.Dialect

	// Queryer runs non-transactional reads.
	Queryer() Queryer

	// WithTransaction runs fn in one transaction. It commits when fn
	// returns nil and rolls back on error or panic.
	WithTransaction(ctx context.Context, fn func(tx Queryer) error) error

	// IsUniqueViolation reports whether err was caused by the constraint.
	IsUniqueViolation(err error, c Constraint) bool

	// EncodeCursor and DecodeCursor convert ordering key values to and
	// from an opaque, URL-safe string.
	EncodeCursor(keys ir.Array) (string, error)
	DecodeCursor(cursor string) (ir.Array, error)

	// RandomUUID returns a new random entity id.
	RandomUUID() string

	Close() error
}

// Constraint names a unique constraint the repository reacts to.
type Constraint string

const (
	ConstraintEntityUUID  Constraint = "entities_uuid_key"
	ConstraintEntityName  Constraint = "entities_name_key"
	ConstraintUniqueValue Constraint = "unique_index_values_key"
	ConstraintEventUUID   Constraint = "events_uuid_key"
	ConstraintLockName    Constraint = "advisory_locks_name_key"

	// ConstraintSchemaVersion guards against two concurrent schema updates
	// claiming the same version.
	ConstraintSchemaVersion Constraint = "schema_versions_pkey"
)

// Config selects and configures a backend.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN string
}

// Open opens the backend named by cfg.Driver.
func Open(cfg Config) (Backend, error) {
	d, ok := querysql.ParseDialect(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	switch d {
	case querysql.Postgres:
		return OpenPostgres(cfg.DSN)
	default:
		return OpenSQLite(cfg.DSN)
	}
}

// sqlBackend implements Backend over database/sql. The dialect-specific
// parts are unique-violation detection and schema setup.
type sqlBackend struct {
	db      *sql.DB
	dialect querysql.Dialect
	unique  func(err error, c Constraint) bool
}

func (b *sqlBackend) Dialect() querysql.Dialect {
	return b.dialect
}

func (b *sqlBackend) Queryer() Queryer {
	return rebinder{q: b.db, dialect: b.dialect}
}

func (b *sqlBackend) WithTransaction(ctx context.Context, fn func(tx Queryer) error) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(rebinder{q: tx, dialect: b.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *sqlBackend) IsUniqueViolation(err error, c Constraint) bool {
	if err == nil {
		return false
	}
	return b.unique(err, c)
}

func (b *sqlBackend) EncodeCursor(keys ir.Array) (string, error) {
	return EncodeCursor(keys)
}

func (b *sqlBackend) DecodeCursor(cursor string) (ir.Array, error) {
	return DecodeCursor(cursor)
}

func (b *sqlBackend) RandomUUID() string {
	return uuid.NewString()
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// rebinder rewrites ? placeholders for the dialect before delegating.
type rebinder struct {
	q       Queryer
	dialect querysql.Dialect
}

func (r rebinder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, querysql.Rebind(r.dialect, query), args...)
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, querysql.Rebind(r.dialect, query), args...)
}

func (r rebinder) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, querysql.Rebind(r.dialect, query), args...)
}
