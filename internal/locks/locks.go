// Package locks implements named, leased advisory locks.
//
// Locks coordinate cooperating callers such as single-writer background
// jobs. They never block storage operations. Acquiring a held lock fails
// fast with Conflict instead of waiting.
//
// All methods run on a caller-supplied transaction so the repository can
// wrap each call in exactly one storage transaction.
package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/store"
)

// Manager acquires, renews and releases advisory locks.
//
// Thread-safety: Manager is stateless apart from its injected clock and
// handle source, and is safe for concurrent use if they are.
type Manager struct {
	backend store.Backend
	now     func() time.Time
	handles func() int32
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the wall clock used for lease arithmetic.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithHandleSource sets the generator for lock handles. Handles must be
// positive.
func WithHandleSource(fn func() int32) Option {
	return func(m *Manager) {
		m.handles = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. The backend classifies unique violations
// when two callers race for the same name.
func NewManager(backend store.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		now:     time.Now,
		handles: randomHandle,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// randomHandle returns a random positive int32.
func randomHandle() int32 {
	return rand.Int32N(math.MaxInt32) + 1
}

// Acquire takes the lock called name for lease. Expired locks of any name
// are reaped first. A lock that is held and unexpired is a Conflict.
func (m *Manager) Acquire(ctx context.Context, tx store.Queryer, name string, lease time.Duration) (ir.AdvisoryLock, error) {
	if name == "" {
		return ir.AdvisoryLock{}, ir.NewBadRequest("lock name is required")
	}
	if lease <= 0 {
		return ir.AdvisoryLock{}, ir.NewBadRequest("lease duration must be positive, got %s", lease).
			With("name", name)
	}

	now := m.now().UTC()
	if err := m.reap(ctx, tx, now); err != nil {
		return ir.AdvisoryLock{}, err
	}

	var held int32
	err := tx.QueryRowContext(ctx, `SELECT handle FROM advisory_locks WHERE name = ?`, name).Scan(&held)
	switch {
	case err == nil:
		return ir.AdvisoryLock{}, conflict(name)
	case !errors.Is(err, sql.ErrNoRows):
		return ir.AdvisoryLock{}, ir.NewGeneric(err, "look up advisory lock %q", name)
	}

	lock := ir.AdvisoryLock{
		Name:          name,
		Handle:        m.handles(),
		LeaseDuration: lease,
		AcquiredAt:    now,
		RenewedAt:     now,
		ExpiresAt:     now.Add(lease),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO advisory_locks (name, handle, lease_duration, acquired_at, renewed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, lock.Name, lock.Handle, lease.Microseconds(),
		lock.AcquiredAt.UnixMicro(), lock.RenewedAt.UnixMicro(), lock.ExpiresAt.UnixMicro())
	if err != nil {
		if m.backend.IsUniqueViolation(err, store.ConstraintLockName) {
			return ir.AdvisoryLock{}, conflict(name)
		}
		return ir.AdvisoryLock{}, ir.NewGeneric(err, "insert advisory lock %q", name)
	}

	m.logger.DebugContext(ctx, "advisory lock acquired",
		"name", name,
		"handle", lock.Handle,
		"expires_at", lock.ExpiresAt,
	)
	return lock, nil
}

// Renew extends the lease of a held lock from now. The handle must match
// the one returned by Acquire.
func (m *Manager) Renew(ctx context.Context, tx store.Queryer, name string, handle int32) (ir.AdvisoryLock, error) {
	lock, err := m.lookup(ctx, tx, name, handle)
	if err != nil {
		return ir.AdvisoryLock{}, err
	}

	now := m.now().UTC()
	if !lock.ExpiresAt.After(now) {
		return ir.AdvisoryLock{}, notFound(name, handle, "advisory lock %q has expired", name)
	}

	lock.RenewedAt = now
	lock.ExpiresAt = now.Add(lock.LeaseDuration)
	res, err := tx.ExecContext(ctx, `
		UPDATE advisory_locks SET renewed_at = ?, expires_at = ?
		WHERE name = ? AND handle = ?
	`, lock.RenewedAt.UnixMicro(), lock.ExpiresAt.UnixMicro(), name, handle)
	if err != nil {
		return ir.AdvisoryLock{}, ir.NewGeneric(err, "renew advisory lock %q", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ir.AdvisoryLock{}, notFound(name, handle, "no advisory lock named %q", name)
	}

	m.logger.DebugContext(ctx, "advisory lock renewed",
		"name", name,
		"handle", handle,
		"expires_at", lock.ExpiresAt,
	)
	return lock, nil
}

// Release removes a held lock. Releasing an expired lock that has not
// been reaped yet succeeds.
func (m *Manager) Release(ctx context.Context, tx store.Queryer, name string, handle int32) error {
	if _, err := m.lookup(ctx, tx, name, handle); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM advisory_locks WHERE name = ? AND handle = ?`, name, handle)
	if err != nil {
		return ir.NewGeneric(err, "release advisory lock %q", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(name, handle, "no advisory lock named %q", name)
	}

	m.logger.DebugContext(ctx, "advisory lock released", "name", name, "handle", handle)
	return nil
}

// lookup loads the lock called name and checks the handle.
func (m *Manager) lookup(ctx context.Context, tx store.Queryer, name string, handle int32) (ir.AdvisoryLock, error) {
	var (
		held                          int32
		lease, acquired, renewed, exp int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT handle, lease_duration, acquired_at, renewed_at, expires_at
		FROM advisory_locks WHERE name = ?
	`, name).Scan(&held, &lease, &acquired, &renewed, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.AdvisoryLock{}, notFound(name, handle, "no advisory lock named %q", name)
	}
	if err != nil {
		return ir.AdvisoryLock{}, ir.NewGeneric(err, "look up advisory lock %q", name)
	}
	if held != handle {
		return ir.AdvisoryLock{}, notFound(name, handle, "advisory lock %q is held with a different handle", name)
	}
	return ir.AdvisoryLock{
		Name:          name,
		Handle:        held,
		LeaseDuration: time.Duration(lease) * time.Microsecond,
		AcquiredAt:    time.UnixMicro(acquired).UTC(),
		RenewedAt:     time.UnixMicro(renewed).UTC(),
		ExpiresAt:     time.UnixMicro(exp).UTC(),
	}, nil
}

// reap deletes every lock whose lease ran out at or before now.
func (m *Manager) reap(ctx context.Context, tx store.Queryer, now time.Time) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM advisory_locks WHERE expires_at <= ?`, now.UnixMicro())
	if err != nil {
		return ir.NewGeneric(err, "reap expired advisory locks")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		m.logger.WarnContext(ctx, "reaped expired advisory locks", "count", n)
	}
	return nil
}

func conflict(name string) *ir.Error {
	return ir.NewConflict("advisory lock %q is already held", name).With("name", name)
}

func notFound(name string, handle int32, format string, args ...any) *ir.Error {
	return ir.NewNotFound(format, args...).
		With("name", name).
		With("handle", strconv.FormatInt(int64(handle), 10))
}

// String renders a lock for logs and CLI output.
func String(l ir.AdvisoryLock) string {
	return fmt.Sprintf("%s#%d (expires %s)", l.Name, l.Handle, l.ExpiresAt.Format(time.RFC3339Nano))
}
