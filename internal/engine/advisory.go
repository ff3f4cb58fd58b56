package engine

import (
	"context"
	"time"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/store"
)

// AcquireAdvisoryLock takes the named lock for lease. A lock that is held
// and unexpired is a Conflict; the caller retries later.
func (r *Repository) AcquireAdvisoryLock(ctx context.Context, name string, lease time.Duration) (ir.AdvisoryLock, error) {
	var lock ir.AdvisoryLock
	err := r.lockOperation(ctx, "acquireAdvisoryLock", func(tx store.Queryer) error {
		var err error
		lock, err = r.locks.Acquire(ctx, tx, name, lease)
		return err
	})
	return lock, err
}

// RenewAdvisoryLock extends the lease of a held lock. An expired lock or
// a wrong handle is NotFound.
func (r *Repository) RenewAdvisoryLock(ctx context.Context, name string, handle int32) (ir.AdvisoryLock, error) {
	var lock ir.AdvisoryLock
	err := r.lockOperation(ctx, "renewAdvisoryLock", func(tx store.Queryer) error {
		var err error
		lock, err = r.locks.Renew(ctx, tx, name, handle)
		return err
	})
	return lock, err
}

// ReleaseAdvisoryLock releases a held lock.
func (r *Repository) ReleaseAdvisoryLock(ctx context.Context, name string, handle int32) error {
	return r.lockOperation(ctx, "releaseAdvisoryLock", func(tx store.Queryer) error {
		return r.locks.Release(ctx, tx, name, handle)
	})
}

func (r *Repository) lockOperation(ctx context.Context, op string, fn func(tx store.Queryer) error) error {
	started := time.Now()
	err := r.backend.WithTransaction(ctx, fn)
	result := "ok"
	if err != nil {
		result = string(ir.KindOf(err))
	}
	r.metrics.LockOperation(op, result)
	return r.observe(ctx, op, started, ir.EffectNone, err)
}
