package engine

import "time"

// Clock supplies wall-clock timestamps for entity, event and lock records.
//
// Event order never depends on these timestamps: events are ordered by
// their storage row id. The clock is injectable so tests and scenario
// traces produce identical timestamps on every run.
//
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC, truncated to microseconds
// (the storage resolution).
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// now reads the repository clock at storage resolution.
func (r *Repository) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Microsecond)
}
