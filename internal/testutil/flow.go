package testutil

import (
	"fmt"
	"sync"
)

// SequentialUUIDs generates well-formed, predictable UUIDs:
//
//	00000000-0000-4000-8000-000000000001
//	00000000-0000-4000-8000-000000000002
//	...
//
// A prefix digit keeps generators apart, so entity ids and event ids from
// two generators never collide. The same scenario with fresh generators
// produces byte-identical event logs.
//
// Thread-safety: SequentialUUIDs is safe for concurrent use via internal mutex.
type SequentialUUIDs struct {
	mu     sync.Mutex
	prefix int
	n      int
}

// NewSequentialUUIDs creates a generator whose ids start with the prefix
// digit (0-9).
func NewSequentialUUIDs(prefix int) *SequentialUUIDs {
	return &SequentialUUIDs{prefix: prefix % 10}
}

// Generate returns the next UUID.
//
// Implements engine.IDGenerator.
func (g *SequentialUUIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%d0000000-0000-4000-8000-%012d", g.prefix, g.n)
}

// Reset restarts the sequence.
func (g *SequentialUUIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
