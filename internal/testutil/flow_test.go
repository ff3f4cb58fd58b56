package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialUUIDs_Sequence(t *testing.T) {
	gen := NewSequentialUUIDs(0)

	assert.Equal(t, "00000000-0000-4000-8000-000000000001", gen.Generate())
	assert.Equal(t, "00000000-0000-4000-8000-000000000002", gen.Generate())

	gen.Reset()
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", gen.Generate())
}

func TestSequentialUUIDs_PrefixSeparatesGenerators(t *testing.T) {
	entities := NewSequentialUUIDs(1)
	events := NewSequentialUUIDs(2)

	assert.Equal(t, "10000000-0000-4000-8000-000000000001", entities.Generate())
	assert.Equal(t, "20000000-0000-4000-8000-000000000001", events.Generate())
}

func TestSequentialUUIDs_WellFormed(t *testing.T) {
	gen := NewSequentialUUIDs(7)
	for i := 0; i < 20; i++ {
		id := gen.Generate()
		_, err := uuid.Parse(id)
		require.NoError(t, err, id)
	}
}

func TestSequentialUUIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialUUIDs(0)

	done := make(chan []string)
	for i := 0; i < 10; i++ {
		go func() {
			ids := make([]string, 0, 100)
			for j := 0; j < 100; j++ {
				ids = append(ids, gen.Generate())
			}
			done <- ids
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		for _, id := range <-done {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 1000)
}
