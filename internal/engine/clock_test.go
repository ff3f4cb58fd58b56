package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/folio/internal/testutil"
)

func TestSystemClock_UTCMicroseconds(t *testing.T) {
	now := SystemClock{}.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%1000)
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestRepositoryNow_Truncates(t *testing.T) {
	clock := testutil.NewFrozenClock(testutil.Epoch.Add(1500 * time.Nanosecond))
	r := &Repository{clock: clock}

	assert.Equal(t, testutil.Epoch.Add(time.Microsecond), r.now())
}
