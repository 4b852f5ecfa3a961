package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateTrackerDropsRepeats(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewUpdateTracker(time.Minute, 100)
	tr.now = func() time.Time { return now }

	assert.False(t, tr.Seen(1))
	assert.True(t, tr.Seen(1))
	assert.False(t, tr.Seen(2))

	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Seen(1), "expired ids are accepted again")
	assert.True(t, tr.Seen(1))

	assert.Equal(t, 1, tr.Prune(), "only id 2 is past the ttl")
	assert.Equal(t, 1, tr.Len())
}

func TestUpdateTrackerBoundedSize(t *testing.T) {
	tr := NewUpdateTracker(time.Hour, 3)
	for id := 1; id <= 5; id++ {
		assert.False(t, tr.Seen(id))
	}
	assert.Equal(t, 3, tr.Len())
	assert.False(t, tr.Seen(1), "oldest id was evicted")
	assert.True(t, tr.Seen(5))
}
