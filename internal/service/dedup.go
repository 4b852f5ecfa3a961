package service

import (
	"sync"
	"time"
)

// UpdateTracker remembers recently seen webhook update ids so redelivered
// updates can be dropped. Retention is bounded by both ttl and size.
type UpdateTracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	size  int
	seen  map[int]time.Time
	order []seenUpdate
	now   func() time.Time
}

type seenUpdate struct {
	id int
	at time.Time
}

func NewUpdateTracker(ttl time.Duration, size int) *UpdateTracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if size <= 0 {
		size = 10000
	}
	return &UpdateTracker{
		ttl:  ttl,
		size: size,
		seen: make(map[int]time.Time),
		now:  time.Now,
	}
}

// Seen reports whether id was already recorded within the retention window,
// recording it otherwise.
func (t *UpdateTracker) Seen(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if at, ok := t.seen[id]; ok && now.Sub(at) < t.ttl {
		return true
	}
	t.seen[id] = now
	t.order = append(t.order, seenUpdate{id: id, at: now})
	for len(t.seen) > t.size && len(t.order) > 0 {
		t.dropOldest()
	}
	return false
}

// Prune forgets ids older than the ttl and returns how many were removed.
func (t *UpdateTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	before := len(t.seen)
	for len(t.order) > 0 && !t.order[0].at.After(cutoff) {
		t.dropOldest()
	}
	return before - len(t.seen)
}

func (t *UpdateTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

func (t *UpdateTracker) dropOldest() {
	oldest := t.order[0]
	t.order = t.order[1:]
	// A newer entry for the same id supersedes this one.
	if at, ok := t.seen[oldest.id]; ok && at.Equal(oldest.at) {
		delete(t.seen, oldest.id)
	}
}
