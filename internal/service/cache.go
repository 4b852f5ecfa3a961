package service

import (
	"sync"
	"time"

	"reward-bot/internal/model"
)

// ReportCache is a process-local read-through cache of lookup results keyed
// by roll number. It is a shortcut only, never a source of truth. A nil
// *ReportCache is a disabled cache.
type ReportCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	report  model.Report
	expires time.Time
}

// NewReportCache returns nil when ttl is not positive.
func NewReportCache(ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		return nil
	}
	return &ReportCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *ReportCache) Get(key string) (model.Report, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.report.Clone(), true
}

func (c *ReportCache) Put(key string, report model.Report) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{report: report.Clone(), expires: c.now().Add(c.ttl)}
}

// Prune drops expired entries and returns how many were removed.
func (c *ReportCache) Prune() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *ReportCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
