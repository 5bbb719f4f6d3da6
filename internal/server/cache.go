package server

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"clawmon/internal/monitor"
)

const (
	runEventsCacheSize = 256
	runEventsCacheTTL  = 2 * time.Second
)

type runEventsEntry struct {
	events   []monitor.Event
	storedAt time.Time
}

// runEventsCache absorbs dashboard refresh bursts on the per-run event query,
// which scans the whole buffer. Entries expire quickly so a live run's view
// stays fresh.
type runEventsCache struct {
	cache *lru.Cache[string, runEventsEntry]
	ttl   time.Duration
}

func newRunEventsCache() *runEventsCache {
	cache, err := lru.New[string, runEventsEntry](runEventsCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size.
		return &runEventsCache{}
	}
	return &runEventsCache{cache: cache, ttl: runEventsCacheTTL}
}

func (c *runEventsCache) get(runID string) ([]monitor.Event, bool) {
	if c.cache == nil {
		return nil, false
	}
	entry, ok := c.cache.Get(runID)
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) >= c.ttl {
		c.cache.Remove(runID)
		return nil, false
	}
	return entry.events, true
}

func (c *runEventsCache) put(runID string, events []monitor.Event) {
	if c.cache == nil {
		return
	}
	c.cache.Add(runID, runEventsEntry{events: events, storedAt: time.Now()})
}
