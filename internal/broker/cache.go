package broker

import (
	"context"
	"sync"
	"time"

	"github.com/perimos/perimos/internal/model"
)

// SafetyMargin is subtracted from credential expiry when computing cache
// freshness, so a cached credential is never handed out with less than this
// much usable life remaining.
const SafetyMargin = 2 * time.Minute

// DefaultSweepInterval is how often the background sweep evicts expired
// cache entries.
const DefaultSweepInterval = time.Minute

// cacheEntry wraps issued credentials with bookkeeping.
type cacheEntry struct {
	creds        model.Credentials
	label        string
	connectionID string
	planID       string
	createdAt    time.Time
	safeExpiry   time.Time // credential expiry minus SafetyMargin
	uses         int
}

// credCache is the shared credential cache keyed by (connection, plan).
type credCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	margin  time.Duration
}

func newCredCache(margin time.Duration) *credCache {
	if margin <= 0 {
		margin = SafetyMargin
	}
	return &credCache{
		entries: make(map[string]*cacheEntry),
		margin:  margin,
	}
}

func cacheKey(connectionID, planID string) string {
	if planID == "" {
		return connectionID
	}
	return connectionID + ":" + planID
}

// get returns fresh credentials for the key, with the session label they
// were issued under, and bumps the usage counter. Expired entries are
// evicted lazily here.
func (c *credCache) get(key string, now time.Time) (model.Credentials, string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return model.Credentials{}, "", 0, false
	}
	if !now.Before(e.safeExpiry) {
		delete(c.entries, key)
		return model.Credentials{}, "", 0, false
	}
	e.uses++
	return e.creds, e.label, e.uses, true
}

func (c *credCache) put(connectionID, planID string, creds model.Credentials, label string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(connectionID, planID)] = &cacheEntry{
		creds:        creds,
		label:        label,
		connectionID: connectionID,
		planID:       planID,
		createdAt:    now,
		safeExpiry:   creds.Expiration.Add(-c.margin),
	}
}

// invalidate removes an entry by key. Removal does not revoke the
// underlying credentials.
func (c *credCache) invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// sweep evicts expired entries. Keys are collected under the lock and
// removed in the same pass; the lock is not held across anything slower
// than map operations.
func (c *credCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.safeExpiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *credCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// startSweep runs the periodic sweep until ctx is cancelled.
func (c *credCache) startSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now().UTC())
			}
		}
	}()
}
