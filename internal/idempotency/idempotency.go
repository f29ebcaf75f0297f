package idempotency

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// StoredResponse is the replayable result of a previously completed request.
type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// ResponseCache stores completed responses under an idempotency key. The
// implementation (local map or redis) is chosen once at startup.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*StoredResponse, bool, error)
	Set(ctx context.Context, key string, value *StoredResponse, ttl time.Duration) error
}

// Key builds the dedup key. Scoping by tenant and user means two terminals
// reusing the same client key never collide across accounts.
func Key(tenantID, userID, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", tenantID, userID, clientKey)
}

// Guard deduplicates mutating requests within a TTL window. A cache outage
// degrades to pass-through: the request executes normally and the miss is
// logged, never surfaced to the client.
type Guard struct {
	cache ResponseCache
	ttl   time.Duration
}

func NewGuard(cache ResponseCache, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Guard{cache: cache, ttl: ttl}
}

// Execute replays the stored response for key if one exists, otherwise runs
// fn and caches its result when the status is 2xx. Failed requests are not
// cached so clients can retry them under the same key.
func (g *Guard) Execute(ctx context.Context, key string, fn func() (int, []byte)) (status int, body []byte, replayed bool) {
	if stored, ok, err := g.cache.Get(ctx, key); err != nil {
		log.Printf("[idempotency] lookup failed, passing through: %v", err)
	} else if ok {
		return stored.Status, stored.Body, true
	}

	status, body = fn()
	if status >= 200 && status < 300 {
		if err := g.cache.Set(ctx, key, &StoredResponse{Status: status, Body: body}, g.ttl); err != nil {
			log.Printf("[idempotency] store failed: %v", err)
		}
	}
	return status, body, false
}

type localEntry struct {
	response  StoredResponse
	expiresAt time.Time
	storedAt  time.Time
}

// LocalCache is a bounded in-process ResponseCache for single-node
// deployments. When full it evicts the oldest entry.
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
	maxSize int
	now     func() time.Time
}

func NewLocalCache(maxSize int) *LocalCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LocalCache{
		entries: make(map[string]localEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *LocalCache) Get(_ context.Context, key string) (*StoredResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	resp := entry.response
	return &resp, true, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value *StoredResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = localEntry{
		response:  *value,
		expiresAt: now.Add(ttl),
		storedAt:  now,
	}
	return nil
}

func (c *LocalCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
