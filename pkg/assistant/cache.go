package assistant

import (
	"strings"
	"sync"
	"time"
)

// QueryCache memoizes rendered responses per (campaign, normalized
// query). Error responses are never stored. Entries expire after the
// TTL; InvalidateAll drops a campaign's entries synchronously so the
// ingestion side gets read-your-writes.
//
// Each campaign carries an epoch that InvalidateAll advances. Writers
// capture the epoch before running their pipeline and pass it to Set,
// which discards the write if an invalidation happened in between.
// Without this, a pipeline that was in flight when InvalidateAll
// returned would repopulate the cache with pre-write data.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	epochs  map[string]uint64
	ttl     time.Duration

	stop chan struct{}
	once sync.Once
}

type cacheEntry struct {
	response  *Response
	campaign  string
	expiresAt time.Time
}

func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &QueryCache{
		entries: make(map[string]cacheEntry),
		epochs:  make(map[string]uint64),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

// NormalizeQuery is the canonical key normalization: surrounding
// whitespace stripped, lowercased. It must stay deterministic; cache
// keys derived from it are shared with invalidation.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key builds the cache key for a campaign and raw query.
func (c *QueryCache) Key(campaignUUID, query string) string {
	return campaignUUID + "\x00" + NormalizeQuery(query)
}

func (c *QueryCache) Get(key string) (*Response, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.response, true
}

// Epoch returns the campaign's current invalidation epoch. Capture it
// before executing a pipeline and hand it back to Set.
func (c *QueryCache) Epoch(campaignUUID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[campaignUUID]
}

// Set stores a response unless it is an error response or the
// campaign was invalidated after epoch was captured.
func (c *QueryCache) Set(key, campaignUUID string, epoch uint64, response *Response) {
	if response == nil || response.ResponseType == ResponseError {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochs[campaignUUID] != epoch {
		return
	}
	c.entries[key] = cacheEntry{
		response:  response,
		campaign:  campaignUUID,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// InvalidateAll evicts every entry for the campaign and returns the
// number removed. It completes before returning, so a caller invoking
// it from an ingestion commit observes the eviction. The epoch always
// advances, even with nothing cached, so in-flight pipelines that
// started before the call cannot repopulate stale data.
func (c *QueryCache) InvalidateAll(campaignUUID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epochs[campaignUUID]++

	removed := 0
	for key, entry := range c.entries {
		if entry.campaign == campaignUUID {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the live entry count, expired entries included until the
// janitor sweeps them.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *QueryCache) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
