package supervisor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheSize bounds the response cache when no size is configured.
const DefaultCacheSize = 1024

// Cache memoizes successful responses by request identity. It is bounded by
// entry count (least recently used entries go first) and, optionally, by age.
type Cache struct {
	entries *expirable.LRU[string, *Response]
	enabled atomic.Bool
}

// NewCache creates a cache holding at most size entries. A ttl of zero keeps
// entries until they are evicted or cleared.
func NewCache(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = DefaultCacheSize
	}
	c := &Cache{entries: expirable.NewLRU[string, *Response](size, nil, ttl)}
	c.enabled.Store(true)
	return c
}

// Lookup returns a copy of the cached response for key.
func (c *Cache) Lookup(key string) (*Response, bool) {
	if !c.enabled.Load() {
		return nil, false
	}
	resp, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return resp.clone(), true
}

// Store records resp under key. It is a no-op while the cache is disabled.
func (c *Cache) Store(key string, resp *Response) {
	if !c.enabled.Load() || resp == nil {
		return
	}
	c.entries.Add(key, resp.clone())
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// SetEnabled toggles caching. Disabling also drops every entry.
func (c *Cache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.Clear()
	}
}

// Enabled reports whether lookups and stores are active.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// CacheKey builds the deterministic identity of a call: method, URL, and the
// JSON form of the body (POST) or of the query params (GET with params).
func CacheKey(method, rawURL string, body []byte, params url.Values) (string, error) {
	payload := ""
	switch {
	case body != nil:
		payload = string(body)
	case len(params) > 0:
		encoded, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode params: %w", err)
		}
		payload = string(encoded)
	}
	return method + ":" + rawURL + ":" + payload, nil
}
