package reliability

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/basket/nullclaw/internal/tools"
)

// CacheKey identifies one idempotent call: tool name plus a 64-bit
// fingerprint of its arguments.
type CacheKey struct {
	ToolName string
	ArgsHash uint64
}

// NewCacheKey fingerprints the arguments with fnv64a over a canonical
// (sorted-key) rendering, so map iteration order cannot split the cache.
func NewCacheKey(toolName string, args map[string]any) CacheKey {
	h := fnv.New64a()
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v|", k, args[k])
	}
	return CacheKey{ToolName: toolName, ArgsHash: h.Sum64()}
}

type cacheEntry struct {
	result  tools.Result
	created time.Time
	ttl     time.Duration // 0 = permanent
}

// Cache is a TTL cache for idempotent tool results. Single-threaded per
// tool; callers serialize access or use one instance per worker.
type Cache struct {
	entries  map[CacheKey]cacheEntry
	capacity int
	ttl      time.Duration

	now func() time.Time
}

// NewCache builds a cache holding at most capacity entries, each living for
// ttl (0 = permanent).
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 128
	}
	return &Cache{
		entries:  make(map[CacheKey]cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached result for key, if present and fresh. A clock that
// went backwards (entry created "in the future") is treated as valid.
func (c *Cache) Get(key CacheKey) (tools.Result, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return tools.Result{}, false
	}
	if entry.ttl > 0 {
		age := c.now().Sub(entry.created)
		if age > entry.ttl {
			delete(c.entries, key)
			return tools.Result{}, false
		}
	}
	return entry.result, true
}

// Put inserts a result. At capacity the oldest entry is evicted first.
func (c *Cache) Put(key CacheKey, result tools.Result) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{result: result, created: c.now(), ttl: c.ttl}
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) evictOldest() {
	var oldestKey CacheKey
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.created.Before(oldest) {
			oldestKey, oldest = k, e.created
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
