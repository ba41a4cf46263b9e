package search

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"piclocate/internal/logging"
	"piclocate/internal/types"
)

const cacheShards = 16

// VerdictCache memoizes VLM verdicts. Sharded so search workers do not
// serialize on one lock; each shard is LRU with a TTL check on read.
type VerdictCache struct {
	shards   [cacheShards]*cacheShard
	ttl      time.Duration
	capacity int // per shard
}

type cacheShard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recent
}

type cacheEntry struct {
	key     string
	verdict types.VLMVerdict
	expires time.Time
}

// NewVerdictCache creates a cache holding up to max entries with the given
// TTL.
func NewVerdictCache(max int, ttl time.Duration) *VerdictCache {
	if max < cacheShards {
		max = cacheShards
	}
	c := &VerdictCache{ttl: ttl, capacity: max / cacheShards}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			items: make(map[string]*list.Element),
			order: list.New(),
		}
	}
	return c
}

// CacheKey derives the verdict cache key from everything that affects the
// answer: the normalized query, the model, the image identity and its content.
func CacheKey(normalizedQuery, modelID, imageID, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(imageID))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *VerdictCache) shard(key string) *cacheShard {
	// Keys are lowercase hex; decode the first nibble so all 16 shards are
	// reachable and '1'/'a' land on different shards.
	b := key[0]
	var n byte
	switch {
	case b >= '0' && b <= '9':
		n = b - '0'
	case b >= 'a' && b <= 'f':
		n = b - 'a' + 10
	default:
		n = b
	}
	return c.shards[n%cacheShards]
}

// Get returns the cached verdict if present and unexpired.
func (c *VerdictCache) Get(key string) (types.VLMVerdict, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return types.VLMVerdict{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		s.order.Remove(el)
		delete(s.items, key)
		return types.VLMVerdict{}, false
	}
	s.order.MoveToFront(el)
	return entry.verdict, true
}

// Put stores a verdict, evicting the least recently used entry if the shard
// is full.
func (c *VerdictCache) Put(key string, v types.VLMVerdict) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.verdict = v
		entry.expires = time.Now().Add(c.ttl)
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= c.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*cacheEntry).key)
			logging.Get(logging.CategoryCache).Debug("evicted verdict cache entry")
		}
	}

	el := s.order.PushFront(&cacheEntry{key: key, verdict: v, expires: time.Now().Add(c.ttl)})
	s.items[key] = el
}

// Len returns the total number of cached entries.
func (c *VerdictCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}
