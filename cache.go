package reqflow

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// LookupState describes what a cache lookup yielded.
type LookupState int

const (
	// Miss means no usable entry: the operation must be fetched.
	Miss LookupState = iota

	// Stale means the entry's freshness deadline passed but it carries a
	// validator: it must be revalidated via a conditional fetch before reuse.
	Stale

	// Fresh means the entry is usable without contacting the transport.
	Fresh
)

func (s LookupState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Lookup is the result of consulting the cache for an operation key.
type Lookup struct {
	State     LookupState
	Payload   []byte
	Validator string
}

// Cache stores prior response payloads with freshness metadata, keyed by
// operation identity. Entry replacement is atomic; per-key operations are
// linearized. Implementations must be safe for concurrent use.
type Cache interface {
	Lookup(ctx context.Context, key string) (Lookup, error)

	// Store atomically replaces the entry. A freshness deadline already in
	// the past is accepted: the entry is stored immediately revalidatable.
	Store(ctx context.Context, key string, payload []byte, validator string, freshUntil time.Time) error

	// Refresh extends an existing entry's freshness deadline, keeping its
	// payload. Used when a conditional fetch reports the payload unchanged.
	Refresh(ctx context.Context, key string, freshUntil time.Time) error

	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

// MemoryCache is a sharded in-memory Cache bounded by total payload bytes,
// with strict least-recently-used eviction within each shard. Mutations are
// serialized per shard, not globally; configure a single shard when globally
// strict LRU order matters more than contention.
type MemoryCache struct {
	shards []*cacheShard
	now    func() time.Time
}

type cacheShard struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	used     int64
	capacity int64
}

type memoryEntry struct {
	key        string
	payload    []byte
	validator  string
	freshUntil time.Time
	storedAt   time.Time
}

const (
	defaultCacheCapacity = 64 << 20
	defaultCacheShards   = 16
)

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*memoryCacheConfig)

type memoryCacheConfig struct {
	capacity int64
	shards   int
}

// WithCacheCapacity bounds the cache by total payload bytes.
func WithCacheCapacity(bytes int64) MemoryCacheOption {
	return func(c *memoryCacheConfig) {
		c.capacity = bytes
	}
}

// WithCacheShards sets the shard count. One shard gives globally strict LRU
// at the cost of serializing all mutations.
func WithCacheShards(n int) MemoryCacheOption {
	return func(c *memoryCacheConfig) {
		c.shards = n
	}
}

// NewMemoryCache creates a MemoryCache with 64MiB capacity and 16 shards by
// default.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	cfg := &memoryCacheConfig{capacity: defaultCacheCapacity, shards: defaultCacheShards}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.shards < 1 {
		cfg.shards = 1
	}
	if cfg.capacity < 1 {
		cfg.capacity = defaultCacheCapacity
	}

	shards := make([]*cacheShard, cfg.shards)
	perShard := cfg.capacity / int64(cfg.shards)
	if perShard < 1 {
		perShard = 1
	}
	for i := range shards {
		shards[i] = &cacheShard{
			entries:  make(map[string]*list.Element),
			lru:      list.New(),
			capacity: perShard,
		}
	}
	return &MemoryCache{shards: shards, now: time.Now}
}

func (c *MemoryCache) shard(key string) *cacheShard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Lookup implements Cache.
func (c *MemoryCache) Lookup(_ context.Context, key string) (Lookup, error) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return Lookup{State: Miss}, nil
	}
	e := el.Value.(*memoryEntry)

	if c.now().Before(e.freshUntil) {
		s.lru.MoveToFront(el)
		return Lookup{State: Fresh, Payload: e.payload, Validator: e.validator}, nil
	}
	if e.validator != "" {
		s.lru.MoveToFront(el)
		return Lookup{State: Stale, Payload: e.payload, Validator: e.validator}, nil
	}

	// Stale without a validator is unusable; drop it.
	s.removeLocked(el)
	return Lookup{State: Miss}, nil
}

// Store implements Cache. An entry larger than the shard budget is not
// cached at all rather than evicting the whole shard for it.
func (c *MemoryCache) Store(_ context.Context, key string, payload []byte, validator string, freshUntil time.Time) error {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}

	size := int64(len(payload))
	if size > s.capacity {
		return nil
	}

	e := &memoryEntry{
		key:        key,
		payload:    payload,
		validator:  validator,
		freshUntil: freshUntil,
		storedAt:   c.now(),
	}
	s.entries[key] = s.lru.PushFront(e)
	s.used += size

	for s.used > s.capacity {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeLocked(back)
	}
	return nil
}

// Refresh implements Cache.
func (c *MemoryCache) Refresh(_ context.Context, key string, freshUntil time.Time) error {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil
	}
	el.Value.(*memoryEntry).freshUntil = freshUntil
	s.lru.MoveToFront(el)
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

// InvalidateAll implements Cache.
func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*list.Element)
		s.lru = list.New()
		s.used = 0
		s.mu.Unlock()
	}
	return nil
}

// Stats returns the current entry count and payload byte total.
func (c *MemoryCache) Stats() (entries int, bytes int64) {
	for _, s := range c.shards {
		s.mu.Lock()
		entries += len(s.entries)
		bytes += s.used
		s.mu.Unlock()
	}
	return entries, bytes
}

func (s *cacheShard) removeLocked(el *list.Element) {
	e := el.Value.(*memoryEntry)
	s.lru.Remove(el)
	delete(s.entries, e.key)
	s.used -= int64(len(e.payload))
}
