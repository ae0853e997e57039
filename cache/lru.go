package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/layermesh/metrics"
)

// Lookup results reported on the cache_lookups metric.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultStale = "stale"
)

// Options configures an LRU.
type Options struct {
	// Name labels the cache in metrics.
	Name string
	// Capacity is the maximum number of entries. Defaults to 1024.
	Capacity int
	// TTL expires entries after a fixed age. Zero keeps entries until evicted.
	TTL     time.Duration
	Metrics metrics.Collector
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Purges     int64
	Len        int
	Generation uint64
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// LRU is a thread-safe least-recently-used cache whose entries are stamped
// with a topology generation.
type LRU[K comparable, V any] struct {
	name     string
	capacity int
	ttl      time.Duration
	now      func() time.Time
	metrics  metrics.Collector
	group    singleflight.Group

	mu         sync.Mutex
	generation uint64
	items      map[K]*list.Element
	order      *list.List // front = most recent

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	purges    atomic.Int64
}

// New creates an LRU cache.
func New[K comparable, V any](optFns ...func(o *Options)) *LRU[K, V] {
	opts := Options{Name: "default", Capacity: 1024}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU[K, V]{
		name:     opts.Name,
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		now:      opts.Now,
		metrics:  metrics.OrNoOp(opts.Metrics),
		items:    make(map[K]*list.Element, opts.Capacity),
		order:    list.New(),
	}
}

// Get returns the value stored for key in the current generation.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()
	c.record(ok)
	return v, ok
}

// Put stores value under key in the current generation.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
}

// Observe moves the cache to generation, purging every entry if it is newer
// than the generation the entries were stored under. It reports whether the
// generation is current (older generations are stale and must not be cached).
func (c *LRU[K, V]) Observe(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observeLocked(generation)
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result when compute reports it as cacheable. Concurrent callers asking
// for the same key in the same generation share one computation.
//
// A generation older than the cache's current one bypasses the cache
// entirely: the value is computed but never stored.
func (c *LRU[K, V]) GetOrCompute(generation uint64, key K, compute func() (V, bool, error)) (V, error) {
	c.mu.Lock()
	if !c.observeLocked(generation) {
		c.mu.Unlock()
		c.metrics.Inc(metrics.CacheLookups, c.name, ResultStale)
		v, _, err := compute()
		return v, err
	}
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		c.record(true)
		return v, nil
	}
	c.mu.Unlock()
	c.record(false)

	flightKey := fmt.Sprintf("%d/%v", generation, key)
	res, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		v, cacheable, err := compute()
		if err != nil {
			return v, err
		}
		if cacheable {
			c.mu.Lock()
			if c.generation == generation {
				c.putLocked(key, v)
			}
			c.mu.Unlock()
		}
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// Purge removes all entries.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		Purges:     c.purges.Load(),
		Len:        c.order.Len(),
		Generation: c.generation,
	}
}

func (c *LRU[K, V]) observeLocked(generation uint64) bool {
	switch {
	case generation > c.generation:
		c.purgeLocked()
		c.generation = generation
		return true
	case generation < c.generation:
		return false
	default:
		return true
	}
}

func (c *LRU[K, V]) getLocked(key K) (V, bool) {
	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl {
		c.removeLocked(elem)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return e.value, true
}

func (c *LRU[K, V]) putLocked(key K, value V) {
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.evictions.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: c.now()})
}

func (c *LRU[K, V]) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}

func (c *LRU[K, V]) purgeLocked() {
	if c.order.Len() > 0 {
		c.purges.Add(1)
	}
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

func (c *LRU[K, V]) record(hit bool) {
	if hit {
		c.hits.Add(1)
		c.metrics.Inc(metrics.CacheLookups, c.name, ResultHit)
		return
	}
	c.misses.Add(1)
	c.metrics.Inc(metrics.CacheLookups, c.name, ResultMiss)
}
