package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle state of a cached query.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusFetching      Status = "fetching"
	StatusFresh         Status = "fresh"
	StatusStale         Status = "stale"
	StatusError         Status = "error"
)

// Fetcher performs a read and reports the tags its result provides.
type Fetcher func(ctx context.Context) (data any, provides []Tag, err error)

// Entry is a point-in-time view of one cached query.
type Entry struct {
	Key      string
	Status   Status
	Data     any
	Err      error
	Provides []Tag
	// Pending counts in-flight mutations whose tags intersect Provides.
	Pending   int
	FetchedAt time.Time
	Fetches   int
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	StaleReads    int64
	Invalidations int64
}

type entry struct {
	status    Status
	data      any
	err       error
	provides  []Tag
	fetchedAt time.Time
	fetches   int
	// dirty collects tags invalidated while a fetch was outstanding.
	dirty []Tag
}

// Cache holds query results keyed by string. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	pending map[string][]Tag
	flight  singleflight.Group
	now     func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	staleReads    atomic.Int64
	invalidations atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithNow sets the time source used for FetchedAt.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		pending: make(map[string][]Tag),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query returns the cached result for key, fetching it if the entry is
// missing, stale or errored. A fresh entry is served without calling fetch.
// Concurrent calls for the same key share one fetch.
func (c *Cache) Query(ctx context.Context, key string, fetch Fetcher) (Entry, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.status == StatusFresh {
		out := c.snapshotLocked(key, e)
		c.mu.Unlock()
		c.hits.Add(1)
		cacheRequests.WithLabelValues("hit").Inc()
		return out, nil
	}
	if ok && e.status == StatusStale {
		c.staleReads.Add(1)
		cacheRequests.WithLabelValues("stale").Inc()
	} else {
		c.misses.Add(1)
		cacheRequests.WithLabelValues("miss").Inc()
	}
	c.mu.Unlock()

	_, err, _ := c.flight.Do(key, func() (any, error) {
		// A fetch that finished between the check above and here already
		// refreshed the entry.
		c.mu.Lock()
		cur, ok := c.entries[key]
		fresh := ok && cur.status == StatusFresh
		c.mu.Unlock()
		if fresh {
			return nil, nil
		}
		return nil, c.refetch(ctx, key, fetch)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(key, c.entries[key]), err
}

// Refetch forces a fetch for key regardless of its status.
func (c *Cache) Refetch(ctx context.Context, key string, fetch Fetcher) (Entry, error) {
	_, err, _ := c.flight.Do(key, func() (any, error) {
		return nil, c.refetch(ctx, key, fetch)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(key, c.entries[key]), err
}

func (c *Cache) refetch(ctx context.Context, key string, fetch Fetcher) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.status = StatusFetching
	e.dirty = nil
	c.mu.Unlock()

	began := time.Now()
	data, provides, err := fetch(ctx)
	cacheFetchDuration.Observe(time.Since(began).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	// Evicted while fetching: keep the result anyway, the caller asked for it.
	if cur, ok := c.entries[key]; !ok || cur != e {
		c.entries[key] = e
	}
	e.fetches++
	if err != nil {
		e.status = StatusError
		e.err = err
		e.dirty = nil
		slog.Warn("query fetch failed", "key", key, "error", err)
		return fmt.Errorf("query %s: %w", key, err)
	}
	e.data = data
	e.err = nil
	e.provides = slices.Clone(provides)
	e.fetchedAt = c.now()
	if Intersects(e.dirty, e.provides) {
		e.status = StatusStale
		slog.Debug("query invalidated during fetch", "key", key)
	} else {
		e.status = StatusFresh
	}
	e.dirty = nil
	return nil
}

// Invalidate marks stale every fresh entry whose provides set intersects
// tags. Entries being fetched remember the tags and land stale if their new
// result provides any of them. Returns the keys that turned stale.
func (c *Cache) Invalidate(tags ...Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key, e := range c.entries {
		switch e.status {
		case StatusFresh:
			if Intersects(e.provides, tags) {
				e.status = StatusStale
				keys = append(keys, key)
			}
		case StatusFetching:
			e.dirty = append(e.dirty, tags...)
		}
	}
	sort.Strings(keys)
	if n := len(keys); n > 0 {
		c.invalidations.Add(int64(n))
		cacheInvalidations.Add(float64(n))
		slog.Debug("queries invalidated", "tags", tagStrings(tags), "keys", keys)
	}
	return keys
}

// MarkPending records that mutation id is in flight against tags.
func (c *Cache) MarkPending(id string, tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = slices.Clone(tags)
}

// ClearPending forgets mutation id.
func (c *Cache) ClearPending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// RemapID rewrites tags of typ from oldID to newID in every entry and
// pending record, so a provisional id resolved by the server keeps its
// cache back-references.
func (c *Cache) RemapID(typ TagType, oldID, newID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.provides = remapTags(e.provides, typ, oldID, newID)
		e.dirty = remapTags(e.dirty, typ, oldID, newID)
	}
	for id, tags := range c.pending {
		c.pending[id] = remapTags(tags, typ, oldID, newID)
	}
}

// Entry returns the current state of key without fetching.
func (c *Cache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{Key: key, Status: StatusUninitialized}, false
	}
	return c.snapshotLocked(key, e), true
}

// Evict drops key.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns every cached key, sorted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		StaleReads:    c.staleReads.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

func (c *Cache) snapshotLocked(key string, e *entry) Entry {
	if e == nil {
		return Entry{Key: key, Status: StatusUninitialized}
	}
	pending := 0
	for _, tags := range c.pending {
		if Intersects(tags, e.provides) {
			pending++
		}
	}
	return Entry{
		Key:       key,
		Status:    e.status,
		Data:      e.data,
		Err:       e.err,
		Provides:  slices.Clone(e.provides),
		Pending:   pending,
		FetchedAt: e.fetchedAt,
		Fetches:   e.fetches,
	}
}

func tagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// Get is Query with a typed result.
func Get[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, []Tag, error)) (T, Entry, error) {
	entry, err := c.Query(ctx, key, func(ctx context.Context) (any, []Tag, error) {
		return fetch(ctx)
	})
	var zero T
	if err != nil {
		return zero, entry, err
	}
	data, ok := entry.Data.(T)
	if !ok {
		return zero, entry, fmt.Errorf("query %s: cached data is %T", key, entry.Data)
	}
	return data, entry, nil
}
