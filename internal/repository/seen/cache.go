package seen

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults used when the configured bounds are not positive.
const (
	DefaultCapacity = 100
	DefaultTTL      = 10 * time.Minute
)

// Cache is a bounded, time-expiring set of correlation ids this node originated.
// Entries leave after ttl or when capacity is exceeded, least recently written first.
// Safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, time.Time]
}

// New creates a cache holding at most capacity ids for ttl each.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, time.Time](capacity, nil, ttl)}
}

// Put records id, refreshing its expiry if already present.
func (c *Cache) Put(id string) {
	c.lru.Add(id, time.Now())
}

// Contains reports whether id was recorded and has not expired or been evicted.
// It does not refresh the entry.
func (c *Cache) Contains(id string) bool {
	_, ok := c.lru.Peek(id)
	return ok
}

// Len returns the number of entries, possibly including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.lru.Len()
}
