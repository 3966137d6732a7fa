package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a size-bounded cache whose entries are fresh while strictly
// younger than the TTL. Stale entries are dropped on read or by Sweep.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	index    map[string]*list.Element
	order    *list.List // front is most recently used
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests that need to step over the TTL.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewLRU[V any](capacity int, ttl time.Duration, opts ...Option) *LRU[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      o.now,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Lookup returns the value for key and how long ago it was stored.
func (c *LRU[V]) Lookup(key string) (V, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.index[key]
	if !ok {
		return zero, 0, false
	}
	e := el.Value.(*entry[V])
	age := c.now().Sub(e.storedAt)
	if age >= c.ttl {
		c.unlink(el)
		return zero, 0, false
	}
	c.order.MoveToFront(el)
	return e.value, age, true
}

func (c *LRU[V]) Get(key string) (V, bool) {
	v, _, ok := c.Lookup(key)
	return v, ok
}

// Put stores value under key with the current time, replacing any older
// value. The least recently used entry goes when capacity is exceeded.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[V]{key: key, value: value, storedAt: c.now()}
	if el, ok := c.index[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(e)
	for c.order.Len() > c.capacity {
		c.unlink(c.order.Back())
	}
}

// Sweep drops every stale entry and reports how many were removed.
func (c *LRU[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.Sub(el.Value.(*entry[V]).storedAt) >= c.ttl {
			c.unlink(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *LRU[V]) unlink(el *list.Element) {
	delete(c.index, el.Value.(*entry[V]).key)
	c.order.Remove(el)
}
