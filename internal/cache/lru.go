// Package cache provides a fixed-capacity least-recently-used cache.
//
// Two instances back the pipeline: event-id deduplication and display-name
// memoization. Losing an entry is always safe; it costs at most one
// redundant lookup, or for dedup a re-processed event bounded by capacity.
package cache

import (
	"container/list"
	"fmt"
	"sync"
)

type entry[K comparable, V any] struct {
	key K
	val V
}

// LRU is a fixed-capacity cache with least-recently-used eviction. Get and
// Set both promote the key to most-recently-used. Not safe for concurrent
// use; see SyncLRU.
type LRU[K comparable, V any] struct {
	capacity int
	order    *list.List // front = most recently used
	index    map[K]*list.Element
}

// NewLRU constructs an LRU with the given capacity. Constructing with a
// non-positive capacity is a programming error and panics.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		panic(fmt.Sprintf("cache: capacity must be positive, got %d", capacity))
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element, capacity),
	}
}

// Get returns the value for key, promoting it on a hit.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).val, true
	}
	var zero V
	return zero, false
}

// Set inserts or updates key, promoting it to most-recently-used. When the
// insert pushes the size past capacity the least-recently-used entry is
// evicted.
func (c *LRU[K, V]) Set(key K, val V) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry[K, V]).val = val
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(&entry[K, V]{key: key, val: val})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry[K, V]).key)
	}
}

// Contains reports whether key is cached, without promoting it.
func (c *LRU[K, V]) Contains(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Len returns the current number of entries.
func (c *LRU[K, V]) Len() int { return c.order.Len() }

// SyncLRU wraps an LRU with a single mutex. Used wherever the cache is
// shared between the event-consumer loop and the pin monitor.
type SyncLRU[K comparable, V any] struct {
	mu  sync.Mutex
	lru *LRU[K, V]
}

// NewSyncLRU constructs a thread-safe LRU; panics on non-positive capacity.
func NewSyncLRU[K comparable, V any](capacity int) *SyncLRU[K, V] {
	return &SyncLRU[K, V]{lru: NewLRU[K, V](capacity)}
}

func (c *SyncLRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *SyncLRU[K, V]) Set(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Set(key, val)
}

func (c *SyncLRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

func (c *SyncLRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
