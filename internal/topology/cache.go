package topology

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"k8s.io/apimachinery/pkg/runtime"
)

// readCache is a bounded, time-expiring cache for repeated GET lookups
// within one reconciliation window. A nil inner LRU (size 0) disables
// caching entirely.
type readCache struct {
	lru *expirable.LRU[string, runtime.Object]
}

func newReadCache(size int, ttl time.Duration) *readCache {
	if size <= 0 {
		return &readCache{}
	}
	return &readCache{
		lru: expirable.NewLRU[string, runtime.Object](size, nil, ttl),
	}
}

func (c *readCache) get(key string) (runtime.Object, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *readCache) add(key string, obj runtime.Object) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, obj)
}
