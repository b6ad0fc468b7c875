package contract

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache keeps recently fetched contract lists per project so that selecting a
// sub-unit right after a project does not refetch the list. A nil *Cache is
// valid and caches nothing.
type Cache struct {
	lists *expirable.LRU[string, []Record]
}

// NewCache creates a cache holding up to size project lists for ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{lists: expirable.NewLRU[string, []Record](size, nil, ttl)}
}

func cacheKey(scope, projectID string) string {
	return scope + "/" + projectID
}

// Get returns the cached contract list for the project.
func (c *Cache) Get(scope, projectID string) ([]Record, bool) {
	if c == nil {
		return nil, false
	}
	return c.lists.Get(cacheKey(scope, projectID))
}

// Put stores the contract list for the project.
func (c *Cache) Put(scope, projectID string, contracts []Record) {
	if c == nil {
		return
	}
	c.lists.Add(cacheKey(scope, projectID), contracts)
}

// Forget drops the cached list for the project.
func (c *Cache) Forget(scope, projectID string) {
	if c == nil {
		return
	}
	c.lists.Remove(cacheKey(scope, projectID))
}
