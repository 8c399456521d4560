package editctx

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	lightart "github.com/Paranoid-AF/lightart"
)

const snapshotCacheTTL = 1 * time.Hour

// Cache is a TTL cache of EditContext snapshots keyed by image id, so a
// session that reopens an image starts from its last known context.
type Cache struct {
	cache *ttlcache.Cache[string, lightart.EditContext]
}

// NewCache creates a new snapshot cache with TTL-based expiration.
// A non-positive ttl selects one hour.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = snapshotCacheTTL
	}
	c := ttlcache.New[string, lightart.EditContext](
		ttlcache.WithTTL[string, lightart.EditContext](ttl),
	)
	go c.Start()
	return &Cache{cache: c}
}

// Close stops the cache expiration loop.
func (c *Cache) Close() {
	c.cache.Stop()
}

// Get returns the cached snapshot for imageID.
func (c *Cache) Get(imageID string) (lightart.EditContext, bool) {
	if imageID == "" {
		return lightart.EditContext{}, false
	}
	item := c.cache.Get(imageID)
	if item == nil {
		return lightart.EditContext{}, false
	}
	return item.Value(), true
}

// Put stores a snapshot under its image id. Snapshots without an id are ignored.
func (c *Cache) Put(ec lightart.EditContext) {
	if ec.ImageID == "" {
		return
	}
	c.cache.Set(ec.ImageID, ec, ttlcache.DefaultTTL)
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.cache.Len()
}
