package notify

import (
	"context"
	"time"

	"github.com/chattingus/realtime/internal/store"
	"github.com/jellydator/ttlcache/v3"
)

// PreferenceCache fronts the store's preference lookups with a short
// TTL so a burst of notifications to the same recipient hits the
// database once.
type PreferenceCache struct {
	store store.Store
	cache *ttlcache.Cache[string, store.Preferences]
}

func NewPreferenceCache(s store.Store, ttl time.Duration) *PreferenceCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, store.Preferences](ttl),
		ttlcache.WithDisableTouchOnHit[string, store.Preferences](),
	)
	go cache.Start()

	return &PreferenceCache{
		store: s,
		cache: cache,
	}
}

func (c *PreferenceCache) Get(ctx context.Context, userID string) (store.Preferences, error) {
	if item := c.cache.Get(userID); item != nil {
		return item.Value(), nil
	}

	preferences, err := c.store.GetPreferences(ctx, userID)
	if err != nil {
		return store.Preferences{}, err
	}

	c.cache.Set(userID, preferences, ttlcache.DefaultTTL)

	return preferences, nil
}

// Invalidate drops a cached entry, e.g. after the backend updates a
// user's preferences.
func (c *PreferenceCache) Invalidate(userID string) {
	c.cache.Delete(userID)
}

func (c *PreferenceCache) Stop() {
	c.cache.Stop()
}
