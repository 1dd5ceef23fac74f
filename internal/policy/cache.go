package policy

import (
	"context"
	"sync"
	"time"

	"crm_dialog_relay/platform/logger"

	"golang.org/x/sync/singleflight"
)

// Source loads policy blocks from one backing store.
type Source interface {
	Name() string
	Load(ctx context.Context) (Library, error)
}

// failureBackoff spaces out reloads while every source is failing.
const failureBackoff = 30 * time.Second

// Cache serves the rendered policy text, refreshing it at most once per ttl.
// Concurrent refreshes are coalesced. A failed refresh keeps serving the last
// good text; the default role text is served until the first success.
type Cache struct {
	sources []Source
	log     *logger.Logger
	group   singleflight.Group
	now     func() time.Time

	mu       sync.RWMutex
	text     string
	loadedAt time.Time
	retryAt  time.Time
}

func NewCache(log *logger.Logger, sources ...Source) *Cache {
	return &Cache{
		sources: sources,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the policy text, reloading when the cached copy is older than ttl.
func (c *Cache) Get(ctx context.Context, ttl time.Duration) string {
	c.mu.RLock()
	text, loadedAt, retryAt := c.text, c.loadedAt, c.retryAt
	c.mu.RUnlock()

	now := c.now()
	if text != "" && now.Sub(loadedAt) < ttl {
		return text
	}
	if now.Before(retryAt) {
		if text != "" {
			return text
		}
		return Default().Render()
	}

	v, _, _ := c.group.Do("policy", func() (any, error) {
		return c.refresh(ctx, ttl), nil
	})
	return v.(string)
}

func (c *Cache) refresh(ctx context.Context, ttl time.Duration) string {
	merged := Library{}
	for _, src := range c.sources {
		lib, err := src.Load(ctx)
		if err != nil {
			c.log.Warn("policy: source failed", "source", src.Name(), "error", err)
			continue
		}
		merged.Merge(lib)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(merged) == 0 {
		c.retryAt = c.now().Add(min(failureBackoff, ttl))
		if c.text != "" {
			c.log.Warn("policy: no blocks loaded, serving cached policy")
			return c.text
		}
		c.log.Warn("policy: no blocks loaded, serving default role")
		return Default().Render()
	}

	c.text = merged.Render()
	c.loadedAt = c.now()
	c.retryAt = time.Time{}
	c.log.Info("policy: library refreshed", "blocks", len(merged))
	return c.text
}
