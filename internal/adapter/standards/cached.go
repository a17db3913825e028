package standards

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/cache"
	"github.com/wardenhq/warden/internal/port/standards"
)

// Cached decorates a Provider with read-through caching for the two read
// paths. Mirror writes pass straight through; the knowledge base owns its
// own consistency, so there is no invalidation beyond the TTL.
type Cached struct {
	next  standards.Provider
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

var _ standards.Provider = (*Cached)(nil)

// NewCached wraps next with a read-through cache.
func NewCached(next standards.Provider, c cache.Cache, ttl time.Duration, log *slog.Logger) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl, log: log}
}

func (c *Cached) StandardsByTier(ctx context.Context, tier string) ([]review.Standard, error) {
	return c.readThrough(ctx, "standards:tier:"+tier, func() ([]review.Standard, error) {
		return c.next.StandardsByTier(ctx, tier)
	})
}

func (c *Cached) Search(ctx context.Context, query string) ([]review.Standard, error) {
	return c.readThrough(ctx, "standards:search:"+query, func() ([]review.Standard, error) {
		return c.next.Search(ctx, query)
	})
}

func (c *Cached) MirrorReview(ctx context.Context, rec standards.MirrorRecord) error {
	return c.next.MirrorReview(ctx, rec)
}

func (c *Cached) readThrough(ctx context.Context, key string, load func() ([]review.Standard, error)) ([]review.Standard, error) {
	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var stds []review.Standard
		if err := json.Unmarshal(data, &stds); err == nil {
			return stds, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		_ = c.cache.Delete(ctx, key)
	}

	stds, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(stds); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.Warn("standards cache set failed", "key", key, "error", err)
		}
	}
	return stds, nil
}
