package node

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"lava-reports/internal/cache"
)

// Cached serves height-pinned queries and denom traces from a response cache.
// Cache failures are logged and treated as misses.
type Cached struct {
	next   Querier
	store  cache.Store
	logger zerolog.Logger
}

// NewCached wraps next with store.
func NewCached(next Querier, store cache.Store, logger zerolog.Logger) *Cached {
	if store == nil {
		store = cache.Nop{}
	}
	return &Cached{
		next:   next,
		store:  store,
		logger: logger.With().Str("component", "node_cache").Logger(),
	}
}

// Query consults the cache before delegating.
func (c *Cached) Query(ctx context.Context, req Request) (json.RawMessage, error) {
	if !req.Cacheable() {
		return c.next.Query(ctx, req)
	}

	key := req.Key()
	var cached json.RawMessage
	hit, err := c.store.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("response cache read failed")
	} else if hit && len(cached) > 0 {
		return cached, nil
	}

	payload, err := c.next.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, key, payload); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("response cache write failed")
	}
	return payload, nil
}

var _ Querier = (*Cached)(nil)
