package denom

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lava-reports/internal/cache"
)

const ibcPrefix = "ibc/"

// IsIBC reports whether denom is an IBC voucher.
func IsIBC(denom string) bool {
	return strings.HasPrefix(denom, ibcPrefix)
}

// TraceSource resolves an IBC hash to its base denom.
type TraceSource interface {
	DenomTrace(ctx context.Context, hash string) (string, error)
}

// IBCResolver resolves ibc/<hash> denoms, memoising results in process and
// persisting them in a cache store.
type IBCResolver struct {
	source TraceSource
	store  cache.Store
	logger zerolog.Logger

	mu   sync.Mutex
	memo map[string]string
}

// NewIBCResolver constructs a resolver. A nil store disables persistence.
func NewIBCResolver(source TraceSource, store cache.Store, logger zerolog.Logger) *IBCResolver {
	if store == nil {
		store = cache.Nop{}
	}
	return &IBCResolver{
		source: source,
		store:  store,
		logger: logger.With().Str("component", "ibc_resolver").Logger(),
		memo:   make(map[string]string),
	}
}

// Resolve returns the base denom behind an IBC denom, or denom unchanged.
// A failed lookup returns the original denom and is remembered only for the
// life of the resolver; the persistent store holds resolved traces alone.
func (r *IBCResolver) Resolve(ctx context.Context, denom string) string {
	if !IsIBC(denom) {
		return denom
	}

	r.mu.Lock()
	if base, ok := r.memo[denom]; ok {
		r.mu.Unlock()
		return base
	}
	r.mu.Unlock()

	var base string
	hit, err := r.store.Get(ctx, denom, &base)
	if err != nil {
		r.logger.Warn().Err(err).Str("denom", denom).Msg("denom cache read failed")
	}
	if !hit || base == "" {
		var resolved bool
		base, resolved = r.lookup(ctx, denom)
		if resolved {
			if err := r.store.Put(ctx, denom, base); err != nil {
				r.logger.Warn().Err(err).Str("denom", denom).Msg("denom cache write failed")
			}
		}
	}

	r.mu.Lock()
	r.memo[denom] = base
	r.mu.Unlock()
	return base
}

func (r *IBCResolver) lookup(ctx context.Context, denom string) (string, bool) {
	hash := strings.TrimPrefix(denom, ibcPrefix)
	base, err := r.source.DenomTrace(ctx, hash)
	if err != nil || base == "" {
		r.logger.Warn().Err(err).Str("denom", denom).Msg("denom trace unavailable; keeping ibc denom")
		return denom, false
	}
	return base, true
}
