package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrOutOfBand marks a quote outside the acceptable rate band.
	ErrOutOfBand = errors.New("pricing: rate out of acceptable band")
	// ErrUnavailable means no fresh, stale or seed rate exists for the id.
	ErrUnavailable = errors.New("pricing: rate unavailable")
)

// Source returns the USD price of a coin id.
type Source interface {
	FetchUSD(ctx context.Context, id string) (decimal.Decimal, error)
}

// Entry is one cached quote.
type Entry struct {
	CoinID    string
	RateUSD   decimal.Decimal
	FetchedAt time.Time
}

// CacheOptions parameterise a RateCache.
type CacheOptions struct {
	TTL     time.Duration
	MinRate decimal.Decimal
	MaxRate decimal.Decimal
	Seeds   map[string]decimal.Decimal
	Now     func() time.Time
}

// RateCache keeps quotes for TTL. Out-of-band quotes are never stored.
// On fetch failure it falls back to the last known quote, then to the seed table.
type RateCache struct {
	source Source
	opts   CacheOptions
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// NewRateCache constructs a cache in front of source.
func NewRateCache(source Source, opts CacheOptions, logger zerolog.Logger) *RateCache {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.MinRate.IsZero() {
		opts.MinRate = decimal.New(1, -7)
	}
	if opts.MaxRate.IsZero() {
		opts.MaxRate = decimal.NewFromInt(100_000)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateCache{
		source:  source,
		opts:    opts,
		logger:  logger.With().Str("component", "rate_cache").Logger(),
		entries: make(map[string]Entry),
	}
}

// SeedsFromFloats converts a config seed table.
func SeedsFromFloats(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for id, v := range in {
		out[id] = decimal.NewFromFloat(v)
	}
	return out
}

// Rate returns the USD rate for id. The lock is not held across the fetch.
func (c *RateCache) Rate(ctx context.Context, id string) (decimal.Decimal, error) {
	now := c.opts.Now()

	c.mu.Lock()
	entry, known := c.entries[id]
	c.mu.Unlock()
	if known && now.Sub(entry.FetchedAt) < c.opts.TTL {
		return entry.RateUSD, nil
	}

	quote, err := c.source.FetchUSD(ctx, id)
	if err != nil {
		if known {
			c.logger.Warn().Err(err).Str("id", id).Time("fetched_at", entry.FetchedAt).Msg("rate fetch failed; using last known rate")
			return entry.RateUSD, nil
		}
		if seed, ok := c.opts.Seeds[id]; ok {
			c.logger.Warn().Err(err).Str("id", id).Str("seed", seed.String()).Msg("rate fetch failed; using seed rate")
			return seed, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, err)
	}

	if quote.LessThan(c.opts.MinRate) || quote.GreaterThan(c.opts.MaxRate) {
		c.logger.Warn().Str("id", id).Str("rate", quote.String()).Msg("rate out of acceptable range")
		return decimal.Zero, fmt.Errorf("%w: %s = %s", ErrOutOfBand, id, quote)
	}

	c.mu.Lock()
	c.entries[id] = Entry{CoinID: id, RateUSD: quote, FetchedAt: c.opts.Now()}
	c.mu.Unlock()
	return quote, nil
}

// Snapshot returns a copy of the cached entries.
func (c *RateCache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
