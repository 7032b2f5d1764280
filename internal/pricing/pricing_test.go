package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoFetchUSD(t *testing.T) {
	var gotPath, gotIDs, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIDs = r.URL.Query().Get("ids")
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lava-network":{"usd":0.128505}}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL + "/", APIKey: "k", Timeout: time.Second}, zerolog.Nop())
	price, err := cg.FetchUSD(context.Background(), "lava-network")
	require.NoError(t, err)

	assert.Equal(t, "/simple/price", gotPath)
	assert.Equal(t, "lava-network", gotIDs)
	assert.Equal(t, "k", gotKey)
	assert.True(t, price.Equal(decimal.RequireFromString("0.128505")))
}

func TestCoinGeckoErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		"missing id": {http.StatusOK, `{}`, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoQuote) }},
		"rate limited": {http.StatusTooManyRequests, `{"status":{"error_code":429,"error_message":"You've exceeded the Rate Limit"}}`, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "429")
			assert.ErrorContains(t, err, "exceeded the Rate Limit")
		}},
		"bad json": {http.StatusOK, `not json`, func(t *testing.T, err error) { assert.ErrorContains(t, err, "decode price response") }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL}, zerolog.Nop())
			_, err := cg.FetchUSD(context.Background(), "cosmos")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

type stubSource struct {
	calls  int
	quotes []decimal.Decimal
	err    error
}

func (s *stubSource) FetchUSD(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	q := s.quotes[0]
	if len(s.quotes) > 1 {
		s.quotes = s.quotes[1:]
	}
	return q, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestRateCacheTTL(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &stubSource{quotes: []decimal.Decimal{decimal.RequireFromString("0.128505"), decimal.RequireFromString("0.2")}}
	rc := NewRateCache(src, CacheOptions{TTL: 30 * time.Minute, Now: clk.Now}, zerolog.Nop())
	ctx := context.Background()

	r, err := rc.Rate(ctx, "lava-network")
	require.NoError(t, err)
	assert.Equal(t, "0.128505", r.String())

	clk.now = clk.now.Add(29 * time.Minute)
	r, err = rc.Rate(ctx, "lava-network")
	require.NoError(t, err)
	assert.Equal(t, "0.128505", r.String())
	assert.Equal(t, 1, src.calls)

	clk.now = clk.now.Add(2 * time.Minute)
	r, err = rc.Rate(ctx, "lava-network")
	require.NoError(t, err)
	assert.Equal(t, "0.2", r.String())
	assert.Equal(t, 2, src.calls)
}

func TestRateCacheRejectsOutOfBand(t *testing.T) {
	src := &stubSource{quotes: []decimal.Decimal{decimal.NewFromInt(250_000)}}
	rc := NewRateCache(src, CacheOptions{}, zerolog.Nop())

	r, err := rc.Rate(context.Background(), "scam")
	assert.ErrorIs(t, err, ErrOutOfBand)
	assert.True(t, r.IsZero())
	assert.Empty(t, rc.Snapshot())

	_, _ = rc.Rate(context.Background(), "scam")
	assert.Equal(t, 2, src.calls, "rejected quotes are refetched")
}

func TestRateCacheFallbacks(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &stubSource{quotes: []decimal.Decimal{decimal.RequireFromString("6.5")}}
	rc := NewRateCache(src, CacheOptions{
		Now:   clk.Now,
		Seeds: SeedsFromFloats(map[string]float64{"evmos": 0.02137148}),
	}, zerolog.Nop())

	_, err := rc.Rate(ctx, "cosmos")
	require.NoError(t, err)

	src.err = errors.New("connection reset")
	clk.now = clk.now.Add(time.Hour)

	r, err := rc.Rate(ctx, "cosmos")
	require.NoError(t, err)
	assert.Equal(t, "6.5", r.String(), "stale quote beats seed")

	r, err = rc.Rate(ctx, "evmos")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.02137148")))

	r, err = rc.Rate(ctx, "unknown-coin")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, r.IsZero())
}
