package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lava-reports/internal/denom"
	"lava-reports/internal/pricing"
)

type fixedRates map[string]string

func (f fixedRates) Rate(_ context.Context, id string) (decimal.Decimal, error) {
	r, ok := f[id]
	if !ok {
		return decimal.Zero, pricing.ErrUnavailable
	}
	return decimal.RequireFromString(r), nil
}

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, raw string) string {
	if base, ok := m[raw]; ok {
		return base
	}
	return raw
}

func newTestNormalizer() *Normalizer {
	table := denom.NewTable(map[string]string{
		"lava":  "lava-network",
		"atom":  "cosmos",
		"evmos": "evmos",
		"cro":   "crypto-com-chain",
	})
	rates := fixedRates{
		"lava-network":     "0.128505",
		"cosmos":           "6.45",
		"evmos":            "0.02137148",
		"crypto-com-chain": "0.1",
	}
	resolver := mapResolver{"ibc/C4CFF46FD6DE35CA4CF4CE031E643C8FDC9BA4B99AE598E9B0ED98FE3A2319F9": "uatom"}
	return New(table, resolver, rates, DefaultOptions(), zerolog.Nop())
}

func TestNormalizeEmpty(t *testing.T) {
	n := newTestNormalizer()
	for _, in := range [][]TokenAmount{nil, {}} {
		res := n.Normalize(context.Background(), in)
		assert.NotNil(t, res.Tokens)
		assert.Empty(t, res.Tokens)
		assert.True(t, res.TotalUSD.IsZero())
	}
}

func TestNormalizeLava(t *testing.T) {
	res := newTestNormalizer().Normalize(context.Background(), []TokenAmount{{Amount: "5000000", Denom: "ulava"}})
	require.Len(t, res.Tokens, 1)

	tok := res.Tokens[0]
	assert.Equal(t, "lava", tok.Denom)
	assert.Equal(t, "ulava", tok.OriginalDenom)
	assert.Equal(t, "5000000", tok.Amount)
	assert.True(t, tok.BaseAmount.Equal(decimal.NewFromInt(5)))
	assert.True(t, tok.ValueUSD.Equal(decimal.RequireFromString("0.642525")), tok.ValueUSD.String())
	assert.True(t, res.TotalUSD.Equal(decimal.RequireFromString("0.642525")))
}

func TestNormalizeIBCAndHighPrecision(t *testing.T) {
	res := newTestNormalizer().Normalize(context.Background(), []TokenAmount{
		{Amount: "2000000", Denom: "ibc/C4CFF46FD6DE35CA4CF4CE031E643C8FDC9BA4B99AE598E9B0ED98FE3A2319F9"},
		{Amount: "3000000000000000000.5", Denom: "aevmos"},
		{Amount: "250000000", Denom: "basecro"},
	})
	require.Len(t, res.Tokens, 3)

	assert.Equal(t, "atom", res.Tokens[0].Denom)
	assert.True(t, res.Tokens[0].ValueUSD.Equal(decimal.RequireFromString("12.9")))
	assert.True(t, res.Tokens[1].BaseAmount.Equal(decimal.RequireFromString("3.0000000000000000005")))
	assert.True(t, res.Tokens[2].BaseAmount.Equal(decimal.RequireFromString("2.5")))
}

func TestNormalizeDropsAreIsolated(t *testing.T) {
	res := newTestNormalizer().Normalize(context.Background(), []TokenAmount{
		{Amount: "1000000", Denom: "udoge"},
		{Amount: "", Denom: "ulava"},
		{Amount: "abc", Denom: "ulava"},
		{Amount: "1000000", Denom: ""},
		{Amount: "1e30", Denom: "ulava"},
		{Amount: "0", Denom: "ulava"},
		{Amount: "1000000", Denom: "ulava"},
		{Amount: "5", Denom: "ibc/UNKNOWN"},
	})
	require.Len(t, res.Tokens, 1)
	assert.Equal(t, "lava", res.Tokens[0].Denom)

	kinds := make([]Kind, 0, len(res.Dropped))
	for _, d := range res.Dropped {
		kinds = append(kinds, d.Err.Kind)
	}
	assert.Equal(t, []Kind{KindUnpriceable, KindMalformed, KindMalformed, KindMalformed, KindOutOfBounds, KindOutOfBounds, KindUnpriceable}, kinds)
	assert.Equal(t, "ibc/UNKNOWN", res.Dropped[6].Err.Denom)
}

func TestNormalizeNoRate(t *testing.T) {
	table := denom.NewTable(map[string]string{"lava": "lava-network"})
	n := New(table, nil, fixedRates{}, DefaultOptions(), zerolog.Nop())

	res := n.Normalize(context.Background(), []TokenAmount{{Amount: "1000000", Denom: "ulava"}})
	assert.Empty(t, res.Tokens)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, KindNoRate, res.Dropped[0].Err.Kind)

	var verr *ValidationError
	require.True(t, errors.As(error(res.Dropped[0].Err), &verr))
	assert.ErrorIs(t, verr, pricing.ErrUnavailable)
}

func TestNormalizeTotalIsOrderIndependent(t *testing.T) {
	tokens := []TokenAmount{
		{Amount: "123456789", Denom: "ulava"},
		{Amount: "42000000", Denom: "uatom"},
		{Amount: "7000000000000000000", Denom: "aevmos"},
		{Amount: "999", Denom: "ulava"},
	}
	n := newTestNormalizer()
	forward := n.Normalize(context.Background(), tokens)

	reversed := make([]TokenAmount, len(tokens))
	for i, tok := range tokens {
		reversed[len(tokens)-1-i] = tok
	}
	backward := n.Normalize(context.Background(), reversed)

	assert.True(t, forward.TotalUSD.Equal(backward.TotalUSD), "%s != %s", forward.TotalUSD, backward.TotalUSD)
	assert.Len(t, backward.Tokens, 4)
}

func TestScale(t *testing.T) {
	assert.Equal(t, "1.5", scale(decimal.RequireFromString("1500000"), 1_000_000).String())
	assert.Equal(t, "7", scale(decimal.NewFromInt(7), 1).String())
	assert.Equal(t, "0.333333333333333333333333333333", scale(decimal.NewFromInt(1), 3).String())
}
