// Package normalize converts raw chain token amounts into display units and USD.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lava-reports/internal/denom"
)

// Kind classifies why a token was dropped.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindOutOfBounds
	KindUnpriceable
	KindNoRate
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindOutOfBounds:
		return "out_of_bounds"
	case KindUnpriceable:
		return "unpriceable"
	case KindNoRate:
		return "no_rate"
	default:
		return "unknown"
	}
}

// ValidationError describes a dropped token.
type ValidationError struct {
	Kind   Kind
	Denom  string
	Amount string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s token %q %q", e.Kind, e.Amount, e.Denom)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TokenAmount is a raw (amount, denom) pair as reported by the chain.
type TokenAmount struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

// ProcessedToken is a priced token. Denom is the display denom.
type ProcessedToken struct {
	Amount        string          `json:"amount"`
	Denom         string          `json:"denom"`
	OriginalDenom string          `json:"original_denom"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	ValueUSD      decimal.Decimal `json:"value_usd"`
}

// Drop records a token that was not emitted.
type Drop struct {
	Token TokenAmount
	Err   *ValidationError
}

// Result is the outcome of one Normalize call.
type Result struct {
	Tokens   []ProcessedToken `json:"tokens"`
	TotalUSD decimal.Decimal  `json:"total_usd"`
	Dropped  []Drop           `json:"-"`
}

// Denoms is the static denomination table.
type Denoms interface {
	Convert(raw string) (denom.Conversion, bool)
	CoinID(base string) (string, bool)
}

// Resolver maps IBC denoms to their base denom.
type Resolver interface {
	Resolve(ctx context.Context, raw string) string
}

// RateSource returns USD rates by price id.
type RateSource interface {
	Rate(ctx context.Context, id string) (decimal.Decimal, error)
}

// Options holds the sanity bounds applied to base amounts and USD values.
type Options struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

// DefaultOptions returns bounds of [1e-20, 1e13].
func DefaultOptions() Options {
	return Options{MinAmount: decimal.New(1, -20), MaxAmount: decimal.New(1, 13)}
}

// Normalizer runs the per-token pricing pipeline.
type Normalizer struct {
	denoms   Denoms
	resolver Resolver
	rates    RateSource
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Normalizer. A nil resolver leaves IBC denoms unresolved.
func New(denoms Denoms, resolver Resolver, rates RateSource, opts Options, logger zerolog.Logger) *Normalizer {
	defaults := DefaultOptions()
	if opts.MinAmount.IsZero() {
		opts.MinAmount = defaults.MinAmount
	}
	if opts.MaxAmount.IsZero() {
		opts.MaxAmount = defaults.MaxAmount
	}
	return &Normalizer{
		denoms:   denoms,
		resolver: resolver,
		rates:    rates,
		opts:     opts,
		logger:   logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize prices every token independently; failures drop only that token.
func (n *Normalizer) Normalize(ctx context.Context, tokens []TokenAmount) Result {
	res := Result{Tokens: []ProcessedToken{}, TotalUSD: decimal.Zero}
	for _, tok := range tokens {
		pt, err := n.process(ctx, tok)
		if err != nil {
			n.logDrop(err)
			res.Dropped = append(res.Dropped, Drop{Token: tok, Err: err})
			continue
		}
		res.Tokens = append(res.Tokens, pt)
		res.TotalUSD = res.TotalUSD.Add(pt.ValueUSD)
	}
	return res
}

func (n *Normalizer) process(ctx context.Context, tok TokenAmount) (ProcessedToken, *ValidationError) {
	rawDenom := strings.TrimSpace(tok.Denom)
	rawAmount := strings.TrimSpace(tok.Amount)
	fail := func(kind Kind, d string, err error) (ProcessedToken, *ValidationError) {
		return ProcessedToken{}, &ValidationError{Kind: kind, Denom: d, Amount: rawAmount, Err: err}
	}

	if rawDenom == "" {
		return fail(KindMalformed, rawDenom, errors.New("missing denom"))
	}
	if rawAmount == "" {
		return fail(KindMalformed, rawDenom, errors.New("missing amount"))
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fail(KindMalformed, rawDenom, fmt.Errorf("non-numeric amount: %w", err))
	}

	resolved := rawDenom
	if denom.IsIBC(rawDenom) && n.resolver != nil {
		resolved = n.resolver.Resolve(ctx, rawDenom)
	}

	base, display := amount, resolved
	if conv, ok := n.denoms.Convert(resolved); ok {
		base = scale(amount, conv.Factor)
		display = conv.BaseDenom
	}

	if !n.inBounds(base) {
		return fail(KindOutOfBounds, display, fmt.Errorf("base amount %s outside [%s, %s]", base, n.opts.MinAmount, n.opts.MaxAmount))
	}

	id, ok := n.denoms.CoinID(display)
	if !ok {
		return fail(KindUnpriceable, display, errors.New("no price id for denom"))
	}

	rate, err := n.rates.Rate(ctx, id)
	if err != nil {
		return fail(KindNoRate, display, err)
	}

	usd := base.Mul(rate)
	if !usd.IsPositive() {
		return fail(KindNoRate, display, fmt.Errorf("usd value %s", usd))
	}
	if !n.inBounds(usd) {
		return fail(KindOutOfBounds, display, fmt.Errorf("usd value %s outside [%s, %s]", usd, n.opts.MinAmount, n.opts.MaxAmount))
	}

	return ProcessedToken{
		Amount:        rawAmount,
		Denom:         display,
		OriginalDenom: rawDenom,
		BaseAmount:    base,
		ValueUSD:      usd,
	}, nil
}

func (n *Normalizer) inBounds(v decimal.Decimal) bool {
	return !v.LessThan(n.opts.MinAmount) && !v.GreaterThan(n.opts.MaxAmount)
}

func (n *Normalizer) logDrop(err *ValidationError) {
	ev := n.logger.Debug()
	if err.Kind == KindUnpriceable || err.Kind == KindMalformed {
		ev = n.logger.Warn()
	}
	ev.Str("kind", err.Kind.String()).Str("denom", err.Denom).Str("amount", err.Amount).Err(err.Err).Msg("token dropped")
}

// scale divides by factor, exactly when factor is a power of ten.
func scale(amount decimal.Decimal, factor int64) decimal.Decimal {
	if factor <= 1 {
		return amount
	}
	exp := int32(0)
	for f := factor; f > 1; f /= 10 {
		if f%10 != 0 {
			return amount.DivRound(decimal.NewFromInt(factor), 30)
		}
		exp++
	}
	return amount.Shift(-exp)
}
