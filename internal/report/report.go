// Package report assembles the JSON reports from chain state, located blocks
// and priced tokens.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lava-reports/internal/locator"
	"lava-reports/internal/node"
	"lava-reports/internal/normalize"
	"lava-reports/internal/worker"
)

// Markers set on entries that were expected but could not be resolved.
const (
	MarkerPruned      = "pruned"
	MarkerUnavailable = "unavailable"
)

// SupplyDenom is the denom whose total supply the supply reports track.
const SupplyDenom = "ulava"

// Chain is the chain state read by the reports.
type Chain interface {
	TotalSupply(ctx context.Context, height int64, denom string) (string, error)
	DelegationsTo(ctx context.Context, validator string) ([]node.Delegation, error)
	DelegatorRewards(ctx context.Context, delegator, validator string) ([]node.Coin, error)
	ValidatorOutstandingRewards(ctx context.Context, validator string) ([]node.Coin, error)
	ValidatorSelfBondRewards(ctx context.Context, validator string) ([]node.Coin, error)
	ProviderDelegators(ctx context.Context, provider string) ([]node.ProviderDelegation, error)
	EstimatedProviderRewards(ctx context.Context, provider, delegator string, height int64) (node.ProviderRewards, error)
}

// Locator finds historical block heights.
type Locator interface {
	DailyMidnights(ctx context.Context, days int, now time.Time) ([]locator.DayResult, error)
	LocateAll(ctx context.Context, targets []time.Time, now time.Time) ([]locator.DayResult, error)
	BlocksPerDay() int64
}

// Directory lists the addresses a rewards report covers.
type Directory interface {
	Providers(ctx context.Context) ([]string, error)
	Validators(ctx context.Context) ([]string, error)
}

// Normalizer prices raw token amounts.
type Normalizer interface {
	Normalize(ctx context.Context, tokens []normalize.TokenAmount) normalize.Result
}

// Document is a built report ready to be written and announced.
type Document interface {
	Name() string
	Highlights() []string
	Partial() bool
}

// Deps are the collaborators of a Builder. Only those used by a given report
// need to be set.
type Deps struct {
	Chain      Chain
	Locator    Locator
	Directory  Directory
	Normalizer Normalizer
	Pool       *worker.Pool
	Now        func() time.Time
}

// Builder builds reports.
type Builder struct {
	chain  Chain
	loc    Locator
	dir    Directory
	norm   Normalizer
	pool   *worker.Pool
	now    func() time.Time
	logger zerolog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(deps Deps, logger zerolog.Logger) *Builder {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Pool == nil {
		deps.Pool = worker.NewPool(worker.Options{}, logger)
	}
	return &Builder{
		chain:  deps.Chain,
		loc:    deps.Locator,
		dir:    deps.Directory,
		norm:   deps.Normalizer,
		pool:   deps.Pool,
		now:    deps.Now,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// Failure marks an entry that could not be resolved.
type Failure struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Failed reports whether the entry carries a marker.
func (f Failure) Failed() bool { return f.Error != "" }

func failure(err error) Failure {
	if err == nil {
		return Failure{}
	}
	return Failure{Error: marker(err), Detail: err.Error()}
}

func marker(err error) string {
	if errors.Is(err, node.ErrPruned) {
		return MarkerPruned
	}
	return MarkerUnavailable
}

// IsFatal reports whether err must abort a whole report.
func IsFatal(err error) bool {
	return errors.Is(err, node.ErrBeyondTip) || errors.Is(err, locator.ErrBeyondTip)
}

func (b *Builder) timestamp() time.Time {
	return b.now().UTC()
}

// collect runs fn for every item on the pool and maps failed items through
// onFail so every expected item is present in the output.
func collect[T any](ctx context.Context, b *Builder, name string, items []string, fn func(context.Context, string) (T, error), onFail func(string, error) T) ([]T, bool, error) {
	batch, err := worker.Run(ctx, b.pool.Named(name, IsFatal), items, fn)
	if err != nil {
		return nil, batch.TimedOut, err
	}
	out := make([]T, len(items))
	for i, o := range batch.Outcomes {
		if o.Err != nil {
			out[i] = onFail(items[i], o.Err)
			continue
		}
		out[i] = o.Value
	}
	return out, batch.TimedOut, nil
}

func emptyResult() normalize.Result {
	return normalize.Result{Tokens: []normalize.ProcessedToken{}, TotalUSD: decimal.Zero}
}

// coinTokens converts coins to normalizer input, skipping entries without a
// denom and amounts that parse as zero or negative. Unparseable amounts are
// passed through so the normalizer records them as malformed.
func coinTokens(coins []node.Coin) []normalize.TokenAmount {
	out := make([]normalize.TokenAmount, 0, len(coins))
	for _, c := range coins {
		if c.Denom == "" {
			continue
		}
		if amt, err := decimal.NewFromString(c.Amount); err == nil && amt.Sign() <= 0 {
			continue
		}
		out = append(out, normalize.TokenAmount{Amount: c.Amount, Denom: c.Denom})
	}
	return out
}

// mergeCoins sums amounts per denom, keeping first-seen order.
func mergeCoins(lists ...[]node.Coin) []node.Coin {
	index := make(map[string]int)
	sums := make([]decimal.Decimal, 0)
	out := make([]node.Coin, 0)
	for _, list := range lists {
		for _, c := range list {
			amt, err := decimal.NewFromString(c.Amount)
			if err != nil {
				out = append(out, c)
				sums = append(sums, decimal.Zero)
				continue
			}
			if i, ok := index[c.Denom]; ok {
				sums[i] = sums[i].Add(amt)
				out[i].Amount = sums[i].String()
				continue
			}
			index[c.Denom] = len(out)
			out = append(out, c)
			sums = append(sums, amt)
		}
	}
	return out
}

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
