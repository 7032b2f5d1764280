package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lava-reports/internal/node"
	"lava-reports/internal/normalize"
)

// ProviderEntry is the estimated reward of one provider.
type ProviderEntry struct {
	Address     string           `json:"address"`
	Rewards     normalize.Result `json:"rewards"`
	BlockHeight int64            `json:"block_height,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Failure
}

// ProviderRewardsReport covers every provider of the directory.
type ProviderRewardsReport struct {
	GeneratedAt          time.Time       `json:"generated_at"`
	Providers            []ProviderEntry `json:"providers"`
	TotalProviders       int             `json:"total_providers"`
	ProvidersWithRewards int             `json:"providers_with_rewards"`
	TotalUSD             decimal.Decimal `json:"total_usd"`
	TimedOut             bool            `json:"timed_out,omitempty"`
}

func (r *ProviderRewardsReport) Name() string  { return "provider_rewards" }
func (r *ProviderRewardsReport) Partial() bool { return r.TimedOut }

func (r *ProviderRewardsReport) Highlights() []string {
	return []string{
		fmt.Sprintf("providers with rewards: %d of %d", r.ProvidersWithRewards, r.TotalProviders),
		fmt.Sprintf("total: %s", usd(r.TotalUSD)),
	}
}

// ProviderRewards estimates the rewards of every provider.
func (b *Builder) ProviderRewards(ctx context.Context) (*ProviderRewardsReport, error) {
	providers, err := b.dir.Providers(ctx)
	if err != nil {
		return nil, err
	}
	entries, timedOut, err := collect(ctx, b, "provider_rewards", providers,
		func(ctx context.Context, provider string) (ProviderEntry, error) {
			rewards, height, err := b.providerOwn(ctx, provider)
			if err != nil {
				return ProviderEntry{}, err
			}
			return ProviderEntry{Address: provider, Rewards: rewards, BlockHeight: height, Timestamp: b.timestamp()}, nil
		},
		func(provider string, err error) ProviderEntry {
			return ProviderEntry{Address: provider, Rewards: emptyResult(), Timestamp: b.timestamp(), Failure: failure(err)}
		})
	if err != nil {
		return nil, fmt.Errorf("provider rewards: %w", err)
	}

	report := &ProviderRewardsReport{
		GeneratedAt:    b.timestamp(),
		Providers:      entries,
		TotalProviders: len(entries),
		TotalUSD:       decimal.Zero,
		TimedOut:       timedOut,
	}
	for _, e := range entries {
		if len(e.Rewards.Tokens) > 0 {
			report.ProvidersWithRewards++
		}
		report.TotalUSD = report.TotalUSD.Add(e.Rewards.TotalUSD)
	}
	return report, nil
}

// DelegatorReward is the estimated reward of one provider delegator.
type DelegatorReward struct {
	Delegator    string           `json:"delegator"`
	StakedAmount string           `json:"staked_amount"`
	StakedDenom  string           `json:"staked_denom"`
	Rewards      normalize.Result `json:"rewards"`
	Failure
}

// ProviderDelegatorEntry lists the delegator rewards of one provider.
type ProviderDelegatorEntry struct {
	Provider         string            `json:"provider"`
	BlockHeight      int64             `json:"block_height,omitempty"`
	DelegatorRewards []DelegatorReward `json:"delegator_rewards"`
	TotalUSD         decimal.Decimal   `json:"total_usd"`
	Failure
}

// ProviderDelegatorReport covers the delegators of every provider.
type ProviderDelegatorReport struct {
	GeneratedAt        time.Time                `json:"generated_at"`
	ProviderDelegators []ProviderDelegatorEntry `json:"provider_delegators"`
	TotalProviders     int                      `json:"total_providers"`
	TotalDelegators    int                      `json:"total_delegators"`
	TotalUSD           decimal.Decimal          `json:"total_usd"`
	TimedOut           bool                     `json:"timed_out,omitempty"`
}

func (r *ProviderDelegatorReport) Name() string  { return "provider_delegator_rewards" }
func (r *ProviderDelegatorReport) Partial() bool { return r.TimedOut }

func (r *ProviderDelegatorReport) Highlights() []string {
	return []string{
		fmt.Sprintf("delegators: %d across %d providers", r.TotalDelegators, r.TotalProviders),
		fmt.Sprintf("total: %s", usd(r.TotalUSD)),
	}
}

// ProviderDelegatorRewards estimates the rewards of every delegator of every
// provider.
func (b *Builder) ProviderDelegatorRewards(ctx context.Context) (*ProviderDelegatorReport, error) {
	providers, err := b.dir.Providers(ctx)
	if err != nil {
		return nil, err
	}
	entries, timedOut, err := collect(ctx, b, "provider_delegator_rewards", providers,
		func(ctx context.Context, provider string) (ProviderDelegatorEntry, error) {
			height, err := b.recommendedHeight(ctx, provider)
			if err != nil && !errors.Is(err, node.ErrNoRewards) {
				return ProviderDelegatorEntry{}, err
			}
			rewards, err := b.providerDelegators(ctx, provider, height)
			if err != nil {
				return ProviderDelegatorEntry{}, err
			}
			entry := ProviderDelegatorEntry{Provider: provider, BlockHeight: height, DelegatorRewards: rewards, TotalUSD: decimal.Zero}
			for _, r := range rewards {
				entry.TotalUSD = entry.TotalUSD.Add(r.Rewards.TotalUSD)
			}
			return entry, nil
		},
		func(provider string, err error) ProviderDelegatorEntry {
			return ProviderDelegatorEntry{Provider: provider, DelegatorRewards: []DelegatorReward{}, TotalUSD: decimal.Zero, Failure: failure(err)}
		})
	if err != nil {
		return nil, fmt.Errorf("provider delegator rewards: %w", err)
	}

	report := &ProviderDelegatorReport{
		GeneratedAt:        b.timestamp(),
		ProviderDelegators: entries,
		TotalProviders:     len(entries),
		TotalUSD:           decimal.Zero,
		TimedOut:           timedOut,
	}
	for _, e := range entries {
		report.TotalDelegators += len(e.DelegatorRewards)
		report.TotalUSD = report.TotalUSD.Add(e.TotalUSD)
	}
	return report, nil
}

// ValidatorEntry is the reward of one validator on its own stake.
type ValidatorEntry struct {
	Address   string           `json:"address"`
	Rewards   normalize.Result `json:"rewards"`
	Timestamp time.Time        `json:"timestamp"`
	Failure
}

// ValidatorRewardsReport covers every validator of the directory.
type ValidatorRewardsReport struct {
	GeneratedAt           time.Time        `json:"generated_at"`
	Validators            []ValidatorEntry `json:"validators"`
	TotalValidators       int              `json:"total_validators"`
	ValidatorsWithRewards int              `json:"validators_with_rewards"`
	TotalUSD              decimal.Decimal  `json:"total_usd"`
	TimedOut              bool             `json:"timed_out,omitempty"`
}

func (r *ValidatorRewardsReport) Name() string  { return "validator_rewards" }
func (r *ValidatorRewardsReport) Partial() bool { return r.TimedOut }

func (r *ValidatorRewardsReport) Highlights() []string {
	return []string{
		fmt.Sprintf("validators with rewards: %d of %d", r.ValidatorsWithRewards, r.TotalValidators),
		fmt.Sprintf("total: %s", usd(r.TotalUSD)),
	}
}

// ValidatorRewards values the self-bond and outstanding rewards of every
// validator.
func (b *Builder) ValidatorRewards(ctx context.Context) (*ValidatorRewardsReport, error) {
	validators, err := b.dir.Validators(ctx)
	if err != nil {
		return nil, err
	}
	entries, timedOut, err := collect(ctx, b, "validator_rewards", validators,
		func(ctx context.Context, validator string) (ValidatorEntry, error) {
			rewards, err := b.validatorOwn(ctx, validator)
			if err != nil {
				return ValidatorEntry{}, err
			}
			return ValidatorEntry{Address: validator, Rewards: rewards, Timestamp: b.timestamp()}, nil
		},
		func(validator string, err error) ValidatorEntry {
			return ValidatorEntry{Address: validator, Rewards: emptyResult(), Timestamp: b.timestamp(), Failure: failure(err)}
		})
	if err != nil {
		return nil, fmt.Errorf("validator rewards: %w", err)
	}

	report := &ValidatorRewardsReport{
		GeneratedAt:     b.timestamp(),
		Validators:      entries,
		TotalValidators: len(entries),
		TotalUSD:        decimal.Zero,
		TimedOut:        timedOut,
	}
	for _, e := range entries {
		if len(e.Rewards.Tokens) > 0 {
			report.ValidatorsWithRewards++
		}
		report.TotalUSD = report.TotalUSD.Add(e.Rewards.TotalUSD)
	}
	return report, nil
}

// ValidatorDelegatorEntry sums the rewards of all delegators of a validator.
type ValidatorDelegatorEntry struct {
	ValidatorAddress string           `json:"validator_address"`
	TotalRewards     normalize.Result `json:"total_rewards"`
	TotalUSD         decimal.Decimal  `json:"total_usd"`
	DelegatorCount   int              `json:"delegator_count"`
	Timestamp        time.Time        `json:"timestamp"`
	Failure
}

// ValidatorDelegatorReport covers the delegators of every validator.
type ValidatorDelegatorReport struct {
	GeneratedAt     time.Time                 `json:"generated_at"`
	Validators      []ValidatorDelegatorEntry `json:"validators"`
	TotalValidators int                       `json:"total_validators"`
	TotalDelegators int                       `json:"total_delegators"`
	TotalUSD        decimal.Decimal           `json:"total_usd"`
	TimedOut        bool                      `json:"timed_out,omitempty"`
}

func (r *ValidatorDelegatorReport) Name() string  { return "validator_delegator_rewards" }
func (r *ValidatorDelegatorReport) Partial() bool { return r.TimedOut }

func (r *ValidatorDelegatorReport) Highlights() []string {
	return []string{
		fmt.Sprintf("delegators: %d across %d validators", r.TotalDelegators, r.TotalValidators),
		fmt.Sprintf("total: %s", usd(r.TotalUSD)),
	}
}

// ValidatorDelegatorRewards values the pending rewards of all delegators of
// every validator.
func (b *Builder) ValidatorDelegatorRewards(ctx context.Context) (*ValidatorDelegatorReport, error) {
	validators, err := b.dir.Validators(ctx)
	if err != nil {
		return nil, err
	}
	entries, timedOut, err := collect(ctx, b, "validator_delegator_rewards", validators,
		func(ctx context.Context, validator string) (ValidatorDelegatorEntry, error) {
			rewards, count, err := b.validatorDelegators(ctx, validator)
			if err != nil {
				return ValidatorDelegatorEntry{}, err
			}
			return ValidatorDelegatorEntry{
				ValidatorAddress: validator,
				TotalRewards:     rewards,
				TotalUSD:         rewards.TotalUSD,
				DelegatorCount:   count,
				Timestamp:        b.timestamp(),
			}, nil
		},
		func(validator string, err error) ValidatorDelegatorEntry {
			return ValidatorDelegatorEntry{ValidatorAddress: validator, TotalRewards: emptyResult(), TotalUSD: decimal.Zero, Timestamp: b.timestamp(), Failure: failure(err)}
		})
	if err != nil {
		return nil, fmt.Errorf("validator delegator rewards: %w", err)
	}

	report := &ValidatorDelegatorReport{
		GeneratedAt:     b.timestamp(),
		Validators:      entries,
		TotalValidators: len(entries),
		TotalUSD:        decimal.Zero,
		TimedOut:        timedOut,
	}
	for _, e := range entries {
		report.TotalDelegators += e.DelegatorCount
		report.TotalUSD = report.TotalUSD.Add(e.TotalUSD)
	}
	return report, nil
}

// recommendedHeight asks the chain which block to estimate provider rewards
// at and returns the block before it. Zero means the latest block.
func (b *Builder) recommendedHeight(ctx context.Context, provider string) (int64, error) {
	est, err := b.chain.EstimatedProviderRewards(ctx, provider, "", 0)
	if err != nil {
		return 0, err
	}
	if est.RecommendedBlock > 1 {
		return est.RecommendedBlock - 1, nil
	}
	return 0, nil
}

func (b *Builder) providerOwn(ctx context.Context, provider string) (normalize.Result, int64, error) {
	height, err := b.recommendedHeight(ctx, provider)
	if errors.Is(err, node.ErrNoRewards) {
		return emptyResult(), 0, nil
	}
	if err != nil {
		return normalize.Result{}, 0, err
	}
	est, err := b.chain.EstimatedProviderRewards(ctx, provider, "", height)
	switch {
	case errors.Is(err, node.ErrNoRewards):
		return emptyResult(), height, nil
	case err != nil:
		return normalize.Result{}, height, err
	}
	return b.norm.Normalize(ctx, coinTokens(est.Coins)), height, nil
}

// providerDelegators estimates the reward of each delegator of provider at
// height. A failed delegator is marked and skipped; only fatal and context
// errors end the provider.
func (b *Builder) providerDelegators(ctx context.Context, provider string, height int64) ([]DelegatorReward, error) {
	delegations, err := b.chain.ProviderDelegators(ctx, provider)
	if err != nil {
		return nil, err
	}
	out := make([]DelegatorReward, 0, len(delegations))
	for _, d := range delegations {
		if d.Delegator == "" {
			continue
		}
		entry := DelegatorReward{
			Delegator:    d.Delegator,
			StakedAmount: d.Amount.Amount,
			StakedDenom:  d.Amount.Denom,
			Rewards:      emptyResult(),
		}
		est, err := b.chain.EstimatedProviderRewards(ctx, provider, d.Delegator, height)
		switch {
		case err == nil:
			entry.Rewards = b.norm.Normalize(ctx, coinTokens(est.Coins))
		case errors.Is(err, node.ErrNoRewards):
		case IsFatal(err):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			b.logger.Warn().Err(err).Str("provider", provider).Str("delegator", d.Delegator).Msg("delegator rewards unavailable")
			entry.Failure = failure(err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// validatorOwn values the self-bond and outstanding rewards of validator. One
// of the two may fail; the entry fails only when both do.
func (b *Builder) validatorOwn(ctx context.Context, validator string) (normalize.Result, error) {
	self, selfErr := b.chain.ValidatorSelfBondRewards(ctx, validator)
	if IsFatal(selfErr) {
		return normalize.Result{}, selfErr
	}
	outstanding, outErr := b.chain.ValidatorOutstandingRewards(ctx, validator)
	if IsFatal(outErr) {
		return normalize.Result{}, outErr
	}
	switch {
	case selfErr != nil && outErr != nil:
		return normalize.Result{}, errors.Join(selfErr, outErr)
	case selfErr != nil:
		b.logger.Warn().Err(selfErr).Str("validator", validator).Msg("self-bond rewards unavailable")
	case outErr != nil:
		b.logger.Warn().Err(outErr).Str("validator", validator).Msg("outstanding rewards unavailable")
	}
	return b.norm.Normalize(ctx, coinTokens(mergeCoins(self, outstanding))), nil
}

// validatorDelegators sums the pending rewards of every delegator of
// validator. Delegators whose rewards cannot be read are skipped.
func (b *Builder) validatorDelegators(ctx context.Context, validator string) (normalize.Result, int, error) {
	delegations, err := b.chain.DelegationsTo(ctx, validator)
	if err != nil {
		return normalize.Result{}, 0, err
	}
	lists := make([][]node.Coin, 0, len(delegations))
	for _, d := range delegations {
		coins, err := b.chain.DelegatorRewards(ctx, d.DelegatorAddress, validator)
		switch {
		case err == nil:
			lists = append(lists, coins)
		case IsFatal(err):
			return normalize.Result{}, 0, err
		case ctx.Err() != nil:
			return normalize.Result{}, 0, ctx.Err()
		default:
			b.logger.Warn().Err(err).Str("validator", validator).Str("delegator", d.DelegatorAddress).Msg("delegator rewards unavailable")
		}
	}
	return b.norm.Normalize(ctx, coinTokens(mergeCoins(lists...))), len(delegations), nil
}
