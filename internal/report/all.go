package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lava-reports/internal/normalize"
)

// StakeholderEntry pairs the own rewards of a validator or provider with the
// sum of its delegators' rewards.
type StakeholderEntry struct {
	Address          string           `json:"address"`
	Rewards          normalize.Result `json:"rewards"`
	DelegatorRewards normalize.Result `json:"delegator_rewards"`
	DelegatorCount   int              `json:"delegator_count"`
	BlockHeight      int64            `json:"block_height,omitempty"`
	Failure
}

// Totals are the USD totals per reward category.
type Totals struct {
	ValidatorRewards          decimal.Decimal `json:"validator_rewards"`
	ValidatorDelegatorRewards decimal.Decimal `json:"validator_delegator_rewards"`
	ProviderRewards           decimal.Decimal `json:"provider_rewards"`
	ProviderDelegatorRewards  decimal.Decimal `json:"provider_delegator_rewards"`
	Total                     decimal.Decimal `json:"total"`
}

// AllRewardsSummary carries the totals formatted as dollars plus the raw
// values.
type AllRewardsSummary struct {
	ValidatorRewards          string `json:"validator_rewards_usd"`
	ValidatorDelegatorRewards string `json:"validator_delegator_rewards_usd"`
	ProviderRewards           string `json:"provider_rewards_usd"`
	ProviderDelegatorRewards  string `json:"provider_delegator_rewards_usd"`
	Total                     string `json:"total_usd"`
	Raw                       Totals `json:"raw"`
}

// AllRewardsReport is the revenue distributed to stakers across validators
// and providers.
type AllRewardsReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Validators  []StakeholderEntry `json:"validators"`
	Providers   []StakeholderEntry `json:"providers"`
	Summary     AllRewardsSummary  `json:"summary"`
	TimedOut    bool               `json:"timed_out,omitempty"`
}

func (r *AllRewardsReport) Name() string  { return "all_rewards" }
func (r *AllRewardsReport) Partial() bool { return r.TimedOut }

func (r *AllRewardsReport) Highlights() []string {
	return []string{
		fmt.Sprintf("validators: %s (delegators %s)", r.Summary.ValidatorRewards, r.Summary.ValidatorDelegatorRewards),
		fmt.Sprintf("providers: %s (delegators %s)", r.Summary.ProviderRewards, r.Summary.ProviderDelegatorRewards),
		fmt.Sprintf("total: %s", r.Summary.Total),
	}
}

// AllRewards builds the combined validator and provider rewards report.
func (b *Builder) AllRewards(ctx context.Context) (*AllRewardsReport, error) {
	validators, err := b.dir.Validators(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := b.dir.Providers(ctx)
	if err != nil {
		return nil, err
	}

	onFail := func(address string, err error) StakeholderEntry {
		return StakeholderEntry{Address: address, Rewards: emptyResult(), DelegatorRewards: emptyResult(), Failure: failure(err)}
	}

	validatorEntries, validatorsTimedOut, err := collect(ctx, b, "all_rewards_validators", validators,
		func(ctx context.Context, validator string) (StakeholderEntry, error) {
			own, err := b.validatorOwn(ctx, validator)
			if err != nil {
				return StakeholderEntry{}, err
			}
			delegated, count, err := b.validatorDelegators(ctx, validator)
			if err != nil {
				return StakeholderEntry{}, err
			}
			return StakeholderEntry{Address: validator, Rewards: own, DelegatorRewards: delegated, DelegatorCount: count}, nil
		}, onFail)
	if err != nil {
		return nil, fmt.Errorf("validator rewards: %w", err)
	}

	providerEntries, providersTimedOut, err := collect(ctx, b, "all_rewards_providers", providers,
		func(ctx context.Context, provider string) (StakeholderEntry, error) {
			own, height, err := b.providerOwn(ctx, provider)
			if err != nil {
				return StakeholderEntry{}, err
			}
			delegators, err := b.providerDelegators(ctx, provider, height)
			if err != nil {
				return StakeholderEntry{}, err
			}
			return StakeholderEntry{
				Address:          provider,
				Rewards:          own,
				DelegatorRewards: sumResults(delegators),
				DelegatorCount:   len(delegators),
				BlockHeight:      height,
			}, nil
		}, onFail)
	if err != nil {
		return nil, fmt.Errorf("provider rewards: %w", err)
	}

	var totals Totals
	for _, e := range validatorEntries {
		totals.ValidatorRewards = totals.ValidatorRewards.Add(e.Rewards.TotalUSD)
		totals.ValidatorDelegatorRewards = totals.ValidatorDelegatorRewards.Add(e.DelegatorRewards.TotalUSD)
	}
	for _, e := range providerEntries {
		totals.ProviderRewards = totals.ProviderRewards.Add(e.Rewards.TotalUSD)
		totals.ProviderDelegatorRewards = totals.ProviderDelegatorRewards.Add(e.DelegatorRewards.TotalUSD)
	}
	totals.Total = totals.ValidatorRewards.
		Add(totals.ValidatorDelegatorRewards).
		Add(totals.ProviderRewards).
		Add(totals.ProviderDelegatorRewards)

	return &AllRewardsReport{
		GeneratedAt: b.timestamp(),
		Validators:  validatorEntries,
		Providers:   providerEntries,
		Summary: AllRewardsSummary{
			ValidatorRewards:          usd(totals.ValidatorRewards),
			ValidatorDelegatorRewards: usd(totals.ValidatorDelegatorRewards),
			ProviderRewards:           usd(totals.ProviderRewards),
			ProviderDelegatorRewards:  usd(totals.ProviderDelegatorRewards),
			Total:                     usd(totals.Total),
			Raw:                       totals,
		},
		TimedOut: validatorsTimedOut || providersTimedOut,
	}, nil
}

// sumResults merges the priced tokens of all delegators into one result.
func sumResults(rewards []DelegatorReward) normalize.Result {
	out := emptyResult()
	for _, r := range rewards {
		out.Tokens = append(out.Tokens, r.Rewards.Tokens...)
		out.TotalUSD = out.TotalUSD.Add(r.Rewards.TotalUSD)
	}
	return out
}

// DroppedToken is a token the normalizer refused, with the reason.
type DroppedToken struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
	Reason string `json:"reason"`
}

// ValueReport prices an ad-hoc list of tokens.
type ValueReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Result      normalize.Result `json:"rewards"`
	Dropped     []DroppedToken   `json:"dropped"`
}

func (r *ValueReport) Name() string  { return "token_value" }
func (r *ValueReport) Partial() bool { return false }

func (r *ValueReport) Highlights() []string {
	return []string{fmt.Sprintf("%d tokens worth %s, %d dropped", len(r.Result.Tokens), usd(r.Result.TotalUSD), len(r.Dropped))}
}

// Value prices tokens.
func (b *Builder) Value(ctx context.Context, tokens []normalize.TokenAmount) *ValueReport {
	res := b.norm.Normalize(ctx, tokens)
	report := &ValueReport{GeneratedAt: b.timestamp(), Result: res, Dropped: make([]DroppedToken, 0, len(res.Dropped))}
	for _, d := range res.Dropped {
		report.Dropped = append(report.Dropped, DroppedToken{Amount: d.Token.Amount, Denom: d.Token.Denom, Reason: d.Err.Error()})
	}
	return report
}
