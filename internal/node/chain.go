package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDenomAbsent means a supply listing did not contain the requested denom.
var ErrDenomAbsent = errors.New("node: denom not in supply")

// Coin is an SDK coin as the CLI renders it; amounts may carry decimals.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Validator is the subset of a staking validator the reports need.
type Validator struct {
	OperatorAddress string `json:"operator_address"`
	Status          string `json:"status"`
	Tokens          string `json:"tokens"`
	Jailed          bool   `json:"jailed"`
	Description     struct {
		Moniker string `json:"moniker"`
	} `json:"description"`
}

// Delegation is one delegator's stake on a validator.
type Delegation struct {
	DelegatorAddress string
	ValidatorAddress string
	Shares           string
	Balance          Coin
}

// ProviderDelegation is one delegator's stake on a Lava provider.
type ProviderDelegation struct {
	Provider  string `json:"provider"`
	ChainID   string `json:"chainID"`
	Delegator string `json:"delegator"`
	Amount    Coin   `json:"amount"`
}

// ProviderRewards is an estimated-provider-rewards answer.
type ProviderRewards struct {
	Coins            []Coin
	RecommendedBlock int64
}

// Chain is a typed view over a Querier.
type Chain struct {
	q Querier
}

// NewChain wraps q.
func NewChain(q Querier) *Chain {
	return &Chain{q: q}
}

type blockHeader struct {
	Height flexInt   `json:"height"`
	Time   time.Time `json:"time"`
}

type blockResponse struct {
	Block *struct {
		Header blockHeader `json:"header"`
	} `json:"block"`
	Header *blockHeader `json:"header"`
}

func (b blockResponse) header() (blockHeader, bool) {
	switch {
	case b.Block != nil && b.Block.Header.Height > 0:
		return b.Block.Header, true
	case b.Header != nil && b.Header.Height > 0:
		return *b.Header, true
	default:
		return blockHeader{}, false
	}
}

// Latest returns the tip height and its block time.
func (c *Chain) Latest(ctx context.Context) (int64, time.Time, error) {
	var resp blockResponse
	if err := c.query(ctx, Request{Kind: KindLatestBlock}, &resp); err != nil {
		return 0, time.Time{}, err
	}
	h, ok := resp.header()
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: latest block without header", ErrMalformed)
	}
	return int64(h.Height), h.Time.UTC(), nil
}

// BlockTime returns the header time of the block at height.
func (c *Chain) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	var resp blockResponse
	req := Request{Kind: KindBlock, Args: []string{strconv.FormatInt(height, 10)}}
	if err := c.query(ctx, req, &resp); err != nil {
		return time.Time{}, err
	}
	h, ok := resp.header()
	if !ok || h.Time.IsZero() {
		return time.Time{}, fmt.Errorf("%w: block %d without header time", ErrMalformed, height)
	}
	return h.Time.UTC(), nil
}

// TotalSupply returns the raw total supply of denom at height.
func (c *Chain) TotalSupply(ctx context.Context, height int64, denom string) (string, error) {
	var resp struct {
		Supply []Coin `json:"supply"`
	}
	if err := c.query(ctx, Request{Kind: KindBankTotal, Height: height}, &resp); err != nil {
		return "", err
	}
	for _, coin := range resp.Supply {
		if coin.Denom == denom {
			return coin.Amount, nil
		}
	}
	return "", fmt.Errorf("%w: %s at %d", ErrDenomAbsent, denom, height)
}

// Validators lists every validator known to the staking module.
func (c *Chain) Validators(ctx context.Context) ([]Validator, error) {
	var resp struct {
		Validators []Validator `json:"validators"`
	}
	if err := c.query(ctx, Request{Kind: KindStakingValidators}, &resp); err != nil {
		return nil, err
	}
	return resp.Validators, nil
}

// DelegationsTo lists the delegations to a validator.
func (c *Chain) DelegationsTo(ctx context.Context, validator string) ([]Delegation, error) {
	var resp struct {
		DelegationResponses []struct {
			Delegation struct {
				DelegatorAddress string `json:"delegator_address"`
				ValidatorAddress string `json:"validator_address"`
				Shares           string `json:"shares"`
			} `json:"delegation"`
			Balance Coin `json:"balance"`
		} `json:"delegation_responses"`
	}
	if err := c.query(ctx, Request{Kind: KindDelegationsTo, Args: []string{validator}}, &resp); err != nil {
		return nil, err
	}
	out := make([]Delegation, 0, len(resp.DelegationResponses))
	for _, d := range resp.DelegationResponses {
		if d.Delegation.DelegatorAddress == "" {
			continue
		}
		out = append(out, Delegation{
			DelegatorAddress: d.Delegation.DelegatorAddress,
			ValidatorAddress: d.Delegation.ValidatorAddress,
			Shares:           d.Delegation.Shares,
			Balance:          d.Balance,
		})
	}
	return out, nil
}

// DelegatorRewards returns the pending rewards of delegator on validator.
func (c *Chain) DelegatorRewards(ctx context.Context, delegator, validator string) ([]Coin, error) {
	var resp struct {
		Rewards coinList `json:"rewards"`
	}
	if err := c.query(ctx, Request{Kind: KindDelegatorRewards, Args: []string{delegator, validator}}, &resp); err != nil {
		return nil, err
	}
	return resp.Rewards, nil
}

// ValidatorOutstandingRewards returns all undistributed rewards of a validator.
func (c *Chain) ValidatorOutstandingRewards(ctx context.Context, validator string) ([]Coin, error) {
	var resp struct {
		Rewards coinList `json:"rewards"`
	}
	if err := c.query(ctx, Request{Kind: KindValidatorOutstandingRewards, Args: []string{validator}}, &resp); err != nil {
		return nil, err
	}
	return resp.Rewards, nil
}

// ValidatorSelfBondRewards returns the validator's rewards on its own stake.
func (c *Chain) ValidatorSelfBondRewards(ctx context.Context, validator string) ([]Coin, error) {
	var resp struct {
		SelfBondRewards coinList `json:"self_bond_rewards"`
	}
	if err := c.query(ctx, Request{Kind: KindValidatorDistributionInfo, Args: []string{validator}}, &resp); err != nil {
		return nil, err
	}
	return resp.SelfBondRewards, nil
}

// ProviderDelegators lists the delegations to a provider.
func (c *Chain) ProviderDelegators(ctx context.Context, provider string) ([]ProviderDelegation, error) {
	var resp struct {
		Delegations []ProviderDelegation `json:"delegations"`
	}
	if err := c.query(ctx, Request{Kind: KindProviderDelegators, Args: []string{provider}}, &resp); err != nil {
		return nil, err
	}
	return resp.Delegations, nil
}

// EstimatedProviderRewards estimates the rewards of provider, or of one of its
// delegators when delegator is set. Height 0 queries the latest state.
func (c *Chain) EstimatedProviderRewards(ctx context.Context, provider, delegator string, height int64) (ProviderRewards, error) {
	args := []string{provider}
	if delegator != "" {
		args = append(args, delegator)
	}
	var resp struct {
		Rewards          coinList `json:"rewards"`
		Total            coinList `json:"total"`
		RecommendedBlock flexInt  `json:"recommended_block"`
	}
	if err := c.query(ctx, Request{Kind: KindEstimatedProviderRewards, Args: args, Height: height}, &resp); err != nil {
		return ProviderRewards{}, err
	}
	coins := []Coin(resp.Rewards)
	if len(coins) == 0 {
		coins = resp.Total
	}
	return ProviderRewards{Coins: coins, RecommendedBlock: int64(resp.RecommendedBlock)}, nil
}

// DenomTrace resolves an IBC denom hash (without the "ibc/" prefix) to its base denom.
func (c *Chain) DenomTrace(ctx context.Context, hash string) (string, error) {
	var resp struct {
		DenomTrace struct {
			BaseDenom string `json:"base_denom"`
		} `json:"denom_trace"`
		Denom struct {
			Base string `json:"base"`
		} `json:"denom"`
	}
	if err := c.query(ctx, Request{Kind: KindDenomTrace, Args: []string{hash}}, &resp); err != nil {
		return "", err
	}
	switch {
	case resp.DenomTrace.BaseDenom != "":
		return resp.DenomTrace.BaseDenom, nil
	case resp.Denom.Base != "":
		return resp.Denom.Base, nil
	default:
		return "", fmt.Errorf("%w: denom trace %s without base denom", ErrMalformed, hash)
	}
}

func (c *Chain) query(ctx context.Context, req Request, dst any) error {
	payload, err := c.q.Query(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformed, req.Kind, err)
	}
	return nil
}

// flexInt accepts both quoted and bare integers.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// coinList accepts a bare coin array or an object wrapping one under "rewards".
type coinList []Coin

func (l *coinList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var coins []Coin
		if err := json.Unmarshal(b, &coins); err != nil {
			return err
		}
		*l = coins
		return nil
	}
	var wrapped struct {
		Rewards []Coin `json:"rewards"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Rewards
	return nil
}
