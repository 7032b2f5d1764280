// Package node talks to a Lava chain node through the lavad query CLI.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Kind names one chain query.
type Kind string

const (
	KindBlock                       Kind = "block"
	KindLatestBlock                 Kind = "latest-block"
	KindBankTotal                   Kind = "bank-total"
	KindStakingValidators           Kind = "staking-validators"
	KindDelegationsTo               Kind = "staking-delegations-to"
	KindDelegatorRewards            Kind = "distribution-rewards"
	KindValidatorOutstandingRewards Kind = "distribution-validator-outstanding-rewards"
	KindValidatorDistributionInfo   Kind = "distribution-validator-distribution-info"
	KindProviderDelegators          Kind = "dualstaking-provider-delegators"
	KindEstimatedProviderRewards    Kind = "subscription-estimated-provider-rewards"
	KindDenomTrace                  Kind = "ibc-denom-trace"
)

var commandWords = map[Kind][]string{
	KindBlock:                       {"block"},
	KindLatestBlock:                 {"block"},
	KindBankTotal:                   {"bank", "total"},
	KindStakingValidators:           {"staking", "validators"},
	KindDelegationsTo:               {"staking", "delegations-to"},
	KindDelegatorRewards:            {"distribution", "rewards"},
	KindValidatorOutstandingRewards: {"distribution", "validator-outstanding-rewards"},
	KindValidatorDistributionInfo:   {"distribution", "validator-distribution-info"},
	KindProviderDelegators:          {"dualstaking", "provider-delegators"},
	KindEstimatedProviderRewards:    {"subscription", "estimated-provider-rewards"},
	KindDenomTrace:                  {"ibc-transfer", "denom-trace"},
}

var (
	// ErrBeyondTip means the requested height is above the current chain tip.
	ErrBeyondTip = errors.New("node: height beyond chain tip")
	// ErrPruned means the node no longer keeps state for the requested height.
	ErrPruned = errors.New("node: height pruned")
	// ErrNoRewards is the node's answer for a provider without a claim.
	ErrNoRewards = errors.New("node: no rewards to estimate")
	// ErrEmpty means the command produced no output.
	ErrEmpty = errors.New("node: empty response")
	// ErrMalformed means the output was not JSON.
	ErrMalformed = errors.New("node: malformed response")
	// ErrUnknownKind is returned for a Kind with no command mapping.
	ErrUnknownKind = errors.New("node: unknown query kind")
)

// Request is one query. Height > 0 pins the query with --height.
type Request struct {
	Kind   Kind
	Args   []string
	Height int64
}

// Cacheable reports whether the answer is fixed for all time.
func (r Request) Cacheable() bool {
	switch r.Kind {
	case KindLatestBlock:
		return false
	case KindBlock:
		return len(r.Args) > 0 || r.Height > 0
	case KindDenomTrace:
		return true
	default:
		return r.Height > 0
	}
}

// Key identifies the request in a response cache.
func (r Request) Key() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	for _, a := range r.Args {
		b.WriteByte(':')
		b.WriteString(a)
	}
	if r.Height > 0 {
		b.WriteString("@")
		b.WriteString(strconv.FormatInt(r.Height, 10))
	}
	return b.String()
}

// Querier executes a chain query and returns the raw JSON document.
type Querier interface {
	Query(ctx context.Context, req Request) (json.RawMessage, error)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrBeyondTip), errors.Is(err, ErrPruned), errors.Is(err, ErrNoRewards),
		errors.Is(err, ErrUnknownKind), errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// classify maps node stderr to a sentinel, or nil when nothing matched.
func classify(stderr string) error {
	switch {
	case strings.Contains(stderr, "must be less than or equal to the current blockchain height"):
		return ErrBeyondTip
	case strings.Contains(stderr, "is not available, lowest height is"),
		strings.Contains(stderr, "version does not exist"):
		return ErrPruned
	case strings.Contains(stderr, "cannot estimate rewards, cannot get claim"):
		return ErrNoRewards
	default:
		return nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
