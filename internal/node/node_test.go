package node

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lava-reports/internal/cache"
)

type reply struct {
	stdout string
	stderr string
	err    error
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	replies map[string][]reply
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: make(map[string][]reply)}
}

// on queues replies for commands whose joined args contain match.
func (f *fakeRunner) on(match string, replies ...reply) {
	f.replies[match] = append(f.replies[match], replies...)
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	line := strings.Join(args, " ")
	for match, queue := range f.replies {
		if !strings.Contains(line, match) || len(queue) == 0 {
			continue
		}
		r := queue[0]
		if len(queue) > 1 {
			f.replies[match] = queue[1:]
		}
		return []byte(r.stdout), []byte(r.stderr), r.err
	}
	return nil, []byte("no reply scripted"), errors.New("exit status 1")
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestCLI(runner Runner, retries int) *CLI {
	return NewCLI(CLIOptions{
		NodeURL:    "https://rpc.test:443",
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, runner, zerolog.Nop())
}

func TestCLIArgs(t *testing.T) {
	cli := newTestCLI(newFakeRunner(), 0)

	args, err := cli.Args(Request{Kind: KindBankTotal, Height: 1200})
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "bank", "total", "--height", "1200", "--node", "https://rpc.test:443", "--output", "json"}, args)

	args, err = cli.Args(Request{Kind: KindEstimatedProviderRewards, Args: []string{"lava@prov", "lava@del"}})
	require.NoError(t, err)
	assert.Equal(t, "q subscription estimated-provider-rewards lava@prov lava@del --node https://rpc.test:443 --output json", strings.Join(args, " "))

	_, err = cli.Args(Request{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCLIClassifiesNodeErrors(t *testing.T) {
	cases := map[string]struct {
		stderr string
		want   error
	}{
		"beyond tip": {"Error: rpc error: invalid height: height 999 must be less than or equal to the current blockchain height 10", ErrBeyondTip},
		"pruned":     {"Error: height 5 is not available, lowest height is 100", ErrPruned},
		"version":    {"Error: version does not exist", ErrPruned},
		"no claim":   {"rpc error: code = Unknown desc = cannot estimate rewards, cannot get claim", ErrNoRewards},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.on("bank total", reply{stderr: tc.stderr, err: errors.New("exit status 1")})
			cli := newTestCLI(runner, 3)

			_, err := cli.Query(context.Background(), Request{Kind: KindBankTotal, Height: 999})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 1, runner.count(), "classified errors are not retried")
		})
	}
}

func TestCLIRetriesTransientFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.on("q block",
		reply{stderr: "connection refused", err: errors.New("exit status 1")},
		reply{stdout: ""},
		reply{stdout: `{"block":{"header":{"height":"42","time":"2025-01-01T00:00:00Z"}}}`},
	)
	cli := newTestCLI(runner, 2)

	payload, err := cli.Query(context.Background(), Request{Kind: KindLatestBlock})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"42"`)
	assert.Equal(t, 3, runner.count())
}

func TestCLIGivesUpAfterRetries(t *testing.T) {
	runner := newFakeRunner()
	runner.on("q block", reply{stdout: "   "})
	cli := newTestCLI(runner, 1)

	_, err := cli.Query(context.Background(), Request{Kind: KindLatestBlock})
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 2, runner.count())
}

func TestCLIRejectsNonJSON(t *testing.T) {
	runner := newFakeRunner()
	runner.on("q block", reply{stdout: "height: 12"})
	cli := newTestCLI(runner, 0)

	_, err := cli.Query(context.Background(), Request{Kind: KindLatestBlock})
	assert.ErrorIs(t, err, ErrMalformed)
}

type countingQuerier struct {
	calls   int
	payload string
}

func (c *countingQuerier) Query(context.Context, Request) (json.RawMessage, error) {
	c.calls++
	return json.RawMessage(c.payload), nil
}

func TestCachedOnlyStoresPinnedQueries(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewFileStore(cache.FileOptions{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	inner := &countingQuerier{payload: `{"supply":[{"denom":"ulava","amount":"10"}]}`}
	q := NewCached(inner, store, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := q.Query(ctx, Request{Kind: KindBankTotal, Height: 100})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	for i := 0; i < 2; i++ {
		_, err := q.Query(ctx, Request{Kind: KindLatestBlock})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	_, err = q.Query(ctx, Request{Kind: KindStakingValidators})
	require.NoError(t, err)
	_, err = q.Query(ctx, Request{Kind: KindStakingValidators})
	require.NoError(t, err)
	assert.Equal(t, 5, inner.calls)
}

type scriptedQuerier map[Kind]string

func (s scriptedQuerier) Query(_ context.Context, req Request) (json.RawMessage, error) {
	payload, ok := s[req.Kind]
	if !ok {
		return nil, ErrEmpty
	}
	return json.RawMessage(payload), nil
}

func TestChainDecodesResponses(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(scriptedQuerier{
		KindLatestBlock:                 `{"block":{"header":{"height":"1500","time":"2025-03-01T12:00:00.5Z"}}}`,
		KindBlock:                       `{"header":{"height":"1000","time":"2025-03-01T00:00:00Z"}}`,
		KindBankTotal:                   `{"supply":[{"denom":"ibc/AB","amount":"3"},{"denom":"ulava","amount":"987654321"}]}`,
		KindEstimatedProviderRewards:    `{"info":[],"total":[{"denom":"ulava","amount":"12.5"}],"recommended_block":"2000"}`,
		KindValidatorOutstandingRewards: `{"rewards":{"rewards":[{"denom":"ulava","amount":"7.000000000000000000"}]}}`,
		KindValidatorDistributionInfo:   `{"operator_address":"lava@valoper1","self_bond_rewards":[{"denom":"uatom","amount":"1"}]}`,
		KindDenomTrace:                  `{"denom_trace":{"path":"transfer/channel-1","base_denom":"uatom"}}`,
		KindDelegationsTo:               `{"delegation_responses":[{"delegation":{"delegator_address":"lava@d1","validator_address":"lava@valoper1","shares":"1.0"},"balance":{"denom":"ulava","amount":"5"}}]}`,
	})

	height, at, err := chain.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), height)
	assert.Equal(t, 500*time.Millisecond, at.Sub(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	bt, err := chain.BlockTime(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, bt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	supply, err := chain.TotalSupply(ctx, 1000, "ulava")
	require.NoError(t, err)
	assert.Equal(t, "987654321", supply)
	_, err = chain.TotalSupply(ctx, 1000, "uatom")
	assert.ErrorIs(t, err, ErrDenomAbsent)

	rewards, err := chain.EstimatedProviderRewards(ctx, "lava@prov", "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rewards.RecommendedBlock)
	assert.Equal(t, []Coin{{Denom: "ulava", Amount: "12.5"}}, rewards.Coins)

	outstanding, err := chain.ValidatorOutstandingRewards(ctx, "lava@valoper1")
	require.NoError(t, err)
	assert.Len(t, outstanding, 1)

	selfBond, err := chain.ValidatorSelfBondRewards(ctx, "lava@valoper1")
	require.NoError(t, err)
	assert.Equal(t, "uatom", selfBond[0].Denom)

	base, err := chain.DenomTrace(ctx, "AB")
	require.NoError(t, err)
	assert.Equal(t, "uatom", base)

	delegations, err := chain.DelegationsTo(ctx, "lava@valoper1")
	require.NoError(t, err)
	require.Len(t, delegations, 1)
	assert.Equal(t, "lava@d1", delegations[0].DelegatorAddress)
	assert.Equal(t, "5", delegations[0].Balance.Amount)
}

func TestRequestKeys(t *testing.T) {
	assert.Equal(t, "bank-total@10", Request{Kind: KindBankTotal, Height: 10}.Key())
	assert.Equal(t, "block:7", Request{Kind: KindBlock, Args: []string{"7"}}.Key())
	assert.True(t, Request{Kind: KindDenomTrace, Args: []string{"X"}}.Cacheable())
	assert.False(t, Request{Kind: KindLatestBlock}.Cacheable())
	assert.False(t, Request{Kind: KindDelegationsTo, Args: []string{"v"}}.Cacheable())
}
