package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lava-reports/internal/node"
)

const blockInterval = 14400 * time.Millisecond // 6000 blocks per day

type fakeChain struct {
	genesis time.Time
	tip     int64
	beyond  int64
	fail    func(height int64) bool

	mu     sync.Mutex
	probed []int64
}

func newFakeChain(tip int64) *fakeChain {
	return &fakeChain{genesis: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC), tip: tip}
}

func (f *fakeChain) timeAt(height int64) time.Time {
	return f.genesis.Add(time.Duration(height-1) * blockInterval)
}

func (f *fakeChain) Latest(context.Context) (int64, time.Time, error) {
	return f.tip, f.timeAt(f.tip), nil
}

func (f *fakeChain) BlockTime(_ context.Context, height int64) (time.Time, error) {
	f.mu.Lock()
	f.probed = append(f.probed, height)
	f.mu.Unlock()
	if height > f.tip || (f.beyond > 0 && height >= f.beyond) {
		return time.Time{}, node.ErrBeyondTip
	}
	if f.fail != nil && f.fail(height) {
		return time.Time{}, errors.New("rpc error: connection reset")
	}
	return f.timeAt(height), nil
}

func (f *fakeChain) probes() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.probed...)
}

func newTestLocator(src BlockSource, window int64) *Locator {
	return New(src, Options{BlocksPerDay: 6000, Window: window, Tolerance: 3 * time.Second}, zerolog.Nop())
}

func TestLocateWithinTolerance(t *testing.T) {
	chain := newFakeChain(100_000)
	loc := newTestLocator(chain, 5000)
	target := chain.timeAt(5000).Add(2 * time.Second)

	sample, err := loc.Locate(context.Background(), target, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), sample.Height)
	assert.InDelta(t, 2.0, sample.SecondsOff, 1e-9)
	assert.LessOrEqual(t, sample.SecondsOff, 3.0)
	assert.Equal(t, target.Format(DateLayout), sample.TargetDate)

	for _, h := range chain.probes() {
		assert.LessOrEqual(t, h, chain.tip)
		assert.GreaterOrEqual(t, h, int64(1))
	}
}

func TestLocateReturnsBestEffortOutsideWindow(t *testing.T) {
	chain := newFakeChain(100_000)
	loc := newTestLocator(chain, 100)
	target := chain.timeAt(50_000)

	sample, err := loc.Locate(context.Background(), target, 10_000)
	require.NoError(t, err)
	assert.Greater(t, sample.Height, int64(10_100))
	assert.Less(t, sample.Height, int64(50_000))
	assert.Greater(t, sample.SecondsOff, 3.0)
	assert.InDelta(t, chain.timeAt(sample.Height).Sub(target).Abs().Seconds(), sample.SecondsOff, 1e-9)
}

func TestLocateAbortsBeyondTip(t *testing.T) {
	chain := newFakeChain(100_000)
	chain.beyond = 60_000
	loc := newTestLocator(chain, 5000)

	_, err := loc.Locate(context.Background(), chain.timeAt(70_000), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBeyondTip)
	assert.ErrorIs(t, err, node.ErrBeyondTip)

	var lerr *LocatorError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindBeyondTip, lerr.Kind)
	assert.Len(t, chain.probes(), 1, "beyond tip is not retried")
}

func TestLocateSkipsFailedProbes(t *testing.T) {
	chain := newFakeChain(100_000)
	chain.fail = func(h int64) bool { return h == 6000 }
	loc := newTestLocator(chain, 5000)

	sample, err := loc.Locate(context.Background(), chain.timeAt(5000).Add(2*time.Second), 6000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), sample.Height)
	assert.Contains(t, chain.probes(), int64(6000))
}

func TestLocateNotFoundWhenEveryProbeFails(t *testing.T) {
	chain := newFakeChain(100_000)
	chain.fail = func(int64) bool { return true }
	loc := newTestLocator(chain, 50)

	_, err := loc.Locate(context.Background(), chain.timeAt(500), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrBeyondTip)
}

func TestLocateMemoisesBlockTimes(t *testing.T) {
	chain := newFakeChain(100_000)
	loc := newTestLocator(chain, 5000)
	target := chain.timeAt(42_000)

	first, err := loc.Locate(context.Background(), target, 0)
	require.NoError(t, err)
	n := len(chain.probes())

	second, err := loc.Locate(context.Background(), target, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, chain.probes(), n)
}

func TestLocateTargetAfterTip(t *testing.T) {
	chain := newFakeChain(1000)
	loc := newTestLocator(chain, 5000)

	sample, err := loc.Locate(context.Background(), chain.timeAt(5000), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sample.Height)
}

func TestConsiderKeepsFirstOnTies(t *testing.T) {
	target := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &search{target: target}
	s.consider(100, target.Add(2*time.Second))
	s.consider(101, target.Add(2*time.Second))
	s.consider(99, target.Add(-2*time.Second))
	assert.Equal(t, int64(100), s.best.Height)

	s.consider(102, target.Add(time.Second))
	assert.Equal(t, int64(102), s.best.Height)
}

func TestDailyMidnights(t *testing.T) {
	chain := newFakeChain(70_000)
	loc := newTestLocator(chain, 5000)
	now := time.Date(2025, 1, 11, 5, 0, 0, 0, time.UTC)

	days, err := loc.DailyMidnights(context.Background(), 3, now)
	require.NoError(t, err)
	require.Len(t, days, 3)

	wantHeights := []int64{60_001, 54_001, 48_001}
	wantDates := []string{"2025-01-11", "2025-01-10", "2025-01-09"}
	for i, d := range days {
		require.NotNil(t, d.Sample, "day %d", i)
		assert.Equal(t, i, d.DaysAgo)
		assert.Equal(t, wantHeights[i], d.Sample.Height)
		assert.Equal(t, wantDates[i], d.Sample.TargetDate)
		assert.InDelta(t, 1.0, d.Sample.SecondsOff, 1e-9)
	}
}

func TestDailyMidnightsRecordsMissingDays(t *testing.T) {
	chain := newFakeChain(70_000)
	chain.fail = func(h int64) bool { return h > 50_000 && h < 58_000 }
	loc := newTestLocator(chain, 500)
	now := time.Date(2025, 1, 11, 5, 0, 0, 0, time.UTC)

	days, err := loc.DailyMidnights(context.Background(), 3, now)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.NotNil(t, days[0].Sample)
	assert.Nil(t, days[1].Sample)
	assert.NotEmpty(t, days[1].Err)
	require.NotNil(t, days[2].Sample)
	assert.Equal(t, int64(48_001), days[2].Sample.Height)
}

func TestMonthDays(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	got := MonthDays(now, 3, 17, 18)
	want := []time.Time{
		time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, got)

	assert.Equal(t, []time.Time{time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)}, MonthDays(now, 3, 30), "February has no 30th")
}
