package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lava-reports/internal/locator"
	"lava-reports/internal/node"
	"lava-reports/internal/worker"
)

// BlockEntry is one located (or missing) target instant.
type BlockEntry struct {
	Date            string     `json:"date"`
	DaysAgo         int        `json:"days_ago"`
	Block           int64      `json:"block,omitempty"`
	BlockTime       *time.Time `json:"block_time,omitempty"`
	AccuracySeconds *float64   `json:"accuracy_seconds,omitempty"`
	Failure
}

func blockEntry(d locator.DayResult) BlockEntry {
	e := BlockEntry{Date: d.Target.UTC().Format(locator.DateLayout), DaysAgo: d.DaysAgo}
	if d.Sample == nil {
		e.Failure = Failure{Error: MarkerUnavailable, Detail: d.Err}
		return e
	}
	at := d.Sample.Time.UTC()
	off := d.Sample.SecondsOff
	e.Block = d.Sample.Height
	e.BlockTime = &at
	e.AccuracySeconds = &off
	return e
}

// BlocksReport lists the UTC midnight blocks of recent days.
type BlocksReport struct {
	GeneratedAt  time.Time    `json:"generated_at"`
	Days         int          `json:"days"`
	BlocksPerDay int64        `json:"blocks_per_day"`
	Blocks       []BlockEntry `json:"blocks"`
}

func (r *BlocksReport) Name() string  { return "blocks" }
func (r *BlocksReport) Partial() bool { return false }

func (r *BlocksReport) Highlights() []string {
	found := 0
	for _, b := range r.Blocks {
		if !b.Failed() {
			found++
		}
	}
	return []string{fmt.Sprintf("located %d of %d midnight blocks", found, r.Days)}
}

// Blocks locates the midnight block of today and the previous days-1 days.
func (b *Builder) Blocks(ctx context.Context, days int) (*BlocksReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be greater than zero")
	}
	now := b.timestamp()
	located, err := b.loc.DailyMidnights(ctx, days, now)
	if err != nil {
		return nil, fmt.Errorf("locate midnight blocks: %w", err)
	}
	report := &BlocksReport{
		GeneratedAt:  now,
		Days:         days,
		BlocksPerDay: b.loc.BlocksPerDay(),
		Blocks:       make([]BlockEntry, 0, len(located)),
	}
	for _, d := range located {
		report.Blocks = append(report.Blocks, blockEntry(d))
	}
	return report, nil
}

// IntervalOptions select the month days an interval report covers.
type IntervalOptions struct {
	Months int
	Days   []int
	// Supply adds the ulava total supply at every located block.
	Supply bool
}

// IntervalEntry is a BlockEntry with the optional supply columns.
type IntervalEntry struct {
	BlockEntry
	UlavaAmount *decimal.Decimal `json:"ulava_amount,omitempty"`
	UlavaDiff   *decimal.Decimal `json:"ulava_diff,omitempty"`
}

// IntervalReport lists blocks on fixed days of the past months.
type IntervalReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Months      int             `json:"months"`
	MonthDays   []int           `json:"month_days"`
	Blocks      []IntervalEntry `json:"blocks"`
	TimedOut    bool            `json:"timed_out,omitempty"`
}

func (r *IntervalReport) Name() string  { return "block_interval" }
func (r *IntervalReport) Partial() bool { return r.TimedOut }

func (r *IntervalReport) Highlights() []string {
	found := 0
	for _, b := range r.Blocks {
		if !b.Failed() {
			found++
		}
	}
	return []string{fmt.Sprintf("located %d of %d blocks over %d months", found, len(r.Blocks), r.Months)}
}

// Interval locates the blocks at midnight of opts.Days in each of the past
// opts.Months months. With opts.Supply every located block also gets its
// ulava supply and the change since the same day of the previous month.
func (b *Builder) Interval(ctx context.Context, opts IntervalOptions) (*IntervalReport, error) {
	if opts.Months <= 0 {
		opts.Months = 12
	}
	if len(opts.Days) == 0 {
		opts.Days = []int{17, 18}
	}
	now := b.timestamp()
	targets := locator.MonthDays(now, opts.Months, opts.Days...)
	located, err := b.loc.LocateAll(ctx, targets, now)
	if err != nil {
		return nil, fmt.Errorf("locate interval blocks: %w", err)
	}

	report := &IntervalReport{
		GeneratedAt: now,
		Months:      opts.Months,
		MonthDays:   opts.Days,
		Blocks:      make([]IntervalEntry, len(located)),
	}
	for i, d := range located {
		report.Blocks[i] = IntervalEntry{BlockEntry: blockEntry(d)}
	}
	if !opts.Supply {
		return report, nil
	}

	heights := make([]int64, 0, len(located))
	for _, e := range report.Blocks {
		if !e.Failed() {
			heights = append(heights, e.Block)
		}
	}
	supplies, timedOut, err := b.supplies(ctx, "interval_supply", heights)
	if err != nil {
		return nil, err
	}
	report.TimedOut = timedOut

	previous := make(map[int]decimal.Decimal)
	for i := range report.Blocks {
		e := &report.Blocks[i]
		if e.Failed() {
			continue
		}
		res := supplies[e.Block]
		if res.err != nil {
			e.Failure = failure(res.err)
			continue
		}
		amount := res.ulava
		e.UlavaAmount = &amount
		target, _ := time.Parse(locator.DateLayout, e.Date)
		day := target.Day()
		if prev, ok := previous[day]; ok {
			diff := amount.Sub(prev)
			e.UlavaDiff = &diff
		}
		previous[day] = amount
	}
	return report, nil
}

type supplyResult struct {
	ulava decimal.Decimal
	err   error
}

// supplies fetches the ulava total supply at each height on the pool.
func (b *Builder) supplies(ctx context.Context, name string, heights []int64) (map[int64]supplyResult, bool, error) {
	batch, err := worker.Run(ctx, b.pool.Named(name, IsFatal), heights, func(ctx context.Context, height int64) (decimal.Decimal, error) {
		raw, err := b.chain.TotalSupply(ctx, height, SupplyDenom)
		if err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: supply %q at %d", node.ErrMalformed, raw, height)
		}
		return amount, nil
	})
	if err != nil {
		return nil, batch.TimedOut, fmt.Errorf("fetch supply: %w", err)
	}
	out := make(map[int64]supplyResult, len(heights))
	for i, o := range batch.Outcomes {
		out[heights[i]] = supplyResult{ulava: o.Value, err: o.Err}
	}
	return out, batch.TimedOut, nil
}
