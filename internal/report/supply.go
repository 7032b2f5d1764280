package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lava-reports/internal/locator"
)

// ulavaExponent shifts ulava amounts to LAVA.
const ulavaExponent = -6

// SupplyPoint is the LAVA total supply at one located midnight. Supply and
// SupplyDiff are null for points that could not be fetched.
type SupplyPoint struct {
	Day        int              `json:"day"`
	Block      int64            `json:"block"`
	BlockDate  string           `json:"block_date,omitempty"`
	BlockTime  *time.Time       `json:"block_time,omitempty"`
	TargetDate string           `json:"target_date"`
	SecondsOff *float64         `json:"accuracy_seconds,omitempty"`
	Supply     *decimal.Decimal `json:"supply"`
	SupplyDiff *decimal.Decimal `json:"supply_diff"`
	Failure
}

// SupplySummary aggregates the burn over the report window. Only positive
// daily diffs count as burn.
type SupplySummary struct {
	TotalBurned       decimal.Decimal `json:"total_burned"`
	AverageDailyBurn  decimal.Decimal `json:"average_daily_burn"`
	BurnDays          int             `json:"burn_days"`
	PrunedPoints      int             `json:"pruned_points"`
	UnavailablePoints int             `json:"unavailable_points"`
}

// SupplyReport is the daily burn-rate report.
type SupplyReport struct {
	GeneratedAt  time.Time     `json:"generated_at"`
	StartBlock   int64         `json:"start_block"`
	Days         int           `json:"days"`
	BlocksPerDay int64         `json:"blocks_per_day"`
	Denom        string        `json:"denom"`
	Data         []SupplyPoint `json:"data"`
	Summary      SupplySummary `json:"summary"`
	TimedOut     bool          `json:"timed_out,omitempty"`
}

func (r *SupplyReport) Name() string  { return "daily_burn_rate" }
func (r *SupplyReport) Partial() bool { return r.TimedOut }

func (r *SupplyReport) Highlights() []string {
	return []string{
		fmt.Sprintf("days: %d (start block %d)", r.Days, r.StartBlock),
		fmt.Sprintf("total burned: %s LAVA", r.Summary.TotalBurned.StringFixed(2)),
		fmt.Sprintf("average daily burn: %s LAVA over %d days", r.Summary.AverageDailyBurn.StringFixed(2), r.Summary.BurnDays),
		fmt.Sprintf("pruned points: %d, unavailable: %d", r.Summary.PrunedPoints, r.Summary.UnavailablePoints),
	}
}

// Supply builds the daily burn-rate report over the last days days.
func (b *Builder) Supply(ctx context.Context, days int) (*SupplyReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be greater than zero")
	}
	now := b.timestamp()
	located, err := b.loc.DailyMidnights(ctx, days, now)
	if err != nil {
		return nil, fmt.Errorf("locate midnight blocks: %w", err)
	}

	points := make([]SupplyPoint, len(located))
	heights := make([]int64, 0, len(located))
	for i, d := range located {
		points[i] = SupplyPoint{Day: d.DaysAgo, TargetDate: d.Target.UTC().Format(locator.DateLayout)}
		if d.Sample == nil {
			points[i].Failure = Failure{Error: MarkerUnavailable, Detail: d.Err}
			continue
		}
		at := d.Sample.Time.UTC()
		off := d.Sample.SecondsOff
		points[i].Block = d.Sample.Height
		points[i].BlockTime = &at
		points[i].BlockDate = at.Format(locator.DateLayout)
		points[i].SecondsOff = &off
		if points[i].BlockDate != points[i].TargetDate {
			b.logger.Warn().Int64("height", d.Sample.Height).Str("target_date", points[i].TargetDate).Str("block_date", points[i].BlockDate).Msg("block date differs from target date")
		}
		heights = append(heights, d.Sample.Height)
	}

	supplies, timedOut, err := b.supplies(ctx, "supply", heights)
	if err != nil {
		return nil, err
	}
	for i := range points {
		p := &points[i]
		if p.Failed() {
			continue
		}
		res := supplies[p.Block]
		if res.err != nil {
			p.Failure = failure(res.err)
			continue
		}
		lava := res.ulava.Shift(ulavaExponent)
		p.Supply = &lava
	}

	report := &SupplyReport{
		GeneratedAt:  now,
		Days:         days,
		BlocksPerDay: b.loc.BlocksPerDay(),
		Denom:        SupplyDenom,
		Data:         points,
		TimedOut:     timedOut,
	}
	if len(located) > 0 && located[0].Sample != nil {
		report.StartBlock = located[0].Sample.Height
	}
	report.Summary = DiffSupply(report.Data)
	return report, nil
}

// DiffSupply fills SupplyDiff on every point with a supply and sorts points
// by block descending. Each diff is the previous (older) good supply minus
// this supply, so burn is positive; the oldest good point gets zero. Points
// without a supply are excluded from the chain of diffs.
func DiffSupply(points []SupplyPoint) SupplySummary {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Block < points[j].Block })

	var summary SupplySummary
	var prev *decimal.Decimal
	for i := range points {
		p := &points[i]
		if p.Supply == nil {
			p.SupplyDiff = nil
			if p.Error == MarkerPruned {
				summary.PrunedPoints++
			} else {
				summary.UnavailablePoints++
			}
			continue
		}
		diff := decimal.Zero
		if prev != nil {
			diff = prev.Sub(*p.Supply)
		}
		p.SupplyDiff = &diff
		if diff.Sign() > 0 {
			summary.TotalBurned = summary.TotalBurned.Add(diff)
			summary.BurnDays++
		}
		prev = p.Supply
	}
	if summary.BurnDays > 0 {
		summary.AverageDailyBurn = summary.TotalBurned.Div(decimal.NewFromInt(int64(summary.BurnDays)))
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Block > points[j].Block })
	return summary
}

// ReadSupply loads a supply report written by Writer.
func ReadSupply(path string) (*SupplyReport, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supply report: %w", err)
	}
	var report SupplyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode supply report %s: %w", path, err)
	}
	return &report, nil
}
