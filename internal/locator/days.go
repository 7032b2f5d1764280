package locator

import (
	"context"
	"errors"
	"sort"
	"time"
)

const day = 24 * time.Hour

// DayResult is the located block for one target day. Sample is nil when the
// day could not be located.
type DayResult struct {
	Target  time.Time    `json:"target"`
	DaysAgo int          `json:"days_ago"`
	Sample  *BlockSample `json:"sample,omitempty"`
	Err     string       `json:"error,omitempty"`
}

// DailyMidnights locates the UTC midnight block of today and each of the
// previous days-1 days. Each found sample seeds the next hint one day of
// blocks earlier. Only a beyond-tip failure aborts.
func (l *Locator) DailyMidnights(ctx context.Context, days int, now time.Time) ([]DayResult, error) {
	midnight := now.UTC().Truncate(day)
	out := make([]DayResult, 0, days)
	var hint int64
	for i := 0; i < days; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		target := midnight.Add(-time.Duration(i) * day)
		res := DayResult{Target: target, DaysAgo: i}

		sample, err := l.Locate(ctx, target, hint)
		switch {
		case errors.Is(err, ErrBeyondTip):
			return out, err
		case err != nil:
			l.logger.Warn().Err(err).Time("target", target).Msg("midnight block not located")
			res.Err = err.Error()
			hint = 0
		default:
			res.Sample = &sample
			hint = sample.Height - l.opts.BlocksPerDay
			l.logger.Info().Str("date", sample.TargetDate).Int64("height", sample.Height).Float64("seconds_off", sample.SecondsOff).Msg("located midnight block")
		}
		out = append(out, res)
	}
	return out, nil
}

// LocateAll locates each target independently. Failures other than beyond-tip
// are recorded per target.
func (l *Locator) LocateAll(ctx context.Context, targets []time.Time, now time.Time) ([]DayResult, error) {
	out := make([]DayResult, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := DayResult{Target: target, DaysAgo: int(now.Sub(target) / day)}
		sample, err := l.Locate(ctx, target, 0)
		switch {
		case errors.Is(err, ErrBeyondTip):
			return out, err
		case err != nil:
			l.logger.Warn().Err(err).Time("target", target).Msg("block not located")
			res.Err = err.Error()
		default:
			res.Sample = &sample
		}
		out = append(out, res)
	}
	return out, nil
}

// MonthDays returns the UTC midnights of the given days of month for the
// current and previous months-1 months, keeping only instants before now,
// sorted ascending. Days that do not exist in a month are skipped.
func MonthDays(now time.Time, months int, days ...int) []time.Time {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for i := 0; i < months; i++ {
		month := first.AddDate(0, -i, 0)
		for _, d := range days {
			t := time.Date(month.Year(), month.Month(), d, 0, 0, 0, 0, time.UTC)
			if t.Month() != month.Month() || !t.Before(now) {
				continue
			}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
