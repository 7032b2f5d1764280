package app

import (
	"context"
	"fmt"
	"time"

	"lava-reports/internal/report"
	"lava-reports/internal/storage"
)

// Rewards report kinds accepted by Rewards.
const (
	RewardsProviders           = "providers"
	RewardsProviderDelegators  = "provider-delegators"
	RewardsValidators          = "validators"
	RewardsValidatorDelegators = "validator-delegators"
	RewardsAll                 = "all"
)

// RewardsKinds lists the rewards reports in display order.
var RewardsKinds = []string{RewardsProviders, RewardsProviderDelegators, RewardsValidators, RewardsValidatorDelegators, RewardsAll}

// Blocks writes the midnight blocks of the last days days.
func (a *App) Blocks(ctx context.Context, days int) error {
	return a.withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		rep, err := rt.builder.Blocks(ctx, days)
		if err != nil {
			return err
		}
		_, err = a.publish(ctx, rep)
		return err
	})
}

// Interval writes the blocks on fixed days of the past months.
func (a *App) Interval(ctx context.Context, opts IntervalOptions) error {
	return a.withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		rep, err := rt.builder.Interval(ctx, report.IntervalOptions{Months: opts.Months, Days: opts.Days, Supply: opts.Supply})
		if err != nil {
			return err
		}
		_, err = a.publish(ctx, rep)
		return err
	})
}

// Supply writes the daily burn-rate report and, when requested and a
// database is configured, archives it.
func (a *App) Supply(ctx context.Context, opts SupplyOptions) error {
	return a.withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		rep, err := rt.builder.Supply(ctx, opts.Days)
		if err != nil {
			return err
		}
		_, publishErr := a.publish(ctx, rep)
		if opts.Archive {
			if err := a.archive(ctx, rep); err != nil {
				return err
			}
		}
		return publishErr
	})
}

func (a *App) archive(ctx context.Context, rep *report.SupplyReport) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archive skipped")
		return nil
	}
	defer closeStore()

	if key := a.Config.Database.LockKey; key != 0 {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, key)
		if err != nil {
			return err
		}
		if !acquired {
			a.Logger.Warn().Int64("lock_key", key).Msg("archive lock held elsewhere; archive skipped")
			return nil
		}
		defer unlock()
	}

	samples, points, err := storage.FromSupplyReport(rep)
	if err != nil {
		return fmt.Errorf("convert supply report: %w", err)
	}
	if err := store.UpsertBlockSamples(ctx, samples); err != nil {
		return err
	}
	if err := store.UpsertSupplyPoints(ctx, points); err != nil {
		return err
	}
	a.Logger.Info().Int("block_samples", len(samples)).Int("supply_points", len(points)).Msg("supply report archived")
	return nil
}

// Rewards writes one of the rewards reports.
func (a *App) Rewards(ctx context.Context, kind string) error {
	build, ok := rewardsBuilders[kind]
	if !ok {
		return fmt.Errorf("unknown rewards report %q (want one of %v)", kind, RewardsKinds)
	}
	return a.withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		start := time.Now()
		doc, err := build(ctx, rt.builder)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("report", doc.Name()).Dur("elapsed", time.Since(start)).Msg("rewards report built")
		_, err = a.publish(ctx, doc)
		return err
	})
}

var rewardsBuilders = map[string]func(context.Context, *report.Builder) (report.Document, error){
	RewardsProviders: func(ctx context.Context, b *report.Builder) (report.Document, error) {
		return b.ProviderRewards(ctx)
	},
	RewardsProviderDelegators: func(ctx context.Context, b *report.Builder) (report.Document, error) {
		return b.ProviderDelegatorRewards(ctx)
	},
	RewardsValidators: func(ctx context.Context, b *report.Builder) (report.Document, error) {
		return b.ValidatorRewards(ctx)
	},
	RewardsValidatorDelegators: func(ctx context.Context, b *report.Builder) (report.Document, error) {
		return b.ValidatorDelegatorRewards(ctx)
	},
	RewardsAll: func(ctx context.Context, b *report.Builder) (report.Document, error) {
		return b.AllRewards(ctx)
	},
}
