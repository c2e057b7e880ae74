package app

import (
	"context"
	"errors"
	"time"

	"groupe-e-consumption/internal/consumption"
)

// Backfill imports the quarter-hourly history of every day in the range as
// hourly statistics.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := startOfDay(opts.From)
	end := startOfDay(opts.To)
	if !start.Before(end) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	deps := serviceDeps{}
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: statistics will not be written")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		deps.store = store
	}

	svc := a.newService(deps)

	processed := 0
	failed := 0
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// a refresh at the following midnight requests exactly this day
		if err := svc.ForceRefresh(ctx, consumption.QuarterHourly, day.AddDate(0, 0, 1)); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("day", day).Msg("backfill failed")
			continue
		}
		processed++
	}

	event := a.Logger.Info().Int("processed", processed).Int("failed", failed)
	if deps.store != nil {
		if total, err := deps.store.CountStatistics(ctx, a.statisticMetadata().StatisticID); err == nil {
			event = event.Int64("stored_hours", total)
		}
	}
	event.Msg("backfill complete")
	if failed > 0 {
		return errors.New("some days failed to backfill; see logs")
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	local := t.In(consumption.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, consumption.Location)
}
