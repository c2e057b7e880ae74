package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"groupe-e-consumption/internal/config"
	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/httpapi"
	"groupe-e-consumption/internal/metrics"
	"groupe-e-consumption/internal/scheduler"
	"groupe-e-consumption/internal/service"
	"groupe-e-consumption/internal/statestore"
)

// Run executes the long-running refresh daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; hourly statistics will not be stored")
	}
	if closeStore != nil {
		defer closeStore()
	}

	mirror, closeRedis, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if closeRedis != nil {
		defer closeRedis()
	}

	memory := statestore.NewMemory()
	m := metrics.New()
	publishers := statestore.Multi{memory, m}
	if mirror != nil {
		publishers = append(publishers, mirror)
	}

	svc := a.newService(serviceDeps{
		store:     store,
		publisher: publishers,
		observer:  m,
		notifier:  a.newNotifier(),
	})
	a.restore(ctx, svc, mirror)

	updates, unsubscribe := memory.Subscribe()
	defer unsubscribe()
	go a.logUpdates(updates)

	triggers, err := a.triggers(svc)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		Location:     consumption.Location,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, triggers...)
	})
	if a.Config.Metrics.Enabled {
		srv := httpapi.New(httpapi.Options{Listen: a.Config.Metrics.Listen, Metrics: m.Handler()}, svc, a.Logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	a.Logger.Info().Int("triggers", len(triggers)).Msg("starting refresh service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

func (a *App) triggers(svc *service.Service) ([]scheduler.Trigger, error) {
	return buildTriggers(a.Config.Scheduler, svc)
}

func buildTriggers(cfg config.SchedulerConfig, svc *service.Service) ([]scheduler.Trigger, error) {
	dailyHour, dailyMinute, err := config.ParseClock(cfg.DailyAt)
	if err != nil {
		return nil, err
	}
	monthlyHour, monthlyMinute, err := config.ParseClock(cfg.MonthlyAt)
	if err != nil {
		return nil, err
	}
	quarterHour, quarterMinute, err := config.ParseClock(cfg.QuarterHourlyAt)
	if err != nil {
		return nil, err
	}

	return []scheduler.Trigger{
		{Name: "daily", Hour: dailyHour, Minute: dailyMinute, Run: svc.UpdateDaily},
		{Name: "monthly", Day: cfg.MonthlyDay, Hour: monthlyHour, Minute: monthlyMinute, Run: svc.UpdateMonthly},
		{Name: "quarter-hourly", Hour: quarterHour, Minute: quarterMinute, Run: svc.UpdateQuarterHourly},
	}, nil
}

func (a *App) logUpdates(updates <-chan statestore.Update) {
	for update := range updates {
		switch {
		case update.Reading != nil:
			a.Logger.Debug().
				Str("resolution", update.Reading.Resolution.String()).
				Str("total_kwh", update.Reading.Total.String()).
				Msg("reading published")
		case update.Status != nil:
			a.Logger.Debug().
				Str("resolution", update.Status.Resolution.String()).
				Bool("succeeded", update.Status.Succeeded).
				Msg("status published")
		}
	}
}
