package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"groupe-e-consumption/internal/alerting"
	"groupe-e-consumption/internal/config"
	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/fetcher"
	"groupe-e-consumption/internal/service"
	"groupe-e-consumption/internal/statestore"
	"groupe-e-consumption/internal/storage"
	"groupe-e-consumption/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newClient() *fetcher.Client {
	api := a.Config.API
	userAgent := api.UserAgent
	if version.Version != "dev" {
		userAgent = version.UserAgent()
	}
	return fetcher.New(fetcher.Options{
		TokenURL:          api.TokenURL,
		UserInfoURL:       api.UserInfoURL,
		PremiseURL:        api.PremiseURL,
		MeasurementURL:    api.MeasurementURL,
		ClientID:          api.ClientID,
		ClientSecret:      api.ClientSecret,
		Scopes:            api.Scopes,
		Timeout:           api.RequestTimeout,
		UserAgent:         userAgent,
		RequestsPerSecond: api.RequestsPerSecond,
		Burst:             api.Burst,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openRedis(ctx context.Context) (*statestore.Redis, func(), error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	closer := func() {
		_ = client.Close()
	}
	return statestore.NewRedis(client, a.Config.Redis.KeyPrefix), closer, nil
}

func (a *App) statisticMetadata() storage.StatisticMetadata {
	stats := a.Config.Statistics
	if stats.StatisticID == "" {
		return service.DefaultStatisticMetadata
	}
	return storage.StatisticMetadata{
		StatisticID: stats.StatisticID,
		Source:      stats.Source,
		Name:        stats.Name,
		Unit:        stats.Unit,
		HasMean:     false,
		HasSum:      false,
	}
}

type serviceDeps struct {
	store     *storage.Store
	publisher statestore.Publisher
	observer  service.RefreshObserver
	notifier  alerting.Notifier
	opener    fetcher.SessionOpener
}

func (a *App) newService(deps serviceDeps) *service.Service {
	creds := a.Config.Credentials
	opts := service.Options{
		Credentials: service.Credentials{
			Username:  creds.Username,
			Password:  creds.Password,
			PremiseID: creds.PremiseID,
			PartnerID: creds.PartnerID,
		},
		Opener:    deps.opener,
		Metadata:  a.statisticMetadata(),
		Publisher: deps.publisher,
		Notifier:  deps.notifier,
		Observer:  deps.observer,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}
	if opts.Opener == nil {
		opts.Opener = a.newClient()
	}
	if deps.store != nil {
		opts.Statistics = deps.store
		opts.Locker = deps.store
	}
	return service.New(opts, a.Logger)
}

// restore seeds the service with readings mirrored in redis by an earlier run.
func (a *App) restore(ctx context.Context, svc *service.Service, mirror *statestore.Redis) {
	if mirror == nil {
		return
	}
	for _, res := range []consumption.Resolution{consumption.Daily, consumption.Monthly} {
		reading, ok, err := mirror.Reading(ctx, res)
		if err != nil {
			a.Logger.Warn().Err(err).Str("resolution", res.String()).Msg("failed to load mirrored reading")
			continue
		}
		if !ok {
			continue
		}
		lastSuccess := reading.EffectiveAt
		if status, ok, err := mirror.Status(ctx, res); err == nil && ok && !status.LastSuccess.IsZero() {
			lastSuccess = status.LastSuccess
		}
		if svc.Restore(reading, lastSuccess) {
			a.Logger.Info().
				Str("resolution", res.String()).
				Time("effective_at", reading.EffectiveAt).
				Msg("restored reading from redis")
		}
	}
}

// ExportOptions hold parameters for exporting hourly statistics.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job. Days are processed from From
// (inclusive) to To (exclusive).
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// RefreshOptions configure a one-shot refresh.
type RefreshOptions struct {
	Resolutions []consumption.Resolution
	Force       bool
}
