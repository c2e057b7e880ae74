package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"groupe-e-consumption/internal/alerting"
	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/fetcher"
	"groupe-e-consumption/internal/metrics"
	"groupe-e-consumption/internal/statestore"
	"groupe-e-consumption/internal/storage"
)

var (
	// ErrUpdateFailed is returned for every failed refresh. The underlying
	// cause is wrapped as well but callers should only branch on this.
	ErrUpdateFailed = errors.New("update failed")
	// ErrRefreshInProgress is returned when a resolution is refreshed while
	// a previous refresh of the same resolution is still running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// DefaultStatisticMetadata tags the hourly statistics derived from
// quarter-hourly measurements.
var DefaultStatisticMetadata = storage.StatisticMetadata{
	StatisticID: "groupe_e_consumption:quarter_hourly_energy_consumption",
	Source:      "groupe_e_consumption",
	Name:        "Quarter-Hourly Energy Consumption",
	Unit:        "kWh",
	HasMean:     false,
	HasSum:      false,
}

// Credentials identify the portal account.
type Credentials struct {
	Username  string
	Password  string
	PremiseID string
	PartnerID string
}

// RefreshObserver receives per-attempt measurements.
type RefreshObserver interface {
	ObserveRefresh(res consumption.Resolution, result string, elapsed time.Duration)
	ObserveStatistics(count int)
}

// Options wires the orchestrator to its collaborators. Only Opener is
// required.
type Options struct {
	Credentials Credentials
	Opener      fetcher.SessionOpener
	Statistics  storage.StatisticStore
	Metadata    storage.StatisticMetadata
	Publisher   statestore.Publisher
	Notifier    alerting.Notifier
	Observer    RefreshObserver
	Locker      storage.AdvisoryLocker
	LockKey     int64
}

// Service keeps the last good reading per resolution and refreshes it from
// the Groupe E API.
type Service struct {
	creds     Credentials
	opener    fetcher.SessionOpener
	stats     storage.StatisticStore
	meta      storage.StatisticMetadata
	publisher statestore.Publisher
	notifier  alerting.Notifier
	observer  RefreshObserver
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
	now       func() time.Time

	slots map[consumption.Resolution]*slot
}

type slot struct {
	inFlight atomic.Bool

	mu          sync.RWMutex
	reading     *consumption.Reading
	hourly      []consumption.HourlyStatistic
	covered     consumption.Window
	lastSuccess time.Time
	lastAttempt time.Time
	lastErr     error
}

// New constructs the orchestrator.
func New(opts Options, logger zerolog.Logger) *Service {
	if opts.Opener == nil {
		panic("service requires a session opener")
	}
	meta := opts.Metadata
	if meta.StatisticID == "" {
		meta = DefaultStatisticMetadata
	}

	slots := make(map[consumption.Resolution]*slot, len(consumption.Resolutions))
	for _, res := range consumption.Resolutions {
		slots[res] = &slot{}
	}

	return &Service{
		creds:     opts.Credentials,
		opener:    opts.Opener,
		stats:     opts.Statistics,
		meta:      meta,
		publisher: opts.Publisher,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		locker:    opts.Locker,
		lockKey:   opts.LockKey,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
		slots:     slots,
	}
}

// UpdateDaily refreshes yesterday's reading when it is due.
func (s *Service) UpdateDaily(ctx context.Context, now time.Time) error {
	return s.Refresh(ctx, consumption.Daily, now)
}

// UpdateMonthly refreshes last month's reading when it is due.
func (s *Service) UpdateMonthly(ctx context.Context, now time.Time) error {
	return s.Refresh(ctx, consumption.Monthly, now)
}

// UpdateQuarterHourly refetches yesterday's quarter-hourly series and
// imports it as hourly statistics.
func (s *Service) UpdateQuarterHourly(ctx context.Context, now time.Time) error {
	return s.Refresh(ctx, consumption.QuarterHourly, now)
}

// Refresh fetches the given resolution if the cached value is stale.
func (s *Service) Refresh(ctx context.Context, res consumption.Resolution, now time.Time) error {
	return s.refresh(ctx, res, now, false)
}

// ForceRefresh fetches the given resolution regardless of staleness.
func (s *Service) ForceRefresh(ctx context.Context, res consumption.Resolution, now time.Time) error {
	return s.refresh(ctx, res, now, true)
}

func (s *Service) refresh(ctx context.Context, res consumption.Resolution, now time.Time, force bool) error {
	sl, ok := s.slots[res]
	if !ok {
		return fmt.Errorf("unknown resolution %q", res)
	}
	if !sl.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", res, ErrRefreshInProgress)
	}
	defer sl.inFlight.Store(false)

	logger := s.logger.With().Str("resolution", res.String()).Logger()

	if !force && !consumption.IsDue(res, sl.cachedReading(), now) {
		logger.Debug().Msg("cached reading is current; skipping refresh")
		s.observe(res, metrics.ResultSkipped, 0)
		return nil
	}

	if res == consumption.QuarterHourly {
		unlock, proceed, err := s.acquireLock(ctx)
		if err != nil {
			return s.fail(ctx, logger, sl, res, now, time.Now(), err)
		}
		if !proceed {
			logger.Info().Msg("skip refresh because advisory lock held elsewhere")
			s.observe(res, metrics.ResultSkipped, 0)
			return nil
		}
		if unlock != nil {
			defer unlock()
		}
	}

	started := time.Now()
	result, err := s.fetch(ctx, res, now)
	if err == nil && res == consumption.QuarterHourly {
		err = s.importStatistics(ctx, logger, result.hourly)
	}
	if err != nil {
		return s.fail(ctx, logger, sl, res, now, started, err)
	}

	s.succeed(ctx, logger, sl, res, now, started, result)
	return nil
}

type fetchResult struct {
	reading *consumption.Reading
	hourly  []consumption.HourlyStatistic
	window  consumption.Window
}

func (s *Service) fetch(ctx context.Context, res consumption.Resolution, now time.Time) (fetchResult, error) {
	session := s.opener.Open()
	defer session.Release()

	token, err := session.Authenticate(ctx, s.creds.Username, s.creds.Password)
	if err != nil {
		return fetchResult{}, err
	}

	id := fetcher.Identity{PremiseID: s.creds.PremiseID, PartnerID: s.creds.PartnerID}
	if !id.Complete() {
		id, err = session.ResolveIdentity(ctx, token)
		if err != nil {
			return fetchResult{}, err
		}
	}

	window := consumption.WindowFor(res, now)
	raw, err := session.FetchMeasurements(ctx, token, id, window)
	if err != nil {
		return fetchResult{}, err
	}

	if res == consumption.QuarterHourly {
		hourly, err := consumption.BucketHourly(raw)
		if err != nil {
			return fetchResult{}, err
		}
		return fetchResult{hourly: hourly, window: window}, nil
	}

	reading, err := consumption.ParseAggregate(res, raw)
	if err != nil {
		return fetchResult{}, err
	}
	return fetchResult{reading: &reading, window: window}, nil
}

func (s *Service) importStatistics(ctx context.Context, logger zerolog.Logger, hourly []consumption.HourlyStatistic) error {
	if s.stats == nil {
		logger.Warn().Int("buckets", len(hourly)).Msg("no statistics store configured; hourly statistics not imported")
		return nil
	}
	if err := s.stats.ImportStatistics(ctx, s.meta, hourly); err != nil {
		return fmt.Errorf("import statistics: %w", err)
	}
	if s.observer != nil {
		s.observer.ObserveStatistics(len(hourly))
	}
	logger.Info().
		Str("statistic_id", s.meta.StatisticID).
		Int("buckets", len(hourly)).
		Msg("hourly statistics imported")
	return nil
}

func (s *Service) succeed(ctx context.Context, logger zerolog.Logger, sl *slot, res consumption.Resolution, now, started time.Time, result fetchResult) {
	sl.mu.Lock()
	recovered := sl.lastErr != nil
	sl.reading = result.reading
	sl.hourly = result.hourly
	sl.covered = result.window
	sl.lastSuccess = now
	sl.lastAttempt = now
	sl.lastErr = nil
	sl.mu.Unlock()

	event := logger.Info().Time("window_start", result.window.Start)
	if result.reading != nil {
		event = event.
			Str("total_kwh", result.reading.Total.String()).
			Str("low_tariff_kwh", result.reading.LowTariff.String()).
			Str("high_tariff_kwh", result.reading.HighTariff.String()).
			Time("effective_at", result.reading.EffectiveAt)
	} else {
		event = event.Int("buckets", len(result.hourly))
	}
	event.Msg("refresh succeeded")

	s.observe(res, metrics.ResultSuccess, time.Since(started))

	if s.publisher != nil {
		if result.reading != nil {
			if err := s.publisher.PublishReading(ctx, *result.reading); err != nil {
				logger.Error().Err(err).Msg("failed to publish reading")
			}
		}
		s.publishStatus(ctx, logger, statestore.Status{
			Resolution:  res,
			Succeeded:   true,
			AttemptedAt: now,
			LastSuccess: now,
		})
	}

	if recovered {
		s.notify(ctx, logger, alerting.Notification{
			Kind:        alerting.KindRecovered,
			Resolution:  res.String(),
			At:          now,
			LastSuccess: now,
		})
	}
}

func (s *Service) fail(ctx context.Context, logger zerolog.Logger, sl *slot, res consumption.Resolution, now, started time.Time, cause error) error {
	sl.mu.Lock()
	firstFailure := sl.lastErr == nil
	sl.lastAttempt = now
	sl.lastErr = cause
	lastSuccess := sl.lastSuccess
	sl.mu.Unlock()

	code := fetcher.StatusCode(cause)
	event := logger.Error().Err(cause).Str("kind", failureKind(cause))
	if code != 0 {
		event = event.Int("status_code", code)
	}
	event.Msg("refresh failed; keeping previous reading")

	s.observe(res, metrics.ResultError, time.Since(started))

	if s.publisher != nil {
		s.publishStatus(ctx, logger, statestore.Status{
			Resolution:  res,
			Succeeded:   false,
			AttemptedAt: now,
			LastSuccess: lastSuccess,
			Error:       cause.Error(),
		})
	}

	if firstFailure {
		s.notify(ctx, logger, alerting.Notification{
			Kind:        alerting.KindFailed,
			Resolution:  res.String(),
			At:          now,
			LastSuccess: lastSuccess,
			Error:       cause.Error(),
			StatusCode:  code,
		})
	}

	return fmt.Errorf("%w: %s: %w", ErrUpdateFailed, res, cause)
}

func (s *Service) publishStatus(ctx context.Context, logger zerolog.Logger, status statestore.Status) {
	if err := s.publisher.PublishStatus(ctx, status); err != nil {
		logger.Error().Err(err).Msg("failed to publish status")
	}
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	// the refresh context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if err := s.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch notification")
	}
}

func (s *Service) observe(res consumption.Resolution, result string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveRefresh(res, result, elapsed)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrAuthenticationFailed):
		return "authentication"
	case errors.Is(err, fetcher.ErrIdentityResolutionFailed):
		return "identity"
	case errors.Is(err, fetcher.ErrTransport):
		return "transport"
	case errors.Is(err, consumption.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, fetcher.ErrFetchFailed):
		return "fetch"
	default:
		return "other"
	}
}

func (sl *slot) cachedReading() *consumption.Reading {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.reading
}
