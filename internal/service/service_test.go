package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupe-e-consumption/internal/alerting"
	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/fetcher"
	"groupe-e-consumption/internal/metrics"
	"groupe-e-consumption/internal/statestore"
	"groupe-e-consumption/internal/storage"
)

var (
	testNow   = time.Date(2024, time.March, 15, 3, 0, 0, 0, consumption.Location)
	yesterday = time.Date(2024, time.March, 14, 0, 0, 0, 0, consumption.Location)
)

type fakeOpener struct {
	mu sync.Mutex

	payloads map[consumption.Resolution]json.RawMessage
	authErr  error
	idErr    error
	fetchErr error
	// fetchHook runs inside FetchMeasurements before the payload is returned.
	fetchHook func(ctx context.Context) error

	opened, released                int
	authCalls, idCalls, fetchCalls int
	windows                         []consumption.Window
	identities                      []fetcher.Identity
}

func (f *fakeOpener) Open() fetcher.MeasurementSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return &fakeSession{opener: f}
}

func (f *fakeOpener) counts() (opened, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.released
}

func (f *fakeOpener) setPayload(res consumption.Resolution, raw json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[res] = raw
}

type fakeSession struct {
	opener   *fakeOpener
	released bool
}

func (s *fakeSession) Authenticate(context.Context, string, string) (string, error) {
	f := s.opener
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "token", nil
}

func (s *fakeSession) ResolveIdentity(context.Context, string) (fetcher.Identity, error) {
	f := s.opener
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if f.idErr != nil {
		return fetcher.Identity{}, f.idErr
	}
	return fetcher.Identity{PremiseID: "4100012345", PartnerID: "1000123456"}, nil
}

func (s *fakeSession) FetchMeasurements(ctx context.Context, _ string, id fetcher.Identity, window consumption.Window) (json.RawMessage, error) {
	f := s.opener
	f.mu.Lock()
	f.fetchCalls++
	f.windows = append(f.windows, window)
	f.identities = append(f.identities, id)
	hook, fetchErr, raw := f.fetchHook, f.fetchErr, f.payloads[window.Resolution]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return raw, nil
}

func (s *fakeSession) Release() {
	f := s.opener
	f.mu.Lock()
	defer f.mu.Unlock()
	if !s.released {
		s.released = true
		f.released++
	}
}

type fakeStatistics struct {
	mu    sync.Mutex
	meta  storage.StatisticMetadata
	stats []consumption.HourlyStatistic
	calls int
	err   error
}

func (f *fakeStatistics) ImportStatistics(_ context.Context, meta storage.StatisticMetadata, stats []consumption.HourlyStatistic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.meta = meta
	f.stats = stats
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

type fakeLocker struct {
	acquired bool
	keys     []int64
	unlocked int
}

func (f *fakeLocker) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	f.keys = append(f.keys, key)
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked++ }, true, nil
}

func aggregatePayload(at time.Time, low, high string) json.RawMessage {
	ms := at.UnixMilli()
	return json.RawMessage(fmt.Sprintf(
		`[{"data":{"measurementData":[{"timestamp":%d,"value":%s}]}},{"data":{"measurementData":[{"timestamp":%d,"value":%s}]}}]`,
		ms, low, ms, high,
	))
}

func quarterHourlyPayload() json.RawMessage {
	base := yesterday.UnixMilli()
	quarter := int64(15 * time.Minute / time.Millisecond)
	return json.RawMessage(fmt.Sprintf(
		`[{"data":{"measurementData":[{"timestamp":%d,"value":0.5},{"timestamp":%d,"value":0.6},{"timestamp":%d,"value":0.7},{"timestamp":%d,"value":0.7},{"timestamp":%d,"value":0.25}]}}]`,
		base+quarter, base+2*quarter, base+3*quarter, base+4*quarter, base+5*quarter,
	))
}

func newOpener() *fakeOpener {
	return &fakeOpener{payloads: map[consumption.Resolution]json.RawMessage{
		consumption.Daily:         aggregatePayload(yesterday, "4.1", "6.2"),
		consumption.Monthly:       aggregatePayload(time.Date(2024, time.February, 1, 0, 0, 0, 0, consumption.Location), "120.5", "180.25"),
		consumption.QuarterHourly: quarterHourlyPayload(),
	}}
}

func newService(opener *fakeOpener, mutate func(*Options)) *Service {
	opts := Options{
		Credentials: Credentials{Username: "user@example.com", Password: "secret"},
		Opener:      opener,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc := New(opts, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestDailyRefreshSuccess(t *testing.T) {
	opener := newOpener()
	mem := statestore.NewMemory()
	svc := newService(opener, func(o *Options) { o.Publisher = mem })

	_, ok := svc.Reading(consumption.Daily)
	assert.False(t, ok)
	assert.Equal(t, StateEmpty, svc.Status(consumption.Daily).State)
	assert.False(t, svc.LastUpdateSucceeded(consumption.Daily))

	require.NoError(t, svc.UpdateDaily(context.Background(), testNow))

	reading, ok := svc.Reading(consumption.Daily)
	require.True(t, ok)
	assert.Equal(t, "10.3", reading.Total.String())
	assert.True(t, reading.Total.Equal(reading.LowTariff.Add(reading.HighTariff)))
	assert.Equal(t, "4.1", reading.LowTariff.String())
	assert.Equal(t, "6.2", reading.HighTariff.String())
	assert.True(t, reading.EffectiveAt.Equal(yesterday))

	opened, released := opener.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, released)
	require.Len(t, opener.windows, 1)
	assert.True(t, opener.windows[0].Start.Equal(yesterday))
	assert.True(t, opener.windows[0].End.Equal(yesterday.AddDate(0, 0, 1)))

	assert.True(t, svc.LastUpdateSucceeded(consumption.Daily))
	status := svc.Status(consumption.Daily)
	assert.Equal(t, StateFresh, status.State)
	assert.True(t, status.LastSuccess.Equal(testNow))

	published, ok := mem.Reading(consumption.Daily)
	require.True(t, ok)
	assert.True(t, published.Total.Equal(reading.Total))
	pubStatus, ok := mem.Status(consumption.Daily)
	require.True(t, ok)
	assert.True(t, pubStatus.Succeeded)
}

func TestMonthlyRefresh(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)

	require.NoError(t, svc.UpdateMonthly(context.Background(), testNow))

	reading, ok := svc.Reading(consumption.Monthly)
	require.True(t, ok)
	assert.Equal(t, "300.75", reading.Total.String())
	require.Len(t, opener.windows, 1)
	assert.True(t, opener.windows[0].Start.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, consumption.Location)))
	assert.True(t, opener.windows[0].End.Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, consumption.Location)))

	// still current later in the month, due again once April starts
	assert.NoError(t, svc.UpdateMonthly(context.Background(), testNow.AddDate(0, 0, 10)))
	assert.Equal(t, 1, opener.fetchCalls)
	assert.Equal(t, StateStale, svc.StatusAt(consumption.Monthly, time.Date(2024, time.April, 2, 3, 0, 0, 0, consumption.Location)).State)
}

func TestDailyRefreshIsIdempotent(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)
	ctx := context.Background()

	require.NoError(t, svc.UpdateDaily(ctx, testNow))
	first, _ := svc.Reading(consumption.Daily)

	require.NoError(t, svc.UpdateDaily(ctx, testNow.Add(6*time.Hour)))
	second, _ := svc.Reading(consumption.Daily)
	assert.Equal(t, 1, opener.fetchCalls, "second refresh on the same day should not hit the API")
	assert.Equal(t, first, second)

	require.NoError(t, svc.ForceRefresh(ctx, consumption.Daily, testNow.Add(7*time.Hour)))
	forced, _ := svc.Reading(consumption.Daily)
	assert.Equal(t, 2, opener.fetchCalls)
	assert.True(t, first.Total.Equal(forced.Total))
	assert.True(t, first.EffectiveAt.Equal(forced.EffectiveAt))
}

func TestDailyDueNextDay(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)
	ctx := context.Background()

	require.NoError(t, svc.UpdateDaily(ctx, testNow))

	// next day the cached reading (two days old) is stale
	next := testNow.AddDate(0, 0, 1)
	assert.Equal(t, StateStale, svc.StatusAt(consumption.Daily, next).State)
	opener.setPayload(consumption.Daily, aggregatePayload(yesterday.AddDate(0, 0, 1), "1", "2"))
	require.NoError(t, svc.UpdateDaily(ctx, next))
	assert.Equal(t, 2, opener.fetchCalls)

	reading, _ := svc.Reading(consumption.Daily)
	assert.Equal(t, "3", reading.Total.String())
}

func TestMalformedPayloadKeepsCache(t *testing.T) {
	opener := newOpener()
	mem := statestore.NewMemory()
	svc := newService(opener, func(o *Options) { o.Publisher = mem })
	ctx := context.Background()

	require.NoError(t, svc.UpdateDaily(ctx, testNow))
	before, _ := svc.Reading(consumption.Daily)

	ms := yesterday.UnixMilli()
	opener.setPayload(consumption.Daily, json.RawMessage(fmt.Sprintf(
		`[{"data":{"measurementData":[{"timestamp":%d,"value":9}]}},{"data":{"measurementData":[]}}]`, ms)))

	err := svc.ForceRefresh(ctx, consumption.Daily, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, consumption.ErrMalformedResponse)

	after, ok := svc.Reading(consumption.Daily)
	require.True(t, ok)
	assert.Equal(t, before, after)

	assert.False(t, svc.LastUpdateSucceeded(consumption.Daily))
	status := svc.Status(consumption.Daily)
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "malformed")

	_, released := opener.counts()
	assert.Equal(t, 2, released)

	pubStatus, ok := mem.Status(consumption.Daily)
	require.True(t, ok)
	assert.False(t, pubStatus.Succeeded)
	assert.True(t, pubStatus.LastSuccess.Equal(testNow))
}

func TestSamplesWithoutFieldsKeepCache(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)
	ctx := context.Background()

	require.NoError(t, svc.UpdateDaily(ctx, testNow))
	before, _ := svc.Reading(consumption.Daily)

	opener.setPayload(consumption.Daily, json.RawMessage(
		`[{"data":{"measurementData":[{"value":null}]}},{"data":{"measurementData":[{}]}}]`))

	err := svc.ForceRefresh(ctx, consumption.Daily, testNow)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, consumption.ErrMalformedResponse)

	after, ok := svc.Reading(consumption.Daily)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, "10.3", after.Total.String())
	assert.False(t, consumption.IsDue(consumption.Daily, &after, testNow))
}

func TestQuarterHourlySamplesWithoutFieldsAreNotImported(t *testing.T) {
	opener := newOpener()
	opener.setPayload(consumption.QuarterHourly, json.RawMessage(
		`[{"data":{"measurementData":[{"value":1}]}}]`))
	stats := &fakeStatistics{}
	svc := newService(opener, func(o *Options) { o.Statistics = stats })

	err := svc.UpdateQuarterHourly(context.Background(), testNow)
	assert.ErrorIs(t, err, consumption.ErrMalformedResponse)
	assert.Equal(t, 0, stats.calls)

	_, _, ok := svc.Hourly()
	assert.False(t, ok)
}

func TestTimeoutKeepsCacheAndReleasesSession(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)

	require.NoError(t, svc.UpdateDaily(context.Background(), testNow))
	before, _ := svc.Reading(consumption.Daily)

	opener.mu.Lock()
	opener.fetchHook = func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", fetcher.ErrTransport, ctx.Err())
	}
	opener.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.ForceRefresh(ctx, consumption.Daily, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, fetcher.ErrTransport)

	after, ok := svc.Reading(consumption.Daily)
	require.True(t, ok)
	assert.Equal(t, before, after)

	opened, released := opener.counts()
	assert.Equal(t, opened, released)
	assert.Equal(t, 2, released)
}

func TestFailuresAtEachStepReleaseSession(t *testing.T) {
	cases := []struct {
		name      string
		configure func(*fakeOpener)
		target    error
		fetches   int
	}{
		{
			name:      "authentication",
			configure: func(f *fakeOpener) { f.authErr = fmt.Errorf("%w: 401", fetcher.ErrAuthenticationFailed) },
			target:    fetcher.ErrAuthenticationFailed,
		},
		{
			name:      "identity",
			configure: func(f *fakeOpener) { f.idErr = fmt.Errorf("%w: empty premise list", fetcher.ErrIdentityResolutionFailed) },
			target:    fetcher.ErrIdentityResolutionFailed,
		},
		{
			name:      "fetch",
			configure: func(f *fakeOpener) { f.fetchErr = fmt.Errorf("%w: 502", fetcher.ErrFetchFailed) },
			target:    fetcher.ErrFetchFailed,
			fetches:   1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opener := newOpener()
			tc.configure(opener)
			svc := newService(opener, nil)

			err := svc.UpdateDaily(context.Background(), testNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpdateFailed)
			assert.ErrorIs(t, err, tc.target)

			opened, released := opener.counts()
			assert.Equal(t, 1, opened)
			assert.Equal(t, 1, released)
			assert.Equal(t, tc.fetches, opener.fetchCalls)

			_, ok := svc.Reading(consumption.Daily)
			assert.False(t, ok)
			assert.Equal(t, StateFailed, svc.Status(consumption.Daily).State)
		})
	}
}

func TestConfiguredIdentitySkipsLookup(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, func(o *Options) {
		o.Credentials.PremiseID = "p-1"
		o.Credentials.PartnerID = "b-2"
	})

	require.NoError(t, svc.UpdateDaily(context.Background(), testNow))
	assert.Equal(t, 0, opener.idCalls)
	require.Len(t, opener.identities, 1)
	assert.Equal(t, fetcher.Identity{PremiseID: "p-1", PartnerID: "b-2"}, opener.identities[0])
}

func TestQuarterHourlyImportsStatistics(t *testing.T) {
	opener := newOpener()
	stats := &fakeStatistics{}
	observer := metrics.New()
	svc := newService(opener, func(o *Options) {
		o.Statistics = stats
		o.Observer = observer
	})
	ctx := context.Background()

	require.NoError(t, svc.UpdateQuarterHourly(ctx, testNow))

	assert.Equal(t, DefaultStatisticMetadata, stats.meta)
	require.Len(t, stats.stats, 2)
	assert.True(t, stats.stats[0].Start.Equal(yesterday))
	assert.Equal(t, "2.5", stats.stats[0].State.String())
	assert.True(t, stats.stats[1].Start.Equal(yesterday.Add(time.Hour)))
	assert.Equal(t, "0.25", stats.stats[1].State.String())

	hourly, window, ok := svc.Hourly()
	require.True(t, ok)
	assert.Len(t, hourly, 2)
	assert.True(t, window.Start.Equal(yesterday))

	_, ok = svc.Reading(consumption.QuarterHourly)
	assert.False(t, ok, "quarter-hourly data has no aggregate reading")
	assert.Equal(t, StateFresh, svc.Status(consumption.QuarterHourly).State)

	// always due, even within the same day
	require.NoError(t, svc.UpdateQuarterHourly(ctx, testNow.Add(time.Hour)))
	assert.Equal(t, 2, opener.fetchCalls)
	assert.Equal(t, 2, stats.calls)
}

func TestQuarterHourlyImportFailure(t *testing.T) {
	opener := newOpener()
	stats := &fakeStatistics{err: errors.New("connection refused")}
	svc := newService(opener, func(o *Options) { o.Statistics = stats })

	err := svc.UpdateQuarterHourly(context.Background(), testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)

	_, _, ok := svc.Hourly()
	assert.False(t, ok)
	_, released := opener.counts()
	assert.Equal(t, 1, released)
}

func TestQuarterHourlyWithoutStore(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)

	require.NoError(t, svc.UpdateQuarterHourly(context.Background(), testNow))
	hourly, _, ok := svc.Hourly()
	require.True(t, ok)
	assert.Len(t, hourly, 2)
}

func TestQuarterHourlyMissingMeasurementData(t *testing.T) {
	opener := newOpener()
	opener.setPayload(consumption.QuarterHourly, json.RawMessage(`[{"data":{}}]`))
	svc := newService(opener, nil)

	err := svc.UpdateQuarterHourly(context.Background(), testNow)
	assert.ErrorIs(t, err, consumption.ErrMalformedResponse)
}

func TestAdvisoryLockHeldElsewhereSkipsQuarterHourly(t *testing.T) {
	opener := newOpener()
	locker := &fakeLocker{acquired: false}
	svc := newService(opener, func(o *Options) {
		o.Locker = locker
		o.LockKey = 42
	})

	require.NoError(t, svc.UpdateQuarterHourly(context.Background(), testNow))
	assert.Equal(t, 0, opener.fetchCalls)
	assert.Equal(t, []int64{42}, locker.keys)

	locker.acquired = true
	require.NoError(t, svc.UpdateQuarterHourly(context.Background(), testNow))
	assert.Equal(t, 1, opener.fetchCalls)
	assert.Equal(t, 1, locker.unlocked)

	// daily refreshes do not take the lock
	require.NoError(t, svc.UpdateDaily(context.Background(), testNow))
	assert.Len(t, locker.keys, 2)
}

func TestRefreshIsNotReentrant(t *testing.T) {
	opener := newOpener()
	entered := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	opener.fetchHook = func(ctx context.Context) error {
		if first.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
		return nil
	}
	svc := newService(opener, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- svc.ForceRefresh(ctx, consumption.Daily, testNow) }()
	<-entered

	assert.True(t, svc.Status(consumption.Daily).InFlight)
	err := svc.ForceRefresh(ctx, consumption.Daily, testNow)
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	// other resolutions are independent
	require.NoError(t, svc.UpdateMonthly(ctx, testNow))
	_, ok := svc.Reading(consumption.Monthly)
	assert.True(t, ok)

	close(release)
	require.NoError(t, <-done)
	_, ok = svc.Reading(consumption.Daily)
	assert.True(t, ok)
}

func TestConcurrentResolutions(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, len(consumption.Resolutions))
	for _, res := range consumption.Resolutions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.ForceRefresh(ctx, res, testNow)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	daily, _ := svc.Reading(consumption.Daily)
	monthly, _ := svc.Reading(consumption.Monthly)
	assert.Equal(t, "10.3", daily.Total.String())
	assert.Equal(t, "300.75", monthly.Total.String())
	opened, released := opener.counts()
	assert.Equal(t, 3, opened)
	assert.Equal(t, 3, released)
}

func TestFailureAndRecoveryNotifications(t *testing.T) {
	opener := newOpener()
	notifier := &fakeNotifier{}
	svc := newService(opener, func(o *Options) { o.Notifier = notifier })
	ctx := context.Background()

	opener.fetchErr = &fetcher.StatusError{Endpoint: "measurements", Code: 503}
	require.Error(t, svc.UpdateDaily(ctx, testNow))
	require.Error(t, svc.UpdateDaily(ctx, testNow))

	require.Len(t, notifier.notes, 1, "repeated failures notify once")
	assert.Equal(t, alerting.KindFailed, notifier.notes[0].Kind)
	assert.Equal(t, "daily", notifier.notes[0].Resolution)
	assert.Equal(t, 503, notifier.notes[0].StatusCode)
	assert.True(t, notifier.notes[0].LastSuccess.IsZero())

	opener.fetchErr = nil
	require.NoError(t, svc.UpdateDaily(ctx, testNow))
	require.Len(t, notifier.notes, 2)
	assert.Equal(t, alerting.KindRecovered, notifier.notes[1].Kind)

	require.NoError(t, svc.ForceRefresh(ctx, consumption.Daily, testNow))
	assert.Len(t, notifier.notes, 2)
}

func TestUnknownResolution(t *testing.T) {
	svc := newService(newOpener(), nil)
	assert.Error(t, svc.Refresh(context.Background(), consumption.Resolution("yearly"), testNow))
	assert.Equal(t, StateEmpty, svc.Status(consumption.Resolution("yearly")).State)
}

func TestStatuses(t *testing.T) {
	svc := newService(newOpener(), nil)
	require.NoError(t, svc.UpdateDaily(context.Background(), testNow))

	statuses := svc.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, consumption.Daily, statuses[0].Resolution)
	assert.Equal(t, StateFresh, statuses[0].State)
	assert.Equal(t, StateEmpty, statuses[1].State)
	assert.Equal(t, StateEmpty, statuses[2].State)
}

func TestRestoreSeedsEmptySlot(t *testing.T) {
	opener := newOpener()
	svc := newService(opener, nil)
	ctx := context.Background()

	restored := consumption.Reading{
		Resolution:  consumption.Daily,
		Total:       decimal.RequireFromString("7"),
		LowTariff:   decimal.RequireFromString("3"),
		HighTariff:  decimal.RequireFromString("4"),
		EffectiveAt: yesterday,
	}
	require.True(t, svc.Restore(restored, testNow.Add(-time.Hour)))
	assert.Equal(t, StateFresh, svc.Status(consumption.Daily).State)

	// the restored reading is current, so no API call is made
	require.NoError(t, svc.UpdateDaily(ctx, testNow))
	assert.Equal(t, 0, opener.fetchCalls)
	got, _ := svc.Reading(consumption.Daily)
	assert.Equal(t, "7", got.Total.String())

	// an occupied slot is never overwritten
	assert.False(t, svc.Restore(consumption.Reading{Resolution: consumption.Daily}, testNow))
	assert.False(t, svc.Restore(consumption.Reading{Resolution: consumption.QuarterHourly}, testNow))
}
