package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/fetcher"
	"groupe-e-consumption/internal/service"
)

// SimulateFailure drives one refresh against a session that always rejects
// the login, so the configured notifier sends a real failure message.
func (a *App) SimulateFailure(ctx context.Context, res consumption.Resolution) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	return simulateFailure(ctx, a.newService(serviceDeps{
		opener:   rejectingOpener{},
		notifier: notifier,
	}), res)
}

func simulateFailure(ctx context.Context, svc *service.Service, res consumption.Resolution) error {
	err := svc.ForceRefresh(ctx, res, time.Now())
	if err == nil {
		return errors.New("simulated refresh unexpectedly succeeded")
	}
	if !errors.Is(err, service.ErrUpdateFailed) {
		return err
	}
	return nil
}

type rejectingOpener struct{}

func (rejectingOpener) Open() fetcher.MeasurementSession {
	return rejectingSession{}
}

type rejectingSession struct{}

func (rejectingSession) Authenticate(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: simulated rejection", fetcher.ErrAuthenticationFailed)
}

func (rejectingSession) ResolveIdentity(context.Context, string) (fetcher.Identity, error) {
	return fetcher.Identity{}, fetcher.ErrIdentityResolutionFailed
}

func (rejectingSession) FetchMeasurements(context.Context, string, fetcher.Identity, consumption.Window) (json.RawMessage, error) {
	return nil, fetcher.ErrFetchFailed
}

func (rejectingSession) Release() {}

var _ fetcher.SessionOpener = rejectingOpener{}
