package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/service"
	"groupe-e-consumption/internal/statestore"
)

// Refresh runs one refresh per requested resolution and prints the result.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	if len(opts.Resolutions) == 0 {
		return errors.New("no resolution selected")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
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

	var publisher statestore.Publisher
	if mirror != nil {
		publisher = mirror
	}

	svc := a.newService(serviceDeps{store: store, publisher: publisher, notifier: a.newNotifier()})
	a.restore(ctx, svc, mirror)

	return a.refreshAndReport(ctx, svc, opts)
}

func (a *App) refreshAndReport(ctx context.Context, svc *service.Service, opts RefreshOptions) error {
	now := time.Now()
	var errs []error
	for _, res := range opts.Resolutions {
		var err error
		if opts.Force {
			err = svc.ForceRefresh(ctx, res, now)
		} else {
			err = svc.Refresh(ctx, res, now)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Resolution\tState\tEffective\tTotal kWh\tLow kWh\tHigh kWh\tError")
	for _, res := range opts.Resolutions {
		status := svc.Status(res)
		effective, total, low, high := "-", "-", "-", "-"
		if reading, ok := svc.Reading(res); ok {
			effective = reading.EffectiveAt.In(consumption.Location).Format("2006-01-02")
			total = formatDecimal(reading.Total, 3)
			low = formatDecimal(reading.LowTariff, 3)
			high = formatDecimal(reading.HighTariff, 3)
		} else if hourly, window, ok := svc.Hourly(); ok && res == consumption.QuarterHourly {
			effective = window.Start.Format("2006-01-02")
			total = formatDecimal(sumHourly(hourly), 3)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			res, status.State, effective, total, low, high, sanitizeInline(status.LastError))
	}
	writer.Flush()

	return errors.Join(errs...)
}

// Verify logs in and resolves the account identity, printing the identifiers
// a configuration can pin.
func (a *App) Verify(ctx context.Context) error {
	session := a.newClient().Open()
	defer session.Release()

	token, err := session.Authenticate(ctx, a.Config.Credentials.Username, a.Config.Credentials.Password)
	if err != nil {
		return err
	}
	id, err := session.ResolveIdentity(ctx, token)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "premise_id: %s\npartner_id: %s\n", id.PremiseID, id.PartnerID)
	return nil
}
