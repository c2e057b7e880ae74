package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/storage"
)

// Show prints the most recent hourly statistics.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show statistics")
	}
	if closeStore != nil {
		defer closeStore()
	}

	meta := a.statisticMetadata()
	rows, err := store.ListRecentStatistics(ctx, meta.StatisticID, opts.Limit)
	if err != nil {
		return err
	}
	return a.printStatistics(meta, rows)
}

func (a *App) printStatistics(meta storage.StatisticMetadata, rows []storage.StatisticRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no statistics found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Hour (%s)\t%s\tUpdated (UTC)\n", consumption.Location, meta.Unit)

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			row.Start.In(consumption.Location).Format("2006-01-02 15:04"),
			formatDecimal(row.State, 3),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}

func sumHourly(stats []consumption.HourlyStatistic) decimal.Decimal {
	total := decimal.Zero
	for _, s := range stats {
		total = total.Add(s.State)
	}
	return total
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
