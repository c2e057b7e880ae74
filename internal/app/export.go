package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/storage"
)

// Export renders hourly statistics as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	from, to, err := exportRange(opts, time.Now())
	if err != nil {
		return err
	}

	meta := a.statisticMetadata()
	rows, err := store.ListStatisticsBetween(ctx, meta.StatisticID, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no statistics found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting statistics")

	if opts.CSVPath != "" {
		if err := writeStatisticsCSV(opts.CSVPath, meta, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatisticsPNG(opts.PNGPath, meta, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportRange defaults to the MaxPoints hours before now.
func exportRange(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = *opts.To
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * time.Hour)
	if opts.From != nil {
		from = *opts.From
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleRows(rows []storage.StatisticRow, max int) []storage.StatisticRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[:1]
	}

	result := make([]storage.StatisticRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeStatisticsCSV(path string, meta storage.StatisticMetadata, rows []storage.StatisticRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"hour_start", "statistic_id", "state_" + meta.Unit}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Start.In(consumption.Location).Format(time.RFC3339),
			row.StatisticID,
			row.State.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeStatisticsPNG(path string, meta storage.StatisticMetadata, rows []storage.StatisticRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	hourly := make([]float64, len(rows))
	cumulative := make([]float64, len(rows))

	running := decimal.Zero
	for i, row := range rows {
		x[i] = row.Start.In(consumption.Location)
		hourly[i] = row.State.InexactFloat64()
		running = running.Add(row.State)
		cumulative[i] = running.InexactFloat64()
	}

	kwhFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  meta.Name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Hourly (" + meta.Unit + ")",
			ValueFormatter: kwhFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative (" + meta.Unit + ")",
			ValueFormatter: kwhFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Hourly",
				XValues: x,
				YValues: hourly,
			},
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: cumulative,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
