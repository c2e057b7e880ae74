package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/statestore"
)

const (
	metricPrefix = "groupe_e_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics exposes readings and refresh health as prometheus series.
type Metrics struct {
	registry *prometheus.Registry

	consumptionKWh   *prometheus.GaugeVec
	tariffKWh        *prometheus.GaugeVec
	effectiveAt      *prometheus.GaugeVec
	lastUpdateOK     *prometheus.GaugeVec
	lastSuccess      *prometheus.GaugeVec
	refreshTotal     *prometheus.CounterVec
	refreshLatency   *prometheus.HistogramVec
	statisticsPushed prometheus.Counter
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumptionKWh: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumption_kwh",
				Help: "Latest total consumption per resolution in kWh",
			},
			[]string{"resolution"},
		),
		tariffKWh: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumption_tariff_kwh",
				Help: "Latest consumption per resolution and tariff in kWh",
			},
			[]string{"resolution", "tariff"},
		),
		effectiveAt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumption_effective_timestamp_seconds",
				Help: "Start of the period the latest reading covers",
			},
			[]string{"resolution"},
		),
		lastUpdateOK: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_update_success",
				Help: "1 if the last refresh of the resolution succeeded",
			},
			[]string{"resolution"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_success_timestamp_seconds",
				Help: "Time of the last successful refresh",
			},
			[]string{"resolution"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_total",
				Help: "Refresh attempts by resolution and result",
			},
			[]string{"resolution", "result"},
		),
		refreshLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_latency_seconds",
				Help:    "Refresh latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resolution", "result"},
		),
		statisticsPushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "statistics_imported_total",
				Help: "Hourly statistics handed to the statistics store",
			},
		),
	}

	m.registry.MustRegister(
		m.consumptionKWh,
		m.tariffKWh,
		m.effectiveAt,
		m.lastUpdateOK,
		m.lastSuccess,
		m.refreshTotal,
		m.refreshLatency,
		m.statisticsPushed,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PublishReading updates the consumption gauges.
func (m *Metrics) PublishReading(_ context.Context, reading consumption.Reading) error {
	res := reading.Resolution.String()
	m.consumptionKWh.WithLabelValues(res).Set(reading.Total.InexactFloat64())
	m.tariffKWh.WithLabelValues(res, "low").Set(reading.LowTariff.InexactFloat64())
	m.tariffKWh.WithLabelValues(res, "high").Set(reading.HighTariff.InexactFloat64())
	m.effectiveAt.WithLabelValues(res).Set(float64(reading.EffectiveAt.Unix()))
	return nil
}

// PublishStatus updates the health gauges.
func (m *Metrics) PublishStatus(_ context.Context, status statestore.Status) error {
	res := status.Resolution.String()
	ok := 0.0
	if status.Succeeded {
		ok = 1
	}
	m.lastUpdateOK.WithLabelValues(res).Set(ok)
	if !status.LastSuccess.IsZero() {
		m.lastSuccess.WithLabelValues(res).Set(float64(status.LastSuccess.Unix()))
	}
	return nil
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(res consumption.Resolution, result string, elapsed time.Duration) {
	m.refreshTotal.WithLabelValues(res.String(), result).Inc()
	m.refreshLatency.WithLabelValues(res.String(), result).Observe(elapsed.Seconds())
}

// ObserveStatistics counts imported hourly buckets.
func (m *Metrics) ObserveStatistics(count int) {
	m.statisticsPushed.Add(float64(count))
}

var _ statestore.Publisher = (*Metrics)(nil)
