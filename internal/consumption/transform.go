package consumption

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// intervalLength is the span of one quarter-hourly sample. The API stamps
// each sample with the end of its interval.
const intervalLength = 15 * time.Minute

// Series is one tariff's entry in a measurement payload.
type Series struct {
	Data *SeriesData `json:"data"`
}

// SeriesData wraps the samples of a series.
type SeriesData struct {
	MeasurementData []Sample `json:"measurementData"`
}

// Sample is a single metered value. Both fields are pointers so that a
// missing or null field is told apart from a zero reading.
type Sample struct {
	Timestamp *int64           `json:"timestamp"`
	Value     *decimal.Decimal `json:"value"`
}

// Time converts the epoch-millisecond timestamp into the local zone.
func (s Sample) Time() time.Time {
	if s.Timestamp == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.Timestamp).In(Location)
}

func (s Sample) validate(series, index int) error {
	if s.Timestamp == nil {
		return fmt.Errorf("%w: series %d sample %d has no timestamp", ErrMalformedResponse, series, index)
	}
	if s.Value == nil {
		return fmt.Errorf("%w: series %d sample %d has no value", ErrMalformedResponse, series, index)
	}
	return nil
}

func decodePayload(raw []byte) ([]Series, error) {
	var payload []Series
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

// ParseAggregate turns a daily or monthly payload into a Reading. Series 0
// carries the low tariff, series 1 the high tariff.
func ParseAggregate(res Resolution, raw []byte) (Reading, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return Reading{}, err
	}
	if len(payload) < 2 {
		return Reading{}, fmt.Errorf("%w: expected 2 tariff series, got %d", ErrMalformedResponse, len(payload))
	}

	first := make([]Sample, 2)
	for i := range first {
		if payload[i].Data == nil || len(payload[i].Data.MeasurementData) == 0 {
			return Reading{}, fmt.Errorf("%w: series %d has no measurementData", ErrMalformedResponse, i)
		}
		first[i] = payload[i].Data.MeasurementData[0]
		if err := first[i].validate(i, 0); err != nil {
			return Reading{}, err
		}
	}

	low, high := *first[0].Value, *first[1].Value
	return Reading{
		Resolution:  res,
		Total:       low.Add(high),
		LowTariff:   low,
		HighTariff:  high,
		EffectiveAt: first[0].Time(),
	}, nil
}

// BucketHourly sums quarter-hourly samples into hour buckets keyed by the
// start of the hour. Each sample is moved back by one interval before
// bucketing so that the 01:00 sample lands in the 00:00 hour.
func BucketHourly(raw []byte) ([]HourlyStatistic, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 || payload[0].Data == nil || payload[0].Data.MeasurementData == nil {
		return nil, fmt.Errorf("%w: no measurementData in response", ErrMalformedResponse)
	}

	sums := make(map[int64]decimal.Decimal)
	for i, sample := range payload[0].Data.MeasurementData {
		if err := sample.validate(0, i); err != nil {
			return nil, err
		}
		// Zurich offsets are whole hours, so absolute truncation matches local hours.
		hour := sample.Time().Add(-intervalLength).Truncate(time.Hour).Unix()
		sums[hour] = sums[hour].Add(*sample.Value)
	}

	stats := make([]HourlyStatistic, 0, len(sums))
	for hour, value := range sums {
		stats = append(stats, HourlyStatistic{
			Start: time.Unix(hour, 0).In(Location),
			State: value,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Start.Before(stats[j].Start)
	})
	return stats, nil
}
