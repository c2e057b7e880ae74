package consumption

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// Resolution is the granularity of a measurement window. The string values
// are sent to the API as-is.
type Resolution string

const (
	Daily         Resolution = "daily"
	Monthly       Resolution = "monthly"
	QuarterHourly Resolution = "quarter-hourly"
)

// Resolutions lists every supported resolution in refresh order.
var Resolutions = []Resolution{Daily, Monthly, QuarterHourly}

// ErrMalformedResponse is returned when a payload lacks the expected series
// or samples.
var ErrMalformedResponse = errors.New("malformed response")

// Location is the fixed zone all windows and buckets are aligned to.
var Location = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		panic(fmt.Errorf("failed to load europe/zurich location: %w", err))
	}
	return loc
}()

// ParseResolution validates a resolution name.
func ParseResolution(v string) (Resolution, error) {
	switch r := Resolution(v); r {
	case Daily, Monthly, QuarterHourly:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", v)
}

func (r Resolution) String() string {
	return string(r)
}

// Reading is the aggregate consumption for one daily or monthly window.
type Reading struct {
	Resolution  Resolution      `json:"resolution"`
	Total       decimal.Decimal `json:"total"`
	LowTariff   decimal.Decimal `json:"low_tariff"`
	HighTariff  decimal.Decimal `json:"high_tariff"`
	EffectiveAt time.Time       `json:"effective_at"`
}

// HourlyStatistic is the energy used during the hour starting at Start.
type HourlyStatistic struct {
	Start time.Time       `json:"start"`
	State decimal.Decimal `json:"state"`
}
