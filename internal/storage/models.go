package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatisticMetadata describes the series a batch of statistics belongs to.
type StatisticMetadata struct {
	StatisticID string
	Source      string
	Name        string
	Unit        string
	HasMean     bool
	HasSum      bool
}

// StatisticRow is a persisted hourly value.
type StatisticRow struct {
	StatisticID string
	Start       time.Time
	State       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
