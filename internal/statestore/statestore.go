// Package statestore holds the latest readings for reactive consumers.
package statestore

import (
	"context"
	"errors"
	"time"

	"groupe-e-consumption/internal/consumption"
)

// Status is the outcome of the most recent refresh of one resolution.
type Status struct {
	Resolution  consumption.Resolution `json:"resolution"`
	Succeeded   bool                   `json:"succeeded"`
	AttemptedAt time.Time              `json:"attempted_at"`
	LastSuccess time.Time              `json:"last_success,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Update is what subscribers receive on every publication. Exactly one of
// Reading and Status is set.
type Update struct {
	Reading *consumption.Reading `json:"reading,omitempty"`
	Status  *Status              `json:"status,omitempty"`
}

// Publisher receives the orchestrator's outputs.
type Publisher interface {
	PublishReading(ctx context.Context, reading consumption.Reading) error
	PublishStatus(ctx context.Context, status Status) error
}

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

// PublishReading forwards reading to every publisher.
func (m Multi) PublishReading(ctx context.Context, reading consumption.Reading) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishReading(ctx, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishStatus forwards status to every publisher.
func (m Multi) PublishStatus(ctx context.Context, status Status) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishStatus(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = Multi(nil)
