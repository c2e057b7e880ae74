package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RunFunc is invoked each time a trigger fires.
type RunFunc func(ctx context.Context, now time.Time) error

// Trigger fires at Hour:Minute local time. Day 0 fires every day, otherwise
// only on that day of the month.
type Trigger struct {
	Name   string
	Day    int
	Hour   int
	Minute int
	Run    RunFunc
}

// Next returns the first firing strictly after the given instant.
func (t Trigger) Next(after time.Time, loc *time.Location) time.Time {
	local := after.In(loc)
	if t.Day == 0 {
		candidate := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
		if !candidate.After(after) {
			candidate = time.Date(local.Year(), local.Month(), local.Day()+1, t.Hour, t.Minute, 0, 0, loc)
		}
		return candidate
	}

	candidate := time.Date(local.Year(), local.Month(), t.Day, t.Hour, t.Minute, 0, 0, loc)
	if !candidate.After(after) {
		candidate = time.Date(local.Year(), local.Month()+1, t.Day, t.Hour, t.Minute, 0, 0, loc)
	}
	return candidate
}

// Options tune scheduler behaviour.
type Options struct {
	Location     *time.Location
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler drives wall-clock triggers until the context is cancelled.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Run starts one loop per trigger and blocks until ctx is cancelled. Trigger
// failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, triggers ...Trigger) error {
	for _, t := range triggers {
		if t.Run == nil {
			return fmt.Errorf("trigger %q has no run func", t.Name)
		}
	}

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range triggers {
		g.Go(func() error {
			return s.loop(gctx, t)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, t Trigger) error {
	logger := s.logger.With().Str("trigger", t.Name).Logger()

	if s.opts.RunOnStart {
		s.fire(ctx, logger, t)
	}

	for {
		next := t.Next(s.now(), s.opts.Location)
		logger.Debug().Time("next_run", next).Msg("waiting for next run")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, logger, t)
	}
}

func (s *Scheduler) fire(ctx context.Context, logger zerolog.Logger, t Trigger) {
	now := s.now()
	logger.Info().Time("at", now).Msg("executing scheduled trigger")
	if err := t.Run(ctx, now); err != nil {
		logger.Error().Err(err).Msg("trigger execution failed")
	}
}
