package service

import (
	"time"

	"groupe-e-consumption/internal/consumption"
)

// State is the lifecycle position of one resolution's cache slot.
type State string

const (
	StateEmpty  State = "EMPTY"
	StateFresh  State = "FRESH"
	StateStale  State = "STALE"
	StateFailed State = "FAILED"
)

// Status summarises one cache slot.
type Status struct {
	Resolution  consumption.Resolution `json:"resolution"`
	State       State                  `json:"state"`
	Succeeded   bool                   `json:"last_update_succeeded"`
	LastSuccess time.Time              `json:"last_success,omitempty"`
	LastAttempt time.Time              `json:"last_attempt,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	InFlight    bool                   `json:"in_flight"`
}

// Reading returns the last good aggregate reading. Quarter-hourly data has no
// aggregate reading; use Hourly instead.
func (s *Service) Reading(res consumption.Resolution) (consumption.Reading, bool) {
	sl, ok := s.slots[res]
	if !ok {
		return consumption.Reading{}, false
	}
	reading := sl.cachedReading()
	if reading == nil {
		return consumption.Reading{}, false
	}
	return *reading, true
}

// Hourly returns a copy of the last imported hourly buckets and the window
// they cover.
func (s *Service) Hourly() ([]consumption.HourlyStatistic, consumption.Window, bool) {
	sl := s.slots[consumption.QuarterHourly]
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if !sl.hasData() {
		return nil, consumption.Window{}, false
	}
	out := make([]consumption.HourlyStatistic, len(sl.hourly))
	copy(out, sl.hourly)
	return out, sl.covered, true
}

// LastUpdateSucceeded reports whether the most recent attempt succeeded.
// It is false before the first attempt.
func (s *Service) LastUpdateSucceeded(res consumption.Resolution) bool {
	sl, ok := s.slots[res]
	if !ok {
		return false
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return !sl.lastAttempt.IsZero() && sl.lastErr == nil
}

// Status reports the slot state as of the current time.
func (s *Service) Status(res consumption.Resolution) Status {
	return s.StatusAt(res, s.now())
}

// StatusAt reports the slot state as of now.
func (s *Service) StatusAt(res consumption.Resolution, now time.Time) Status {
	status := Status{Resolution: res, State: StateEmpty}
	sl, ok := s.slots[res]
	if !ok {
		return status
	}

	status.InFlight = sl.inFlight.Load()

	sl.mu.RLock()
	defer sl.mu.RUnlock()

	status.LastSuccess = sl.lastSuccess
	status.LastAttempt = sl.lastAttempt
	status.Succeeded = !sl.lastAttempt.IsZero() && sl.lastErr == nil
	if sl.lastErr != nil {
		status.LastError = sl.lastErr.Error()
	}

	switch {
	case sl.lastErr != nil:
		status.State = StateFailed
	case !sl.hasData():
		status.State = StateEmpty
	case sl.stale(res, now):
		status.State = StateStale
	default:
		status.State = StateFresh
	}
	return status
}

// Statuses reports every resolution in a stable order.
func (s *Service) Statuses() []Status {
	now := s.now()
	out := make([]Status, 0, len(consumption.Resolutions))
	for _, res := range consumption.Resolutions {
		out = append(out, s.StatusAt(res, now))
	}
	return out
}

// hasData must be called with mu held.
func (sl *slot) hasData() bool {
	return sl.reading != nil || !sl.covered.Start.IsZero()
}

// stale must be called with mu held.
func (sl *slot) stale(res consumption.Resolution, now time.Time) bool {
	if res == consumption.QuarterHourly {
		return sl.covered.Start.Before(consumption.WindowFor(res, now).Start)
	}
	return consumption.IsDue(res, sl.reading, now)
}

// Restore seeds an empty daily or monthly slot with a reading persisted by a
// previous run. It reports whether the reading was taken.
func (s *Service) Restore(reading consumption.Reading, lastSuccess time.Time) bool {
	if reading.Resolution == consumption.QuarterHourly {
		return false
	}
	sl, ok := s.slots[reading.Resolution]
	if !ok {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.hasData() {
		return false
	}
	sl.reading = &reading
	sl.lastSuccess = lastSuccess
	return true
}
