package consumption

import "time"

// Window is a half-open [Start, End) measurement interval.
type Window struct {
	Start      time.Time
	End        time.Time
	Resolution Resolution
}

// StartMillis returns Start as epoch milliseconds.
func (w Window) StartMillis() int64 {
	return w.Start.UnixMilli()
}

// EndMillis returns End as epoch milliseconds.
func (w Window) EndMillis() int64 {
	return w.End.UnixMilli()
}

// WindowFor returns the window a refresh at now should request.
func WindowFor(res Resolution, now time.Time) Window {
	today := midnight(now)
	switch res {
	case Monthly:
		current := firstOfMonth(today)
		return Window{
			Start:      current.AddDate(0, -1, 0),
			End:        current,
			Resolution: res,
		}
	default:
		return Window{
			Start:      today.AddDate(0, 0, -1),
			End:        today,
			Resolution: res,
		}
	}
}

// IsDue reports whether a refresh at now should hit the API given the
// currently cached reading. Quarter-hourly data is always refetched.
func IsDue(res Resolution, cached *Reading, now time.Time) bool {
	if res == QuarterHourly || cached == nil {
		return true
	}
	today := midnight(now)
	switch res {
	case Daily:
		return midnight(cached.EffectiveAt).Before(today.AddDate(0, 0, -1))
	case Monthly:
		return cached.EffectiveAt.Before(firstOfMonth(today).AddDate(0, -1, 0))
	}
	return true
}

func midnight(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

func firstOfMonth(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, Location)
}
