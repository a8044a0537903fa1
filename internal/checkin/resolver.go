package checkin

import "time"

// WindowInterval is the half-open span [Start, End) during which a check-in
// satisfies Window.
type WindowInterval struct {
	Window TimeWindow
	Start  time.Time
	End    time.Time
}

func (iv WindowInterval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Intervals returns the intervals that start on day's calendar date. Each
// interval ends where the next window starts; the last one ends at the
// first window's time on the following day.
func Intervals(c *Catalog, day time.Time) ([]WindowInterval, error) {
	if c.Len() == 0 {
		return nil, configErrorf("no active time windows")
	}
	n := len(c.windows)
	next := shiftDay(day, 1)
	out := make([]WindowInterval, n)
	for i, w := range c.windows {
		end := c.windows[0].At.On(next)
		if i+1 < n {
			end = c.windows[i+1].At.On(day)
		}
		out[i] = WindowInterval{Window: w, Start: w.At.On(day), End: end}
	}
	return out, nil
}

// Resolve returns the interval containing now. Instants before the first
// window of the day belong to the previous day's last interval.
func Resolve(c *Catalog, now time.Time) (WindowInterval, error) {
	today, err := Intervals(c, now)
	if err != nil {
		return WindowInterval{}, err
	}
	if now.Before(today[0].Start) {
		yesterday, err := Intervals(c, shiftDay(now, -1))
		if err != nil {
			return WindowInterval{}, err
		}
		return yesterday[len(yesterday)-1], nil
	}
	for _, iv := range today {
		if iv.Contains(now) {
			return iv, nil
		}
	}
	return today[len(today)-1], nil
}

// NextOccurrence is the first instant strictly after now at the given time of day.
func NextOccurrence(at TimeOfDay, now time.Time) time.Time {
	t := at.On(now)
	if !t.After(now) {
		t = at.On(shiftDay(now, 1))
	}
	return t
}

// LastOccurrence is the latest instant at or before now at the given time of day.
func LastOccurrence(at TimeOfDay, now time.Time) time.Time {
	t := at.On(now)
	if t.After(now) {
		t = at.On(shiftDay(now, -1))
	}
	return t
}
