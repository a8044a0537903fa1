// Package checkin decides which daily check-in window is current, whether
// it has been satisfied, and which study day a participant is on.
//
// Everything in this package is a pure function of its arguments: no
// clock is read and no state is shared, so callers may use it from any
// goroutine. Local time is whatever location the supplied instants carry.
package checkin

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" and the "HH:MM:SS" form used by the
// store's time column. Seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// On returns the instant at t on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// TimeWindow is one named daily period in which a check-in is expected.
type TimeWindow struct {
	ID     int
	Name   string
	At     TimeOfDay
	Active bool
}

// Catalog is an immutable snapshot of the active windows, ordered by time of day.
type Catalog struct {
	windows []TimeWindow
}

// NewCatalog snapshots the active windows. Inactive entries are dropped.
// It fails when nothing active remains or when two active windows share a
// time of day, since either leaves the current window undefined.
func NewCatalog(windows []TimeWindow) (*Catalog, error) {
	active := make([]TimeWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Active {
			continue
		}
		if !w.At.Valid() {
			return nil, configErrorf("window %d (%s) has invalid time of day %02d:%02d", w.ID, w.Name, w.At.Hour, w.At.Minute)
		}
		active = append(active, w)
	}
	if len(active) == 0 {
		return nil, configErrorf("no active time windows")
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].At.minutes() < active[j].At.minutes() })
	for i := 1; i < len(active); i++ {
		if active[i].At == active[i-1].At {
			return nil, configErrorf("windows %q and %q share time of day %s", active[i-1].Name, active[i].Name, active[i].At)
		}
	}
	return &Catalog{windows: active}, nil
}

// Windows returns the active windows in time-of-day order.
func (c *Catalog) Windows() []TimeWindow {
	if c == nil {
		return nil
	}
	out := make([]TimeWindow, len(c.windows))
	copy(out, c.windows)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.windows)
}

func (c *Catalog) Window(id int) (TimeWindow, bool) {
	if c == nil {
		return TimeWindow{}, false
	}
	for _, w := range c.windows {
		if w.ID == id {
			return w, true
		}
	}
	return TimeWindow{}, false
}

// shiftDay moves t by n calendar days. Noon keeps the date stable across DST shifts.
func shiftDay(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 12, 0, 0, 0, t.Location())
}

// StartOfDay returns local midnight of t's calendar date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
