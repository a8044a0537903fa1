package checkin

import "time"

// State of one window on one day. Pending only ever moves to Completed.
type State int

const (
	Pending State = iota
	Completed
)

func (s State) String() string {
	if s == Completed {
		return "completed"
	}
	return "pending"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// IsComplete reports whether any submission falls inside the interval.
func IsComplete(iv WindowInterval, submissions []time.Time) bool {
	for _, t := range submissions {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

func WindowState(iv WindowInterval, submissions []time.Time) State {
	if IsComplete(iv, submissions) {
		return Completed
	}
	return Pending
}
