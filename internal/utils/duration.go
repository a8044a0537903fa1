package utils

import (
	"fmt"
	"time"
)

// ParseDurationString parses value with time.ParseDuration, returning fallback for an empty value.
func ParseDurationString(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid time duration '%s' : %s", value, err.Error())
	}
	return d, nil
}
