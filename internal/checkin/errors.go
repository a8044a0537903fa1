package checkin

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("invalid check-in configuration")
	// ErrMissingStartDate is returned by CurrentDay when the participant has no start date.
	ErrMissingStartDate = errors.New("study start date unknown")
)

// ConfigurationError reports a catalog or study setup from which no
// current window or study day can be derived.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "invalid check-in configuration: " + e.Reason }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
