// Package reminders keeps the device's daily check-in reminders aligned
// with the time window catalog.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/utils"
)

// ErrPermissionDenied is returned when the device refuses notifications.
var ErrPermissionDenied = errors.New("notification permission denied")

type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// ParsePermission is the inverse of Permission.String.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	case "", "undetermined":
		return PermissionUndetermined, nil
	}
	return PermissionUndetermined, fmt.Errorf("unknown permission %q", s)
}

// Trigger is one daily-repeating local notification.
type Trigger struct {
	WindowID int
	At       checkin.TimeOfDay
	Title    string
	Body     string
}

// Delivery is the device notification capability. Implementations persist
// registered triggers and deliver them at least once.
type Delivery interface {
	PermissionStatus(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	CancelAll(ctx context.Context) error
	RegisterDaily(ctx context.Context, t Trigger) (string, error)
}

// Scheduler owns every trigger registered through its Delivery. Schedule
// cancels all of them and registers the catalog afresh, so it is safe to
// call repeatedly; calls are serialized because cancel-then-register is
// not atomic.
type Scheduler struct {
	mu       sync.Mutex
	delivery Delivery
	locale   string
	logger   *slog.Logger
}

func NewScheduler(delivery Delivery, locale string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{delivery: delivery, locale: locale, logger: logger}
}

// TriggerFor builds the reminder for w in the given locale.
func TriggerFor(w checkin.TimeWindow, locale string) Trigger {
	return Trigger{
		WindowID: w.ID,
		At:       w.At,
		Title:    utils.T(locale, "reminder.title"),
		Body:     utils.Tf(locale, "reminder.body", w.Name),
	}
}

// Schedule replaces all registered reminders with one per window of c.
// When permission is denied nothing is registered and ErrPermissionDenied
// is returned. A registration failure stops the loop; earlier triggers
// stay registered.
func (s *Scheduler) Schedule(ctx context.Context, c *checkin.Catalog) error {
	if c.Len() == 0 {
		return &checkin.ConfigurationError{Reason: "no active time windows to schedule"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.delivery.CancelAll(ctx); err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}
	perm, err := s.ensurePermission(ctx)
	if err != nil {
		return fmt.Errorf("notification permission: %w", err)
	}
	if perm != PermissionGranted {
		s.logger.Warn("reminders not scheduled", slog.String("permission", perm.String()))
		return ErrPermissionDenied
	}
	for _, w := range c.Windows() {
		handle, err := s.delivery.RegisterDaily(ctx, TriggerFor(w, s.locale))
		if err != nil {
			return fmt.Errorf("register reminder for %s: %w", w.Name, err)
		}
		s.logger.Debug("reminder registered", slog.String("window", w.Name), slog.String("at", w.At.String()), slog.String("handle", handle))
	}
	s.logger.Info("daily reminders scheduled", slog.Int("count", c.Len()))
	return nil
}

// Cancel removes every reminder, e.g. after the participant deletes their data.
func (s *Scheduler) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivery.CancelAll(ctx)
}

func (s *Scheduler) ensurePermission(ctx context.Context) (Permission, error) {
	perm, err := s.delivery.PermissionStatus(ctx)
	if err != nil {
		return perm, err
	}
	if perm == PermissionUndetermined {
		return s.delivery.RequestPermission(ctx)
	}
	return perm, nil
}

// Planned is the next fire time of one window's reminder.
type Planned struct {
	Window checkin.TimeWindow
	FireAt time.Time
}

// Plan reports when each window's reminder fires next after now. It has no side effects.
func Plan(c *checkin.Catalog, now time.Time) []Planned {
	ws := c.Windows()
	out := make([]Planned, 0, len(ws))
	for _, w := range ws {
		out = append(out, Planned{Window: w, FireAt: checkin.NextOccurrence(w.At, now)})
	}
	return out
}
