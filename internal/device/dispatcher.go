package device

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notification is what the user sees when a trigger fires.
type Notification struct {
	TriggerID   string
	WindowID    int
	Title       string
	Body        string
	ScheduledAt time.Time
}

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier delivers notifications as log records.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, n.Title,
		slog.String("body", n.Body),
		slog.Int("window_id", n.WindowID),
		slog.Time("scheduled_at", n.ScheduledAt),
	)
	return nil
}

// Dispatcher fires registered triggers when they come due. A trigger is
// marked fired only after Notify succeeds, so a crash between the two
// repeats the notification rather than losing it. Occurrences missed
// while the process was down are delivered once on the next tick, also
// when the reminders were re-registered at startup.
type Dispatcher struct {
	store    *Store
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewDispatcher(store *Store, notifier Notifier, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, notifier: notifier, interval: interval, now: time.Now, logger: logger}
}

// Run ticks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("reminder dispatch failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick delivers every due trigger once and returns how many fired.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	triggers, err := d.store.Triggers(ctx)
	if err != nil {
		return 0, err
	}
	now := d.now()
	fired := 0
	for _, rt := range triggers {
		due, ok := rt.Due(now)
		if !ok {
			continue
		}
		n := Notification{TriggerID: rt.ID, WindowID: rt.Trigger.WindowID, Title: rt.Trigger.Title, Body: rt.Trigger.Body, ScheduledAt: due}
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Warn("notification not delivered", slog.String("trigger", rt.ID), slog.String("error", err.Error()))
			continue
		}
		if err := d.store.MarkFired(ctx, rt.ID, now); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}
