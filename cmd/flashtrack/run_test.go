package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/device"
	"github.com/soaringjerry/FlashTrack/internal/reminders"
)

func TestLogRescheduleFailure(t *testing.T) {
	ctx := context.Background()
	store, err := device.Open(filepath.Join(t.TempDir(), "state.db"), device.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var buf bytes.Buffer
	a := &app{logger: slog.New(slog.NewTextHandler(&buf, nil)), store: store}

	logRescheduleFailure(ctx, a, fmt.Errorf("schedule: %w", reminders.ErrPermissionDenied))
	assert.Contains(t, buf.String(), "notification permission denied")
	assert.NotContains(t, buf.String(), "previously registered")

	buf.Reset()
	logRescheduleFailure(ctx, a, errors.New("connection refused"))
	assert.Contains(t, buf.String(), "no reminders registered")
	assert.Contains(t, buf.String(), "level=ERROR")

	_, err = store.RegisterDaily(ctx, reminders.Trigger{WindowID: 1, At: checkin.MustTimeOfDay("07:00"), Title: "t", Body: "b"})
	require.NoError(t, err)
	buf.Reset()
	logRescheduleFailure(ctx, a, errors.New("connection refused"))
	assert.Contains(t, buf.String(), "using previously registered reminders")
	assert.Contains(t, buf.String(), "count=1")
}
