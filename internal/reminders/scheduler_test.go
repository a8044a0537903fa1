package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
)

type fakeDelivery struct {
	mu         sync.Mutex
	permission Permission
	answer     Permission
	requested  int
	cancels    int
	failAfter  int // fail the n-th registration (1-based); 0 never fails
	registered map[string]Trigger
	seq        int
}

func newFakeDelivery(p Permission) *fakeDelivery {
	return &fakeDelivery{permission: p, answer: PermissionGranted, registered: map[string]Trigger{}}
}

func (f *fakeDelivery) PermissionStatus(ctx context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, nil
}

func (f *fakeDelivery) RequestPermission(ctx context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
	f.permission = f.answer
	return f.permission, nil
}

func (f *fakeDelivery) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.registered = map[string]Trigger{}
	return nil
}

func (f *fakeDelivery) RegisterDaily(ctx context.Context, t Trigger) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.failAfter > 0 && len(f.registered)+1 == f.failAfter {
		return "", errors.New("registry full")
	}
	id := fmt.Sprintf("T%d", f.seq)
	f.registered[id] = t
	return id, nil
}

func (f *fakeDelivery) triggers() []Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Trigger, 0, len(f.registered))
	for _, t := range f.registered {
		out = append(out, t)
	}
	return out
}

func catalogOf(t *testing.T, times ...string) *checkin.Catalog {
	t.Helper()
	names := []string{"Morning", "Afternoon", "Evening", "Night"}
	ws := make([]checkin.TimeWindow, 0, len(times))
	for i, at := range times {
		ws = append(ws, checkin.TimeWindow{ID: i + 1, Name: names[i], At: checkin.MustTimeOfDay(at), Active: true})
	}
	c, err := checkin.NewCatalog(ws)
	require.NoError(t, err)
	return c
}

func TestScheduleRegistersOnePerWindow(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)

	require.NoError(t, s.Schedule(context.Background(), catalogOf(t, "07:00", "13:00", "19:00")))

	got := d.triggers()
	assert.Len(t, got, 3)
	bodies := map[string]bool{}
	for _, tr := range got {
		assert.Equal(t, "FlashTrack Check-in", tr.Title)
		bodies[tr.Body] = true
	}
	assert.True(t, bodies["Time for your Morning check-in"])
	assert.True(t, bodies["Time for your Evening check-in"])
}

func TestScheduleIsIdempotent(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)
	c := catalogOf(t, "07:00", "13:00", "19:00")

	require.NoError(t, s.Schedule(context.Background(), c))
	once := d.triggers()
	require.NoError(t, s.Schedule(context.Background(), c))
	twice := d.triggers()

	assert.ElementsMatch(t, once, twice)
	assert.Equal(t, 2, d.cancels)
}

func TestScheduleAfterCatalogShrinks(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)

	require.NoError(t, s.Schedule(context.Background(), catalogOf(t, "07:00", "13:00", "19:00")))
	require.NoError(t, s.Schedule(context.Background(), catalogOf(t, "08:00", "20:00")))

	got := d.triggers()
	require.Len(t, got, 2)
	for _, tr := range got {
		assert.Contains(t, []string{"08:00", "20:00"}, tr.At.String())
	}
}

func TestSchedulePermissionDenied(t *testing.T) {
	d := newFakeDelivery(PermissionDenied)
	s := NewScheduler(d, "en", nil)

	err := s.Schedule(context.Background(), catalogOf(t, "07:00"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, d.triggers())
	assert.Equal(t, 0, d.requested, "denied permission is not re-requested")
}

func TestScheduleRequestsUndeterminedPermission(t *testing.T) {
	d := newFakeDelivery(PermissionUndetermined)
	s := NewScheduler(d, "zh", nil)

	require.NoError(t, s.Schedule(context.Background(), catalogOf(t, "07:00")))
	assert.Equal(t, 1, d.requested)
	require.Len(t, d.triggers(), 1)
	assert.Equal(t, "FlashTrack 打卡", d.triggers()[0].Title)

	d.answer = PermissionDenied
	d.permission = PermissionUndetermined
	assert.ErrorIs(t, s.Schedule(context.Background(), catalogOf(t, "07:00")), ErrPermissionDenied)
}

func TestSchedulePartialFailureKeepsEarlierTriggers(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	d.failAfter = 3
	s := NewScheduler(d, "en", nil)

	err := s.Schedule(context.Background(), catalogOf(t, "07:00", "13:00", "19:00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evening")
	assert.Len(t, d.triggers(), 2)
}

func TestScheduleRejectsEmptyCatalog(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)
	assert.ErrorIs(t, s.Schedule(context.Background(), nil), checkin.ErrConfiguration)
	assert.Equal(t, 0, d.cancels)
}

func TestScheduleConcurrentCallsSerialize(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)
	c := catalogOf(t, "07:00", "13:00", "19:00")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Schedule(context.Background(), c))
		}()
	}
	wg.Wait()
	assert.Len(t, d.triggers(), 3)
}

func TestCancelClearsTriggers(t *testing.T) {
	d := newFakeDelivery(PermissionGranted)
	s := NewScheduler(d, "en", nil)
	require.NoError(t, s.Schedule(context.Background(), catalogOf(t, "07:00", "19:00")))
	require.NoError(t, s.Cancel(context.Background()))
	assert.Empty(t, d.triggers())
}

func TestPlan(t *testing.T) {
	c := catalogOf(t, "07:00", "13:00", "19:00")
	now := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	plan := Plan(c, now)
	require.Len(t, plan, 3)
	assert.Equal(t, time.Date(2025, 3, 13, 7, 0, 0, 0, time.UTC), plan[0].FireAt)
	assert.Equal(t, time.Date(2025, 3, 13, 13, 0, 0, 0, time.UTC), plan[1].FireAt)
	assert.Equal(t, time.Date(2025, 3, 12, 19, 0, 0, 0, time.UTC), plan[2].FireAt)
}

func TestParsePermission(t *testing.T) {
	for _, p := range []Permission{PermissionUndetermined, PermissionGranted, PermissionDenied} {
		got, err := ParsePermission(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePermission("maybe")
	assert.Error(t, err)
}
