package services

import (
	"errors"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/models"
)

type StatusStore interface {
	CatalogStore
	GetParticipant(code string) (*models.Participant, error)
	ListSubmissions(code string, since time.Time) ([]*models.Submission, error)
}

// StatusService computes the check-in read model for a participant in the
// caller's time zone.
type StatusService struct {
	store     StatusStore
	catalog   *CatalogService
	totalDays int
	now       func() time.Time
}

func NewStatusService(store StatusStore, totalDays int) *StatusService {
	if totalDays < 1 {
		totalDays = checkin.DefaultStudyDays
	}
	return &StatusService{store: store, catalog: NewCatalogService(store), totalDays: totalDays, now: time.Now}
}

func (s *StatusService) Status(code string, loc *time.Location) (*checkin.CheckInStatus, error) {
	if loc == nil {
		loc = time.UTC
	}
	p, err := s.store.GetParticipant(code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	cat, err := s.catalog.Catalog()
	if err != nil {
		return nil, err
	}
	now := s.now().In(loc)

	var start *time.Time
	if p.StartDate != "" {
		if t, err := time.ParseInLocation(time.DateOnly, p.StartDate, loc); err == nil {
			start = &t
		}
	}
	day, err := checkin.CurrentDay(start, now, s.totalDays)
	if errors.Is(err, checkin.ErrMissingStartDate) {
		day = 1
	} else if err != nil {
		return nil, err
	}

	since := checkin.StartOfDay(now).AddDate(0, 0, -1)
	subs, err := s.store.ListSubmissions(code, since)
	if err != nil {
		return nil, err
	}
	instants := make([]time.Time, 0, len(subs))
	for _, sub := range subs {
		instants = append(instants, sub.CreatedAt)
	}
	return checkin.BuildStatus(checkin.StatusInput{
		Catalog:     cat,
		Now:         now,
		StudyDay:    day,
		TotalDays:   s.totalDays,
		Submissions: instants,
	})
}
