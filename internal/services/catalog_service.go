package services

import (
	"sort"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/models"
)

// CatalogStore lists the configured windows and questions, active or not.
type CatalogStore interface {
	ListTimeSegments() ([]models.TimeSegment, error)
	ListQuestions() ([]models.Question, error)
}

// CatalogService serves the read-only study configuration.
type CatalogService struct {
	store CatalogStore
}

func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{store: store}
}

// ActiveWindows returns active segments ordered by time of day.
func (s *CatalogService) ActiveWindows() ([]models.TimeSegment, error) {
	all, err := s.store.ListTimeSegments()
	if err != nil {
		return nil, err
	}
	out := make([]models.TimeSegment, 0, len(all))
	for _, seg := range all {
		if seg.IsActive {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time == out[j].Time {
			return out[i].ID < out[j].ID
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

// Catalog returns the active windows as a validated check-in catalog.
func (s *CatalogService) Catalog() (*checkin.Catalog, error) {
	segs, err := s.ActiveWindows()
	if err != nil {
		return nil, err
	}
	return models.Catalog(segs)
}

// ActiveQuestions returns active questions ordered by id.
func (s *CatalogService) ActiveQuestions() ([]models.Question, error) {
	all, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	out := make([]models.Question, 0, len(all))
	for _, q := range all {
		if q.IsActive {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
