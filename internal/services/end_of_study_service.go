package services

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

// Ratings on the end-of-study questionnaire run from MinRating to MaxRating.
const (
	MinRating = 0
	MaxRating = 10
)

type EndOfStudyStore interface {
	GetParticipant(code string) (*models.Participant, error)
	ListEndOfStudyQuestions() ([]models.EndOfStudyQuestion, error)
	// GetEndOfStudyResponse returns nil when the participant has not answered.
	GetEndOfStudyResponse(code string) (*models.EndOfStudyResponse, error)
	// AddEndOfStudyResponse fails with a conflict error when code already answered.
	AddEndOfStudyResponse(r *models.EndOfStudyResponse) error
	AddAudit(entry models.AuditEntry)
}

// EndOfStudyRequest carries ratings keyed by question id, by questionnaire
// position (Q1 is the first active question), or both.
type EndOfStudyRequest struct {
	Code       string
	Answers    map[int]int
	ByPosition map[int]int
}

type EndOfStudyService struct {
	store EndOfStudyStore
	now   func() time.Time
}

func NewEndOfStudyService(store EndOfStudyStore) *EndOfStudyService {
	return &EndOfStudyService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Questions returns the active questions in questionnaire order.
func (s *EndOfStudyService) Questions() ([]models.EndOfStudyQuestion, error) {
	qs, err := s.store.ListEndOfStudyQuestions()
	if err != nil {
		return nil, err
	}
	out := make([]models.EndOfStudyQuestion, 0, len(qs))
	for _, q := range qs {
		if q.IsActive {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *EndOfStudyService) participant(code string) error {
	if strings.TrimSpace(code) == "" {
		return NewInvalidError("unique_code required")
	}
	p, err := s.store.GetParticipant(code)
	if err != nil {
		return err
	}
	if p == nil {
		return NewNotFoundError("participant not found")
	}
	return nil
}

// Submitted reports whether the participant already answered.
func (s *EndOfStudyService) Submitted(code string) (bool, error) {
	code = strings.TrimSpace(code)
	if err := s.participant(code); err != nil {
		return false, err
	}
	r, err := s.store.GetEndOfStudyResponse(code)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// Submit stores the participant's ratings. Every active question must be
// rated exactly once, and a participant answers only once.
func (s *EndOfStudyService) Submit(req EndOfStudyRequest) (*models.EndOfStudyResponse, error) {
	if s.store == nil {
		return nil, errors.New("end-of-study service store is nil")
	}
	code := strings.TrimSpace(req.Code)
	if err := s.participant(code); err != nil {
		return nil, err
	}
	qs, err := s.Questions()
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, NewNotFoundError("no end-of-study questions configured")
	}
	active := make(map[int]bool, len(qs))
	for _, q := range qs {
		active[q.ID] = true
	}
	answers := make(map[int]int, len(qs))
	set := func(id, v int) error {
		if !active[id] {
			return NewInvalidError("unknown end-of-study question " + strconv.Itoa(id))
		}
		if v < MinRating || v > MaxRating {
			return NewInvalidError("rating for question " + strconv.Itoa(id) + " must be between 0 and 10")
		}
		if _, dup := answers[id]; dup {
			return NewInvalidError("question " + strconv.Itoa(id) + " answered twice")
		}
		answers[id] = v
		return nil
	}
	for id, v := range req.Answers {
		if err := set(id, v); err != nil {
			return nil, err
		}
	}
	for pos, v := range req.ByPosition {
		if pos < 1 || pos > len(qs) {
			return nil, NewInvalidError("unknown end-of-study question Q" + strconv.Itoa(pos))
		}
		if err := set(qs[pos-1].ID, v); err != nil {
			return nil, err
		}
	}
	for i, q := range qs {
		if _, ok := answers[q.ID]; !ok {
			return nil, NewInvalidError("missing rating for Q" + strconv.Itoa(i+1))
		}
	}

	existing, err := s.store.GetEndOfStudyResponse(code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("end-of-study questionnaire already submitted")
	}
	r := &models.EndOfStudyResponse{Code: code, CreatedAt: s.now(), Answers: answers}
	if err := s.store.AddEndOfStudyResponse(r); err != nil {
		return nil, err
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "participant", Action: "end_of_study", Target: code})
	return r, nil
}
