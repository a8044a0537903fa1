package services

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

// maxClockSkew bounds how far a client-supplied created_at may lie in the future.
const maxClockSkew = 5 * time.Minute

// SubmissionStore abstracts persistence operations required by SubmissionService.
type SubmissionStore interface {
	GetParticipant(code string) (*models.Participant, error)
	ListQuestions() ([]models.Question, error)
	AddSubmission(sub *models.Submission) error
	ListSubmissions(code string, since time.Time) ([]*models.Submission, error)
}

// SubmitRequest transports the sanitized handler input into the service layer.
type SubmitRequest struct {
	Code string
	// CreatedAt is the RFC 3339 instant the participant answered; empty means now.
	CreatedAt string
	Answers   map[int]int
}

type SubmissionService struct {
	store SubmissionStore
	now   func() time.Time
	idGen func() string
}

func NewSubmissionService(store SubmissionStore) *SubmissionService {
	return &SubmissionService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(16) },
	}
}

// Submit stores one check-in. Every answer must reference an active question
// and carry a non-negative count.
func (s *SubmissionService) Submit(req SubmitRequest) (*models.Submission, error) {
	if s.store == nil {
		return nil, errors.New("submission service store is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, NewInvalidError("unique_code required")
	}
	p, err := s.store.GetParticipant(code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	if len(req.Answers) == 0 {
		return nil, NewInvalidError("answers required")
	}
	qs, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	active := make(map[int]bool, len(qs))
	for _, q := range qs {
		if q.IsActive {
			active[q.ID] = true
		}
	}
	answers := make(map[int]int, len(req.Answers))
	for id, v := range req.Answers {
		if !active[id] {
			return nil, NewInvalidError("unknown question " + strconv.Itoa(id))
		}
		if v < 0 {
			return nil, NewInvalidError("count for question " + strconv.Itoa(id) + " is negative")
		}
		answers[id] = v
	}

	now := s.now()
	createdAt := now
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			return nil, NewInvalidError("created_at must be RFC 3339")
		}
		if t.After(now.Add(maxClockSkew)) {
			return nil, NewInvalidError("created_at is in the future")
		}
		createdAt = t.UTC()
	}
	sub := &models.Submission{ID: s.idGen(), Code: code, CreatedAt: createdAt, Answers: answers}
	if err := s.store.AddSubmission(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSince returns the participant's submissions at or after since, oldest first.
func (s *SubmissionService) ListSince(code string, since time.Time) ([]*models.Submission, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewInvalidError("code required")
	}
	return s.store.ListSubmissions(code, since)
}
