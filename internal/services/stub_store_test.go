package services

import (
	"errors"
	"sort"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

type stubStore struct {
	segments     []models.TimeSegment
	questions    []models.Question
	participants map[string]*models.Participant
	submissions  []*models.Submission
	consents     []*models.ConsentRecord
	finalQs      []models.EndOfStudyQuestion
	finals       map[string]*models.EndOfStudyResponse
	audit        []models.AuditEntry
	listErr      error
}

func newStubStore() *stubStore {
	return &stubStore{
		segments: []models.TimeSegment{
			{ID: 3, Name: "Evening", Time: "19:00:00", IsActive: true},
			{ID: 1, Name: "Morning", Time: "07:00:00", IsActive: true},
			{ID: 4, Name: "Night", Time: "23:00:00", IsActive: false},
			{ID: 2, Name: "Afternoon", Time: "13:00:00", IsActive: true},
		},
		questions: []models.Question{
			{ID: 2, Text: "How many memories surfaced involuntarily?", IsActive: true},
			{ID: 1, Text: "How many flashbacks did you have?", IsActive: true},
			{ID: 5, Text: "Retired question", IsActive: false},
		},
		finalQs: []models.EndOfStudyQuestion{
			{ID: 12, Number: 2, Text: "How distressing were the flashbacks overall?", IsActive: true},
			{ID: 11, Number: 1, Text: "How vivid were the flashbacks overall?", IsActive: true},
			{ID: 13, Number: 3, Text: "Retired rating", IsActive: false},
		},
		participants: map[string]*models.Participant{},
		finals:       map[string]*models.EndOfStudyResponse{},
	}
}

func (s *stubStore) ListTimeSegments() ([]models.TimeSegment, error) {
	return append([]models.TimeSegment(nil), s.segments...), nil
}

func (s *stubStore) ListQuestions() ([]models.Question, error) {
	return append([]models.Question(nil), s.questions...), nil
}

func (s *stubStore) GetParticipant(code string) (*models.Participant, error) {
	if p, ok := s.participants[code]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) AddParticipant(p *models.Participant) error {
	if _, ok := s.participants[p.Code]; ok {
		return errors.New("duplicate")
	}
	copy := *p
	s.participants[p.Code] = &copy
	return nil
}

func (s *stubStore) DeleteParticipant(code string) (bool, error) {
	if _, ok := s.participants[code]; !ok {
		return false, nil
	}
	delete(s.participants, code)
	delete(s.finals, code)
	kept := s.submissions[:0]
	for _, sub := range s.submissions {
		if sub.Code != code {
			kept = append(kept, sub)
		}
	}
	s.submissions = kept
	return true, nil
}

func (s *stubStore) AddSubmission(sub *models.Submission) error {
	copy := *sub
	s.submissions = append(s.submissions, &copy)
	return nil
}

func (s *stubStore) ListSubmissions(code string, since time.Time) ([]*models.Submission, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Submission
	for _, sub := range s.submissions {
		if sub.Code == code && !sub.CreatedAt.Before(since) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *stubStore) AddConsentRecord(cr *models.ConsentRecord) error {
	copy := *cr
	s.consents = append(s.consents, &copy)
	return nil
}

func (s *stubStore) ListEndOfStudyQuestions() ([]models.EndOfStudyQuestion, error) {
	return append([]models.EndOfStudyQuestion(nil), s.finalQs...), nil
}

func (s *stubStore) GetEndOfStudyResponse(code string) (*models.EndOfStudyResponse, error) {
	if r, ok := s.finals[code]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) AddEndOfStudyResponse(r *models.EndOfStudyResponse) error {
	if _, ok := s.finals[r.Code]; ok {
		return NewConflictError("end-of-study questionnaire already submitted")
	}
	copy := *r
	s.finals[r.Code] = &copy
	return nil
}

func (s *stubStore) AddAudit(entry models.AuditEntry) { s.audit = append(s.audit, entry) }
