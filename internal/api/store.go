package api

import (
	"sort"
	"sync"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
	"github.com/soaringjerry/FlashTrack/internal/services"
)

// Store is the persistence surface the router needs. It is implemented by
// the in-memory store below and by db.SQLiteStore.
type Store interface {
	services.CatalogStore
	services.ParticipantStore
	services.SubmissionStore
	services.ConsentStore
	services.EndOfStudyStore

	// The upserts are used by first-run seeding only.
	UpsertTimeSegment(seg models.TimeSegment) error
	UpsertQuestion(q models.Question) error
	UpsertEndOfStudyQuestion(q models.EndOfStudyQuestion) error
	ListAudit() ([]models.AuditEntry, error)
}

type memoryStore struct {
	mu           sync.RWMutex
	segments     map[int]models.TimeSegment
	questions    map[int]models.Question
	participants map[string]*models.Participant
	submissions  []*models.Submission
	consents     []*models.ConsentRecord
	finalQs      map[int]models.EndOfStudyQuestion
	finals       map[string]*models.EndOfStudyResponse
	audit        []models.AuditEntry
}

// NewMemoryStore returns an empty store whose contents live as long as the process.
func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		segments:     map[int]models.TimeSegment{},
		questions:    map[int]models.Question{},
		participants: map[string]*models.Participant{},
		finalQs:      map[int]models.EndOfStudyQuestion{},
		finals:       map[string]*models.EndOfStudyResponse{},
	}
}

func (s *memoryStore) UpsertTimeSegment(seg models.TimeSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[seg.ID] = seg
	return nil
}

func (s *memoryStore) UpsertQuestion(q models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
	return nil
}

func (s *memoryStore) ListTimeSegments() ([]models.TimeSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TimeSegment, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListQuestions() ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Question, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetParticipant(code string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.participants[code]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *memoryStore) AddParticipant(p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.Code]; ok {
		return services.NewConflictError("participant code already in use")
	}
	copy := *p
	s.participants[p.Code] = &copy
	return nil
}

func (s *memoryStore) DeleteParticipant(code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[code]; !ok {
		return false, nil
	}
	delete(s.participants, code)
	ns := make([]*models.Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		if sub.Code != code {
			ns = append(ns, sub)
		}
	}
	s.submissions = ns
	nc := make([]*models.ConsentRecord, 0, len(s.consents))
	for _, cr := range s.consents {
		if cr.Code != code {
			nc = append(nc, cr)
		}
	}
	s.consents = nc
	delete(s.finals, code)
	return true, nil
}

func (s *memoryStore) AddSubmission(sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, cloneSubmission(sub))
	return nil
}

func (s *memoryStore) ListSubmissions(code string, since time.Time) ([]*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Submission{}
	for _, sub := range s.submissions {
		if sub.Code == code && !sub.CreatedAt.Before(since) {
			out = append(out, cloneSubmission(sub))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneSubmission(sub *models.Submission) *models.Submission {
	c := *sub
	c.Answers = make(map[int]int, len(sub.Answers))
	for k, v := range sub.Answers {
		c.Answers[k] = v
	}
	return &c
}

func (s *memoryStore) UpsertEndOfStudyQuestion(q models.EndOfStudyQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalQs[q.ID] = q
	return nil
}

func (s *memoryStore) ListEndOfStudyQuestions() ([]models.EndOfStudyQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EndOfStudyQuestion, 0, len(s.finalQs))
	for _, q := range s.finalQs {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneEndOfStudy(r *models.EndOfStudyResponse) *models.EndOfStudyResponse {
	c := *r
	c.Answers = make(map[int]int, len(r.Answers))
	for k, v := range r.Answers {
		c.Answers[k] = v
	}
	return &c
}

func (s *memoryStore) GetEndOfStudyResponse(code string) (*models.EndOfStudyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.finals[code]; ok {
		return cloneEndOfStudy(r), nil
	}
	return nil, nil
}

func (s *memoryStore) AddEndOfStudyResponse(r *models.EndOfStudyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[r.Code]; !ok {
		return services.NewNotFoundError("participant not found")
	}
	if _, ok := s.finals[r.Code]; ok {
		return services.NewConflictError("end-of-study questionnaire already submitted")
	}
	s.finals[r.Code] = cloneEndOfStudy(r)
	return nil
}

func (s *memoryStore) AddConsentRecord(cr *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *cr
	s.consents = append(s.consents, &copy)
	return nil
}

func (s *memoryStore) AddAudit(e models.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out, nil
}

var _ Store = (*memoryStore)(nil)
