package services

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

// MinCodeLength is the shortest participant code accepted at onboarding.
const MinCodeLength = 4

type ParticipantStore interface {
	GetParticipant(code string) (*models.Participant, error)
	AddParticipant(p *models.Participant) error
	// DeleteParticipant removes the participant with every submission and
	// consent record. It reports false when the code is unknown.
	DeleteParticipant(code string) (bool, error)
	ListSubmissions(code string, since time.Time) ([]*models.Submission, error)
	ListQuestions() ([]models.Question, error)
	GetEndOfStudyResponse(code string) (*models.EndOfStudyResponse, error)
	AddAudit(entry models.AuditEntry)
}

type ParticipantService struct {
	store      ParticipantStore
	accessHash []byte
	now        func() time.Time
}

// NewParticipantService verifies study access codes against accessHash, a
// bcrypt hash. An empty hash rejects every onboarding attempt.
func NewParticipantService(store ParticipantStore, accessHash []byte) *ParticipantService {
	return &ParticipantService{
		store:      store,
		accessHash: accessHash,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HashAccessCode produces the value stored in FLASHTRACK_ACCESS_CODE_HASH.
func HashAccessCode(code string) ([]byte, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("access code is empty")
	}
	return bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
}

// ValidateCode checks the participant code format: digits only, at least
// MinCodeLength of them.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength {
		return NewInvalidError("participant code must have at least 4 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return NewInvalidError("participant code must contain digits only")
		}
	}
	return nil
}

// CheckCode reports whether code is well formed and not yet taken.
func (s *ParticipantService) CheckCode(code string) (bool, error) {
	code = strings.TrimSpace(code)
	if err := ValidateCode(code); err != nil {
		return false, err
	}
	p, err := s.store.GetParticipant(code)
	if err != nil {
		return false, err
	}
	return p == nil, nil
}

type OnboardRequest struct {
	AccessCode string
	Code       string
	// StartDate is the participant's local date (2006-01-02); empty means today in UTC.
	StartDate string
	Locale    string
}

func (s *ParticipantService) Onboard(req OnboardRequest) (*models.Participant, error) {
	if len(s.accessHash) == 0 || bcrypt.CompareHashAndPassword(s.accessHash, []byte(req.AccessCode)) != nil {
		return nil, NewForbiddenError("invalid access code")
	}
	code := strings.TrimSpace(req.Code)
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	start := strings.TrimSpace(req.StartDate)
	if start == "" {
		start = s.now().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, start); err != nil {
		return nil, NewInvalidError("start_date must be YYYY-MM-DD")
	}
	existing, err := s.store.GetParticipant(code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("participant code already in use")
	}
	p := &models.Participant{Code: code, StartDate: start, Locale: req.Locale, CreatedAt: s.now()}
	if err := s.store.AddParticipant(p); err != nil {
		return nil, err
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "participant", Action: "onboard", Target: code})
	return p, nil
}

func (s *ParticipantService) get(code string) (*models.Participant, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewInvalidError("code required")
	}
	p, err := s.store.GetParticipant(code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

// StartDate returns the stored start date, or "" when none was recorded.
func (s *ParticipantService) StartDate(code string) (string, error) {
	p, err := s.get(code)
	if err != nil {
		return "", err
	}
	return p.StartDate, nil
}

type ParticipantExport struct {
	Participant *models.Participant        `json:"participant"`
	Submissions []*models.Submission       `json:"submissions"`
	EndOfStudy  *models.EndOfStudyResponse `json:"end_of_study,omitempty"`
}

func (s *ParticipantService) Export(code string) (*ParticipantExport, error) {
	p, err := s.get(code)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubmissions(code, time.Time{})
	if err != nil {
		return nil, err
	}
	final, err := s.store.GetEndOfStudyResponse(code)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "participant", Action: "self_export", Target: code})
	return &ParticipantExport{Participant: p, Submissions: subs, EndOfStudy: final}, nil
}

// ExportCSV renders the participant's submissions with one count column per
// question, active or not, so historic answers are never dropped.
func (s *ParticipantService) ExportCSV(code string) ([]byte, error) {
	exp, err := s.Export(code)
	if err != nil {
		return nil, err
	}
	qs, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	return ExportSubmissionsCSV(exp.Submissions, ids)
}

// Delete purges the participant's code and all of their submissions.
func (s *ParticipantService) Delete(code string) error {
	if strings.TrimSpace(code) == "" {
		return NewInvalidError("code required")
	}
	ok, err := s.store.DeleteParticipant(code)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("participant not found")
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "participant", Action: "self_delete", Target: code})
	return nil
}
