package services

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

type ConsentStore interface {
	GetParticipant(code string) (*models.Participant, error)
	AddConsentRecord(cr *models.ConsentRecord) error
	AddAudit(entry models.AuditEntry)
}

type ConsentService struct {
	store ConsentStore
	now   func() time.Time
	idGen func() string
}

type ConsentSignRequest struct {
	Code     string
	Version  string
	Locale   string
	SignedAt string
	Evidence string
}

type ConsentSignResult struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

func NewConsentService(store ConsentStore) *ConsentService {
	return &ConsentService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// Sign records that the participant agreed to a consent version. Only a
// hash of the evidence is kept.
func (s *ConsentService) Sign(req ConsentSignRequest) (*ConsentSignResult, error) {
	if req.Code == "" {
		return nil, NewInvalidError("unique_code required")
	}
	if strings.TrimSpace(req.Version) == "" {
		return nil, NewInvalidError("version required")
	}
	p, err := s.store.GetParticipant(req.Code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	sum := sha256.Sum256([]byte(req.Evidence))
	hash := base64.StdEncoding.EncodeToString(sum[:])
	signedAt := s.now()
	if req.SignedAt != "" {
		if t, err := time.Parse(time.RFC3339, req.SignedAt); err == nil {
			signedAt = t
		}
	}
	id := s.idGen()
	cr := &models.ConsentRecord{ID: id, Code: req.Code, Version: req.Version, Locale: req.Locale, SignedAt: signedAt, Hash: hash}
	if err := s.store.AddConsentRecord(cr); err != nil {
		return nil, err
	}
	s.store.AddAudit(models.AuditEntry{Time: s.now(), Actor: "participant", Action: "consent_sign", Target: req.Code, Note: id})
	return &ConsentSignResult{ID: id, Hash: hash}, nil
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
