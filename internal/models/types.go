package models

import (
	"fmt"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
)

// TimeSegment is a named daily check-in window. Time is "HH:MM:SS" local time.
type TimeSegment struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Time     string `json:"time"`
	IsActive bool   `json:"is_active"`
}

// Question is asked at every check-in; answers are non-negative counts.
type Question struct {
	ID       int    `json:"id"`
	Text     string `json:"text"`
	IsActive bool   `json:"is_active"`
}

// Participant is known only by a pseudonymous code. No PII is stored.
type Participant struct {
	Code      string    `json:"unique_code"`
	StartDate string    `json:"start_date"` // 2006-01-02, the participant's local date of day 1
	Locale    string    `json:"locale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission is one check-in. Answers maps question id to count.
type Submission struct {
	ID        string      `json:"id"`
	Code      string      `json:"unique_code"`
	CreatedAt time.Time   `json:"created_at"`
	Answers   map[int]int `json:"answers"`
}

// EndOfStudyQuestion is rated once, on the last study day. Number orders
// the questionnaire.
type EndOfStudyQuestion struct {
	ID       int    `json:"id"`
	Number   int    `json:"question_no"`
	Text     string `json:"question"`
	IsActive bool   `json:"is_active"`
}

// EndOfStudyResponse is a participant's only end-of-study questionnaire.
// Answers maps question id to a 0-10 rating.
type EndOfStudyResponse struct {
	Code      string      `json:"unique_code"`
	CreatedAt time.Time   `json:"created_at"`
	Answers   map[int]int `json:"answers"`
}

type ConsentRecord struct {
	ID       string    `json:"id"`
	Code     string    `json:"unique_code"`
	Version  string    `json:"version"`
	Locale   string    `json:"locale,omitempty"`
	SignedAt time.Time `json:"signed_at"`
	Hash     string    `json:"hash"`
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

// Window converts the row into the check-in engine's representation.
func (s TimeSegment) Window() (checkin.TimeWindow, error) {
	at, err := checkin.ParseTimeOfDay(s.Time)
	if err != nil {
		return checkin.TimeWindow{}, fmt.Errorf("time segment %d (%s): %w", s.ID, s.Name, err)
	}
	return checkin.TimeWindow{ID: s.ID, Name: s.Name, At: at, Active: s.IsActive}, nil
}

// Catalog builds the session catalog from store rows. Inactive rows are
// dropped by checkin.NewCatalog.
func Catalog(segments []TimeSegment) (*checkin.Catalog, error) {
	ws := make([]checkin.TimeWindow, 0, len(segments))
	for _, s := range segments {
		w, err := s.Window()
		if err != nil {
			return nil, &checkin.ConfigurationError{Reason: err.Error()}
		}
		ws = append(ws, w)
	}
	return checkin.NewCatalog(ws)
}
