package services

import (
	"testing"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

func newTestEndOfStudyService(store *stubStore) *EndOfStudyService {
	svc := NewEndOfStudyService(store)
	svc.now = func() time.Time { return time.Date(2025, 3, 18, 20, 0, 0, 0, time.UTC) }
	return svc
}

func TestEndOfStudyQuestionsOrdered(t *testing.T) {
	svc := newTestEndOfStudyService(newStubStore())
	qs, err := svc.Questions()
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 2 || qs[0].ID != 11 || qs[1].ID != 12 {
		t.Fatalf("unexpected questions %+v", qs)
	}
}

func TestEndOfStudySubmitOnce(t *testing.T) {
	store := newStubStore()
	store.participants["4821"] = &models.Participant{Code: "4821"}
	svc := newTestEndOfStudyService(store)

	done, err := svc.Submitted("4821")
	if err != nil || done {
		t.Fatalf("Submitted before answering = %v, %v", done, err)
	}
	r, err := svc.Submit(EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 0}, ByPosition: map[int]int{2: 10}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Answers[11] != 0 || r.Answers[12] != 10 {
		t.Fatalf("answers = %v", r.Answers)
	}
	if done, _ := svc.Submitted("4821"); !done {
		t.Fatal("expected submitted")
	}
	if n := len(store.audit); n != 1 || store.audit[0].Action != "end_of_study" {
		t.Fatalf("audit = %+v", store.audit)
	}

	_, err = svc.Submit(EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 3, 12: 3}})
	wantCode(t, err, ErrorConflict)
	if store.finals["4821"].Answers[11] != 0 {
		t.Fatal("second submission overwrote the first")
	}
}

func TestEndOfStudyValidation(t *testing.T) {
	store := newStubStore()
	store.participants["4821"] = &models.Participant{Code: "4821"}
	svc := newTestEndOfStudyService(store)

	cases := []struct {
		name string
		req  EndOfStudyRequest
		code ErrorCode
	}{
		{"no code", EndOfStudyRequest{Answers: map[int]int{11: 1, 12: 1}}, ErrorInvalid},
		{"unknown participant", EndOfStudyRequest{Code: "0000", Answers: map[int]int{11: 1, 12: 1}}, ErrorNotFound},
		{"above scale", EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 11, 12: 1}}, ErrorInvalid},
		{"below scale", EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: -1, 12: 1}}, ErrorInvalid},
		{"missing rating", EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 5}}, ErrorInvalid},
		{"inactive question", EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 5, 12: 5, 13: 5}}, ErrorInvalid},
		{"position out of range", EndOfStudyRequest{Code: "4821", ByPosition: map[int]int{1: 5, 2: 5, 3: 5}}, ErrorInvalid},
		{"answered twice", EndOfStudyRequest{Code: "4821", Answers: map[int]int{11: 5, 12: 5}, ByPosition: map[int]int{1: 4}}, ErrorInvalid},
	}
	for _, c := range cases {
		_, err := svc.Submit(c.req)
		if se, ok := AsServiceError(err); !ok || se.Code != c.code {
			t.Errorf("%s: got %v, want %s", c.name, err, c.code)
		}
	}
	if len(store.finals) != 0 {
		t.Fatalf("invalid submissions stored: %v", store.finals)
	}

	_, err := svc.Submitted("0000")
	wantCode(t, err, ErrorNotFound)
}

func TestExportIncludesEndOfStudy(t *testing.T) {
	store := newStubStore()
	store.participants["4821"] = &models.Participant{Code: "4821"}
	if _, err := newTestEndOfStudyService(store).Submit(EndOfStudyRequest{Code: "4821", ByPosition: map[int]int{1: 7, 2: 2}}); err != nil {
		t.Fatal(err)
	}
	exp, err := NewParticipantService(store, nil).Export("4821")
	if err != nil {
		t.Fatal(err)
	}
	if exp.EndOfStudy == nil || exp.EndOfStudy.Answers[11] != 7 {
		t.Fatalf("export end_of_study = %+v", exp.EndOfStudy)
	}
}
