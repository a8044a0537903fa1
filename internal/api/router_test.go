package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

func newTestServer(t *testing.T) (*httptest.Server, Store) {
	t.Helper()
	store := NewMemoryStore()
	for _, seg := range []models.TimeSegment{
		{ID: 1, Name: "Morning", Time: "07:00:00", IsActive: true},
		{ID: 2, Name: "Afternoon", Time: "13:00:00", IsActive: true},
		{ID: 3, Name: "Evening", Time: "19:00:00", IsActive: true},
		{ID: 4, Name: "Night", Time: "23:00:00", IsActive: false},
	} {
		if err := store.UpsertTimeSegment(seg); err != nil {
			t.Fatalf("seed segment: %v", err)
		}
	}
	for _, q := range []models.Question{
		{ID: 1, Text: "How many flashbacks did you have?", IsActive: true},
		{ID: 2, Text: "How many intrusive memories?", IsActive: true},
	} {
		if err := store.UpsertQuestion(q); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}
	for _, q := range []models.EndOfStudyQuestion{
		{ID: 1, Number: 1, Text: "How vivid were the flashbacks overall?", IsActive: true},
		{ID: 2, Number: 2, Text: "How distressing were the flashbacks overall?", IsActive: true},
	} {
		if err := store.UpsertEndOfStudyQuestion(q); err != nil {
			t.Fatalf("seed end-of-study question: %v", err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("2345"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	mux := http.NewServeMux()
	NewRouter(store, Options{AccessCodeHash: hash, StudyDays: 7}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func onboard(t *testing.T, srv *httptest.Server, code string) {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/api/onboarding", `{"access_code":"2345","unique_code":"`+code+`","start_date":"2025-03-10"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("onboard status %d", resp.StatusCode)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/time-segments", "")
	var segs []models.TimeSegment
	decode(t, resp, &segs)
	if len(segs) != 3 || segs[0].Name != "Morning" || segs[2].Name != "Evening" {
		t.Fatalf("unexpected segments %+v", segs)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/questions", "")
	var qs []models.Question
	decode(t, resp, &qs)
	if len(qs) != 2 {
		t.Fatalf("unexpected questions %+v", qs)
	}

	if resp := do(t, http.MethodPost, srv.URL+"/api/questions", "{}"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestOnboardingAndCodeAvailability(t *testing.T) {
	srv, _ := newTestServer(t)

	var avail struct {
		Available bool `json:"available"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/api/codes/4821", ""), &avail)
	if !avail.Available {
		t.Fatalf("code should be available")
	}

	if resp := do(t, http.MethodPost, srv.URL+"/api/onboarding", `{"access_code":"1234","unique_code":"4821"}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong access code: status %d", resp.StatusCode)
	}
	onboard(t, srv, "4821")
	if resp := do(t, http.MethodPost, srv.URL+"/api/onboarding", `{"access_code":"2345","unique_code":"4821"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate code: status %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/codes/12", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short code: status %d", resp.StatusCode)
	}

	decode(t, do(t, http.MethodGet, srv.URL+"/api/codes/4821", ""), &avail)
	if avail.Available {
		t.Fatalf("code should be taken")
	}

	var sd struct {
		StartDate string `json:"start_date"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/api/participants/4821/start-date", ""), &sd)
	if sd.StartDate != "2025-03-10" {
		t.Fatalf("start date %q", sd.StartDate)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/participants/0000/start-date", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown participant: status %d", resp.StatusCode)
	}
}

func TestSubmitAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	onboard(t, srv, "4821")

	resp := do(t, http.MethodPost, srv.URL+"/api/responses", `{"unique_code":"4821","created_at":"2025-03-12T07:30:00Z","answers":{"1":2,"2":0}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d", resp.StatusCode)
	}
	// flat count_<id> fields
	resp = do(t, http.MethodPost, srv.URL+"/api/responses", `{"unique_code":"4821","created_at":"2025-03-12T13:10:00Z","count_1":1,"count_2":null}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("flat submit status %d", resp.StatusCode)
	}
	var sub models.Submission
	decode(t, resp, &sub)
	if len(sub.Answers) != 1 || sub.Answers[1] != 1 {
		t.Fatalf("flat answers %+v", sub.Answers)
	}

	for _, body := range []string{
		`{"unique_code":"4821","answers":{"9":1}}`,
		`{"unique_code":"4821","answers":{"1":-3}}`,
		`{"unique_code":"4821","count_x":1}`,
		`not json`,
	} {
		if resp := do(t, http.MethodPost, srv.URL+"/api/responses", body); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", body, resp.StatusCode)
		}
	}

	var subs []models.Submission
	decode(t, do(t, http.MethodGet, srv.URL+"/api/responses?code=4821&since=2025-03-12T12:00:00Z", ""), &subs)
	if len(subs) != 1 || !subs[0].CreatedAt.Equal(time.Date(2025, 3, 12, 13, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected list %+v", subs)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/responses?code=4821&since=today", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: status %d", resp.StatusCode)
	}
}

func TestConsentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	onboard(t, srv, "4821")

	resp := do(t, http.MethodPost, srv.URL+"/api/consent", `{"unique_code":"4821","version":"v1","evidence":"I agree"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("consent status %d", resp.StatusCode)
	}
	var res struct {
		ID   string `json:"id"`
		Hash string `json:"hash"`
	}
	decode(t, resp, &res)
	if res.ID == "" || res.Hash == "" {
		t.Fatalf("unexpected consent result %+v", res)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	onboard(t, srv, "4821")

	resp := do(t, http.MethodGet, srv.URL+"/api/participants/4821/status?tz=Europe/Berlin", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	var st struct {
		StudyDay  int `json:"study_day"`
		TotalDays int `json:"total_days"`
		Windows   []struct {
			ID int `json:"id"`
		} `json:"windows"`
	}
	decode(t, resp, &st)
	if st.TotalDays != 7 || st.StudyDay < 1 || st.StudyDay > 7 || len(st.Windows) != 3 {
		t.Fatalf("unexpected status %+v", st)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/participants/4821/status?tz=Mars/Olympus", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tz: status %d", resp.StatusCode)
	}
}

func TestStatusWithoutActiveWindows(t *testing.T) {
	srv, store := newTestServer(t)
	onboard(t, srv, "4821")
	for _, id := range []int{1, 2, 3} {
		_ = store.UpsertTimeSegment(models.TimeSegment{ID: id, Name: "off", Time: "07:00:00"})
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/participants/4821/status", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestExportAndDelete(t *testing.T) {
	srv, store := newTestServer(t)
	onboard(t, srv, "4821")
	onboard(t, srv, "5555")
	do(t, http.MethodPost, srv.URL+"/api/responses", `{"unique_code":"4821","created_at":"2025-03-12T07:30:00Z","answers":{"1":2}}`)
	do(t, http.MethodPost, srv.URL+"/api/responses", `{"unique_code":"5555","created_at":"2025-03-12T07:31:00Z","answers":{"1":1}}`)

	resp := do(t, http.MethodGet, srv.URL+"/api/participants/4821/export?format=csv", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	recs, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(recs) != 2 || recs[1][1] != "4821" {
		t.Fatalf("unexpected csv %v", recs)
	}

	var exp struct {
		Submissions []models.Submission `json:"submissions"`
	}
	decode(t, do(t, http.MethodGet, srv.URL+"/api/participants/4821/export", ""), &exp)
	if len(exp.Submissions) != 1 {
		t.Fatalf("unexpected export %+v", exp)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/participants/4821/export?format=xml", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format: status %d", resp.StatusCode)
	}

	if resp := do(t, http.MethodDelete, srv.URL+"/api/participants/4821", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/api/participants/4821", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d", resp.StatusCode)
	}
	left, _ := store.ListSubmissions("5555", time.Time{})
	if len(left) != 1 {
		t.Fatalf("other participant's data removed")
	}
	gone, _ := store.ListSubmissions("4821", time.Time{})
	if len(gone) != 0 {
		t.Fatalf("submissions not purged")
	}
	audit, _ := store.ListAudit()
	if len(audit) == 0 || audit[len(audit)-1].Action != "self_delete" {
		t.Fatalf("delete not audited: %+v", audit)
	}
}
