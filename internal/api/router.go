package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/middleware"
	"github.com/soaringjerry/FlashTrack/internal/services"
)

// Options configure the services behind the router.
type Options struct {
	// AccessCodeHash is the bcrypt hash of the study access code.
	AccessCodeHash []byte
	StudyDays      int
	Logger         *slog.Logger
}

type Router struct {
	catalog      *services.CatalogService
	participants *services.ParticipantService
	consent      *services.ConsentService
	submissions  *services.SubmissionService
	status       *services.StatusService
	endOfStudy   *services.EndOfStudyService
	logger       *slog.Logger
}

func NewRouter(store Store, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		catalog:      services.NewCatalogService(store),
		participants: services.NewParticipantService(store, opts.AccessCodeHash),
		consent:      services.NewConsentService(store),
		submissions:  services.NewSubmissionService(store),
		status:       services.NewStatusService(store, opts.StudyDays),
		endOfStudy:   services.NewEndOfStudyService(store),
		logger:       logger,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/time-segments", rt.handleTimeSegments) // GET
	mux.HandleFunc("/api/questions", rt.handleQuestions)        // GET
	mux.HandleFunc("/api/codes/", rt.handleCode)                // GET /api/codes/{code}
	mux.HandleFunc("/api/onboarding", rt.handleOnboarding)      // POST
	mux.HandleFunc("/api/consent", rt.handleConsent)            // POST
	mux.HandleFunc("/api/responses", rt.handleResponses)        // GET, POST
	mux.HandleFunc("/api/participants/", rt.handleParticipant)  // GET, DELETE /api/participants/{code}[/...]

	mux.HandleFunc("/api/end-of-study/questions", rt.handleEndOfStudyQuestions) // GET
	mux.HandleFunc("/api/end-of-study/responses", rt.handleEndOfStudyResponses) // GET ?code=, POST
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusBadRequest
		switch se.Code {
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		}
		writeErrorMessage(w, status, se.Message)
		return
	}
	if errors.Is(err, checkin.ErrConfiguration) {
		rt.logger.Error("check-in configuration invalid", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeErrorMessage(w, http.StatusServiceUnavailable, "study is not configured")
		return
	}
	rt.logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	writeErrorMessage(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
}

// GET /api/time-segments: active windows ordered by time of day
func (rt *Router) handleTimeSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	segs, err := rt.catalog.ActiveWindows()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

// GET /api/questions: active questions ordered by id
func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	qs, err := rt.catalog.ActiveQuestions()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

// GET /api/codes/{code}: availability of a participant code
func (rt *Router) handleCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/codes/"), "/")
	if code == "" || strings.Contains(code, "/") {
		http.NotFound(w, r)
		return
	}
	avail, err := rt.participants.CheckCode(code)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unique_code": code, "available": avail})
}

// POST /api/onboarding
// { access_code, unique_code, start_date?, locale? }
func (rt *Router) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		AccessCode string `json:"access_code"`
		Code       string `json:"unique_code"`
		StartDate  string `json:"start_date"`
		Locale     string `json:"locale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}
	p, err := rt.participants.Onboard(services.OnboardRequest{AccessCode: req.AccessCode, Code: req.Code, StartDate: req.StartDate, Locale: req.Locale})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /api/consent
// { unique_code, version, locale?, signed_at?, evidence? }
func (rt *Router) handleConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Code     string `json:"unique_code"`
		Version  string `json:"version"`
		Locale   string `json:"locale"`
		SignedAt string `json:"signed_at"`
		Evidence string `json:"evidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}
	res, err := rt.consent.Sign(services.ConsentSignRequest{Code: req.Code, Version: req.Version, Locale: req.Locale, SignedAt: req.SignedAt, Evidence: req.Evidence})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (rt *Router) handleResponses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.submitResponse(w, r)
	case http.MethodGet:
		rt.listResponses(w, r)
	default:
		methodNotAllowed(w)
	}
}

// POST /api/responses
// { unique_code, created_at?, answers: {"<question id>": count} }
// Flat count_<id> fields are accepted as well.
func (rt *Router) submitResponse(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	var req services.SubmitRequest
	if err := decodeField(raw, "unique_code", &req.Code); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "unique_code must be a string")
		return
	}
	if err := decodeField(raw, "created_at", &req.CreatedAt); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "created_at must be a string")
		return
	}
	req.Answers = map[int]int{}
	if err := decodeField(raw, "answers", &req.Answers); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "answers must map question ids to counts")
		return
	}
	for k, v := range raw {
		idStr, ok := strings.CutPrefix(k, "count_")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid field "+k)
			return
		}
		var n *int
		if err := json.Unmarshal(v, &n); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, k+" must be an integer")
			return
		}
		if n != nil {
			req.Answers[id] = *n
		}
	}
	sub, err := rt.submissions.Submit(req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func decodeField(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// GET /api/responses?code=...&since=RFC3339
func (rt *Router) listResponses(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	subs, err := rt.submissions.ListSince(code, since)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// /api/participants/{code}                DELETE
// /api/participants/{code}/start-date     GET
// /api/participants/{code}/export         GET [?format=csv]
// /api/participants/{code}/status         GET [?tz=Area/City]
func (rt *Router) handleParticipant(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/participants/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	code := parts[0]
	if code == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := rt.participants.Delete(code); err != nil {
			rt.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch parts[1] {
	case "start-date":
		start, err := rt.participants.StartDate(code)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unique_code": code, "start_date": start})
	case "export":
		rt.exportParticipant(w, r, code)
	case "status":
		loc := time.UTC
		if tz := r.URL.Query().Get("tz"); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				writeErrorMessage(w, http.StatusBadRequest, "unknown time zone")
				return
			}
			loc = l
		}
		st, err := rt.status.Status(code, loc)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) exportParticipant(w http.ResponseWriter, r *http.Request, code string) {
	switch r.URL.Query().Get("format") {
	case "", "json":
		exp, err := rt.participants.Export(code)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	case "csv":
		b, err := rt.participants.ExportCSV(code)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=flashtrack-"+code+".csv")
		_, _ = w.Write(b)
	default:
		writeErrorMessage(w, http.StatusBadRequest, "unsupported format")
	}
}
