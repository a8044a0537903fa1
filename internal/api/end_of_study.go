package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/soaringjerry/FlashTrack/internal/services"
)

// GET /api/end-of-study/questions: active questions in questionnaire order
func (rt *Router) handleEndOfStudyQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	qs, err := rt.endOfStudy.Questions()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

// GET  /api/end-of-study/responses?code=...  -> { unique_code, submitted }
// POST /api/end-of-study/responses
// { unique_code, answers: {"<question id>": 0..10} }
// Positional Q1..Qn fields, numbers or numeric strings, are accepted as well.
func (rt *Router) handleEndOfStudyResponses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		code := strings.TrimSpace(r.URL.Query().Get("code"))
		done, err := rt.endOfStudy.Submitted(code)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unique_code": code, "submitted": done})
	case http.MethodPost:
		rt.submitEndOfStudy(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) submitEndOfStudy(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	var req services.EndOfStudyRequest
	if err := decodeField(raw, "unique_code", &req.Code); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "unique_code must be a string")
		return
	}
	if err := decodeField(raw, "answers", &req.Answers); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "answers must map question ids to ratings")
		return
	}
	for k, v := range raw {
		posStr, ok := strings.CutPrefix(k, "Q")
		if !ok {
			continue
		}
		pos, err := strconv.Atoi(posStr)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid field "+k)
			return
		}
		rating, err := decodeRating(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, k+" must be an integer")
			return
		}
		if req.ByPosition == nil {
			req.ByPosition = map[int]int{}
		}
		req.ByPosition[pos] = rating
	}
	res, err := rt.endOfStudy.Submit(req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func decodeRating(v json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}
