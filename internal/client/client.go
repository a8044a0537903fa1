// Package client talks to the FlashTrack API on behalf of a participant
// device.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/models"
)

// ErrTransient marks failures worth retrying later: network errors,
// timeouts and 5xx answers.
var ErrTransient = errors.New("remote store unavailable")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote store: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("remote store: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Retries is 0 or 1.
	Retries    int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
	retries int
	hc      *http.Client
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries > 1 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{base: base, apiKey: cfg.APIKey, timeout: timeout, retries: retries, hc: hc, logger: logger}, nil
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends one request, retrying once on transient failures. out may be nil.
func (c *Client) do(ctx context.Context, method, p string, q url.Values, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying remote call", slog.String("method", method), slog.String("path", p), slog.String("error", err.Error()))
		}
		err = c.once(ctx, method, c.endpoint(p, q), body, out)
		if err == nil || !errors.Is(err, ErrTransient) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// FetchTimeSegments returns the active windows as served.
func (c *Client) FetchTimeSegments(ctx context.Context) ([]models.TimeSegment, error) {
	var segs []models.TimeSegment
	if err := c.do(ctx, http.MethodGet, "/api/time-segments", nil, nil, &segs); err != nil {
		return nil, fmt.Errorf("fetch time segments: %w", err)
	}
	return segs, nil
}

// FetchCatalog returns the session catalog. A malformed or ambiguous
// window set is reported as a *checkin.ConfigurationError.
func (c *Client) FetchCatalog(ctx context.Context) (*checkin.Catalog, error) {
	segs, err := c.FetchTimeSegments(ctx)
	if err != nil {
		return nil, err
	}
	return models.Catalog(segs)
}

func (c *Client) FetchQuestions(ctx context.Context) ([]models.Question, error) {
	var qs []models.Question
	if err := c.do(ctx, http.MethodGet, "/api/questions", nil, nil, &qs); err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	return qs, nil
}

// FetchSubmissions lists the participant's submissions created at or after since.
func (c *Client) FetchSubmissions(ctx context.Context, code string, since time.Time) ([]models.Submission, error) {
	q := url.Values{"code": {code}}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	var subs []models.Submission
	if err := c.do(ctx, http.MethodGet, "/api/responses", q, nil, &subs); err != nil {
		return nil, fmt.Errorf("fetch submissions: %w", err)
	}
	return subs, nil
}

// FetchStartDate returns midnight of the participant's first study day in
// loc, or nil when the server has no start date for the code.
func (c *Client) FetchStartDate(ctx context.Context, code string, loc *time.Location) (*time.Time, error) {
	var res struct {
		StartDate string `json:"start_date"`
	}
	err := c.do(ctx, http.MethodGet, "/api/participants/"+url.PathEscape(code)+"/start-date", nil, nil, &res)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch start date: %w", err)
	}
	if res.StartDate == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(time.DateOnly, res.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("fetch start date: %w", err)
	}
	return &t, nil
}

// Submit records one check-in. A zero createdAt lets the server stamp it.
func (c *Client) Submit(ctx context.Context, code string, answers map[int]int, createdAt time.Time) (*models.Submission, error) {
	req := struct {
		Code      string      `json:"unique_code"`
		CreatedAt string      `json:"created_at,omitempty"`
		Answers   map[int]int `json:"answers"`
	}{Code: code, Answers: answers}
	if !createdAt.IsZero() {
		req.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	}
	var sub models.Submission
	if err := c.do(ctx, http.MethodPost, "/api/responses", nil, req, &sub); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return &sub, nil
}

// CheckCode reports whether code is still free.
func (c *Client) CheckCode(ctx context.Context, code string) (bool, error) {
	var res struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/codes/"+url.PathEscape(code), nil, nil, &res); err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return res.Available, nil
}

type OnboardRequest struct {
	AccessCode string `json:"access_code"`
	Code       string `json:"unique_code"`
	StartDate  string `json:"start_date,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

func (c *Client) Onboard(ctx context.Context, req OnboardRequest) (*models.Participant, error) {
	var p models.Participant
	if err := c.do(ctx, http.MethodPost, "/api/onboarding", nil, req, &p); err != nil {
		return nil, fmt.Errorf("onboard: %w", err)
	}
	return &p, nil
}

// DeleteData purges the participant remotely. An unknown code counts as
// already deleted.
func (c *Client) DeleteData(ctx context.Context, code string) error {
	err := c.do(ctx, http.MethodDelete, "/api/participants/"+url.PathEscape(code), nil, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete data: %w", err)
	}
	return nil
}

// Status asks the server to compute the read model in the IANA zone tz.
func (c *Client) Status(ctx context.Context, code, tz string) (*checkin.CheckInStatus, error) {
	var q url.Values
	if tz != "" {
		q = url.Values{"tz": {tz}}
	}
	var st checkin.CheckInStatus
	if err := c.do(ctx, http.MethodGet, "/api/participants/"+url.PathEscape(code)+"/status", q, nil, &st); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &st, nil
}

// FetchEndOfStudyQuestions returns the active questions in questionnaire order.
func (c *Client) FetchEndOfStudyQuestions(ctx context.Context) ([]models.EndOfStudyQuestion, error) {
	var qs []models.EndOfStudyQuestion
	if err := c.do(ctx, http.MethodGet, "/api/end-of-study/questions", nil, nil, &qs); err != nil {
		return nil, fmt.Errorf("fetch end-of-study questions: %w", err)
	}
	return qs, nil
}

func (c *Client) HasEndOfStudyResponse(ctx context.Context, code string) (bool, error) {
	var res struct {
		Submitted bool `json:"submitted"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/end-of-study/responses", url.Values{"code": {code}}, nil, &res); err != nil {
		return false, fmt.Errorf("check end-of-study response: %w", err)
	}
	return res.Submitted, nil
}

// SubmitEndOfStudy sends the ratings keyed by question id.
func (c *Client) SubmitEndOfStudy(ctx context.Context, code string, ratings map[int]int) (*models.EndOfStudyResponse, error) {
	req := struct {
		Code    string      `json:"unique_code"`
		Answers map[int]int `json:"answers"`
	}{Code: code, Answers: ratings}
	var res models.EndOfStudyResponse
	if err := c.do(ctx, http.MethodPost, "/api/end-of-study/responses", nil, req, &res); err != nil {
		return nil, fmt.Errorf("submit end-of-study: %w", err)
	}
	return &res, nil
}
