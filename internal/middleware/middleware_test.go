package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		_, _ = w.Write([]byte(role))
	})
}

func TestRequireAPIKey(t *testing.T) {
	key, err := SignAPIKey(testSecret, RoleAnon, 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := RequireAPIKey(testSecret)(okHandler())

	cases := []struct {
		name   string
		path   string
		header map[string]string
		status int
		body   string
	}{
		{"apikey header", "/api/questions", map[string]string{"apikey": key}, http.StatusOK, RoleAnon},
		{"bearer", "/api/questions", map[string]string{"Authorization": "Bearer " + key}, http.StatusOK, RoleAnon},
		{"missing", "/api/questions", nil, http.StatusUnauthorized, ""},
		{"garbage", "/api/questions", map[string]string{"apikey": "nope"}, http.StatusUnauthorized, ""},
		{"health exempt", "/health", nil, http.StatusOK, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: status %d, want %d", tc.name, rr.Code, tc.status)
		}
		if tc.status == http.StatusOK && rr.Body.String() != tc.body {
			t.Fatalf("%s: body %q, want %q", tc.name, rr.Body.String(), tc.body)
		}
	}
}

func TestAPIKeyRejectsOtherSecretAndExpired(t *testing.T) {
	other, _ := SignAPIKey([]byte("other"), RoleAnon, 0)
	if _, err := ParseAPIKey(testSecret, other); err == nil {
		t.Fatalf("expected signature error")
	}
	// non-positive ttl leaves the key without expiry
	noExpiry, _ := SignAPIKey(testSecret, RoleAnon, -time.Minute)
	if _, err := ParseAPIKey(testSecret, noExpiry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	short, _ := SignAPIKey(testSecret, RoleAnon, time.Nanosecond)
	time.Sleep(1100 * time.Millisecond)
	if _, err := ParseAPIKey(testSecret, short); err == nil {
		t.Fatalf("expected expiry error")
	}
	if _, err := SignAPIKey(nil, RoleAnon, 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(nil)(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/responses", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "apikey") {
		t.Fatalf("apikey header not allowed")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin")
	}
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://study.example.org"})(okHandler())
	for origin, want := range map[string]string{
		"https://study.example.org": "https://study.example.org",
		"https://evil.example.com":  "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/questions", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: allow-origin %q, want %q", origin, got, want)
		}
	}
}

func TestHeaderMiddleware(t *testing.T) {
	h := NoStore(SecureHeaders(okHandler()))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Header().Get("Cache-Control") == "" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("headers missing: %v", rr.Header())
	}
}

func TestLocaleMiddleware(t *testing.T) {
	var got string
	h := Locale(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got != "zh" || rr.Header().Get("Content-Language") != "zh" {
		t.Fatalf("locale = %q, header %q", got, rr.Header().Get("Content-Language"))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health?lang=en", nil))
	if got != "en" {
		t.Fatalf("locale = %q", got)
	}
}

func TestLocaleUsesParticipantChoice(t *testing.T) {
	onboarded := map[string]string{"4821": "zh", "7777": "de"}
	var asked []string
	var got string
	h := Locale(func(code string) string {
		asked = append(asked, code)
		return onboarded[code]
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))

	cases := []struct {
		target, accept, want string
	}{
		{"/api/participants/4821/status", "en-US", "zh"},
		{"/api/responses?code=4821", "en-US", "zh"},
		{"/api/participants/4821/status?lang=en", "", "en"},
		{"/api/participants/9999/status", "zh", "zh"},
		{"/api/participants/7777/export", "", "en"},
		{"/api/questions", "zh", "zh"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.target, nil)
		if c.accept != "" {
			req.Header.Set("Accept-Language", c.accept)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != c.want {
			t.Errorf("%s: locale = %q, want %q", c.target, got, c.want)
		}
	}
	if len(asked) != 4 {
		t.Fatalf("lookups = %v, want only requests naming a participant without ?lang=", asked)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/responses?code=4821", nil))
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || strings.Contains(out, "4821") {
		t.Fatalf("unexpected log %s", out)
	}
}
