package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/soaringjerry/FlashTrack/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// StoredLocale returns the locale a participant chose at onboarding, or ""
// when the code is unknown.
type StoredLocale func(code string) string

// Locale resolves the request locale and stores it in the context. An
// explicit ?lang= wins; a request about one participant then uses the
// locale recorded at onboarding; Accept-Language comes last. The result
// is echoed in Content-Language.
func Locale(stored StoredLocale) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			qLang := r.URL.Query().Get("lang")
			if qLang == "" && stored != nil {
				if code := participantCode(r); code != "" {
					qLang = stored(code)
				}
			}
			locale := utils.DetermineLocale(qLang, r.Header.Get("Accept-Language"), utils.SupportedLocales, "en")
			w.Header().Set("Content-Language", locale)
			ctx := context.WithValue(r.Context(), localeKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// participantCode finds the participant a request is about: the first
// segment under /api/participants/, or the ?code= filter.
func participantCode(r *http.Request) string {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/participants/"); ok {
		code, _, _ := strings.Cut(strings.Trim(rest, "/"), "/")
		return code
	}
	return strings.TrimSpace(r.URL.Query().Get("code"))
}

func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok {
		return s
	}
	return "en"
}
