package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/soaringjerry/FlashTrack/internal/api"
	"github.com/soaringjerry/FlashTrack/internal/config"
	"github.com/soaringjerry/FlashTrack/internal/middleware"
	"github.com/soaringjerry/FlashTrack/internal/utils"
)

func newHandler(cfg *config.ServerConfig, store api.Store, accessHash []byte, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	api.NewRouter(store, api.Options{
		AccessCodeHash: accessHash,
		StudyDays:      cfg.StudyDays,
		Logger:         logger,
	}).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "FlashTrack API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})

	var h http.Handler = mux
	h = middleware.RequireAPIKey([]byte(cfg.APISecret))(h)
	h = middleware.Locale(storedLocale(store))(h)
	h = middleware.SecureHeaders(h)
	h = middleware.NoStore(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return middleware.AccessLog(logger)(h)
}

// storedLocale looks up the locale a participant onboarded with.
func storedLocale(store api.Store) middleware.StoredLocale {
	return func(code string) string {
		p, err := store.GetParticipant(code)
		if err != nil || p == nil {
			return ""
		}
		return p.Locale
	}
}
