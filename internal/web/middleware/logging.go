// Package middleware holds the HTTP middleware of the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/laptiming/internal/logging"
)

// quietPaths are polled by infrastructure and logged at debug.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// Logger writes one access entry per request through the request-scoped
// logger. Entries carry the route pattern instead of the raw path, and the
// job id when the route has one. Server errors log at error level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := wrap(w)

		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"route", routePattern(r),
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		}
		if jobID := chi.URLParam(r, "jobID"); jobID != "" {
			attrs = append(attrs, "job_id", jobID)
		}
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, "user_agent", ua)
		}

		ctx := r.Context()
		logging.FromContext(ctx).Log(ctx, accessLevel(r.URL.Path, ww.status), "request", attrs...)
	})
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
