package middleware

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/laptiming/internal/metrics"
)

// Metrics records request count and duration per chi route pattern.
// A nil manager disables recording.
func Metrics(m *metrics.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrap(w)

			next.ServeHTTP(ww, r)

			m.RecordHTTPRequest(routePattern(r), r.Method, ww.status, time.Since(start))
		})
	}
}
