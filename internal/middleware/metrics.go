package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/snippetvault/internal/metrics"
)

// Metrics records request count and latency per route pattern.
//
// WHY THE ROUTE PATTERN?
// Labelling by r.URL.Path would create one time series per snippet id
// (/api/snippets/cv37..., /api/snippets/cv38...), which grows without bound.
// chi's pattern (/api/snippets/{id}) keeps the label set small and fixed.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// a handler that never calls WriteHeader has answered 200
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}
