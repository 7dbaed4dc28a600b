package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusWriter wraps http.ResponseWriter to capture the status code for
// the requests-total counter.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request count and latency per route. route
// should be the chi route pattern (e.g. "/enrichment/status/{id}"), not
// the raw path, to keep cardinality bounded.
func (reg *Registry) HTTPMiddleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			statusClass := strconv.Itoa(sw.statusCode/100) + "xx"
			reg.HTTPRequestsTotal.WithLabelValues(route, statusClass).Inc()
			reg.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
