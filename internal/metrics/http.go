package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// uuidSegment matches UUID path segments so per-resource URLs collapse into
// one metric series instead of one per ID.
var uuidSegment = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

func routeLabel(path string) string {
	return uuidSegment.ReplaceAllString(path, "{id}")
}

// statusRecorder captures the response status for the metric labels.
// Unwrap keeps http.ResponseController working through the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wrote {
		sr.status = code
		sr.wrote = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wrote = true
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Middleware records request count, latency, and in-flight gauge per route.
// The scrape and probe endpoints are excluded; they would dominate the
// series without telling us anything.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		route := routeLabel(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sr.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
