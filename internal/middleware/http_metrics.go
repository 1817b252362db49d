package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. This maps paths like /markers/BALD-0042 to
// /markers/{id}.
func normalizePath(path string) string {
	// Exact matches for static routes (no normalization needed)
	staticRoutes := map[string]bool{
		"/":               true,
		"/markers":        true,
		"/markers/nearby": true,
		"/markers/pins":   true,
		"/proposals":      true,
		"/clusters":       true,
		"/auth/register":  true,
		"/auth/login":     true,
		"/auth/refresh":   true,
		"/auth/logout":    true,
		"/auth/me":        true,
		"/proximity/ws":   true,
		"/uploads/sign":   true,
		"/scans":          true,
		"/health":         true,
		"/ready":          true,
		"/metrics":        true,
	}

	if staticRoutes[path] {
		return path
	}

	// /markers/{id} and /markers/{id}/scan
	if strings.HasPrefix(path, "/markers/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] == "scan" {
			return "/markers/{id}/scan"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/markers/{id}"
		}
	}

	// /proposals/{id} and /proposals/{id}/convert
	if strings.HasPrefix(path, "/proposals/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] == "convert" {
			return "/proposals/{id}/convert"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/proposals/{id}"
		}
	}

	// /clusters/{id}, /clusters/{id}/manifest, and /clusters/{id}/compiled
	if strings.HasPrefix(path, "/clusters/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] == "manifest" {
			return "/clusters/{id}/manifest"
		}
		if len(parts) == 4 && parts[3] == "compiled" {
			return "/clusters/{id}/compiled"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/clusters/{id}"
		}
	}

	// Fallback: return as-is for unknown patterns
	// This ensures we don't accidentally break metrics for new routes
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded from metrics to avoid cardinality issues.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exclude health check endpoints from metrics
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			mrw := newMetricsResponseWriter(w)

			// Get request size from Content-Length header
			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start).Seconds()

			// Normalize path to prevent cardinality explosion
			normalizedPath := normalizePath(r.URL.Path)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizedPath,
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
