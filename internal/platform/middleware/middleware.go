// Package middleware provides HTTP middleware for the chi router, adapted
// from the teacher's infrastructure/middleware.MetricsMiddleware (rebased
// from gorilla/mux's route-template lookup onto chi's RouteContext) plus a
// request-id / recover pair grounded on the same package's conventions.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Metrics records per-request counters and latency histograms, using chi's
// route pattern (when available) as the path label to avoid cardinality
// blowup from path parameters.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.InFlightRequests.Inc()
			defer m.InFlightRequests.Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			m.ObserveHTTPRequest(r.Method, path, statusLabel(wrapped.statusCode), time.Since(start))
		})
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// TraceID injects an X-Trace-ID into the request context and response
// header, generating one when the caller did not supply it.
func TraceID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Trace-ID")
			if id == "" {
				id = logging.NewTraceID()
			}
			w.Header().Set("X-Trace-ID", id)
			ctx := logging.WithTraceID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies a single node-wide token-bucket limit across every
// request, distinct from the domain Reputation & Rate Engine's
// per-identity admission (§4.4) — this guards the HTTP surface itself
// against being overwhelmed, adapted from the teacher's
// infrastructure/ratelimit.RateLimiter (golang.org/x/time/rate wrapped with
// a burst bound) down to the single limiter this node's ingress needs.
func RateLimit(requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 100
	}
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				httputil.WriteErrorResponse(w, r, http.StatusTooManyRequests, "HTTP_RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a panic in a downstream handler into a logged 500 response
// instead of crashing the node.
func Recover(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithContext(r.Context()).WithField("panic", rec).Error("panic recovered")
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
