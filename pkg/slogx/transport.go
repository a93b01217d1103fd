package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader is the header outgoing requests carry their correlation id in.
const RequestIDHeader = "X-Request-ID"

// Transport logs every outgoing request at debug level and failures at warn.
// The contextual logger from the request context is preferred over base.
func Transport(base *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		logger := base
		if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
			logger = l
		}
		logger = logger.With(
			"req_id", r.Header.Get(RequestIDHeader),
			"method", r.Method,
			"path", r.URL.Path,
		)

		resp, err := next.RoundTrip(r)
		duration := time.Since(start).Milliseconds()
		if err != nil {
			logger.Warn("api_request_failed", "duration_ms", duration, "error", err)
			return nil, err
		}

		level := slog.LevelDebug
		if resp.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "api_request",
			"status", resp.StatusCode,
			"duration_ms", duration,
		)
		return resp, nil
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
