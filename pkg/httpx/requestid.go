package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/opsdash/pkg/idx"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
)

// RequestID stamps every outgoing request lacking one with a fresh ULID
// in the X-Request-ID header. The request is cloned, never mutated.
func RequestID() Tripperware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get(slogx.RequestIDHeader) != "" {
				return next.RoundTrip(r)
			}
			r = r.Clone(r.Context())
			r.Header.Set(slogx.RequestIDHeader, idx.New().String())
			return next.RoundTrip(r)
		})
	}
}

// TagRequestID is the server-side counterpart of RequestID: the request's
// context logger gains a req_id attribute taken from X-Request-ID.
func TagRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(slogx.RequestIDHeader); id != "" {
			r = r.WithContext(slogx.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
