package httpx

import (
	"context"
	"errors"
	"net/http"
)

// RetryReads retries GET and HEAD requests once when the transport itself fails.
// Responses, whatever their status, are never retried, and neither is any other method:
// a mutation that reached the server must not be replayed.
func RetryReads() Tripperware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(r)
			if err == nil || !isRead(r) || r.Context().Err() != nil || errors.Is(err, context.Canceled) {
				return resp, err
			}
			if r.Body != nil && r.Body != http.NoBody {
				if r.GetBody == nil {
					return resp, err
				}
				body, gerr := r.GetBody()
				if gerr != nil {
					return resp, err
				}
				r = r.Clone(r.Context())
				r.Body = body
			}
			return next.RoundTrip(r)
		})
	}
}

func isRead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}
