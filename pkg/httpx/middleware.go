package httpx

import "net/http"

// Middleware wraps a server-side handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Tripperware wraps a client-side transport.
type Tripperware func(http.RoundTripper) http.RoundTripper

// ChainTransport applies tws to base so that the first tripperware sees the request first.
func ChainTransport(base http.RoundTripper, tws ...Tripperware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(tws) - 1; i >= 0; i-- {
		base = tws[i](base)
	}
	return base
}

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
