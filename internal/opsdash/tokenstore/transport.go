package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
)

type (
	overrideKey struct{}
	quietKey    struct{}
)

// WithToken pins the bearer token for requests made with ctx. Pinned requests
// never trigger the forced-logout hook, which lets logout flows call the API
// with a token that has already been cleared locally.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, overrideKey{}, token)
}

// Quiet suppresses error reporting for requests made with ctx. Used for
// best-effort calls whose failure the caller ignores.
func Quiet(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietKey{}, true)
}

func isQuiet(ctx context.Context) bool {
	q, _ := ctx.Value(quietKey{}).(bool)
	return q
}

func tokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(overrideKey{}).(string)
	return t, ok
}

// maxReportBody caps how much of an error body is buffered for reporting.
const maxReportBody = 64 << 10

// Transport injects credentials and inspects responses.
func (s *Store) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{store: s, base: base}
}

type transport struct {
	store *Store
	base  http.RoundTripper
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	s := t.store
	ctx := r.Context()

	token, pinned := tokenFromContext(ctx)
	var epoch uint64
	if !pinned {
		token, epoch = s.current()
	}

	r = r.Clone(ctx)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if s.apiKey != "" {
		r.Header.Set(s.apiKeyHeader, s.apiKey)
	}

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !isQuiet(ctx) {
			notify.Error(s.notifier, notify.MsgNetwork)
		}
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if !pinned && token != "" {
			s.unauthorized(ctx, epoch)
		}
	case resp.StatusCode >= http.StatusBadRequest && !isQuiet(ctx):
		s.report(resp)
	}
	return resp, nil
}

// report surfaces an error response and leaves its body readable for the caller.
func (s *Store) report(resp *http.Response) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		s.logger.Debug("failed to buffer error body", "error", err)
	}

	apiErr := authsdk.ErrorFromResponse(resp.StatusCode, body)
	notify.Error(s.notifier, notify.MessageFor(apiErr))
}
