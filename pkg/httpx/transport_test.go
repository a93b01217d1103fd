package httpx_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/opsdash/pkg/httpx"
	"github.com/aussiebroadwan/opsdash/pkg/idx"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) httpx.Tripperware {
		return func(next http.RoundTripper) http.RoundTripper {
			return httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}
	base := httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
	})

	_, err := httpx.ChainTransport(base, tag("a"), tag("b")).RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "base"}, order)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	base := httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header.Get(slogx.RequestIDHeader)
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	rt := httpx.ChainTransport(base, httpx.RequestID())

	t.Run("generates ULID without mutating caller request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://x/auth/me", nil)
		_, err := rt.RoundTrip(req)
		require.NoError(t, err)

		_, err = idx.Parse(seen)
		require.NoError(t, err)
		require.Empty(t, req.Header.Get(slogx.RequestIDHeader))
	})

	t.Run("keeps existing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://x/auth/me", nil)
		req.Header.Set(slogx.RequestIDHeader, "given")
		_, err := rt.RoundTrip(req)
		require.NoError(t, err)
		require.Equal(t, "given", seen)
	})
}

func TestRetryReads(t *testing.T) {
	t.Parallel()

	flaky := func(failures int) (http.RoundTripper, *int) {
		calls := 0
		return httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			if r.Body != nil {
				_, _ = io.ReadAll(r.Body)
			}
			if calls <= failures {
				return nil, errors.New("connection reset")
			}
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		}), &calls
	}

	t.Run("GET retried once", func(t *testing.T) {
		base, calls := flaky(1)
		resp, err := httpx.ChainTransport(base, httpx.RetryReads()).RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/clients", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 2, *calls)
	})

	t.Run("GET gives up after one retry", func(t *testing.T) {
		base, calls := flaky(5)
		_, err := httpx.ChainTransport(base, httpx.RetryReads()).RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/clients", nil))
		require.Error(t, err)
		require.Equal(t, 2, *calls)
	})

	t.Run("POST never retried", func(t *testing.T) {
		base, calls := flaky(1)
		req := httptest.NewRequest(http.MethodPost, "http://x/auth/logout", strings.NewReader("{}"))
		_, err := httpx.ChainTransport(base, httpx.RetryReads()).RoundTrip(req)
		require.Error(t, err)
		require.Equal(t, 1, *calls)
	})

	t.Run("error responses not retried", func(t *testing.T) {
		calls := 0
		base := httpx.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
		})
		resp, err := httpx.ChainTransport(base, httpx.RetryReads()).RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, 1, calls)
	})
}

func TestTagRequestID(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := httpx.TagRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slogx.FromContext(r.Context()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(slogx.WithContext(req.Context(), logger))
	req.Header.Set(slogx.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Contains(t, buf.String(), "req_id=req-42")
}
