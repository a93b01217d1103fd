package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// APIKeyHeader is the default header carrying a tenant API key.
const APIKeyHeader = "X-API-Key"

// SDKClient is a client for the dashboard API's identity and client endpoints.
//
// It never sets Authorization itself: bearer and API-key injection belong to the
// HTTPClient's transport, so every call shares one interception point.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new API client with a plain HTTP client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewSDKClientWithTransport creates a client whose requests go through rt.
func NewSDKClientWithTransport(baseURL string, rt http.RoundTripper, timeout time.Duration) *SDKClient {
	c := NewSDKClient(baseURL)
	c.HTTPClient.Transport = rt
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	return c
}
