package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jarcoal/httpmock"
)

// newTestClient creates a Client with the given config and registers cleanup.
func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

// newMockedClient returns a Client whose transport is intercepted by httpmock.
func newMockedClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := newTestClient(t, cfg)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(func() {
		httpmock.DeactivateNonDefault(client.HTTPClient())
		httpmock.Reset()
	})
	return client
}

// newTestServer creates a test HTTP server and registers cleanup.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}
