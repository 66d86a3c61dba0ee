// Package testutil provides shared test helpers for label-tiles packages:
// bounded waits and canned tile responses for httpmock transports.
package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for async test operations.
	DefaultTestTimeout = 10 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = time.Second
)

// FakePNG is a tile body; only the PNG signature is real
var FakePNG = []byte("\x89PNG\r\n\x1a\nfake")

// WaitForChannel waits for ch to be closed or to deliver, or fails after timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// GatedTileResponder answers with FakePNG once gate is closed. Until then
// requests block and fail with their context error when cancelled.
func GatedTileResponder(gate <-chan struct{}) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		select {
		case <-gate:
			return httpmock.NewBytesResponse(http.StatusOK, FakePNG), nil
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}
