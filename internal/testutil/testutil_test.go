package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForChannel(t *testing.T) {
	t.Parallel()
	ch := make(chan struct{})
	close(ch)
	WaitForChannel(t, ch, ShortTestTimeout, "closed channel must not block")
}

func TestGatedTileResponder(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	respond := GatedTileResponder(gate)

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://tiles.test/0/0/0.png", http.NoBody)
	require.NoError(t, err)
	cancel()
	_, err = respond(req)
	require.ErrorIs(t, err, context.Canceled)

	close(gate)
	req, err = http.NewRequestWithContext(t.Context(), http.MethodGet, "https://tiles.test/0/0/0.png", http.NoBody)
	require.NoError(t, err)
	resp, err := respond(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
