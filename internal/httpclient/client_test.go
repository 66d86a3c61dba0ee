package httpclient

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahgolmant/label-tiles/internal/errors"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := newTestClient(t, nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.Equal(t, int64(DefaultMaxBodyBytes), client.maxBodyBytes)
	})

	t.Run("custom config", func(t *testing.T) {
		client := newTestClient(t, &Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		client := newTestClient(t, &Config{})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.NotEmpty(t, client.userAgent)
	})
}

func TestFetchReturnsBody(t *testing.T) {
	client := newMockedClient(t, &Config{UserAgent: "tiles-test/2.0"})

	var gotUA string
	httpmock.RegisterResponder(http.MethodGet, "https://tiles.example.com/3/1/2.png",
		func(req *http.Request) (*http.Response, error) {
			gotUA = req.Header.Get("User-Agent")
			return httpmock.NewBytesResponse(http.StatusOK, []byte("PNGDATA")), nil
		})

	body, err := client.Fetch(t.Context(), "https://tiles.example.com/3/1/2.png")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(body))
	assert.Equal(t, "tiles-test/2.0", gotUA)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestFetchNon2xx(t *testing.T) {
	client := newMockedClient(t, nil)
	httpmock.RegisterResponder(http.MethodGet, "=~^https://tiles\\.example\\.com/",
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	_, err := client.Fetch(t.Context(), "https://tiles.example.com/9/9/9.png")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFetchBodyLimit(t *testing.T) {
	client := newMockedClient(t, &Config{MaxBodyBytes: 4})
	httpmock.RegisterResponder(http.MethodGet, "https://tiles.example.com/big.png",
		httpmock.NewStringResponder(http.StatusOK, strings.Repeat("x", 5)))

	_, err := client.Fetch(t.Context(), "https://tiles.example.com/big.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchDefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	_, err := client.Fetch(t.Context(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestFetchTransportErrorIsNetworkCategory(t *testing.T) {
	client := New(nil)
	mt := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mt
	mt.RegisterResponder(http.MethodGet, "https://tiles.example.com/1/0/0.png",
		httpmock.NewErrorResponder(errors.NewStd("connection refused")))

	_, err := client.Fetch(t.Context(), "https://tiles.example.com/1/0/0.png")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFetchCancelledContext(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := client.Fetch(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserverSeesEveryRequest(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "fail") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	client := newTestClient(t, nil)

	var mu sync.Mutex
	statuses := map[int]int{}
	client.SetObserver(func(_ *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
		statuses[resp.StatusCode]++
	})

	var failures atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			path := "/ok"
			if i%4 == 0 {
				path = "/fail"
			}
			if _, err := client.Fetch(t.Context(), server.URL+path); err != nil {
				failures.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(5), failures.Load())
	assert.Equal(t, map[int]int{http.StatusOK: 15, http.StatusBadGateway: 5}, statuses)
}
