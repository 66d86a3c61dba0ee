package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/diskmanager"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/httpclient"
	"github.com/noahgolmant/label-tiles/internal/progress"
	"github.com/noahgolmant/label-tiles/internal/securefs"
	"github.com/noahgolmant/label-tiles/internal/testutil"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var fakePNG = testutil.FakePNG

func testServer(template string) conf.TileServer {
	ts := conf.TileServer{ID: "test", Name: "Test", URLTemplate: template}
	ts.ApplyDefaults()
	return ts
}

func rowOfTiles(n int) []tiles.TileAddress {
	out := make([]tiles.TileAddress, n)
	for i := range out {
		out[i] = tiles.TileAddress{Z: 4, X: i, Y: 3}
	}
	return out
}

// newMockedScheduler returns a scheduler whose client talks to a private httpmock transport
func newMockedScheduler(t *testing.T, cfg Config) (*Scheduler, *securefs.SecureFS, *httpmock.MockTransport) {
	t.Helper()
	client := httpclient.New(nil)
	mt := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mt

	fs, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return NewScheduler(client, fs, cfg), fs, mt
}

func waitJob(t *testing.T, job *Job) (progress.Snapshot, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	snap, err := job.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "job did not finish")
	return snap, err
}

func TestSkipExistingMakesNoRequest(t *testing.T) {
	t.Parallel()
	sched, fs, mt := newMockedScheduler(t, Config{})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/`,
		httpmock.NewBytesResponder(http.StatusOK, fakePNG))

	addrs := rowOfTiles(10)
	for _, a := range addrs[:3] {
		require.NoError(t, fs.WriteFileAtomic(t.Context(), CachePath("test", a), []byte("cached"), 0o644))
	}

	job, err := sched.Start(t.Context(), Request{
		Server:       testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses:    addrs,
		Mode:         ModeAll,
		SkipExisting: true,
	})
	require.NoError(t, err)

	snap, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusDone, snap.Status)
	assert.Equal(t, 3, snap.Skipped)
	assert.Equal(t, 7, snap.Completed)
	assert.Equal(t, 0, snap.Failed)
	assert.Equal(t, 7, mt.GetTotalCallCount())

	cached, err := fs.ReadFile(CachePath("test", addrs[0]))
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), cached, "skipped tiles are not rewritten")
	fetched, err := fs.ReadFile(CachePath("test", addrs[9]))
	require.NoError(t, err)
	assert.Equal(t, fakePNG, fetched)
}

func TestWithoutSkipExistingRefetches(t *testing.T) {
	t.Parallel()
	sched, fs, mt := newMockedScheduler(t, Config{Workers: 2})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/`,
		httpmock.NewBytesResponder(http.StatusOK, fakePNG))

	addrs := rowOfTiles(4)
	require.NoError(t, fs.WriteFileAtomic(t.Context(), CachePath("test", addrs[0]), []byte("old"), 0o644))

	job, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: addrs,
		Mode:      ModeLabeled,
	})
	require.NoError(t, err)
	snap, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Completed)
	assert.Equal(t, 4, mt.GetTotalCallCount())

	data, err := fs.ReadFile(CachePath("test", addrs[0]))
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestFailuresAreCountedNotRetried(t *testing.T) {
	t.Parallel()
	sched, fs, mt := newMockedScheduler(t, Config{Workers: 3})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/4/\d*[02468]/`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/4/\d*[13579]/`,
		httpmock.NewBytesResponder(http.StatusOK, fakePNG))

	job, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: rowOfTiles(6),
		Mode:      ModeAll,
	})
	require.NoError(t, err)

	snap, err := waitJob(t, job)
	require.NoError(t, err, "per-tile failures do not fail the job")
	assert.Equal(t, progress.StatusDone, snap.Status)
	assert.Equal(t, 3, snap.Failed)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 6, mt.GetTotalCallCount())
	assert.Contains(t, snap.Error, "500")

	exists, err := fs.Exists(CachePath("test", tiles.TileAddress{Z: 4, X: 0, Y: 3}))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchErrorsHideCredentials(t *testing.T) {
	t.Parallel()
	sched, _, mt := newMockedScheduler(t, Config{Workers: 1})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/`,
		httpmock.NewErrorResponder(errors.NewStd("connection reset by peer")))

	job, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png?access_token=s3cret"),
		Addresses: rowOfTiles(1),
		Mode:      ModeAll,
	})
	require.NoError(t, err)

	snap, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Failed)
	assert.Contains(t, snap.Error, "connection reset by peer")
	assert.Contains(t, snap.Error, "access_token=REDACTED")
	assert.NotContains(t, snap.Error, "s3cret")
}

func TestSkipExistingAfterCancelIsAborted(t *testing.T) {
	t.Parallel()
	sched, fs, mt := newMockedScheduler(t, Config{Workers: 1})
	addr := tiles.TileAddress{Z: 3, X: 1, Y: 1}
	require.NoError(t, fs.WriteFileAtomic(t.Context(), CachePath("test", addr), fakePNG, tileFilePerm))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	req := Request{
		Server:       testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses:    []tiles.TileAddress{addr},
		Mode:         ModeAll,
		SkipExisting: true,
	}
	res := sched.fetchOne(ctx, &req, nil, addr)
	assert.Equal(t, outcomeAborted, res.outcome)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	fifth := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 4 {
			_, _ = w.Write(fakePNG)
			return
		}
		once.Do(func() { close(fifth) })
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client := httpclient.New(nil)
	t.Cleanup(client.Close)
	fs, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	sched := NewScheduler(client, fs, Config{Workers: 1})
	addrs := rowOfTiles(10)
	job, err := sched.Start(t.Context(), Request{
		Server:    testServer(srv.URL + "/{z}/{x}/{y}.png"),
		Addresses: addrs,
		Mode:      ModeAll,
	})
	require.NoError(t, err)

	testutil.WaitForChannel(t, fifth, testutil.DefaultTestTimeout, "fifth request never arrived")
	job.Cancel()

	snap, err := waitJob(t, job)
	require.ErrorIs(t, err, ErrJobCancelled)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.Equal(t, progress.StatusCancelled, snap.Status)
	assert.Equal(t, 4, snap.Completed)
	assert.Equal(t, 0, snap.Failed)
	assert.Equal(t, 10, snap.Total)

	entries, err := fs.ReadDir(TileDir + "/test")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"4_0_3.png", "4_1_3.png", "4_2_3.png", "4_3_3.png"}, names)

	// Cancelling a finished job is a no-op.
	job.Cancel()
	assert.True(t, job.Finished())
}

func TestParentContextCancelsJob(t *testing.T) {
	t.Parallel()
	sched, _, mt := newMockedScheduler(t, Config{Workers: 1})
	block := make(chan struct{})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/`, testutil.GatedTileResponder(block))

	ctx, cancel := context.WithCancel(t.Context())
	job, err := sched.Start(ctx, Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: rowOfTiles(3),
		Mode:      ModeAll,
	})
	require.NoError(t, err)
	cancel()

	snap, err := waitJob(t, job)
	require.ErrorIs(t, err, ErrJobCancelled)
	assert.Equal(t, progress.StatusCancelled, snap.Status)
	assert.Equal(t, 0, snap.Completed)
	close(block)
}

func TestSnapshotsAreOrderedAndTerminateOnce(t *testing.T) {
	t.Parallel()
	sched, _, mt := newMockedScheduler(t, Config{Workers: 4})
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/`,
		httpmock.NewBytesResponder(http.StatusOK, fakePNG))

	job, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: rowOfTiles(16),
		Mode:      ModeAll,
	})
	require.NoError(t, err)

	sub := job.Reporter().Subscribe()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	var seen []progress.Snapshot
	for {
		s, err := sub.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, s)
	}

	require.Len(t, seen, 18, "initial, one per tile, terminal")
	for i, s := range seen {
		assert.Equal(t, uint64(i+1), s.Seq)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Completed, seen[i-1].Completed)
		}
		assert.Equal(t, i == len(seen)-1, s.Status.Terminal())
	}
	assert.Nil(t, seen[0].CurrentTile)
	assert.Equal(t, 16, seen[len(seen)-1].Completed)
}

func TestEmptyJobFinishesImmediately(t *testing.T) {
	t.Parallel()
	sched, _, mt := newMockedScheduler(t, Config{})
	job, err := sched.Start(t.Context(), Request{
		Server: testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Mode:   ModeLabeled,
	})
	require.NoError(t, err)
	snap, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusDone, snap.Status)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	limited := testServer("https://tiles.test/{z}/{x}/{y}.png")
	limited.MaxZoom = 3

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown placeholder",
			req:     Request{Server: testServer("https://tiles.test/{z}/{x}/{y}.png?key={apikey}"), Mode: ModeAll},
			wantErr: ErrBadPlaceholder,
		},
		{
			name:    "unknown mode",
			req:     Request{Server: testServer("https://tiles.test/{z}/{x}/{y}.png"), Mode: "some"},
			wantErr: ErrInvalidJob,
		},
		{
			name:    "zoom outside server range",
			req:     Request{Server: limited, Mode: ModeAll, Addresses: rowOfTiles(1)},
			wantErr: ErrInvalidJob,
		},
		{
			name: "invalid address",
			req: Request{Server: testServer("https://tiles.test/{z}/{x}/{y}.png"), Mode: ModeAll,
				Addresses: []tiles.TileAddress{{Z: 1, X: 5, Y: 0}}},
			wantErr: tiles.ErrInvalidAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sched, _, mt := newMockedScheduler(t, Config{})
			job, err := sched.Start(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, job)
			assert.True(t, job.Finished())

			snap := job.Progress()
			assert.Equal(t, progress.StatusError, snap.Status)
			assert.Equal(t, uint64(1), snap.Seq)
			assert.NotEmpty(t, snap.Error)
			assert.Equal(t, 0, mt.GetTotalCallCount())
		})
	}
}

func TestStartEnforcesMaxTiles(t *testing.T) {
	t.Parallel()
	sched, _, _ := newMockedScheduler(t, Config{MaxTiles: 5})
	_, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: rowOfTiles(6),
		Mode:      ModeAll,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestStartRequiresFreeSpace(t *testing.T) {
	t.Parallel()
	var checked string
	stat := func(path string) (diskmanager.Space, error) {
		checked = path
		return diskmanager.Space{TotalBytes: 1 << 30, FreeBytes: 1 << 20}, nil
	}
	sched, fs, mt := newMockedScheduler(t, Config{MinFree: 1 << 25, DiskStat: stat})

	job, err := sched.Start(t.Context(), Request{
		Server:    testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses: rowOfTiles(2),
		Mode:      ModeAll,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskSpace))
	assert.Equal(t, fs.BaseDir(), checked)
	assert.Equal(t, progress.StatusError, job.Progress().Status)
	assert.Zero(t, mt.GetTotalCallCount())
}

type recordingRecorder struct {
	mu       sync.Mutex
	fetches  map[string]int
	started  int
	finished map[string]int
}

func (r *recordingRecorder) RecordTileFetch(server, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[server+"/"+result]++
}

func (r *recordingRecorder) JobStarted(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingRecorder) JobFinished(mode, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[mode+"/"+status]++
}

func TestRecorderObservesOutcomes(t *testing.T) {
	t.Parallel()
	rec := &recordingRecorder{fetches: map[string]int{}, finished: map[string]int{}}
	sched, fs, mt := newMockedScheduler(t, Config{Recorder: rec})
	mt.RegisterResponder(http.MethodGet, "https://tiles.test/4/0/3.png",
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	mt.RegisterResponder(http.MethodGet, `=~^https://tiles\.test/4/[12]/`,
		httpmock.NewBytesResponder(http.StatusOK, fakePNG))
	require.NoError(t, fs.WriteFileAtomic(t.Context(), CachePath("test", tiles.TileAddress{Z: 4, X: 3, Y: 3}), fakePNG, 0o644))

	job, err := sched.Start(t.Context(), Request{
		Server:       testServer("https://tiles.test/{z}/{x}/{y}.png"),
		Addresses:    rowOfTiles(4),
		Mode:         ModeAll,
		SkipExisting: true,
	})
	require.NoError(t, err)
	_, err = waitJob(t, job)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, map[string]int{"test/failed": 1, "test/completed": 2, "test/skipped": 1}, rec.fetches)
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, map[string]int{"all/done": 1}, rec.finished)
}

func TestRateLimiterIsSharedPerServer(t *testing.T) {
	t.Parallel()
	sched, _, _ := newMockedScheduler(t, Config{})
	ts := testServer("https://tiles.test/{z}/{x}/{y}.png")
	assert.Nil(t, sched.limiter(&ts))

	ts.RateLimit = 5
	a := sched.limiter(&ts)
	require.NotNil(t, a)
	assert.Same(t, a, sched.limiter(&ts))

	ts.RateLimit = 10
	assert.NotSame(t, a, sched.limiter(&ts), "a changed limit replaces the limiter")
}

func TestFetchErrorCategory(t *testing.T) {
	t.Parallel()
	err := fetchError(tiles.TileAddress{Z: 1, X: 1, Y: 1}, &httpclient.StatusError{StatusCode: 503, URL: "u"})
	require.ErrorIs(t, err, ErrFetch)
	assert.True(t, errors.IsCategory(err, errors.CategoryFetch))
	assert.True(t, strings.Contains(err.Error(), "503"))
}
