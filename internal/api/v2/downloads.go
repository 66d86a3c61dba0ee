package api

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/progress"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// DefaultJobRetention keeps finished jobs queryable when none is configured
const DefaultJobRetention = 10 * time.Minute

// DownloadRequest starts a job. Optional fields fall back to the settings.
type DownloadRequest struct {
	TileServerID string    `json:"tile_server_id"`
	Mode         string    `json:"mode"`                    // all or labeled
	Padding      *int      `json:"padding,omitempty"`       // labeled mode only
	SkipExisting *bool     `json:"skip_existing,omitempty"` // default from settings
	Extent       []float64 `json:"extent,omitempty"`        // all mode only
	Zoom         *int      `json:"zoom,omitempty"`          // all mode only
}

// DownloadResponse pairs a job with its latest snapshot
type DownloadResponse struct {
	Job      *download.Job     `json:"job"`
	Progress progress.Snapshot `json:"progress"`
}

type jobKey struct {
	server string
	mode   download.Mode
}

// jobRegistry indexes jobs by id. Running jobs never expire; finished jobs
// are kept for the retention period so late subscribers can replay them.
type jobRegistry struct {
	mu        sync.Mutex
	jobs      *cache.Cache
	active    map[jobKey]*download.Job
	retention time.Duration
}

func newJobRegistry(retention time.Duration) *jobRegistry {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &jobRegistry{
		jobs:      cache.New(retention, retention),
		active:    make(map[jobKey]*download.Job),
		retention: retention,
	}
}

// reserve returns the running job for key, or registers job as running
func (r *jobRegistry) reserve(key jobKey, job *download.Job) (*download.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if running, ok := r.active[key]; ok && !running.Finished() {
		return running, false
	}
	r.active[key] = job
	r.jobs.Set(job.ID, job, cache.NoExpiration)
	return job, true
}

// release starts the retention period of a finished job
func (r *jobRegistry) release(key jobKey, job *download.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] == job {
		delete(r.active, key)
	}
	r.jobs.Set(job.ID, job, r.retention)
}

// busy reports whether a job for key is still running
func (r *jobRegistry) busy(key jobKey) (*download.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	running, ok := r.active[key]
	if !ok || running.Finished() {
		return nil, false
	}
	return running, true
}

func (r *jobRegistry) get(id string) (*download.Job, bool) {
	v, ok := r.jobs.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*download.Job), true
}

func (r *jobRegistry) list() []*download.Job {
	items := r.jobs.Items()
	out := make([]*download.Job, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*download.Job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *jobRegistry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.active {
		if !j.Finished() {
			n++
		}
	}
	return n
}

// flush drops every job. go-cache's janitor cannot be stopped; it idles.
func (r *jobRegistry) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs.Flush()
	clear(r.active)
}

func (c *Controller) initDownloadRoutes() {
	g := c.Group.Group("/downloads")
	g.GET("", c.ListDownloads)
	g.POST("", c.StartDownload)
	g.GET("/:id", c.GetDownload)
	g.DELETE("/:id", c.CancelDownload)
	g.GET("/:id/events", c.StreamDownloadEvents)
	g.GET("/:id/stream", c.StreamDownloadNDJSON)
}

func jobNotFound(id string) error {
	return errors.Newf("download job %s not found", id).
		Component("api").
		Category(errors.CategoryNotFound).
		Context("job_id", id).
		Build()
}

// targets resolves the addresses of a request
func (c *Controller) targets(ctx echo.Context, req *DownloadRequest, mode download.Mode) ([]tiles.TileAddress, error) {
	switch mode {
	case download.ModeLabeled:
		padding := c.Settings.Download.Padding
		if req.Padding != nil {
			padding = *req.Padding
		}
		if padding < 0 {
			return nil, errors.ValidationError("padding must not be negative")
		}
		return download.LabeledTargets(ctx.Request().Context(), c.Store, padding)
	default:
		c.settingsMutex.RLock()
		extent, err := c.Settings.LabelingExtent()
		zoom := c.Settings.Labeling.Zoom
		c.settingsMutex.RUnlock()
		if err != nil {
			return nil, err
		}
		if len(req.Extent) > 0 {
			if extent, err = tiles.BBoxFromSlice(req.Extent); err != nil {
				return nil, err
			}
		}
		if req.Zoom != nil {
			zoom = *req.Zoom
		}
		return download.AllTargets(extent, zoom, c.Settings.Download.MaxTiles)
	}
}

// StartDownload validates the request and starts a job. A running job for
// the same server and mode is answered with 409.
func (c *Controller) StartDownload(ctx echo.Context) error {
	var req DownloadRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	mode := download.Mode(req.Mode)
	if mode == "" {
		mode = download.ModeAll
	}
	if !mode.Valid() {
		return c.HandleError(ctx, nil, "mode must be all or labeled", http.StatusBadRequest)
	}
	server, ok := c.tileServer(req.TileServerID)
	if !ok {
		return c.HandleError(ctx, nil, "Unknown tile server "+req.TileServerID, http.StatusNotFound)
	}

	key := jobKey{server: server.ID, mode: mode}
	if running, busy := c.jobs.busy(key); busy {
		return c.HandleError(ctx, errors.Newf("job %s is already downloading %s tiles from %s", running.ID, mode, server.ID).
			Component("api").
			Category(errors.CategoryConflict).
			Context("job_id", running.ID).
			Build(), "A download for this server and mode is already running", http.StatusConflict)
	}

	addrs, err := c.targets(ctx, &req, mode)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid download targets")
	}
	skip := c.Settings.Download.SkipExisting
	if req.SkipExisting != nil {
		skip = *req.SkipExisting
	}

	job, err := c.Scheduler.Start(c.ctx, download.Request{
		Server:       server,
		Addresses:    addrs,
		Mode:         mode,
		SkipExisting: skip,
	})
	if err != nil {
		return c.handleDomainError(ctx, err, "Download job could not start")
	}

	if running, ok := c.jobs.reserve(key, job); !ok {
		// Lost a race against a concurrent request for the same key.
		job.Cancel()
		<-job.Done()
		return c.HandleError(ctx, nil, "A download for this server and mode is already running: "+running.ID, http.StatusConflict)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-job.Done()
		c.jobs.release(key, job)
	}()

	c.log.Info("download job accepted",
		logger.String("job_id", job.ID),
		logger.String("server", server.ID),
		logger.String("mode", string(mode)),
		logger.Int("total", job.Total))
	return ctx.JSON(http.StatusAccepted, DownloadResponse{Job: job, Progress: job.Progress()})
}

// ListDownloads returns running and retained jobs, oldest first
func (c *Controller) ListDownloads(ctx echo.Context) error {
	jobs := c.jobs.list()
	out := make([]DownloadResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, DownloadResponse{Job: j, Progress: j.Progress()})
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetDownload returns a job with its latest snapshot
func (c *Controller) GetDownload(ctx echo.Context) error {
	job, ok := c.jobs.get(ctx.Param("id"))
	if !ok {
		return c.handleDomainError(ctx, jobNotFound(ctx.Param("id")), "Download job not found")
	}
	return ctx.JSON(http.StatusOK, DownloadResponse{Job: job, Progress: job.Progress()})
}

// CancelDownload requests cancellation and returns immediately. The
// terminal snapshot follows on the job's progress streams.
func (c *Controller) CancelDownload(ctx echo.Context) error {
	job, ok := c.jobs.get(ctx.Param("id"))
	if !ok {
		return c.handleDomainError(ctx, jobNotFound(ctx.Param("id")), "Download job not found")
	}
	if job.Finished() {
		return ctx.JSON(http.StatusOK, DownloadResponse{Job: job, Progress: job.Progress()})
	}
	job.Cancel()
	c.log.Info("download job cancel requested", logger.String("job_id", job.ID))
	return ctx.JSON(http.StatusAccepted, DownloadResponse{Job: job, Progress: job.Progress()})
}
