package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/progress"
)

// Stream formats, also used as metric label values
const (
	formatSSE    = "sse"
	formatNDJSON = "ndjson"
)

// Progress event names on the SSE stream
const (
	eventProgress = "progress"
	eventComplete = "complete"
)

const (
	// sseHeartbeatInterval keeps idle proxies from closing the stream
	sseHeartbeatInterval = 15 * time.Second
	// streamWriteTimeout bounds a single write to a slow client
	streamWriteTimeout = 10 * time.Second
)

// snapshotWriter writes one snapshot in a stream format
type snapshotWriter func(ctx echo.Context, snap progress.Snapshot) error

// StreamDownloadEvents streams a job's snapshots as Server-Sent Events:
// "progress" for running snapshots and "complete" for the terminal one.
func (c *Controller) StreamDownloadEvents(ctx echo.Context) error {
	return c.streamProgress(ctx, formatSSE, "text/event-stream", sseHeartbeatInterval, c.writeSSESnapshot)
}

// StreamDownloadNDJSON streams a job's snapshots as newline-delimited JSON
func (c *Controller) StreamDownloadNDJSON(ctx echo.Context) error {
	return c.streamProgress(ctx, formatNDJSON, "application/x-ndjson", 0, c.writeNDJSONSnapshot)
}

// streamProgress replays the job's sequence from the first snapshot and
// follows it until the terminal one. A disconnecting client only abandons
// its cursor; the job is unaffected.
func (c *Controller) streamProgress(ctx echo.Context, format, contentType string,
	heartbeat time.Duration, write snapshotWriter) error {
	job, ok := c.jobs.get(ctx.Param("id"))
	if !ok {
		return c.handleDomainError(ctx, jobNotFound(ctx.Param("id")), "Download job not found")
	}

	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, contentType)
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
	flush(ctx)
	defer func() {
		// Deadlines outlive the request on keep-alive connections.
		_ = http.NewResponseController(ctx.Response().Writer).SetWriteDeadline(time.Time{})
	}()

	if c.metrics != nil {
		c.metrics.HTTP.StreamOpened()
		defer c.metrics.HTTP.StreamClosed()
	}
	log := c.log.With(logger.String("job_id", job.ID), logger.String("format", format))
	log.Debug("progress stream opened", logger.String("ip", ctx.RealIP()))

	reqCtx := ctx.Request().Context()
	sub := job.Reporter().Subscribe()
	for {
		snap, err := nextSnapshot(reqCtx, sub, heartbeat)
		switch {
		case errors.Is(err, io.EOF):
			log.Debug("progress stream complete")
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			if err := c.writeHeartbeat(ctx); err != nil {
				log.Debug("heartbeat failed, client likely disconnected", logger.Error(err))
				return nil
			}
			continue
		case err != nil:
			log.Debug("progress stream closed by client", logger.Error(err))
			return nil
		}

		if err := write(ctx, snap); err != nil {
			log.Debug("progress write failed", logger.Error(err))
			return nil
		}
		if c.metrics != nil {
			c.metrics.HTTP.RecordStreamMessage(format)
		}
	}
}

// nextSnapshot waits at most heartbeat for the next snapshot. A zero
// heartbeat waits as long as ctx allows.
func nextSnapshot(ctx context.Context, sub *progress.Subscription, heartbeat time.Duration) (progress.Snapshot, error) {
	if heartbeat <= 0 {
		return sub.Next(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
	defer cancel()
	snap, err := sub.Next(waitCtx)
	if err != nil && ctx.Err() != nil {
		return snap, ctx.Err()
	}
	return snap, err
}

func (c *Controller) writeSSESnapshot(ctx echo.Context, snap progress.Snapshot) error {
	event := eventProgress
	if snap.Status.Terminal() {
		event = eventComplete
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}
	return c.writeChunk(ctx, fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data))
}

func (c *Controller) writeNDJSONSnapshot(ctx echo.Context, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal progress line: %w", err)
	}
	return c.writeChunk(ctx, append(data, '\n'))
}

// writeHeartbeat sends an SSE comment line, ignored by EventSource clients
func (c *Controller) writeHeartbeat(ctx echo.Context) error {
	return c.writeChunk(ctx, []byte(": heartbeat\n\n"))
}

// writeChunk writes and flushes b with a write deadline when supported
func (c *Controller) writeChunk(ctx echo.Context, b []byte) error {
	rc := http.NewResponseController(ctx.Response().Writer)
	if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.log.Debug("failed to set stream write deadline", logger.Error(err))
	}
	if _, err := ctx.Response().Write(b); err != nil {
		return fmt.Errorf("failed to write progress chunk: %w", err)
	}
	flush(ctx)
	return nil
}

func flush(ctx echo.Context) {
	if f, ok := ctx.Response().Writer.(http.Flusher); ok {
		f.Flush()
	}
}
