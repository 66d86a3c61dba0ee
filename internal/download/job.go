package download

import (
	"context"
	"sync"
	"time"

	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/progress"
)

// Job is one running or finished download.
type Job struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id"`
	Mode      Mode      `json:"mode"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"created_at"`

	reporter *progress.Reporter
	cancel   context.CancelFunc
	done     chan struct{}
	log      logger.Logger

	mu  sync.Mutex
	err error
}

// Reporter returns the job's snapshot sequence
func (j *Job) Reporter() *progress.Reporter {
	return j.reporter
}

// Progress returns the latest snapshot
func (j *Job) Progress() progress.Snapshot {
	s, _ := j.reporter.Latest()
	return s
}

// Cancel requests cancellation. In-flight requests are aborted; the job
// still publishes its terminal snapshot. Safe to call more than once.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed after the terminal snapshot is published
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done and returns the
// terminal snapshot with the job error: nil for done, ErrJobCancelled for
// cancelled, the start failure for error.
func (j *Job) Wait(ctx context.Context) (progress.Snapshot, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return j.Progress(), ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Progress(), j.err
}

// Finished reports whether the terminal snapshot has been published
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *Job) finish(final progress.Snapshot, err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	if _, perr := j.reporter.Publish(final); perr != nil {
		j.log.Error("terminal snapshot rejected", logger.Error(perr))
	}
	close(j.done)
}
