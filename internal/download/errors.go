// Package download fetches map tiles into the local tile cache.
//
// A Scheduler runs one Job per request. Each job owns a bounded worker pool,
// a single accumulator that owns the progress counters, and a
// progress.Reporter that carries the totally ordered snapshot sequence.
package download

import (
	"fmt"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/privacy"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// GetLogger returns the download module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("download")
}

// Sentinel errors
var (
	ErrFetch          = errors.NewStd("tile fetch failed")
	ErrJobCancelled   = errors.NewStd("download job cancelled")
	ErrInvalidJob     = errors.NewStd("invalid download request")
	ErrTooManyTiles   = errors.NewStd("too many tiles requested")
	ErrBadPlaceholder = errors.NewStd("unknown url template placeholder")
)

// fetchError wraps a per-tile failure; it never aborts the job
func fetchError(addr tiles.TileAddress, cause error) error {
	return errors.New(fmt.Errorf("%w: %s: %w", ErrFetch, addr, privacy.WrapError(cause))).
		Component("download").
		Category(errors.CategoryFetch).
		TileContext(addr.Z, addr.X, addr.Y).
		Build()
}

func invalidJobError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidJob, fmt.Sprintf(format, args...))).
		Component("download").
		Category(errors.CategoryValidation).
		Build()
}

func cancelledError(jobID string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrJobCancelled, jobID)).
		Component("download").
		Category(errors.CategoryCancellation).
		Context("job_id", jobID).
		Build()
}
