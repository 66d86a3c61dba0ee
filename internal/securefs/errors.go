// Package securefs confines file access for the tile cache and exports to a
// single data directory using os.Root.
package securefs

import (
	"github.com/noahgolmant/label-tiles/internal/errors"
)

// Sentinel errors for the securefs package.
var (
	// ErrPathTraversal indicates a relative path that escapes the base directory.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidPath indicates an absolute or empty path where a relative one is required.
	ErrInvalidPath = errors.NewStd("security error: invalid path specification")

	// ErrNotRegularFile indicates an attempt to serve something that is not a regular file.
	ErrNotRegularFile = errors.NewStd("security error: not a regular file")

	// ErrFileTooLarge is returned when a file exceeds the configured size limit.
	ErrFileTooLarge = errors.NewStd("file size exceeds maximum allowed size")

	// ErrWriteAborted is returned when the context ends before an atomic write is committed.
	ErrWriteAborted = errors.NewStd("write aborted before commit")
)
