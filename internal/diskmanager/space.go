// Package diskmanager reports free space on the filesystem holding the
// tile cache. Downloads refuse to start below a configured floor.
package diskmanager

import (
	"fmt"

	"github.com/labstack/gommon/bytes"

	"github.com/noahgolmant/label-tiles/internal/errors"
)

// Space holds filesystem capacity in bytes.
type Space struct {
	TotalBytes uint64
	FreeBytes  uint64 // available to the current user
}

// UsedPercent returns the used share of the filesystem
func (s Space) UsedPercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.TotalBytes-s.FreeBytes) / float64(s.TotalBytes) * 100
}

// StatFunc reads the capacity of the filesystem containing path
type StatFunc func(path string) (Space, error)

// CheckFree fails with CategoryDiskSpace when fewer than minFree bytes are
// available under path. A zero floor disables the check.
func CheckFree(stat StatFunc, path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	if stat == nil {
		stat = GetSpace
	}
	space, err := stat(path)
	if err != nil {
		return errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if space.FreeBytes < minFree {
		return errors.New(fmt.Errorf("only %s free under %s, need %s",
			bytes.Format(int64(space.FreeBytes)), path, bytes.Format(int64(minFree)))).
			Component("diskmanager").
			Category(errors.CategoryDiskSpace).
			Context("free_bytes", space.FreeBytes).
			Context("used_percent", space.UsedPercent()).
			Build()
	}
	return nil
}

// ParseSize parses an echo-style size such as "500MB" or "2G"; empty is 0
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := bytes.Parse(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("size %q must not be negative", s)
	}
	return uint64(n), nil
}
