//go:build linux || darwin

package diskmanager

import (
	"fmt"
	"syscall"
)

// GetSpace returns the capacity of the filesystem containing path
func GetSpace(path string) (Space, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return Space{}, fmt.Errorf("failed to statfs %q: %w", path, err)
	}
	return Space{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bavail * uint64(stat.Bsize),
	}, nil
}
