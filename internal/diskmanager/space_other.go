//go:build !linux && !darwin && !windows

package diskmanager

import (
	"fmt"
	"runtime"
)

// GetSpace is not implemented on this platform
func GetSpace(path string) (Space, error) {
	return Space{}, fmt.Errorf("free space of %q: not supported on %s", path, runtime.GOOS)
}
