//go:build windows

package diskmanager

import (
	"fmt"
	"syscall"
	"unsafe"
)

// GetSpace returns the capacity of the volume containing path
func GetSpace(path string) (Space, error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")

	utf16Path, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return Space{}, fmt.Errorf("failed to convert path to UTF16: %w", err)
	}

	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64
	r1, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(utf16Path)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalNumberOfBytes)),
		uintptr(unsafe.Pointer(&totalNumberOfFreeBytes)),
	)
	if r1 == 0 {
		return Space{}, fmt.Errorf("GetDiskFreeSpaceExW %q: %w", path, callErr)
	}
	return Space{TotalBytes: totalNumberOfBytes, FreeBytes: freeBytesAvailable}, nil
}
