//go:build linux

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	// ioctl constants for block devices
	blksszGet    = 0x1268     // BLKSSZGET: logical sector size
	blkGetSize64 = 0x80081272 // BLKGETSIZE64: device size in bytes
)

// logicalSectorSize returns the logical sector size reported by the
// kernel for a block device node, or 0 when f is a regular file.
func logicalSectorSize(f *os.File) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice == 0 {
		return 0, nil
	}
	return unix.IoctlGetInt(int(f.Fd()), blksszGet)
}

// blockDeviceSize returns the size in bytes of a block device node.
func blockDeviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), blkGetSize64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}
