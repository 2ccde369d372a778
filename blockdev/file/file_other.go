//go:build !linux

package file

import (
	"os"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

// logicalSectorSize is only probed on linux; elsewhere only regular
// image files are supported.
func logicalSectorSize(*os.File) (int, error) {
	return 0, nil
}

func blockDeviceSize(*os.File) (int64, error) {
	return 0, blockdev.ErrNotSuitable
}
