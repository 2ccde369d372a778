// Package file provides a blockdev.Device backed by a disk image file or
// a raw block device node.
package file

import (
	"errors"
	"fmt"
	"os"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

type device struct {
	f        *os.File
	sectors  uint32
	readOnly bool
}

// blockdev.Device interface guard
var _ blockdev.Device = (*device)(nil)

// OpenFromPath opens an existing disk image or block device, e.g.
// /dev/sdb or /tmp/foo.img, as a blockdev.Device. The backing file must
// exist and its size must be a whole number of sectors. When the path
// names a real block device, its logical sector size must match
// blockdev.SectorSize.
func OpenFromPath(pathName string, readOnly bool) (blockdev.Device, error) {
	if pathName == "" {
		return nil, errors.New("must pass device or file name")
	}

	openMode := os.O_RDONLY
	if !readOnly {
		openMode = os.O_RDWR | os.O_EXCL
	}

	f, err := os.OpenFile(pathName, openMode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s: %w", pathName, err)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not size device %s: %w", pathName, err)
	}
	if size%blockdev.SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("device %s size %d is not a multiple of the sector size: %w", pathName, size, blockdev.ErrNotSuitable)
	}

	// Refuse real block devices whose logical sector size does not match
	// ours; a 4Kn drive would tear our sectors.
	logical, err := logicalSectorSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not read logical sector size of %s: %w", pathName, err)
	}
	if logical != 0 && logical != blockdev.SectorSize {
		f.Close()
		return nil, fmt.Errorf("device %s has logical sector size %d: %w", pathName, logical, blockdev.ErrNotSuitable)
	}

	return &device{
		f:        f,
		sectors:  uint32(size / blockdev.SectorSize),
		readOnly: readOnly,
	}, nil
}

// CreateFromPath creates a zero-filled disk image of the given number of
// sectors and returns it as a writable blockdev.Device. The file must not
// exist yet.
func CreateFromPath(pathName string, sectors uint32) (blockdev.Device, error) {
	if pathName == "" {
		return nil, errors.New("must pass device name")
	}
	if sectors == 0 {
		return nil, errors.New("must pass a positive device size to create")
	}

	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not create device %s: %w", pathName, err)
	}
	if err := f.Truncate(int64(sectors) * blockdev.SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not expand device %s to %d sectors: %w", pathName, sectors, err)
	}

	return &device{
		f:       f,
		sectors: sectors,
	}, nil
}

func (d *device) ReadSector(sector uint32, p []byte) error {
	if len(p) != blockdev.SectorSize {
		return blockdev.ErrSectorSize
	}
	if sector >= d.sectors {
		return blockdev.ErrOutOfRange
	}
	if _, err := d.f.ReadAt(p, int64(sector)*blockdev.SectorSize); err != nil {
		return fmt.Errorf("unable to read sector %d: %w", sector, err)
	}
	return nil
}

func (d *device) WriteSector(sector uint32, p []byte) error {
	if len(p) != blockdev.SectorSize {
		return blockdev.ErrSectorSize
	}
	if sector >= d.sectors {
		return blockdev.ErrOutOfRange
	}
	if d.readOnly {
		return blockdev.ErrReadOnly
	}
	if _, err := d.f.WriteAt(p, int64(sector)*blockdev.SectorSize); err != nil {
		return fmt.Errorf("unable to write sector %d: %w", sector, err)
	}
	return nil
}

func (d *device) Sectors() uint32 {
	return d.sectors
}

func (d *device) Close() error {
	return d.f.Close()
}

// deviceSize returns the size in bytes of the backing file, going through
// the sector-count probe for block device nodes, whose Stat size is zero.
func deviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), nil
	}
	return blockDeviceSize(f)
}
