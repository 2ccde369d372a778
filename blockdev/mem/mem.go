// Package mem provides an in-memory blockdev.Device, used by tests and
// examples that do not want a file on disk.
package mem

import (
	"github.com/sectorfs/go-sectorfs/blockdev"
)

// Device is an in-memory block device. Create one with New.
type Device struct {
	data   []byte
	closed bool
}

// blockdev.Device interface guard
var _ blockdev.Device = (*Device)(nil)

// New returns a zero-filled in-memory device of the given number of
// sectors.
func New(sectors uint32) *Device {
	return &Device{
		data: make([]byte, int64(sectors)*blockdev.SectorSize),
	}
}

func (d *Device) ReadSector(sector uint32, p []byte) error {
	if len(p) != blockdev.SectorSize {
		return blockdev.ErrSectorSize
	}
	if int64(sector)*blockdev.SectorSize >= int64(len(d.data)) {
		return blockdev.ErrOutOfRange
	}
	copy(p, d.data[int64(sector)*blockdev.SectorSize:])
	return nil
}

func (d *Device) WriteSector(sector uint32, p []byte) error {
	if len(p) != blockdev.SectorSize {
		return blockdev.ErrSectorSize
	}
	if int64(sector)*blockdev.SectorSize >= int64(len(d.data)) {
		return blockdev.ErrOutOfRange
	}
	copy(d.data[int64(sector)*blockdev.SectorSize:], p)
	return nil
}

func (d *Device) Sectors() uint32 {
	return uint32(int64(len(d.data)) / blockdev.SectorSize)
}

func (d *Device) Close() error {
	d.closed = true
	return nil
}
