// Package blockdev defines the sector-granular block device abstraction
// consumed by the filesystem layers. All I/O at this level is in whole
// sectors of SectorSize bytes; partial-sector transfers are staged by the
// layers above. Implementations are in subpackages, e.g.
// github.com/sectorfs/go-sectorfs/blockdev/file
package blockdev

import "errors"

// SectorSize is the fixed size in bytes of every device sector.
const SectorSize = 512

var (
	ErrOutOfRange  = errors.New("sector number beyond end of device")
	ErrSectorSize  = errors.New("buffer is not exactly one sector")
	ErrReadOnly    = errors.New("device not open for write")
	ErrNotSuitable = errors.New("backing file is not suitable")
)

// A Device is a fixed-sector-size block device addressed by sector number.
// Both transfer directions move exactly one whole sector; the buffer must
// be exactly SectorSize bytes long.
type Device interface {
	// ReadSector reads the numbered sector into p.
	ReadSector(sector uint32, p []byte) error
	// WriteSector writes p to the numbered sector.
	WriteSector(sector uint32, p []byte) error
	// Sectors returns the total number of sectors on the device.
	Sectors() uint32
	// Close releases the device.
	Close() error
}
