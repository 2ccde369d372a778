package sifs

import (
	"fmt"
	"io"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

// ReadAt reads up to len(p) bytes from the inode starting at byte offset
// off. Transfers are chunked per sector: a chunk that covers a whole
// sector is read straight into p, anything smaller is staged through a
// bounce buffer so only the requested bytes are copied out. When the
// read reaches the file length before filling p, the short count is
// returned with io.EOF.
func (in *Inode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cannot read at negative offset %d", off)
	}

	fs := in.fs
	read := 0
	size := len(p)
	var bounce []byte

	for size > 0 {
		// largest run that stays inside the requested size, the
		// current sector, and the file
		sectorOffset := int(off % blockdev.SectorSize)
		inodeLeft := in.rec.length - off
		sectorLeft := blockdev.SectorSize - sectorOffset

		chunk := size
		if int64(chunk) > inodeLeft {
			chunk = int(inodeLeft)
		}
		if chunk > sectorLeft {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}

		sector, err := fs.byteToSector(&in.rec, off)
		if err != nil {
			return read, err
		}

		if sectorOffset == 0 && chunk == blockdev.SectorSize {
			if err := fs.device.ReadSector(sector, p[read:read+blockdev.SectorSize]); err != nil {
				return read, fmt.Errorf("unable to read sector %d: %v", sector, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, blockdev.SectorSize)
			}
			if err := fs.device.ReadSector(sector, bounce); err != nil {
				return read, fmt.Errorf("unable to read sector %d: %v", sector, err)
			}
			copy(p[read:read+chunk], bounce[sectorOffset:sectorOffset+chunk])
		}

		size -= chunk
		off += int64(chunk)
		read += chunk
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// WriteAt writes up to len(p) bytes to the inode starting at byte offset
// off. A chunk that fills a whole sector is written straight from p; a
// partial chunk goes through a read-modify-write of the sector via the
// bounce buffer, except that a chunk starting at the sector boundary and
// running to the file's end within that sector starts from zeros instead
// of reading, since no existing bytes survive around it.
//
// Writes never extend the inode: bytes past the file length are dropped
// and the short count returned with no error. While writes are denied
// the call transfers nothing and returns 0 with no error.
func (in *Inode) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cannot write at negative offset %d", off)
	}
	if in.writeDenied() {
		return 0, nil
	}

	fs := in.fs
	written := 0
	size := len(p)
	var bounce []byte

	for size > 0 {
		sectorOffset := int(off % blockdev.SectorSize)
		inodeLeft := in.rec.length - off
		sectorLeft := blockdev.SectorSize - sectorOffset

		chunk := size
		if int64(chunk) > inodeLeft {
			chunk = int(inodeLeft)
		}
		if chunk > sectorLeft {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}

		sector, err := fs.byteToSector(&in.rec, off)
		if err != nil {
			return written, err
		}

		if sectorOffset == 0 && chunk == blockdev.SectorSize {
			if err := fs.device.WriteSector(sector, p[written:written+blockdev.SectorSize]); err != nil {
				return written, fmt.Errorf("unable to write sector %d: %v", sector, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, blockdev.SectorSize)
			}
			// keep the sector's surviving bytes unless the chunk
			// replaces everything up to the sector's end
			if sectorOffset > 0 || chunk < sectorLeft {
				if err := fs.device.ReadSector(sector, bounce); err != nil {
					return written, fmt.Errorf("unable to read sector %d: %v", sector, err)
				}
			} else {
				for i := range bounce {
					bounce[i] = 0
				}
			}
			copy(bounce[sectorOffset:sectorOffset+chunk], p[written:written+chunk])
			if err := fs.device.WriteSector(sector, bounce); err != nil {
				return written, fmt.Errorf("unable to write sector %d: %v", sector, err)
			}
		}

		size -= chunk
		off += int64(chunk)
		written += chunk
	}

	return written, nil
}
