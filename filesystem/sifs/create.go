package sifs

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

// totalSectors returns the number of device sectors a file of dataSectors
// data sectors occupies, counting index overhead: beyond the direct
// slots, one first-level index sector plus one second-level index sector
// per started group of 128 indirect data sectors. The inode record's own
// sector is not included.
func totalSectors(dataSectors uint32) uint32 {
	if dataSectors <= directSlots {
		return dataSectors
	}
	indirect := dataSectors - directSlots
	groups := (indirect + indexSlots - 1) / indexSlots
	return dataSectors + groups + 1
}

// Create lays out a new file of the given byte length and writes its
// inode record to the given sector, which the caller must already have
// reserved with the allocator. Every data and index sector is allocated
// here and wired into the record's tree; index sectors are written to
// disk as they fill, the inode record last. The file's length is fixed
// from this point on: the write path never grows it.
//
// A length of zero allocates nothing and writes only the inode record.
// On any failure no allocated sector is leaked and the target sector is
// left unwritten.
func (fs *FileSystem) Create(sector uint32, length int64, directory bool) error {
	if length < 0 {
		return fmt.Errorf("length %d is negative", length)
	}
	if length > MaxFileSize {
		return fmt.Errorf("length %d: %w", length, ErrFileTooLarge)
	}

	dataSectors := bytesToSectors(length)
	total := totalSectors(dataSectors)
	// +1 for the inode record's own sector, which the caller reserved
	if fs.alloc.FreeCount() < total+1 {
		return fmt.Errorf("%d sectors needed, %d free: %w", total+1, fs.alloc.FreeCount(), ErrNoSpace)
	}

	rec := inodeRecord{
		isDirectory: directory,
		length:      length,
	}

	// every allocation is recorded so a failed create can hand all of
	// them back
	var allocated []uint32
	fail := func(err error) error {
		for _, s := range allocated {
			if rerr := fs.alloc.Release(s, 1); rerr != nil {
				return fmt.Errorf("unable to roll back sector %d after %v: %w", s, err, rerr)
			}
		}
		return err
	}
	allocate := func() (uint32, error) {
		s, err := fs.alloc.Allocate(1)
		if err != nil {
			return 0, err
		}
		allocated = append(allocated, s)
		return s, nil
	}

	remaining := dataSectors
	for i := uint32(0); i < dataSectors && i < directSlots; i++ {
		s, err := allocate()
		if err != nil {
			return fail(err)
		}
		rec.direct[i] = s
		remaining--
	}

	if remaining > 0 {
		s, err := allocate()
		if err != nil {
			return fail(err)
		}
		rec.indexSector = s

		first := make([]byte, blockdev.SectorSize)
		second := make([]byte, blockdev.SectorSize)
		for group := uint32(0); remaining > 0; group++ {
			secondSector, err := allocate()
			if err != nil {
				return fail(err)
			}
			putIndexSlot(first, group, secondSector)

			for i := range second {
				second[i] = 0
			}
			for k := uint32(0); k < indexSlots && remaining > 0; k++ {
				s, err := allocate()
				if err != nil {
					return fail(err)
				}
				putIndexSlot(second, k, s)
				remaining--
			}
			// the second-level sector is complete, flush it
			if err := fs.device.WriteSector(secondSector, second); err != nil {
				return fail(fmt.Errorf("unable to write second-level index sector %d: %v", secondSector, err))
			}
		}
		if err := fs.device.WriteSector(rec.indexSector, first); err != nil {
			return fail(fmt.Errorf("unable to write first-level index sector %d: %v", rec.indexSector, err))
		}
	}

	if err := fs.device.WriteSector(sector, rec.toBytes()); err != nil {
		return fail(fmt.Errorf("unable to write inode record to sector %d: %v", sector, err))
	}
	log.WithFields(log.Fields{"sector": sector, "length": length, "sectors": total}).Debug("sifs: created inode")
	return nil
}
