package sifs

import (
	"encoding/binary"
	"fmt"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

// An index sector is 128 little-endian uint32 sector pointers, no header.
// The same layout serves both levels: the first-level sector points at
// second-level sectors, a second-level sector points at data sectors.
// Which of the two a given sector is follows purely from how it was
// reached.

func indexSlot(b []byte, slot uint32) uint32 {
	return binary.LittleEndian.Uint32(b[slot*4 : slot*4+4])
}

func putIndexSlot(b []byte, slot, sector uint32) {
	binary.LittleEndian.PutUint32(b[slot*4:slot*4+4], sector)
}

// indexPosition splits the index of a data sector beyond the direct
// slots into its first-level and second-level slot numbers. Both the
// translator and the deallocation walk go through this, so the two
// cannot drift apart.
func indexPosition(index uint32) (first, second uint32) {
	rel := index - directSlots
	return rel / indexSlots, rel % indexSlots
}

// byteToSector resolves the byte offset pos within rec to the device
// sector holding it. Offsets within the direct range cost no disk reads;
// anything beyond costs exactly two index-sector reads. Offsets at or
// past the file length do not resolve.
func (fs *FileSystem) byteToSector(rec *inodeRecord, pos int64) (uint32, error) {
	if pos < 0 || pos >= rec.length {
		return 0, fmt.Errorf("offset %d outside inode of length %d", pos, rec.length)
	}
	index := uint32(pos / blockdev.SectorSize)
	if index < directSlots {
		return rec.direct[index], nil
	}

	first, second := indexPosition(index)
	if first >= indexSlots {
		return 0, fmt.Errorf("data sector index %d: %w", index, ErrCorruptIndex)
	}

	buf := make([]byte, blockdev.SectorSize)
	if err := fs.device.ReadSector(rec.indexSector, buf); err != nil {
		return 0, fmt.Errorf("unable to read first-level index sector %d: %v", rec.indexSector, err)
	}
	secondSector := indexSlot(buf, first)
	if err := fs.device.ReadSector(secondSector, buf); err != nil {
		return 0, fmt.Errorf("unable to read second-level index sector %d: %v", secondSector, err)
	}
	return indexSlot(buf, second), nil
}

// releaseTree returns every data and index sector owned by rec to the
// allocator: direct data sectors, then for each second-level index its
// data sectors followed by the index sector itself, then the first-level
// index sector. It mirrors the translator's tree shape, driven by the
// length-derived sector count, and frees each sector exactly once. The
// inode's own sector is the caller's to release.
func (fs *FileSystem) releaseTree(rec *inodeRecord) error {
	sectors := bytesToSectors(rec.length)

	direct := sectors
	if direct > directSlots {
		direct = directSlots
	}
	for i := uint32(0); i < direct; i++ {
		if err := fs.alloc.Release(rec.direct[i], 1); err != nil {
			return fmt.Errorf("direct sector %d: %w", rec.direct[i], err)
		}
	}
	if sectors <= directSlots {
		return nil
	}

	remaining := sectors - directSlots
	groups := (remaining + indexSlots - 1) / indexSlots
	// do not trust the length-derived count further than the index can
	// actually address
	if groups > indexSlots {
		return fmt.Errorf("%d second-level groups: %w", groups, ErrCorruptIndex)
	}

	first := make([]byte, blockdev.SectorSize)
	if err := fs.device.ReadSector(rec.indexSector, first); err != nil {
		return fmt.Errorf("unable to read first-level index sector %d: %v", rec.indexSector, err)
	}
	second := make([]byte, blockdev.SectorSize)
	for g := uint32(0); g < groups; g++ {
		secondSector := indexSlot(first, g)
		if err := fs.device.ReadSector(secondSector, second); err != nil {
			return fmt.Errorf("unable to read second-level index sector %d: %v", secondSector, err)
		}
		count := remaining
		if count > indexSlots {
			count = indexSlots
		}
		for k := uint32(0); k < count; k++ {
			if err := fs.alloc.Release(indexSlot(second, k), 1); err != nil {
				return fmt.Errorf("indirect data sector %d: %w", indexSlot(second, k), err)
			}
		}
		remaining -= count
		if err := fs.alloc.Release(secondSector, 1); err != nil {
			return fmt.Errorf("second-level index sector %d: %w", secondSector, err)
		}
	}
	if err := fs.alloc.Release(rec.indexSector, 1); err != nil {
		return fmt.Errorf("first-level index sector %d: %w", rec.indexSector, err)
	}
	return nil
}
