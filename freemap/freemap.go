// Package freemap tracks which sectors of a block device are free. It is
// the allocation collaborator of the filesystem layers: callers ask for a
// run of free sectors and hand runs back when a file's tree is torn down.
package freemap

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNoSpace      = errors.New("not enough free sectors")
	ErrNotAllocated = errors.New("sector is not allocated")
	ErrOutOfRange   = errors.New("sector is beyond the end of the map")
)

// FreeMap is a bitmap of sector allocation state for a device with a
// fixed number of sectors. A set bit means the sector is in use. Safe for
// concurrent use. The zero value is not usable; call New.
type FreeMap struct {
	mu    sync.Mutex
	words []uint64
	total uint32
	free  uint32
}

// New creates a FreeMap for a device of total sectors. The first
// reserved sectors are marked in use up front; the surrounding system
// uses this for the metadata area it lays out before handing the
// allocator over.
func New(total, reserved uint32) (*FreeMap, error) {
	if reserved > total {
		return nil, fmt.Errorf("cannot reserve %d of %d sectors", reserved, total)
	}
	fm := &FreeMap{
		words: make([]uint64, (total+63)/64),
		total: total,
		free:  total - reserved,
	}
	for s := uint32(0); s < reserved; s++ {
		fm.set(s)
	}
	return fm, nil
}

// Allocate finds count contiguous free sectors, marks them in use, and
// returns the first sector of the run. It fails with ErrNoSpace when no
// run of that length exists.
func (fm *FreeMap) Allocate(count uint32) (uint32, error) {
	if count == 0 {
		return 0, errors.New("count must be positive")
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if count > fm.free {
		return 0, ErrNoSpace
	}

	var start, run uint32
	for s := uint32(0); s < fm.total; s++ {
		// skip whole words with nothing free
		if s%64 == 0 && fm.words[s/64] == ^uint64(0) {
			s += 63
			run = 0
			continue
		}
		if fm.isSet(s) {
			run = 0
			continue
		}
		if run == 0 {
			start = s
		}
		run++
		if run == count {
			for i := start; i <= s; i++ {
				fm.set(i)
			}
			fm.free -= count
			return start, nil
		}
	}
	return 0, ErrNoSpace
}

// Release returns the run of count sectors beginning at start to the free
// pool. Releasing a sector that is not currently allocated is an error
// and leaves the map unchanged.
func (fm *FreeMap) Release(start, count uint32) error {
	if count == 0 {
		return errors.New("count must be positive")
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if start >= fm.total || fm.total-start < count {
		return fmt.Errorf("run of %d sectors at %d: %w", count, start, ErrOutOfRange)
	}
	// validate the whole run before touching any bit, so a bad release
	// cannot half-apply
	for s := start; s < start+count; s++ {
		if !fm.isSet(s) {
			return fmt.Errorf("sector %d: %w", s, ErrNotAllocated)
		}
	}
	for s := start; s < start+count; s++ {
		fm.clear(s)
	}
	fm.free += count
	return nil
}

// FreeCount returns the number of sectors currently free.
func (fm *FreeMap) FreeCount() uint32 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.free
}

// Total returns the number of sectors the map covers.
func (fm *FreeMap) Total() uint32 {
	return fm.total
}

func (fm *FreeMap) isSet(s uint32) bool {
	return fm.words[s/64]&(uint64(1)<<(s%64)) != 0
}

func (fm *FreeMap) set(s uint32) {
	fm.words[s/64] |= uint64(1) << (s % 64)
}

func (fm *FreeMap) clear(s uint32) {
	fm.words[s/64] &^= uint64(1) << (s % 64)
}
