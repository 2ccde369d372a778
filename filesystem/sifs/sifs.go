// Package sifs implements the sector-indexed filesystem inode layer: it
// maps each file's byte stream onto a tree of 512-byte device sectors
// addressed through 124 direct slots plus a two-level indirect index, and
// tracks open-file state in memory.
//
// The package owns inode records and data placement only. Directory
// contents, path resolution and the choice of which sector holds which
// inode record belong to the layers above; free-sector accounting belongs
// to the Allocator passed to New.
package sifs

import (
	"errors"
	"sync"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

const (
	// directSlots is the number of direct data-sector pointers held in
	// the inode record itself.
	directSlots = 124
	// indexSlots is the number of sector pointers in one index sector.
	indexSlots = blockdev.SectorSize / 4
	// maxInodeSectors is the hard ceiling on sectors a single file may
	// occupy: direct data + first-level index + second-level indexes +
	// indirect data.
	maxInodeSectors = directSlots + 1 + indexSlots + indexSlots*indexSlots

	// inodeMagic marks a sector as holding a valid inode record. "SIFS".
	inodeMagic uint32 = 0x53494653
)

// MaxFileSize is the largest file length in bytes that a single inode can
// address.
const MaxFileSize = int64(directSlots+indexSlots*indexSlots) * blockdev.SectorSize

var (
	ErrFileTooLarge  = errors.New("file length exceeds addressable sectors")
	ErrNoSpace       = errors.New("not enough free sectors on device")
	ErrCorruptIndex  = errors.New("index tree does not match inode length")
	ErrBadMagic      = errors.New("sector does not hold a valid inode record")
	ErrClosed        = errors.New("inode handle already closed")
	ErrBusy          = errors.New("filesystem has open inodes")
	ErrWriteProtocol = errors.New("deny-write counter out of balance")
)

// An Allocator hands out free device sectors and takes them back. The
// returned runs need not be contiguous with anything previously
// allocated; the inode layer only ever asks for runs of one.
type Allocator interface {
	Allocate(count uint32) (uint32, error)
	Release(start, count uint32) error
	FreeCount() uint32
}

// FileSystem is the inode layer over one block device. Construct it with
// New at mount time; it holds the registry of open inodes, so all opens
// of the same inode sector go through one FileSystem.
type FileSystem struct {
	device blockdev.Device
	alloc  Allocator

	// mu guards open and the openCount/removed/denyWrite fields of
	// every registered Inode.
	mu   sync.Mutex
	open map[uint32]*Inode
}

// New returns a FileSystem over the given device and allocator. The
// caller keeps ownership of both; Unmount does not close the device.
func New(device blockdev.Device, alloc Allocator) *FileSystem {
	return &FileSystem{
		device: device,
		alloc:  alloc,
		open:   make(map[uint32]*Inode),
	}
}

// OpenCount returns the number of distinct inodes currently open.
func (fs *FileSystem) OpenCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.open)
}

// Unmount verifies the filesystem is quiescent. It fails with ErrBusy
// while any inode is still open, since tearing down the registry under a
// live handle would orphan deferred deletions.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.open) > 0 {
		return ErrBusy
	}
	fs.open = make(map[uint32]*Inode)
	return nil
}

// bytesToSectors returns the number of data sectors needed for a file of
// the given byte length.
func bytesToSectors(length int64) uint32 {
	return uint32((length + blockdev.SectorSize - 1) / blockdev.SectorSize)
}
