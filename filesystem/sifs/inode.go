package sifs

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sectorfs/go-sectorfs/blockdev"
)

// On-disk inode record layout, little-endian, exactly one sector:
//
//	0   direct sector pointers, 124 x uint32
//	496 first-level index sector, uint32
//	500 directory flag, 1 byte + 3 bytes padding
//	504 length in bytes, uint32
//	508 magic, uint32
const (
	indexSectorOffset = directSlots * 4
	dirFlagOffset     = indexSectorOffset + 4
	lengthOffset      = dirFlagOffset + 4
	magicOffset       = lengthOffset + 4
)

// inodeRecord is the parsed form of an on-disk inode.
type inodeRecord struct {
	direct      [directSlots]uint32
	indexSector uint32
	isDirectory bool
	length      int64
}

func (rec *inodeRecord) toBytes() []byte {
	b := make([]byte, blockdev.SectorSize)
	for i, s := range rec.direct {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], s)
	}
	binary.LittleEndian.PutUint32(b[indexSectorOffset:indexSectorOffset+4], rec.indexSector)
	if rec.isDirectory {
		b[dirFlagOffset] = 1
	}
	binary.LittleEndian.PutUint32(b[lengthOffset:lengthOffset+4], uint32(rec.length))
	binary.LittleEndian.PutUint32(b[magicOffset:magicOffset+4], inodeMagic)
	return b
}

func inodeRecordFromBytes(b []byte) (*inodeRecord, error) {
	if len(b) != blockdev.SectorSize {
		return nil, fmt.Errorf("inode record must be exactly %d bytes, not %d", blockdev.SectorSize, len(b))
	}
	if binary.LittleEndian.Uint32(b[magicOffset:magicOffset+4]) != inodeMagic {
		return nil, ErrBadMagic
	}
	rec := inodeRecord{
		indexSector: binary.LittleEndian.Uint32(b[indexSectorOffset : indexSectorOffset+4]),
		isDirectory: b[dirFlagOffset] != 0,
		length:      int64(binary.LittleEndian.Uint32(b[lengthOffset : lengthOffset+4])),
	}
	for i := 0; i < directSlots; i++ {
		rec.direct[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return &rec, nil
}

// Inode is an open handle on one on-disk inode. All opens of the same
// inode sector through one FileSystem share a single Inode, so writes
// made through one handle are visible to the others. The record is read
// from disk once, on first open, and never refreshed.
type Inode struct {
	fs     *FileSystem
	sector uint32

	// guarded by fs.mu
	openCount int
	removed   bool
	denyWrite int

	rec inodeRecord
}

// Open returns a handle on the inode stored at the given sector. If the
// inode is already open, the existing record is shared and its reference
// count incremented; otherwise the record is read from disk.
func (fs *FileSystem) Open(sector uint32) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if in, ok := fs.open[sector]; ok {
		in.openCount++
		return in, nil
	}

	b := make([]byte, blockdev.SectorSize)
	if err := fs.device.ReadSector(sector, b); err != nil {
		return nil, fmt.Errorf("unable to read inode record at sector %d: %v", sector, err)
	}
	rec, err := inodeRecordFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("inode record at sector %d: %w", sector, err)
	}

	in := &Inode{
		fs:        fs,
		sector:    sector,
		openCount: 1,
		rec:       *rec,
	}
	fs.open[sector] = in
	log.WithFields(log.Fields{"sector": sector, "length": rec.length}).Debug("sifs: opened inode")
	return in, nil
}

// Reopen takes an additional reference on an already-open inode and
// returns the same handle.
func (in *Inode) Reopen() (*Inode, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	if in.openCount == 0 {
		return nil, ErrClosed
	}
	in.openCount++
	return in, nil
}

// Close releases one reference. When the last reference goes, the inode
// leaves the registry, and if it was removed its whole sector tree plus
// the inode sector itself are returned to the allocator.
func (in *Inode) Close() error {
	fs := in.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if in.openCount == 0 {
		return ErrClosed
	}
	in.openCount--
	if in.openCount > 0 {
		return nil
	}
	delete(fs.open, in.sector)

	if !in.removed {
		return nil
	}
	if err := fs.releaseTree(&in.rec); err != nil {
		return fmt.Errorf("unable to release sectors of inode %d: %w", in.sector, err)
	}
	if err := fs.alloc.Release(in.sector, 1); err != nil {
		return fmt.Errorf("unable to release inode sector %d: %w", in.sector, err)
	}
	log.WithFields(log.Fields{"sector": in.sector, "length": in.rec.length}).Debug("sifs: released removed inode")
	return nil
}

// Remove marks the inode for deletion. Nothing is freed until the last
// handle is closed; until then the file remains fully readable and
// writable through existing handles.
func (in *Inode) Remove() {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	in.removed = true
}

// Length returns the file length in bytes.
func (in *Inode) Length() int64 {
	return in.rec.length
}

// Inumber returns the sector number holding the inode record, which is
// the inode's identity.
func (in *Inode) Inumber() uint32 {
	return in.sector
}

// IsDirectory reports whether the directory layer tagged this inode as a
// directory at creation. This layer attaches no meaning to the flag.
func (in *Inode) IsDirectory() bool {
	return in.rec.isDirectory
}

// DenyWrite blocks writes through every handle on this inode until a
// matching AllowWrite. At most one DenyWrite per open reference may be
// outstanding.
func (in *Inode) DenyWrite() error {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	if in.denyWrite >= in.openCount {
		return fmt.Errorf("deny count %d with %d openers: %w", in.denyWrite, in.openCount, ErrWriteProtocol)
	}
	in.denyWrite++
	return nil
}

// AllowWrite undoes one DenyWrite. Calling it with no outstanding
// DenyWrite is a protocol violation.
func (in *Inode) AllowWrite() error {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	if in.denyWrite == 0 {
		return fmt.Errorf("allow without matching deny: %w", ErrWriteProtocol)
	}
	in.denyWrite--
	return nil
}

func (in *Inode) writeDenied() bool {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()
	return in.denyWrite > 0
}
