package sifs_test

/*
 These test the exported functions.
 We want full-in tests over a real in-memory device and allocator.
*/

import (
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sectorfs/go-sectorfs/blockdev"
	"github.com/sectorfs/go-sectorfs/blockdev/mem"
	"github.com/sectorfs/go-sectorfs/filesystem/sifs"
	"github.com/sectorfs/go-sectorfs/freemap"
)

const testDeviceSectors = 20000

// sector 0 is reserved the way a superblock area would be
func newTestFilesystem(t *testing.T) (*sifs.FileSystem, *freemap.FreeMap) {
	t.Helper()
	fm, err := freemap.New(testDeviceSectors, 1)
	require.NoError(t, err)
	return sifs.New(mem.New(testDeviceSectors), fm), fm
}

func createAndOpen(t *testing.T, fs *sifs.FileSystem, fm *freemap.FreeMap, length int64) *sifs.Inode {
	t.Helper()
	sector, err := fm.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, fs.Create(sector, length, false))
	in, err := fs.Open(sector)
	require.NoError(t, err)
	return in
}

func pattern(t *testing.T, n int64) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.New(rand.NewSource(42)).Read(b)
	require.NoError(t, err)
	return b
}

func TestCreateOpenLength(t *testing.T) {
	lengths := []int64{
		0,
		1,
		511,
		512,
		600,
		124 * blockdev.SectorSize,
		124*blockdev.SectorSize + 1,
		125 * blockdev.SectorSize,
		(124 + 128) * blockdev.SectorSize,
		(124+128)*blockdev.SectorSize + 300,
	}
	for _, length := range lengths {
		fs, fm := newTestFilesystem(t)
		in := createAndOpen(t, fs, fm, length)
		require.Equal(t, length, in.Length(), "length %d", length)
		require.False(t, in.IsDirectory())
		require.NoError(t, in.Close())
	}
}

func TestCreateDirectoryFlag(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	sector, err := fm.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, fs.Create(sector, 100, true))
	in, err := fs.Open(sector)
	require.NoError(t, err)
	require.True(t, in.IsDirectory())
	require.Equal(t, sector, in.Inumber())
	require.NoError(t, in.Close())
}

func TestCreateAllocationCounts(t *testing.T) {
	tests := []struct {
		name    string
		length  int64
		sectors uint32 // data + index + inode record
	}{
		{"two direct sectors", 600, 2 + 1},
		{"137 data sectors", 70000, 137 + 2 + 1},
		{"empty file", 0, 1},
		{"direct boundary", 124 * blockdev.SectorSize, 124 + 1},
		{"two indirect groups", (124 + 129) * blockdev.SectorSize, (124 + 129) + 3 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, fm := newTestFilesystem(t)
			before := fm.FreeCount()
			sector, err := fm.Allocate(1)
			require.NoError(t, err)
			require.NoError(t, fs.Create(sector, tt.length, false))
			require.Equal(t, tt.sectors, before-fm.FreeCount())
		})
	}
}

func TestCreateTooLarge(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	sector, err := fm.Allocate(1)
	require.NoError(t, err)
	err = fs.Create(sector, sifs.MaxFileSize+1, false)
	require.ErrorIs(t, err, sifs.ErrFileTooLarge)
	// nothing may have been allocated
	require.Equal(t, uint32(testDeviceSectors-2), fm.FreeCount())
}

func TestCreateNoSpace(t *testing.T) {
	fm, err := freemap.New(10, 1)
	require.NoError(t, err)
	fs := sifs.New(mem.New(10), fm)
	sector, err := fm.Allocate(1)
	require.NoError(t, err)

	before := fm.FreeCount()
	err = fs.Create(sector, 20*blockdev.SectorSize, false)
	require.ErrorIs(t, err, sifs.ErrNoSpace)
	require.Equal(t, before, fm.FreeCount())
}

func TestOpenInvalidSector(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.Open(5)
	require.ErrorIs(t, err, sifs.ErrBadMagic)
}

func TestReadWriteRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		length int64
	}{
		{"within one sector", 300},
		{"direct unaligned", 3000},
		{"direct boundary", 124 * blockdev.SectorSize},
		{"first indirect", 125*blockdev.SectorSize - 100},
		{"group crossing", (124+128)*blockdev.SectorSize + 77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, fm := newTestFilesystem(t)
			in := createAndOpen(t, fs, fm, tt.length)
			defer func() { require.NoError(t, in.Close()) }()

			content := pattern(t, tt.length)
			n, err := in.WriteAt(content, 0)
			require.NoError(t, err)
			require.Equal(t, int(tt.length), n)

			back := make([]byte, tt.length)
			n, err = in.ReadAt(back, 0)
			require.NoError(t, err)
			require.Equal(t, int(tt.length), n)
			require.Equal(t, content, back)
		})
	}
}

func TestPartialSectorWrite(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 3*blockdev.SectorSize)
	defer func() { require.NoError(t, in.Close()) }()

	content := pattern(t, 3*blockdev.SectorSize)
	_, err := in.WriteAt(content, 0)
	require.NoError(t, err)

	// overwrite an unaligned range crossing a sector boundary
	patch := []byte("sector-straddling patch")
	offset := int64(blockdev.SectorSize - 10)
	n, err := in.WriteAt(patch, offset)
	require.NoError(t, err)
	require.Equal(t, len(patch), n)
	copy(content[offset:], patch)

	back := make([]byte, len(content))
	_, err = in.ReadAt(back, 0)
	require.NoError(t, err)
	require.Equal(t, content, back)
}

func TestReadPastEnd(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 700)
	defer func() { require.NoError(t, in.Close()) }()

	// short read at the tail
	b := make([]byte, 100)
	n, err := in.ReadAt(b, 650)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 50, n)

	// nothing at or past the length
	n, err = in.ReadAt(b, 700)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 0, n)

	// empty buffer reads nothing, no error
	n, err = in.ReadAt(nil, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWritePastEndIsShort(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 700)
	defer func() { require.NoError(t, in.Close()) }()

	// the write degrades to the bytes that fit below the length
	b := pattern(t, 100)
	n, err := in.WriteAt(b, 650)
	require.NoError(t, err)
	require.Equal(t, 50, n)

	back := make([]byte, 50)
	_, err = in.ReadAt(back, 650)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, b[:50], back)

	n, err = in.WriteAt(b, 700)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestZeroLengthFile(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	before := fm.FreeCount()
	in := createAndOpen(t, fs, fm, 0)

	require.Equal(t, int64(0), in.Length())
	// only the inode record's sector is consumed
	require.Equal(t, uint32(1), before-fm.FreeCount())

	b := make([]byte, 10)
	n, err := in.ReadAt(b, 0)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 0, n)

	n, err = in.WriteAt(b, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, in.Close())
}

func TestSharedHandles(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 1000)
	sector := in.Inumber()

	other, err := fs.Open(sector)
	require.NoError(t, err)
	require.Same(t, in, other)
	require.Equal(t, 1, fs.OpenCount())

	reopened, err := in.Reopen()
	require.NoError(t, err)
	require.Same(t, in, reopened)

	// a write through one handle is visible through the other
	content := pattern(t, 1000)
	_, err = in.WriteAt(content, 0)
	require.NoError(t, err)
	back := make([]byte, 1000)
	_, err = other.ReadAt(back, 0)
	require.NoError(t, err)
	require.Equal(t, content, back)

	// three references: closing two keeps the record registered
	require.NoError(t, in.Close())
	require.NoError(t, other.Close())
	require.Equal(t, 1, fs.OpenCount())
	_, err = reopened.ReadAt(back, 0)
	require.NoError(t, err)

	require.NoError(t, reopened.Close())
	require.Equal(t, 0, fs.OpenCount())
	require.ErrorIs(t, reopened.Close(), sifs.ErrClosed)
	_, err = reopened.Reopen()
	require.ErrorIs(t, err, sifs.ErrClosed)
}

func TestRemoveDefersRelease(t *testing.T) {
	lengths := []int64{0, 600, 70000, (124 + 129) * blockdev.SectorSize}
	for _, length := range lengths {
		fs, fm := newTestFilesystem(t)
		initial := fm.FreeCount()

		in := createAndOpen(t, fs, fm, length)
		second, err := fs.Open(in.Inumber())
		require.NoError(t, err)

		in.Remove()
		consumed := initial - fm.FreeCount()

		// unlink-while-open: the file stays usable through live handles
		content := pattern(t, length)
		n, err := in.WriteAt(content, 0)
		require.NoError(t, err)
		require.Equal(t, int(length), n)

		require.NoError(t, in.Close())
		// one handle still open, nothing released yet
		require.Equal(t, consumed, initial-fm.FreeCount())

		back := make([]byte, length)
		_, err = second.ReadAt(back, 0)
		require.NoError(t, err)
		require.Equal(t, content, back)

		// the last close releases every sector the file occupied
		require.NoError(t, second.Close())
		require.Equal(t, initial, fm.FreeCount(), "length %d", length)
	}
}

func TestDenyWrite(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 1000)
	defer func() { require.NoError(t, in.Close()) }()

	content := pattern(t, 1000)
	_, err := in.WriteAt(content, 0)
	require.NoError(t, err)

	require.NoError(t, in.DenyWrite())

	// a denied write transfers nothing and leaves content untouched
	n, err := in.WriteAt(make([]byte, 1000), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	back := make([]byte, 1000)
	_, err = in.ReadAt(back, 0)
	require.NoError(t, err)
	require.Equal(t, content, back)

	// at most one deny per opener
	require.ErrorIs(t, in.DenyWrite(), sifs.ErrWriteProtocol)

	require.NoError(t, in.AllowWrite())
	n, err = in.WriteAt(make([]byte, 1000), 0)
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	// unbalanced allow is a protocol violation
	require.ErrorIs(t, in.AllowWrite(), sifs.ErrWriteProtocol)
}

func TestDenyWritePerOpener(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 100)
	second, err := fs.Open(in.Inumber())
	require.NoError(t, err)

	require.NoError(t, in.DenyWrite())
	require.NoError(t, second.DenyWrite())
	require.ErrorIs(t, in.DenyWrite(), sifs.ErrWriteProtocol)

	require.NoError(t, in.AllowWrite())
	require.NoError(t, second.AllowWrite())
	require.NoError(t, in.Close())
	require.NoError(t, second.Close())
}

func TestUnmount(t *testing.T) {
	fs, fm := newTestFilesystem(t)
	in := createAndOpen(t, fs, fm, 100)
	require.ErrorIs(t, fs.Unmount(), sifs.ErrBusy)
	require.NoError(t, in.Close())
	require.NoError(t, fs.Unmount())
}

func TestLargestFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ceiling-size file in short mode")
	}
	fm, err := freemap.New(17000, 1)
	require.NoError(t, err)
	fs := sifs.New(mem.New(17000), fm)
	initial := fm.FreeCount()

	sector, err := fm.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, fs.Create(sector, sifs.MaxFileSize, false))

	in, err := fs.Open(sector)
	require.NoError(t, err)
	require.Equal(t, sifs.MaxFileSize, in.Length())

	// spot-check the far end of the tree
	tail := pattern(t, 4000)
	n, err := in.WriteAt(tail, sifs.MaxFileSize-4000)
	require.NoError(t, err)
	require.Equal(t, 4000, n)
	back := make([]byte, 4000)
	_, err = in.ReadAt(back, sifs.MaxFileSize-4000)
	require.NoError(t, err)
	require.Equal(t, tail, back)

	in.Remove()
	require.NoError(t, in.Close())
	require.Equal(t, initial, fm.FreeCount())
}
