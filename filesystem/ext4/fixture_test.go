package ext4

import (
	"encoding/binary"
	"io/fs"
	"os"
	"time"

	"github.com/rfhayre/ext4recover/backend"
)

// memStorage is a backend.Storage over an in-memory byte slice, used to
// exercise the decoder against a hand-built image without touching disk.
type memStorage struct {
	data []byte
	pos  int64
}

func (m *memStorage) Stat() (fs.FileInfo, error) { return memFileInfo{size: int64(len(m.data))}, nil }
func (m *memStorage) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}
func (m *memStorage) Close() error { return nil }
func (m *memStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, fs.ErrInvalid
	}
	n := copy(p, m.data[off:])
	return n, nil
}
func (m *memStorage) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}
func (m *memStorage) Sys() (*os.File, error)                  { return nil, backend.ErrNotSuitable }
func (m *memStorage) Writable() (backend.WritableFile, error) { return nil, backend.ErrIncorrectOpenMode }

var _ backend.Storage = (*memStorage)(nil)

type memFileInfo struct{ size int64 }

func (m memFileInfo) Name() string       { return "mem" }
func (m memFileInfo) Size() int64        { return m.size }
func (m memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (m memFileInfo) ModTime() time.Time { return time.Time{} }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() interface{}   { return nil }

// fixtureImage lays out a tiny, single-block-group, 1024-byte-block ext4
// image by hand:
//
//	block 0  boot block (unused)
//	block 1  superblock
//	block 2  group descriptor table
//	blocks 3-6 inode table (32 inodes * 128 bytes)
//	block 7  root directory entries
//	block 8  lost+found directory entries
//	block 9  dir1 directory entries
//	block 10 file1 data ("hello world\n")
//	block 11 file2 data ("line one\nline two\n")
//
// inode 11 = lost+found, 12 = file1, 13 = dir1, 14 = file2, 15 = link1 (a
// fast symlink to "file1", target stored inline in i_block).
func fixtureImage() []byte {
	const (
		blockSize      = 1024
		blockCount     = 16
		inodesPerGroup = 32
		inodeSize      = 128
		inodeTableBlk  = 3
	)
	img := make([]byte, blockSize*blockCount)

	// Superblock at byte offset 1024.
	sb := img[1024 : 1024+1024]
	binary.LittleEndian.PutUint32(sb[0x0:0x4], inodesPerGroup) // inodes_count
	binary.LittleEndian.PutUint32(sb[0x4:0x8], blockCount)     // blocks_count_lo
	binary.LittleEndian.PutUint32(sb[0x10:0x14], 0)            // free_inodes_count
	binary.LittleEndian.PutUint32(sb[0x14:0x18], 1)            // first_data_block
	binary.LittleEndian.PutUint32(sb[0x18:0x1c], 0)            // log_block_size -> 1024<<0
	binary.LittleEndian.PutUint32(sb[0x20:0x24], blockCount)   // blocks_per_group
	binary.LittleEndian.PutUint32(sb[0x28:0x2c], inodesPerGroup)
	binary.LittleEndian.PutUint32(sb[0x54:0x58], 11) // first_ino
	binary.LittleEndian.PutUint16(sb[0x58:0x5a], inodeSize)
	binary.LittleEndian.PutUint32(sb[0x5c:0x60], 0x4)    // feature_compat: has journal (unused by fixture)
	binary.LittleEndian.PutUint32(sb[0x60:0x64], 0x2|0x40) // feature_incompat: filetype | extents
	binary.LittleEndian.PutUint16(sb[0x38:0x3a], superblockSignature)

	// Group descriptor table at byte offset 2048 (block 2), 32-byte classic form.
	gd := img[2048 : 2048+32]
	binary.LittleEndian.PutUint32(gd[0x8:0xc], inodeTableBlk) // inode_table_lo

	putInode := func(number uint32, mode uint16, links uint16, size uint64, blockField func([]byte)) {
		addr := inodeTableBlk*blockSize + int(number-1)*inodeSize
		b := img[addr : addr+inodeSize]
		binary.LittleEndian.PutUint16(b[0x0:0x2], mode)
		binary.LittleEndian.PutUint16(b[0x1a:0x1c], links)
		sizeBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(sizeBytes, size)
		copy(b[0x4:0x8], sizeBytes[0:4])
		copy(b[0x6c:0x70], sizeBytes[4:8])
		blockField(b[0x28:0x64])
	}

	extentBlock := func(startingBlock uint64, length uint16) func([]byte) {
		return func(blk []byte) {
			binary.LittleEndian.PutUint16(blk[0:2], extentHeaderSignature)
			binary.LittleEndian.PutUint16(blk[2:4], 1)
			binary.LittleEndian.PutUint16(blk[4:6], 4)
			binary.LittleEndian.PutUint16(blk[6:8], 0)
			entryStart := extentTreeHeaderLength
			binary.LittleEndian.PutUint32(blk[entryStart:entryStart+4], 0)
			binary.LittleEndian.PutUint16(blk[entryStart+4:entryStart+6], length)
			binary.LittleEndian.PutUint16(blk[entryStart+6:entryStart+8], uint16(startingBlock>>32))
			binary.LittleEndian.PutUint32(blk[entryStart+8:entryStart+12], uint32(startingBlock))
		}
	}
	setFlags := func(number uint32, flags uint32) {
		addr := inodeTableBlk*blockSize + int(number-1)*inodeSize
		binary.LittleEndian.PutUint32(img[addr+0x20:addr+0x24], flags)
	}

	// inode 2: root directory, one block (7).
	putInode(2, uint16(fileTypeDirectory)|0o755, 1, blockSize, extentBlock(7, 1))
	setFlags(2, uint32(inodeFlagUsesExtents))

	// inode 11: lost+found, one block (8).
	putInode(11, uint16(fileTypeDirectory)|0o755, 1, blockSize, extentBlock(8, 1))
	setFlags(11, uint32(inodeFlagUsesExtents))

	// inode 12: file1, one block (10), content "hello world\n".
	putInode(12, uint16(fileTypeRegularFile)|0o644, 1, 12, extentBlock(10, 1))
	setFlags(12, uint32(inodeFlagUsesExtents))
	copy(img[10*blockSize:], "hello world\n")

	// inode 13: dir1, one block (9).
	putInode(13, uint16(fileTypeDirectory)|0o755, 1, blockSize, extentBlock(9, 1))
	setFlags(13, uint32(inodeFlagUsesExtents))

	// inode 14: file2, one block (11), content "line one\nline two\n".
	putInode(14, uint16(fileTypeRegularFile)|0o644, 1, 18, extentBlock(11, 1))
	setFlags(14, uint32(inodeFlagUsesExtents))
	copy(img[11*blockSize:], "line one\nline two\n")

	// inode 15: link1 -> file1, fast symlink, target stored inline in i_block.
	putInode(15, uint16(fileTypeSymbolicLink)|0o777, 1, 5, func(blk []byte) {
		copy(blk, "file1")
	})

	// Root directory data (block 7): ".", "..", "lost+found", "file1", "dir1", "link1".
	writeDirBlock(img[7*blockSize:8*blockSize], []dirEntrySpec{
		{2, ".", dirEntryTypeDir},
		{2, "..", dirEntryTypeDir},
		{11, "lost+found", dirEntryTypeDir},
		{12, "file1", dirEntryTypeRegular},
		{13, "dir1", dirEntryTypeDir},
		{15, "link1", dirEntryTypeSymlink},
	})

	// lost+found directory data (block 8): ".", "..".
	writeDirBlock(img[8*blockSize:9*blockSize], []dirEntrySpec{
		{11, ".", dirEntryTypeDir},
		{2, "..", dirEntryTypeDir},
	})

	// dir1 directory data (block 9): ".", "..", "file2".
	writeDirBlock(img[9*blockSize:10*blockSize], []dirEntrySpec{
		{13, ".", dirEntryTypeDir},
		{2, "..", dirEntryTypeDir},
		{14, "file2", dirEntryTypeRegular},
	})

	return img
}

type dirEntrySpec struct {
	inode uint32
	name  string
	ft    dirEntryFileType
}

// writeDirBlock lays out entries in blk, each sized to its exact minimal
// rec_len except the last, which is stretched to the end of the block (a
// real ext4 directory block always ends with a record reaching the block
// boundary).
func writeDirBlock(blk []byte, entries []dirEntrySpec) {
	offset := 0
	for i, e := range entries {
		recLen := dirEntryHeaderSize + len(e.name)
		recLen = (recLen + 3) &^ 3 // round up to 4-byte alignment
		if i == len(entries)-1 {
			recLen = len(blk) - offset
		}
		binary.LittleEndian.PutUint32(blk[offset:offset+4], e.inode)
		binary.LittleEndian.PutUint16(blk[offset+4:offset+6], uint16(recLen))
		blk[offset+6] = byte(len(e.name))
		blk[offset+7] = byte(e.ft)
		copy(blk[offset+8:], e.name)
		offset += recLen
	}
}

func openFixture() (*FileSystem, error) {
	return Open(&memStorage{data: fixtureImage()}, 0)
}
