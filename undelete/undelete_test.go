package undelete

import (
	"encoding/binary"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rfhayre/ext4recover/backend"
	"github.com/rfhayre/ext4recover/filesystem/ext4"
)

// memStorage is a minimal in-memory backend.Storage, the same shape as the
// ext4 package's own fixture backend, so the engine can be exercised without
// a real image file on disk.
type memStorage struct {
	data []byte
	pos  int64
}

func (m *memStorage) Stat() (iofs.FileInfo, error) { return memFileInfo{size: int64(len(m.data))}, nil }
func (m *memStorage) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}
func (m *memStorage) Close() error { return nil }
func (m *memStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, iofs.ErrInvalid
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
func (m memFileInfo) Mode() iofs.FileMode { return 0o600 }
func (m memFileInfo) ModTime() time.Time { return time.Time{} }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() interface{}   { return nil }

const (
	fxBlockSize      = 1024
	fxBlockCount     = 16
	fxInodesPerGroup = 32
	fxInodeSize      = 128
	fxInodeTableBlk  = 3

	fxRecoveredDataBlk = 7
	fxJournalSBBlk      = 8
	fxJournalDescBlk     = 9
	fxJournalDataBlk     = 10
	fxJournalCommitBlk   = 11

	fxJournalInodeNumber = 8
	fxDeletedInodeNumber = 20

	// on-disk constants mirrored from filesystem/ext4, which keeps them
	// unexported: this fixture builds raw bytes from the outside, the same
	// way the ext4 package's own fixture_test.go does from the inside.
	fxExtentHeaderSignature uint16 = 0xf30a
	fxInodeFlagUsesExtents  uint32 = 0x80000
	fxFileTypeRegularFile   uint16 = 0x8000
	fxCompatHasJournal      uint32 = 0x4
	fxIncompatFileType      uint32 = 0x2
	fxIncompatExtents       uint32 = 0x40
	fxSuperblockSignature   uint16 = 0xef53

	fxJournalMagic              uint32 = 0xC03B3998
	fxJournalBlockTypeDescriptor uint32 = 1
	fxJournalBlockTypeCommit     uint32 = 2
	fxJournalBlockTypeSBv2       uint32 = 4
	fxTagFlagSameUUID           uint16 = 0x2
	fxTagFlagLast               uint16 = 0x8
)

// putExtentLeaf writes a single-entry, depth-0 extent tree node into blk
// (expected to be the 60-byte i_block region), rooted at startingBlock and
// covering length filesystem blocks.
func putExtentLeaf(blk []byte, startingBlock uint64, length uint16) {
	binary.LittleEndian.PutUint16(blk[0:2], fxExtentHeaderSignature)
	binary.LittleEndian.PutUint16(blk[2:4], 1) // entries
	binary.LittleEndian.PutUint16(blk[4:6], 4) // max
	binary.LittleEndian.PutUint16(blk[6:8], 0) // depth
	entryStart := 12
	binary.LittleEndian.PutUint32(blk[entryStart:entryStart+4], 0) // fileBlock
	binary.LittleEndian.PutUint16(blk[entryStart+4:entryStart+6], length)
	binary.LittleEndian.PutUint16(blk[entryStart+6:entryStart+8], uint16(startingBlock>>32))
	binary.LittleEndian.PutUint32(blk[entryStart+8:entryStart+12], uint32(startingBlock))
}

// putJournalHeader writes the common 12-byte big-endian JBD2 block header.
func putJournalHeader(b []byte, blockType uint32, sequence uint32) {
	binary.BigEndian.PutUint32(b[0x0:0x4], fxJournalMagic)
	binary.BigEndian.PutUint32(b[0x4:0x8], blockType)
	binary.BigEndian.PutUint32(b[0x8:0xc], sequence)
}

// putInodeRecord writes a classic 128-byte inode record at the inode table
// address for number, in the same layout filesystem/ext4/inode.go decodes:
// mode @0x0, links @0x1a, dtime @0x14, flags @0x20, ctime @0xc, i_block @0x28.
func putInodeRecord(img []byte, number uint32, mode uint16, links uint16, dtime uint32, ctime uint32, size uint64, flags uint32, blockField func([]byte)) {
	addr := fxInodeTableBlk*fxBlockSize + int(number-1)*fxInodeSize
	b := img[addr : addr+fxInodeSize]
	binary.LittleEndian.PutUint16(b[0x0:0x2], mode)
	binary.LittleEndian.PutUint32(b[0xc:0x10], ctime)
	binary.LittleEndian.PutUint32(b[0x14:0x18], dtime)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], links)
	binary.LittleEndian.PutUint32(b[0x20:0x24], flags)
	sizeBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeBytes, size)
	copy(b[0x4:0x8], sizeBytes[0:4])
	copy(b[0x6c:0x70], sizeBytes[4:8])
	blockField(b[0x28:0x64])
}

// buildJournalFixtureImage lays out a tiny, single-block-group, 1024-byte-
// block ext4 image with a journal inode whose data holds exactly one
// committed transaction: a descriptor naming disk block 5 (the inode-table
// block housing inode 20's record), followed by a data block carrying an
// older, not-yet-deleted copy of that record, followed by a commit block.
//
//	block 0      boot block (unused)
//	block 1      superblock
//	block 2      group descriptor table
//	blocks 3-6   inode table (32 inodes * 128 bytes)
//	block 7      recovered file content ("recovered content\n")
//	block 8      journal superblock
//	block 9      journal descriptor block (tags disk block 5)
//	block 10     journal data block (predecessor copy of disk block 5)
//	block 11     journal commit block
//
// Inode 20 is "deleted" in the live image (dtime set, links 0) but its
// predecessor copy in the journal still has dtime 0 and a valid extent
// pointing at block 7.
func buildJournalFixtureImage(recoveredContent string, deletionTime uint32) []byte {
	img := make([]byte, fxBlockSize*fxBlockCount)

	sb := img[1024 : 1024+1024]
	binary.LittleEndian.PutUint32(sb[0x0:0x4], fxInodesPerGroup) // inodes_count
	binary.LittleEndian.PutUint32(sb[0x4:0x8], fxBlockCount)     // blocks_count_lo
	binary.LittleEndian.PutUint32(sb[0x14:0x18], 1)              // first_data_block
	binary.LittleEndian.PutUint32(sb[0x18:0x1c], 0)              // log_block_size -> 1024<<0
	binary.LittleEndian.PutUint32(sb[0x20:0x24], fxBlockCount)   // blocks_per_group
	binary.LittleEndian.PutUint32(sb[0x28:0x2c], fxInodesPerGroup)
	binary.LittleEndian.PutUint32(sb[0x54:0x58], 11) // first_ino
	binary.LittleEndian.PutUint16(sb[0x58:0x5a], fxInodeSize)
	binary.LittleEndian.PutUint32(sb[0x5c:0x60], fxCompatHasJournal)
	binary.LittleEndian.PutUint32(sb[0x60:0x64], fxIncompatFileType|fxIncompatExtents)
	binary.LittleEndian.PutUint16(sb[0x38:0x3a], fxSuperblockSignature)
	binary.LittleEndian.PutUint32(sb[0xe0:0xe4], fxJournalInodeNumber)

	gd := img[2048 : 2048+32]
	binary.LittleEndian.PutUint32(gd[0x8:0xc], fxInodeTableBlk) // inode_table_lo

	// Journal inode: one extent, blocks 8-11 (superblock + descriptor + data + commit).
	putInodeRecord(img, fxJournalInodeNumber, fxFileTypeRegularFile|0o600, 1, 0, 0, 4*fxBlockSize, fxInodeFlagUsesExtents,
		func(blk []byte) { putExtentLeaf(blk, fxJournalSBBlk, 4) })

	// Inode 20, live on-disk copy: looks deleted (dtime set, no links), its
	// own extent is never dereferenced by the undelete engine.
	putInodeRecord(img, fxDeletedInodeNumber, fxFileTypeRegularFile|0o644, 0, deletionTime, 0, fxBlockSize, fxInodeFlagUsesExtents,
		func(blk []byte) { putExtentLeaf(blk, 2, 1) })

	// Recovered file content, sitting at the block the predecessor's extent
	// tree points to.
	copy(img[fxRecoveredDataBlk*fxBlockSize:], recoveredContent)

	// Journal superblock block.
	jsb := make([]byte, fxBlockSize)
	putJournalHeader(jsb, fxJournalBlockTypeSBv2, 1)
	binary.BigEndian.PutUint32(jsb[0xc:0x10], fxBlockSize) // blocksize
	binary.BigEndian.PutUint32(jsb[0x18:0x1c], 1)          // sequence

	// Journal descriptor block: one tag naming disk block 5 (the inode-table
	// block holding inode 20's record), last tag in the run.
	jdesc := make([]byte, fxBlockSize)
	putJournalHeader(jdesc, fxJournalBlockTypeDescriptor, 1)
	binary.BigEndian.PutUint32(jdesc[12:16], 5) // blocknr
	binary.BigEndian.PutUint16(jdesc[18:20], fxTagFlagSameUUID|fxTagFlagLast)

	// Journal data block: a copy of disk block 5 as it looked before inode
	// 20 was deleted - dtime 0, a live link count, and an extent pointing at
	// the recovered content block.
	jdata := make([]byte, fxBlockSize)
	predecessorOffset := (fxDeletedInodeNumber-1)*fxInodeSize - (5-fxInodeTableBlk)*fxBlockSize
	predecessor := jdata[predecessorOffset : predecessorOffset+fxInodeSize]
	binary.LittleEndian.PutUint16(predecessor[0x0:0x2], fxFileTypeRegularFile|0o644)
	binary.LittleEndian.PutUint32(predecessor[0xc:0x10], 1690000000) // ctime
	binary.LittleEndian.PutUint16(predecessor[0x1a:0x1c], 1)         // links
	binary.LittleEndian.PutUint32(predecessor[0x20:0x24], fxInodeFlagUsesExtents)
	sizeBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeBytes, uint64(len(recoveredContent)))
	copy(predecessor[0x4:0x8], sizeBytes[0:4])
	copy(predecessor[0x6c:0x70], sizeBytes[4:8])
	putExtentLeaf(predecessor[0x28:0x64], fxRecoveredDataBlk, 1)

	// Journal commit block, closing sequence 1.
	jcommit := make([]byte, fxBlockSize)
	putJournalHeader(jcommit, fxJournalBlockTypeCommit, 1)

	journalData := append(append(append(jsb, jdesc...), jdata...), jcommit...)
	copy(img[fxJournalSBBlk*fxBlockSize:], journalData)

	return img
}

func openJournalFixture(t *testing.T, recoveredContent string, deletionTime uint32) *ext4.FileSystem {
	t.Helper()
	fs, err := ext4.Open(&memStorage{data: buildJournalFixtureImage(recoveredContent, deletionTime)}, 0)
	if err != nil {
		t.Fatalf("ext4.Open: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunRecoversPredecessorFromJournal(t *testing.T) {
	const content = "recovered content\n"
	const deletionTime = 1700000000

	fs := openJournalFixture(t, content, deletionTime)
	outDir := t.TempDir()

	results, err := Run(fs, Options{OutDir: outDir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1: %+v", len(results), results)
	}

	got := results[0]
	if got.InodeNumber != fxDeletedInodeNumber {
		t.Errorf("InodeNumber = %d, want %d", got.InodeNumber, fxDeletedInodeNumber)
	}
	if got.Bytes != len(content) {
		t.Errorf("Bytes = %d, want %d", got.Bytes, len(content))
	}

	wantName := time.Unix(deletionTime, 0).Local().Format("2006-01-02 15:04:05") + " - 0"
	if filepath.Base(got.Path) != wantName {
		t.Errorf("basename = %q, want %q (no zone suffix)", filepath.Base(got.Path), wantName)
	}
	if strings.Contains(filepath.Base(got.Path), "UTC") || strings.ContainsAny(filepath.Base(got.Path), "+") {
		t.Errorf("basename %q leaked a zone suffix", filepath.Base(got.Path))
	}

	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatalf("reading recovered file: %v", err)
	}
	if string(data) != content {
		t.Errorf("recovered content = %q, want %q", data, content)
	}
}

func TestRunSkipsLiveInodes(t *testing.T) {
	fs := openJournalFixture(t, "recovered content\n", 1700000000)
	outDir := t.TempDir()

	results, err := Run(fs, Options{OutDir: outDir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if r.InodeNumber == fxJournalInodeNumber {
			t.Errorf("journal inode itself was treated as a recovery candidate: %+v", r)
		}
	}
}

func TestDelTrailingZeros(t *testing.T) {
	got := delTrailingZeros([]byte("hello\x00\x00\x00"))
	if string(got) != "hello" {
		t.Errorf("delTrailingZeros = %q, want %q", got, "hello")
	}
	if got := delTrailingZeros([]byte{}); len(got) != 0 {
		t.Errorf("delTrailingZeros(empty) = %v, want empty", got)
	}
}
