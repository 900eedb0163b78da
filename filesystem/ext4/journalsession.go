package ext4

import (
	"fmt"

	"github.com/rfhayre/ext4recover/errs"
)

// JournalCopy names one journal-preserved copy of a disk block: which
// transaction wrote it, and which logical block of the journal holds it.
type JournalCopy struct {
	Sequence     uint32
	JournalBlock uint64
}

// Journal is a snapshot of the jbd2 journal's block stream, indexed by the
// disk block each journal block is a copy of. It is read once, up front:
// undelete sweeps every inode and would otherwise re-read and re-parse the
// whole journal per candidate.
type Journal struct {
	blocks []byte
	blockSize uint32
	byBlock journalMap
}

// OpenJournal reads the journal inode's full data, decodes its embedded
// superblock, and builds the disk-block index described in the journal map
// design. It returns an error wrapping errs.UnsupportedFeature if this
// filesystem has no journal at all.
func (fs *FileSystem) OpenJournal() (*Journal, error) {
	if fs.superblock.journalInode == 0 {
		return nil, fmt.Errorf("filesystem has no journal: %w", errs.UnsupportedFeature)
	}
	in, err := fs.readInode(fs.superblock.journalInode)
	if err != nil {
		return nil, fmt.Errorf("reading journal inode: %w", err)
	}
	data, err := fs.inodeData(in)
	if err != nil {
		return nil, fmt.Errorf("reading journal data: %w", err)
	}
	if len(data) < journalSuperblockSize {
		return nil, fmt.Errorf("journal data too short to hold a superblock: %w", errs.FormatError)
	}
	jsb, err := journalSuperblockFromBytes(data[:journalSuperblockSize])
	if err != nil {
		return nil, fmt.Errorf("decoding journal superblock: %w", err)
	}
	if jsb.blockSize == 0 {
		return nil, fmt.Errorf("journal superblock declares zero block size: %w", errs.FormatError)
	}

	var blocks [][]byte
	for offset := 0; offset+int(jsb.blockSize) <= len(data); offset += int(jsb.blockSize) {
		blocks = append(blocks, data[offset:offset+int(jsb.blockSize)])
	}

	return &Journal{
		blocks:    data,
		blockSize: jsb.blockSize,
		byBlock:   buildJournalMap(blocks, jsb),
	}, nil
}

// CopiesForBlock returns every preserved copy of diskBlock, newest
// transaction first, or nil if the journal holds none.
func (j *Journal) CopiesForBlock(diskBlock uint64) []JournalCopy {
	copies := j.byBlock[diskBlock]
	if len(copies) == 0 {
		return nil
	}
	out := make([]JournalCopy, len(copies))
	for i, c := range copies {
		out[i] = JournalCopy{Sequence: c.sequence, JournalBlock: c.journalBlock}
	}
	return out
}

// ReadBlock returns the raw bytes of the journal's own logical block index
// (as named by a JournalCopy.JournalBlock), not a filesystem block number.
func (j *Journal) ReadBlock(index uint64) ([]byte, error) {
	start := index * uint64(j.blockSize)
	end := start + uint64(j.blockSize)
	if end > uint64(len(j.blocks)) {
		return nil, fmt.Errorf("journal block index %d out of range: %w", index, errs.FormatError)
	}
	return j.blocks[start:end], nil
}
