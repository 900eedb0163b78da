package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/rfhayre/ext4recover/errs"
)

// journalBlockType identifies the kind of record a JBD2 block holds.
type journalBlockType uint32

const (
	journalBlockTypeDescriptor   journalBlockType = 1
	journalBlockTypeCommit       journalBlockType = 2
	journalBlockTypeSuperblockV1 journalBlockType = 3
	journalBlockTypeSuperblockV2 journalBlockType = 4
	journalBlockTypeRevoke       journalBlockType = 5

	// journalMagic identifies every JBD2 block.
	journalMagic uint32 = 0xC03B3998

	// Feature flags for the jbd2 journal.
	jbd2CompatFeatureChecksum      uint32 = 0x1
	jbd2IncompatFeatureRevoke      uint32 = 0x1
	jbd2IncompatFeature64Bit       uint32 = 0x2
	jbd2IncompatFeatureAsyncCommit uint32 = 0x4
	jbd2IncompatFeatureChecksumV2  uint32 = 0x8
	jbd2IncompatFeatureChecksumV3  uint32 = 0x10
	jbd2IncompatFeatureFastCommit  uint32 = 0x20

	// Tag flags.
	tagFlagSameUUID uint16 = 0x2
	tagFlagLast     uint16 = 0x8

	// journalSuperblockSize is the fixed on-disk size of the journal superblock record.
	journalSuperblockSize = 1024
)

// journalHeader is the common 12-byte header for all journal blocks.
type journalHeader struct {
	magic     uint32
	blockType journalBlockType
	sequence  uint32
}

// journalSuperblock is the decoded jbd2 journal superblock.
type journalSuperblock struct {
	header           *journalHeader
	blockSize        uint32
	maxLen           uint32
	first            uint32
	sequence         uint32
	start            uint32
	compatFeatures   uint32
	incompatFeatures uint32
	roCompatFeatures uint32
	uuid             *uuid.UUID
}

// journalBlockTag is a decoded block tag from a descriptor block, unified
// across the v2/v3 on-disk layouts.
type journalBlockTag struct {
	blockNr uint64
	flags   uint32
	uuid    []byte
}

// journalDescriptorBlock is a decoded descriptor block and its tags.
type journalDescriptorBlock struct {
	header *journalHeader
	tags   []*journalBlockTag
}

// journalCommitBlock is a decoded commit block, closing out a transaction.
type journalCommitBlock struct {
	header *journalHeader
}

// journalRevokeBlock is a decoded revoke block, listing blocks whose earlier
// journal copies should not be replayed.
type journalRevokeBlock struct {
	header *journalHeader
	blocks []uint64
}

// journalHeaderFromBytes decodes the common 12-byte block header.
func journalHeaderFromBytes(b []byte) (*journalHeader, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("cannot read journal header from %d bytes, need at least 12", len(b))
	}

	magic := binary.BigEndian.Uint32(b[0x0:0x4])
	if magic != journalMagic {
		return nil, fmt.Errorf("invalid journal magic 0x%x, expected 0x%x: %w", magic, journalMagic, errs.FormatError)
	}

	return &journalHeader{
		magic:     magic,
		blockType: journalBlockType(binary.BigEndian.Uint32(b[0x4:0x8])),
		sequence:  binary.BigEndian.Uint32(b[0x8:0xc]),
	}, nil
}

// journalSuperblockFromBytes decodes the journal's own superblock, found at
// the first block of the journal inode's data.
func journalSuperblockFromBytes(b []byte) (*journalSuperblock, error) {
	if len(b) != journalSuperblockSize {
		return nil, fmt.Errorf("cannot read journal superblock from %d bytes, expected %d", len(b), journalSuperblockSize)
	}

	header, err := journalHeaderFromBytes(b[0x0:0xc])
	if err != nil {
		return nil, fmt.Errorf("invalid journal superblock header: %v", err)
	}

	if header.blockType != journalBlockTypeSuperblockV1 && header.blockType != journalBlockTypeSuperblockV2 {
		return nil, fmt.Errorf("expected journal superblock type (3 or 4), got %d", header.blockType)
	}

	js := &journalSuperblock{
		header:    header,
		blockSize: binary.BigEndian.Uint32(b[0xc:0x10]),
		maxLen:    binary.BigEndian.Uint32(b[0x10:0x14]),
		first:     binary.BigEndian.Uint32(b[0x14:0x18]),
		sequence:  binary.BigEndian.Uint32(b[0x18:0x1c]),
		start:     binary.BigEndian.Uint32(b[0x1c:0x20]),
	}

	if header.blockType == journalBlockTypeSuperblockV2 {
		js.compatFeatures = binary.BigEndian.Uint32(b[0x24:0x28])
		js.incompatFeatures = binary.BigEndian.Uint32(b[0x28:0x2c])
		js.roCompatFeatures = binary.BigEndian.Uint32(b[0x2c:0x30])

		uuidBytes := make([]byte, 16)
		copy(uuidBytes, b[0x30:0x40])
		if parsedUUID, err := uuid.FromBytes(uuidBytes); err == nil {
			js.uuid = &parsedUUID
		}
	}

	return js, nil
}

// uses64BitBlockNumbers reports whether journal block tags carry a high word.
func (js *journalSuperblock) uses64BitBlockNumbers() bool {
	return js.incompatFeatures&jbd2IncompatFeature64Bit != 0
}

// usesChecksumV3 reports whether block tags use the unified v3 layout.
func (js *journalSuperblock) usesChecksumV3() bool {
	return js.incompatFeatures&jbd2IncompatFeatureChecksumV3 != 0
}

// journalDescriptorBlockFromBytes decodes a descriptor block: a run of block
// tags naming which disk blocks the following data blocks in this
// transaction belong to.
func journalDescriptorBlockFromBytes(b []byte, sb *journalSuperblock) (*journalDescriptorBlock, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("cannot read descriptor block from %d bytes, need at least 12", len(b))
	}

	header, err := journalHeaderFromBytes(b[0x0:0xc])
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor block header: %v", err)
	}

	if header.blockType != journalBlockTypeDescriptor {
		return nil, fmt.Errorf("expected descriptor block type (1), got %d", header.blockType)
	}

	dblock := &journalDescriptorBlock{header: header}

	offset := 12
	for offset < len(b) {
		tag, size, err := parseBlockTag(b[offset:], sb)
		if err != nil {
			break
		}
		dblock.tags = append(dblock.tags, tag)
		if tag.flags&uint32(tagFlagLast) != 0 {
			break
		}
		offset += size
	}

	return dblock, nil
}

// parseBlockTag decodes one block tag, unifying the v2 (8-byte base, optional
// 4-byte high word, optional 16-byte UUID) and v3 (16-byte unified) layouts.
func parseBlockTag(b []byte, sb *journalSuperblock) (*journalBlockTag, int, error) {
	if sb != nil && sb.usesChecksumV3() {
		if len(b) < 16 {
			return nil, 0, fmt.Errorf("not enough bytes for v3 block tag")
		}
		blockNrLo := binary.BigEndian.Uint32(b[0x0:0x4])
		flags := binary.BigEndian.Uint32(b[0x4:0x8])
		blockNrHi := binary.BigEndian.Uint32(b[0x8:0xc])
		tag := &journalBlockTag{
			blockNr: uint64(blockNrLo) | uint64(blockNrHi)<<32,
			flags:   flags,
		}
		size := 16
		if flags&uint32(tagFlagSameUUID) == 0 {
			if len(b) < size+16 {
				return nil, 0, fmt.Errorf("not enough bytes for v3 block tag uuid")
			}
			tag.uuid = append([]byte(nil), b[size:size+16]...)
			size += 16
		}
		return tag, size, nil
	}

	if len(b) < 8 {
		return nil, 0, fmt.Errorf("not enough bytes for block tag")
	}
	blockNrLo := binary.BigEndian.Uint32(b[0x0:0x4])
	flags16 := binary.BigEndian.Uint16(b[0x6:0x8])
	tag := &journalBlockTag{
		blockNr: uint64(blockNrLo),
		flags:   uint32(flags16),
	}
	offset := 8
	if sb != nil && sb.uses64BitBlockNumbers() {
		if len(b) < offset+4 {
			return nil, 0, fmt.Errorf("not enough bytes for 64-bit block tag")
		}
		tag.blockNr |= uint64(binary.BigEndian.Uint32(b[offset:offset+4])) << 32
		offset += 4
	}
	if tag.flags&uint32(tagFlagSameUUID) == 0 {
		if len(b) < offset+16 {
			return nil, 0, fmt.Errorf("not enough bytes for block tag uuid")
		}
		tag.uuid = append([]byte(nil), b[offset:offset+16]...)
		offset += 16
	}
	return tag, offset, nil
}

// journalCommitBlockFromBytes decodes a commit block.
func journalCommitBlockFromBytes(b []byte) (*journalCommitBlock, error) {
	if len(b) < 32 {
		return nil, fmt.Errorf("cannot read commit block from %d bytes, need at least 32", len(b))
	}

	header, err := journalHeaderFromBytes(b[0x0:0xc])
	if err != nil {
		return nil, fmt.Errorf("invalid commit block header: %v", err)
	}

	if header.blockType != journalBlockTypeCommit {
		return nil, fmt.Errorf("expected commit block type (2), got %d", header.blockType)
	}

	return &journalCommitBlock{header: header}, nil
}

// journalRevokeBlockFromBytes decodes a revoke block.
func journalRevokeBlockFromBytes(b []byte, sb *journalSuperblock) (*journalRevokeBlock, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("cannot read revoke block from %d bytes, need at least 16", len(b))
	}

	header, err := journalHeaderFromBytes(b[0x0:0xc])
	if err != nil {
		return nil, fmt.Errorf("invalid revoke block header: %v", err)
	}

	if header.blockType != journalBlockTypeRevoke {
		return nil, fmt.Errorf("expected revoke block type (5), got %d", header.blockType)
	}

	count := binary.BigEndian.Uint32(b[0xc:0x10])
	rblock := &journalRevokeBlock{header: header}

	offset := 16
	blockSize := uint32(4)
	if sb != nil && sb.uses64BitBlockNumbers() {
		blockSize = 8
	}
	if count < 16 {
		return rblock, nil
	}
	numBlocks := (count - 16) / blockSize
	for i := uint32(0); i < numBlocks && offset+int(blockSize) <= len(b); i++ {
		if blockSize == 8 {
			rblock.blocks = append(rblock.blocks, binary.BigEndian.Uint64(b[offset:offset+8]))
			offset += 8
		} else {
			rblock.blocks = append(rblock.blocks, uint64(binary.BigEndian.Uint32(b[offset:offset+4])))
			offset += 4
		}
	}

	return rblock, nil
}
