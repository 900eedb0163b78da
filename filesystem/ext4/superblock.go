package ext4

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rfhayre/ext4recover/errs"
)

const (
	// superblockSignature is the magic value every valid ext4 superblock carries at 0x38.
	superblockSignature uint16 = 0xef53
	// superblockSize is the fixed on-disk size of the superblock record.
	superblockSize int = 1024
	// superblockOffset is the byte offset of the superblock within the image.
	superblockOffset int64 = 1024
)

// featureFlags tracks the compat/incompat/ro_compat bits this decoder cares about.
// Bits outside this set are preserved in the raw ints so UnsupportedFeature checks
// can still inspect them, but are not broken out into named booleans.
type featureFlags struct {
	compat      uint32
	incompat    uint32
	roCompat    uint32
	hasJournal  bool
	fileType    bool // INCOMPAT_FILETYPE: directory entries carry a file type byte
	recovery    bool // INCOMPAT_RECOVER: journal replay needed
	metaBG      bool // INCOMPAT_META_BG
	extents     bool // INCOMPAT_EXTENTS
	fs64Bit     bool // INCOMPAT_64BIT
	inlineData  bool // INCOMPAT_INLINE_DATA
	encryption  bool // INCOMPAT_ENCRYPT
	hugeFile    bool // RO_COMPAT_HUGE_FILE
	bigalloc    bool // RO_COMPAT_BIGALLOC
	readOnly    bool // RO_COMPAT_READONLY
	gdtChecksum bool // RO_COMPAT_GDT_CSUM
}

const (
	compatHasJournal uint32 = 0x4

	incompatCompression uint32 = 0x1
	incompatFileType    uint32 = 0x2
	incompatRecover     uint32 = 0x4
	incompatJournalDev  uint32 = 0x8
	incompatMetaBG      uint32 = 0x10
	incompatExtents     uint32 = 0x40
	incompat64Bit       uint32 = 0x80
	incompatMMP         uint32 = 0x100
	incompatFlexBG      uint32 = 0x200
	incompatEAInode     uint32 = 0x400
	incompatDirData     uint32 = 0x1000
	incompatCsumSeed    uint32 = 0x2000
	incompatLargeDir    uint32 = 0x4000
	incompatInlineData  uint32 = 0x8000
	incompatEncrypt     uint32 = 0x10000

	roCompatSparseSuper uint32 = 0x1
	roCompatLargeFile   uint32 = 0x2
	roCompatBtreeDir    uint32 = 0x4
	roCompatHugeFile    uint32 = 0x8
	roCompatGDTChecksum uint32 = 0x10
	roCompatDirNlink    uint32 = 0x20
	roCompatExtraIsize  uint32 = 0x40
	roCompatQuota       uint32 = 0x100
	roCompatBigalloc    uint32 = 0x200
	roCompatMetadataCsm uint32 = 0x400
	roCompatReadOnly    uint32 = 0x1000
	roCompatProject     uint32 = 0x2000
)

// parseFeatureFlags breaks the raw compat, incompat and ro_compat words out
// into the named booleans the rest of the decoder consults.
func parseFeatureFlags(compat, incompat, roCompat uint32) featureFlags {
	return featureFlags{
		compat:      compat,
		incompat:    incompat,
		roCompat:    roCompat,
		hasJournal:  compat&compatHasJournal != 0,
		fileType:    incompat&incompatFileType != 0,
		recovery:    incompat&incompatRecover != 0,
		metaBG:      incompat&incompatMetaBG != 0,
		extents:     incompat&incompatExtents != 0,
		fs64Bit:     incompat&incompat64Bit != 0,
		inlineData:  incompat&incompatInlineData != 0,
		encryption:  incompat&incompatEncrypt != 0,
		hugeFile:    roCompat&roCompatHugeFile != 0,
		bigalloc:    roCompat&roCompatBigalloc != 0,
		readOnly:    roCompat&roCompatReadOnly != 0,
		gdtChecksum: roCompat&roCompatGDTChecksum != 0,
	}
}

// unsupportedFeature returns the first feature bit this read-only decoder
// refuses outright, if any: incompat encryption, ro_compat bigalloc, or
// incompat meta_bg.
func (f featureFlags) unsupportedFeature() (uint32, bool) {
	switch {
	case f.encryption:
		return incompatEncrypt, true
	case f.bigalloc:
		return roCompatBigalloc, true
	case f.metaBG:
		return incompatMetaBG, true
	}
	return 0, false
}

// superblock is the decoded ext4 superblock. Only the fields exercised by the
// rest of the decoder are broken out; everything else lives in the raw feature ints.
type superblock struct {
	inodeCount       uint32
	blockCount       uint64
	reservedBlocks   uint64
	freeBlocks       uint64
	freeInodes       uint32
	firstDataBlock   uint32
	blockSize        uint32
	blocksPerGroup   uint32
	inodesPerGroup   uint32
	mountTime        time.Time
	writeTime        time.Time
	inodeSize        uint16
	features         featureFlags
	uuid             uuid.UUID
	volumeLabel      string
	lastMounted      string
	firstNonReserved uint32
	journalInode     uint32
	groupDescSize    uint16
	checksumSeed     uint32
}

// blockGroupCount is the number of block groups the image is divided into.
func (sb *superblock) blockGroupCount() uint64 {
	if sb.blocksPerGroup == 0 {
		return 0
	}
	return (sb.blockCount + uint64(sb.blocksPerGroup) - 1) / uint64(sb.blocksPerGroup)
}

// descSize is the on-disk size of one group descriptor record: 64 bytes
// under INCOMPAT_64BIT, else the classic 32 bytes.
func (sb *superblock) descSize() uint16 {
	if sb.features.fs64Bit && sb.groupDescSize > 32 {
		return sb.groupDescSize
	}
	return 32
}

// gdtOffset is the byte offset of the group descriptor table, per §4.3: max(2048, block_size).
func (sb *superblock) gdtOffset() uint64 {
	if sb.blockSize > 2048 {
		return uint64(sb.blockSize)
	}
	return 2048
}

// superblockFromBytes decodes a superblock from exactly superblockSize bytes,
// per §4.2: a pure function of the input slice, no I/O.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("superblock data too short: %d bytes, need %d", len(b), superblockSize)
	}
	b = b[:superblockSize]

	if sig := binary.LittleEndian.Uint16(b[0x38:0x3a]); sig != superblockSignature {
		return nil, fmt.Errorf("invalid superblock signature %#x, expected %#x: %w", sig, superblockSignature, errs.FormatError)
	}

	sb := &superblock{}

	compatFlags := binary.LittleEndian.Uint32(b[0x5c:0x60])
	incompatFlags := binary.LittleEndian.Uint32(b[0x60:0x64])
	roCompatFlags := binary.LittleEndian.Uint32(b[0x64:0x68])
	sb.features = parseFeatureFlags(compatFlags, incompatFlags, roCompatFlags)

	sb.inodeCount = binary.LittleEndian.Uint32(b[0x0:0x4])

	blocksLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	reservedLo := binary.LittleEndian.Uint32(b[0x8:0xc])
	freeLo := binary.LittleEndian.Uint32(b[0xc:0x10])
	var blocksHi, reservedHi, freeHi uint32
	if sb.features.fs64Bit {
		blocksHi = binary.LittleEndian.Uint32(b[0x150:0x154])
		reservedHi = binary.LittleEndian.Uint32(b[0x154:0x158])
		freeHi = binary.LittleEndian.Uint32(b[0x158:0x15c])
	}
	sb.blockCount = loHi(blocksLo, blocksHi)
	sb.reservedBlocks = loHi(reservedLo, reservedHi)
	sb.freeBlocks = loHi(freeLo, freeHi)

	sb.freeInodes = binary.LittleEndian.Uint32(b[0x10:0x14])
	sb.firstDataBlock = binary.LittleEndian.Uint32(b[0x14:0x18])
	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	sb.blockSize = uint32(1024 << logBlockSize)
	sb.blocksPerGroup = binary.LittleEndian.Uint32(b[0x20:0x24])
	sb.inodesPerGroup = binary.LittleEndian.Uint32(b[0x28:0x2c])
	sb.mountTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0)
	sb.writeTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0)

	sb.firstNonReserved = binary.LittleEndian.Uint32(b[0x54:0x58])
	sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])

	id, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, fmt.Errorf("unable to decode volume uuid: %w", err)
	}
	sb.uuid = id
	sb.volumeLabel = nullTerminated(b[0x78:0x88])
	sb.lastMounted = nullTerminated(b[0x88:0xc8])

	sb.journalInode = binary.LittleEndian.Uint32(b[0xe0:0xe4])

	if sb.features.fs64Bit {
		sb.groupDescSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
	}

	sb.checksumSeed = binary.LittleEndian.Uint32(b[0x270:0x274])

	if bit, unsupported := sb.features.unsupportedFeature(); unsupported {
		return nil, fmt.Errorf("incompat feature bit %#x: %w", bit, errs.UnsupportedFeature)
	}

	return sb, nil
}

// loHi combines a lo/hi 32-bit pair into a single unsigned 64-bit value, per §4.2.
func loHi(lo, hi uint32) uint64 {
	return uint64(lo) | (uint64(hi) << 32)
}

// nullTerminated trims a fixed-width, NUL-padded on-disk string field.
func nullTerminated(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// log2BlockSize is used only by tests that need to round-trip a block size into
// the on-disk log-scale encoding.
func log2BlockSize(blockSize uint32) uint32 {
	return uint32(math.Log2(float64(blockSize)) - 10)
}
