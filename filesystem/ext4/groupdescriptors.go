package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/rfhayre/ext4recover/errs"
)

// groupDescriptor is the decoded per-block-group descriptor, per §4.3.
type groupDescriptor struct {
	number              int
	blockBitmapLocation uint64
	inodeBitmapLocation uint64
	inodeTableLocation  uint64
	freeBlocksCount     uint32
	freeInodesCount     uint32
	usedDirsCount       uint32
	flags               uint16
}

const (
	groupDescFlagInodesUninit uint16 = 0x1
	groupDescFlagBlockUninit  uint16 = 0x2
	groupDescFlagItableZeroed uint16 = 0x4
)

// groupDescriptorFromBytes decodes one group descriptor record. size is 32 for
// the classic layout, or the superblock's groupDescSize (usually 64) when
// INCOMPAT_64BIT is set; the high-word fields are simply absent in the 32-byte form.
func groupDescriptorFromBytes(b []byte, number int, size uint16) (*groupDescriptor, error) {
	if len(b) < int(size) {
		return nil, fmt.Errorf("group descriptor %d: data too short: %d bytes, need %d: %w", number, len(b), size, errs.FormatError)
	}
	gd := &groupDescriptor{number: number}

	blockBitmapLo := binary.LittleEndian.Uint32(b[0x0:0x4])
	inodeBitmapLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	inodeTableLo := binary.LittleEndian.Uint32(b[0x8:0xc])
	freeBlocksLo := binary.LittleEndian.Uint16(b[0xc:0xe])
	freeInodesLo := binary.LittleEndian.Uint16(b[0xe:0x10])
	usedDirsLo := binary.LittleEndian.Uint16(b[0x10:0x12])
	gd.flags = binary.LittleEndian.Uint16(b[0x12:0x14])

	var blockBitmapHi, inodeBitmapHi, inodeTableHi uint32
	var freeBlocksHi, freeInodesHi, usedDirsHi uint16
	if size >= 64 {
		blockBitmapHi = binary.LittleEndian.Uint32(b[0x20:0x24])
		inodeBitmapHi = binary.LittleEndian.Uint32(b[0x24:0x28])
		inodeTableHi = binary.LittleEndian.Uint32(b[0x28:0x2c])
		freeBlocksHi = binary.LittleEndian.Uint16(b[0x2c:0x2e])
		freeInodesHi = binary.LittleEndian.Uint16(b[0x2e:0x30])
		usedDirsHi = binary.LittleEndian.Uint16(b[0x30:0x32])
	}

	gd.blockBitmapLocation = loHi(blockBitmapLo, blockBitmapHi)
	gd.inodeBitmapLocation = loHi(inodeBitmapLo, inodeBitmapHi)
	gd.inodeTableLocation = loHi(inodeTableLo, inodeTableHi)
	gd.freeBlocksCount = uint32(freeBlocksLo) | uint32(freeBlocksHi)<<16
	gd.freeInodesCount = uint32(freeInodesLo) | uint32(freeInodesHi)<<16
	gd.usedDirsCount = uint32(usedDirsLo) | uint32(usedDirsHi)<<16

	return gd, nil
}

// groupDescriptorsFromBytes decodes the whole group descriptor table, one record
// per block group, starting at the table's first byte.
func groupDescriptorsFromBytes(b []byte, count uint64, descSize uint16) ([]*groupDescriptor, error) {
	gds := make([]*groupDescriptor, 0, count)
	for i := uint64(0); i < count; i++ {
		start := i * uint64(descSize)
		end := start + uint64(descSize)
		if end > uint64(len(b)) {
			return nil, fmt.Errorf("group descriptor table truncated at group %d: %w", i, errs.FormatError)
		}
		gd, err := groupDescriptorFromBytes(b[start:end], int(i), descSize)
		if err != nil {
			return nil, err
		}
		gds = append(gds, gd)
	}
	return gds, nil
}
