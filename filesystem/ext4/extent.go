package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/rfhayre/ext4recover/errs"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	// uninitializedExtentBit marks an allocated-but-not-yet-written extent: a
	// length field above this value is uninitialized and its true block count
	// is length minus this value; a length of exactly this value is an
	// initialized extent of 32768 blocks.
	uninitializedExtentBit uint16 = 0x8000
)

// extents is a structure holding multiple extents
type extents []extent

// extent is a structure with information about a single contiguous run of
// blocks containing file data.
type extent struct {
	// fileBlock block number relative to the file. E.g. if the file is composed of 5 blocks, this could be 0-4
	fileBlock uint32
	// startingBlock the first block on disk that contains the data in this extent
	startingBlock uint64
	// count how many contiguous blocks are covered by this extent
	count uint16
	// uninitialized marks an extent whose blocks are reserved but never written
	uninitialized bool
}

// blockCount how many filesystem blocks are covered in the extents.
func (e extents) blockCount() uint64 {
	var count uint64
	for _, ext := range e {
		count += uint64(ext.count)
	}
	return count
}

// extentBlockFinder provides a way of finding the blocks on disk that represent the block range of a given file.
type extentBlockFinder interface {
	// findBlocks find the actual blocks for a range in the file, given the start block in the file and how many blocks
	findBlocks(start, count uint64, fs *FileSystem) ([]uint64, error)
	// blocks get all of the blocks for a file, in sequential order, essentially unravels the tree into a slice of extents
	blocks(fs *FileSystem) (extents, error)
	getDepth() uint16
	getMax() uint16
	getBlockSize() uint32
	getFileBlock() uint32
	getCount() uint32
}

var (
	_ extentBlockFinder = &extentInternalNode{}
	_ extentBlockFinder = &extentLeafNode{}
)

// extentNodeHeader represents the header of an extent node
type extentNodeHeader struct {
	depth     uint16 // the depth of tree below here; for leaf nodes, will be 0
	entries   uint16 // number of entries
	max       uint16 // maximum number of entries allowed at this level
	blockSize uint32 // block size for this tree
}

// extentChildPtr represents a child pointer in an internal node of extents.
type extentChildPtr struct {
	fileBlock uint32 // extents or children of this cover from file block fileBlock onwards
	count     uint32 // how many blocks are covered by this extent
	diskBlock uint64 // block number where the children live
}

// extentLeafNode represents a leaf node of extents; depth is always 0.
type extentLeafNode struct {
	extentNodeHeader
	extents   extents // the actual extents
	diskBlock uint64  // block number where this node is stored on disk (0 if root/in inode)
}

func (e extentLeafNode) findBlocks(start, count uint64, _ *FileSystem) ([]uint64, error) {
	var ret []uint64

	end := start + count - 1

	for _, ext := range e.extents {
		extentStart := uint64(ext.fileBlock)
		extentEnd := uint64(ext.fileBlock + uint32(ext.count) - 1)

		if extentEnd < start || extentStart > end {
			continue
		}

		overlapStart := max(start, extentStart)
		overlapEnd := min(end, extentEnd)

		diskBlockStart := ext.startingBlock + (overlapStart - extentStart)

		for i := uint64(0); i <= overlapEnd-overlapStart; i++ {
			ret = append(ret, diskBlockStart+i)
		}
	}
	return ret, nil
}

func (e extentLeafNode) blocks(_ *FileSystem) (extents, error) {
	return e.extents, nil
}

func (e *extentLeafNode) getDepth() uint16 {
	return e.depth
}

func (e *extentLeafNode) getMax() uint16 {
	return e.max
}

func (e *extentLeafNode) getBlockSize() uint32 {
	return e.blockSize
}

func (e *extentLeafNode) getFileBlock() uint32 {
	if len(e.extents) == 0 {
		return 0
	}
	return e.extents[0].fileBlock
}

func (e *extentLeafNode) getCount() uint32 {
	return uint32(len(e.extents))
}

// extentInternalNode represents an internal node in a tree of extents; depth>0.
type extentInternalNode struct {
	extentNodeHeader
	children  []*extentChildPtr // the children
	diskBlock uint64            // block number where this node is stored on disk (0 if root/in inode)
}

func (e extentInternalNode) findBlocks(start, count uint64, fs *FileSystem) ([]uint64, error) {
	var ret []uint64

	end := start + count - 1

	for _, child := range e.children {
		extentStart := uint64(child.fileBlock)
		extentEnd := uint64(child.fileBlock + child.count - 1)

		if extentEnd < start || extentStart > end {
			continue
		}

		b, err := fs.readBlock(child.diskBlock)
		if err != nil {
			return nil, err
		}
		ebf, err := parseExtents(b, e.blockSize, uint32(extentStart), uint32(extentEnd))
		if err != nil {
			return nil, err
		}
		blocks, err := ebf.findBlocks(extentStart, uint64(child.count), fs)
		if err != nil {
			return nil, err
		}
		if len(blocks) > 0 {
			ret = append(ret, blocks...)
		}
	}
	return ret, nil
}

func (e extentInternalNode) blocks(fs *FileSystem) (extents, error) {
	var ret extents

	for _, child := range e.children {
		b, err := fs.readBlock(child.diskBlock)
		if err != nil {
			return nil, err
		}
		ebf, err := parseExtents(b, e.blockSize, child.fileBlock, child.fileBlock+child.count-1)
		if err != nil {
			return nil, err
		}
		blocks, err := ebf.blocks(fs)
		if err != nil {
			return nil, err
		}
		if len(blocks) > 0 {
			ret = append(ret, blocks...)
		}
	}
	return ret, nil
}

func (e *extentInternalNode) getDepth() uint16 {
	return e.depth
}

func (e *extentInternalNode) getMax() uint16 {
	return e.max
}

func (e *extentInternalNode) getBlockSize() uint32 {
	return e.blockSize
}

func (e *extentInternalNode) getFileBlock() uint32 {
	if len(e.children) == 0 {
		return 0
	}
	return e.children[0].fileBlock
}

func (e *extentInternalNode) getCount() uint32 {
	return uint32(len(e.children))
}

// parseExtents takes bytes, parses them to find the actual extents or the
// next blocks down. It does not recurse down the tree, as we do not want to
// do that until we actually are ready to read those blocks. This mirrors how
// the Linux kernel's ext4 driver walks the tree.
func parseExtents(b []byte, blocksize, start, count uint32) (extentBlockFinder, error) {
	var ret extentBlockFinder
	minLength := extentTreeHeaderLength + extentTreeEntryLength
	if len(b) < minLength {
		return nil, fmt.Errorf("cannot parse extent tree from %d bytes, minimum required %d", len(b), minLength)
	}
	if binary.LittleEndian.Uint16(b[0:2]) != extentHeaderSignature {
		return nil, fmt.Errorf("invalid extent tree signature %x: %w", b[0x0:0x2], errs.FormatError)
	}
	e := extentNodeHeader{
		entries:   binary.LittleEndian.Uint16(b[0x2:0x4]),
		max:       binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth:     binary.LittleEndian.Uint16(b[0x6:0x8]),
		blockSize: blocksize,
	}
	// b[0x8:0xc] is used for the generation by Lustre but not standard ext4, so we ignore

	switch e.depth {
	case 0:
		leafNode := extentLeafNode{
			extentNodeHeader: e,
		}
		for i := 0; i < int(e.entries); i++ {
			entryStart := i*extentTreeEntryLength + extentTreeHeaderLength
			if entryStart+extentTreeEntryLength > len(b) {
				return nil, fmt.Errorf("extent leaf entry %d overruns buffer", i)
			}
			diskBlock := make([]byte, 8)
			copy(diskBlock[0:4], b[entryStart+8:entryStart+12])
			copy(diskBlock[4:6], b[entryStart+6:entryStart+8])

			rawLen := binary.LittleEndian.Uint16(b[entryStart+4 : entryStart+6])
			uninitialized := rawLen > uninitializedExtentBit
			length := rawLen
			if uninitialized {
				length = rawLen - uninitializedExtentBit
			}

			leafNode.extents = append(leafNode.extents, extent{
				fileBlock:     binary.LittleEndian.Uint32(b[entryStart : entryStart+4]),
				count:         length,
				startingBlock: binary.LittleEndian.Uint64(diskBlock),
				uninitialized: uninitialized,
			})
		}
		ret = &leafNode
	default:
		internalNode := extentInternalNode{
			extentNodeHeader: e,
		}
		for i := 0; i < int(e.entries); i++ {
			entryStart := i*extentTreeEntryLength + extentTreeHeaderLength
			if entryStart+extentTreeEntryLength > len(b) {
				return nil, fmt.Errorf("extent internal entry %d overruns buffer", i)
			}
			diskBlock := make([]byte, 8)
			copy(diskBlock[0:4], b[entryStart+4:entryStart+8])
			copy(diskBlock[4:6], b[entryStart+8:entryStart+10])
			ptr := &extentChildPtr{
				diskBlock: binary.LittleEndian.Uint64(diskBlock),
				fileBlock: binary.LittleEndian.Uint32(b[entryStart : entryStart+4]),
			}
			internalNode.children = append(internalNode.children, ptr)
			if i > 0 {
				internalNode.children[i-1].count = ptr.fileBlock - internalNode.children[i-1].fileBlock
			}
		}
		if len(internalNode.children) > 0 {
			internalNode.children[len(internalNode.children)-1].count = start + count - internalNode.children[len(internalNode.children)-1].fileBlock
		}
		ret = &internalNode
	}

	return ret, nil
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
