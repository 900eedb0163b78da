// Package ext4 implements a read-only decoder for the ext4 filesystem
// format: superblock, block group descriptors, inodes, extent trees,
// directory entries and the jbd2 journal. It never writes to the backing
// image; creating, resizing or repairing a filesystem are explicit
// non-goals of this tool.
package ext4

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/rfhayre/ext4recover/backend"
	"github.com/rfhayre/ext4recover/errs"
	"github.com/rfhayre/ext4recover/filesystem"
)

const (
	// rootInodeNumber is the well-known inode number of the filesystem root.
	rootInodeNumber uint32 = 2
	// maxSymlinkHops bounds path resolution against a cycle of symlinks.
	maxSymlinkHops = 40
)

// FileSystem is a read-only reference to a mounted ext4 image or partition.
type FileSystem struct {
	backend          backend.Storage
	superblock       *superblock
	groupDescriptors []*groupDescriptor
	size             int64
	start            int64
}

var _ filesystem.FileSystem = (*FileSystem)(nil)

// Open reads the superblock and group descriptor table from b, starting at
// byte offset start (0 for a standalone image, the partition's first byte
// for a disk image), and returns a FileSystem ready for path lookups.
func Open(b backend.Storage, start int64) (*FileSystem, error) {
	stat, err := b.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", errs.IoError)
	}
	size := stat.Size() - start
	if size <= 0 {
		return nil, fmt.Errorf("image has no room for a filesystem at offset %d: %w", start, errs.FormatError)
	}
	fsBackend := backend.Sub(b, start, size)

	sbBytes := make([]byte, superblockSize)
	n, err := fsBackend.ReadAt(sbBytes, superblockOffset)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", errs.IoError)
	}
	if n != superblockSize {
		return nil, fmt.Errorf("short read for superblock: got %d of %d bytes: %w", n, superblockSize, errs.IoError)
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding superblock: %w", err)
	}

	groupCount := sb.blockGroupCount()
	descSize := sb.descSize()
	gdtSize := groupCount * uint64(descSize)
	if groupCount == 0 || gdtSize == 0 {
		return nil, fmt.Errorf("superblock describes zero block groups: %w", errs.FormatError)
	}
	gdtBytes := make([]byte, gdtSize)
	n, err = fsBackend.ReadAt(gdtBytes, int64(sb.gdtOffset()))
	if err != nil {
		return nil, fmt.Errorf("reading group descriptor table: %w", errs.IoError)
	}
	if uint64(n) != gdtSize {
		return nil, fmt.Errorf("short read for group descriptor table: got %d of %d bytes: %w", n, gdtSize, errs.IoError)
	}
	gds, err := groupDescriptorsFromBytes(gdtBytes, groupCount, descSize)
	if err != nil {
		return nil, fmt.Errorf("decoding group descriptor table: %w", err)
	}

	return &FileSystem{
		backend:          fsBackend,
		superblock:       sb,
		groupDescriptors: gds,
		size:             size,
		start:            start,
	}, nil
}

// Close releases the underlying backend.
func (fs *FileSystem) Close() error {
	return fs.backend.Close()
}

// Type reports the filesystem.Type this implementation decodes.
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeExt4
}

// Label is the volume's on-disk name, or "" if none was set.
func (fs *FileSystem) Label() string {
	if fs.superblock == nil {
		return ""
	}
	return fs.superblock.volumeLabel
}

// BlockSize is the filesystem's block size in bytes.
func (fs *FileSystem) BlockSize() uint32 {
	return fs.superblock.blockSize
}

// InodeSize is the on-disk size of one inode record.
func (fs *FileSystem) InodeSize() uint16 {
	return fs.superblock.inodeSize
}

// InodesCount is the total number of inodes the superblock allocates for.
func (fs *FileSystem) InodesCount() uint32 {
	return fs.superblock.inodeCount
}

// FirstNonReservedInode is the lowest inode number not reserved for
// filesystem metadata (the well-known inodes: root, quota, resize, journal,
// and so on all sit below it).
func (fs *FileSystem) FirstNonReservedInode() uint32 {
	return fs.superblock.firstNonReserved
}

// JournalInodeNumber is the inode number of the jbd2 journal file, or 0 if
// this filesystem was not built with a journal.
func (fs *FileSystem) JournalInodeNumber() uint32 {
	return fs.superblock.journalInode
}

// groupDescriptor returns the decoded descriptor for the given block group.
func (fs *FileSystem) groupDescriptor(group uint64) (*groupDescriptor, error) {
	if group >= uint64(len(fs.groupDescriptors)) {
		return nil, fmt.Errorf("block group %d out of range, have %d: %w", group, len(fs.groupDescriptors), errs.FormatError)
	}
	return fs.groupDescriptors[group], nil
}

// readBlock reads exactly one filesystem block.
func (fs *FileSystem) readBlock(blockNumber uint64) ([]byte, error) {
	b := make([]byte, fs.superblock.blockSize)
	n, err := fs.backend.ReadAt(b, int64(blockNumber)*int64(fs.superblock.blockSize))
	if err != nil {
		return nil, fmt.Errorf("reading block %d: %w", blockNumber, errs.IoError)
	}
	if n != len(b) {
		return nil, fmt.Errorf("short read for block %d: got %d of %d bytes: %w", blockNumber, n, len(b), errs.IoError)
	}
	return b, nil
}

// readBlocks reads count consecutive filesystem blocks starting at start.
func (fs *FileSystem) readBlocks(start, count uint64) ([][]byte, error) {
	out := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		b, err := fs.readBlock(start + i)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// InodeLocation locates an inode's on-disk byte address, per the standard
// ext4 layout: block group from (number-1)/inodes_per_group, then the
// group's inode table location plus (number-1)%inodes_per_group inode-sized
// records in. It is exported for the undelete engine, which needs the block
// number and in-block offset separately to cross-reference journal copies.
func (fs *FileSystem) InodeLocation(number uint32) (blockNumber uint64, offsetInBlock int, err error) {
	addr, err := fs.inodeByteAddress(number)
	if err != nil {
		return 0, 0, err
	}
	blockSize := uint64(fs.superblock.blockSize)
	return uint64(addr) / blockSize, int(uint64(addr) % blockSize), nil
}

func (fs *FileSystem) inodeByteAddress(number uint32) (int64, error) {
	sb := fs.superblock
	if number == 0 || number > sb.inodeCount {
		return 0, fmt.Errorf("inode number %d out of range [1,%d]: %w", number, sb.inodeCount, errs.FormatError)
	}
	group := uint64(number-1) / uint64(sb.inodesPerGroup)
	offsetInGroup := uint64(number-1) % uint64(sb.inodesPerGroup)
	gd, err := fs.groupDescriptor(group)
	if err != nil {
		return 0, err
	}
	byteAddr := gd.inodeTableLocation*uint64(sb.blockSize) + offsetInGroup*uint64(sb.inodeSize)
	return int64(byteAddr), nil
}

// readInode reads and decodes an inode directly from the filesystem's
// current inode table, resolving a long symlink target if the fast-symlink
// and inline-data cases in inode.go did not already fill one in.
func (fs *FileSystem) readInode(number uint32) (*Inode, error) {
	addr, err := fs.inodeByteAddress(number)
	if err != nil {
		return nil, err
	}
	b := make([]byte, fs.superblock.inodeSize)
	n, err := fs.backend.ReadAt(b, addr)
	if err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", number, errs.IoError)
	}
	if n != len(b) {
		return nil, fmt.Errorf("short read for inode %d: got %d of %d bytes: %w", number, n, len(b), errs.IoError)
	}
	in, err := inodeFromBytes(padInodeRecord(b), fs.superblock, number)
	if err != nil {
		return nil, fmt.Errorf("decoding inode %d: %w", number, err)
	}
	if in.fileType == fileTypeSymbolicLink && in.linkTarget == "" && in.size > 0 {
		data, err := fs.inodeData(in)
		if err != nil {
			return nil, fmt.Errorf("reading symlink target for inode %d: %w", number, err)
		}
		in.linkTarget = string(data)
	}
	return in, nil
}

// DecodeInodeBytes decodes a standalone inode record, without consulting the
// live inode table. The undelete engine uses this to decode a predecessor
// inode carved out of an older journal transaction.
func (fs *FileSystem) DecodeInodeBytes(b []byte, number uint32) (*Inode, error) {
	return inodeFromBytes(padInodeRecord(b), fs.superblock, number)
}

// inodeData returns an inode's full data payload: inline data, a short
// symlink target, or the bytes reachable through its extent tree, trimmed to
// its declared size. It resolves extents against the filesystem's *current*
// state, which for a deleted inode may no longer match what was there at
// deletion time; callers recovering deleted files should treat the result as
// best-effort.
func (fs *FileSystem) inodeData(in *Inode) ([]byte, error) {
	if in.fileType == fileTypeSymbolicLink && in.size > 0 && in.size < 60 {
		return []byte(in.linkTarget), nil
	}
	if fs.superblock.features.inlineData && in.flags != nil && in.flags.inlineData {
		data := in.blockRaw[:]
		if uint64(len(data)) > in.size {
			data = data[:in.size]
		}
		return append([]byte(nil), data...), nil
	}
	if in.extents == nil {
		return nil, fmt.Errorf("inode %d has no extent tree and is not inline data: %w", in.number, errs.FormatError)
	}
	runs, err := in.extents.blocks(fs)
	if err != nil {
		return nil, err
	}
	return fs.readExtentBytes(runs, in.size)
}

// readExtentBytes concatenates the blocks named by runs, trimmed to size bytes.
func (fs *FileSystem) readExtentBytes(runs extents, size uint64) ([]byte, error) {
	out := make([]byte, 0, size)
	blockSize := uint64(fs.superblock.blockSize)
	for i, e := range runs {
		if uint64(len(out)) >= size {
			break
		}
		start := e.startingBlock * blockSize
		want := uint64(e.count) * blockSize
		if uint64(len(out))+want > size {
			want = size - uint64(len(out))
		}
		chunk := make([]byte, want)
		n, err := fs.backend.ReadAt(chunk, int64(start))
		if err != nil {
			return nil, fmt.Errorf("reading extent %d: %w", i, errs.IoError)
		}
		if uint64(n) != want {
			return nil, fmt.Errorf("short read for extent %d: got %d of %d bytes: %w", i, n, want, errs.IoError)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// directoryEntries reads every entry (including "." and "..") of a directory
// inode, in on-disk order, across however many blocks its data spans.
func (fs *FileSystem) directoryEntries(number uint32) ([]*directoryEntry, error) {
	in, err := fs.readInode(number)
	if err != nil {
		return nil, err
	}
	if in.fileType != fileTypeDirectory {
		return nil, fmt.Errorf("inode %d is not a directory: %w", number, errs.FormatError)
	}
	data, err := fs.inodeData(in)
	if err != nil {
		return nil, err
	}
	blockSize := int(fs.superblock.blockSize)
	var all []*directoryEntry
	for offset := 0; offset < len(data); offset += blockSize {
		end := offset + blockSize
		if end > len(data) {
			end = len(data)
		}
		entries, err := directoryEntriesFromBytes(data[offset:end], fs.superblock.features.fileType)
		if err != nil {
			return nil, fmt.Errorf("inode %d: %w", number, err)
		}
		all = append(all, entries...)
	}
	return all, nil
}

// resolvePath walks segments of p from the root, one directory entry at a
// time, dereferencing a symlink wherever one is found along the way
// (including at the final segment) rather than recursing: the segment list
// is rebuilt with the symlink's target in place of the segment that named it,
// and the walk restarts at the root. An absolute target replaces everything
// up to and including the link; a relative one is joined to the path of the
// directory holding the link and re-disassembled, so a ".." in it climbs out
// of that directory.
func (fs *FileSystem) resolvePath(p string) (*Inode, uint32, error) {
	segments := disassemblePath(p)
	currentNumber := rootInodeNumber
	current, err := fs.readInode(currentNumber)
	if err != nil {
		return nil, 0, err
	}

	hops := 0
	for i := 0; i < len(segments); {
		seg := segments[i]
		if current.fileType != fileTypeDirectory {
			return nil, 0, &errs.NotFound{Name: seg}
		}
		entries, err := fs.directoryEntries(currentNumber)
		if err != nil {
			return nil, 0, err
		}
		entry := lookupEntry(entries, seg)
		if entry == nil {
			return nil, 0, &errs.NotFound{Name: seg}
		}
		next, err := fs.readInode(entry.inode)
		if err != nil {
			return nil, 0, err
		}

		if next.fileType == fileTypeSymbolicLink {
			hops++
			if hops > maxSymlinkHops {
				return nil, 0, fmt.Errorf("too many symlinks resolving %q: %w", p, errs.FormatError)
			}
			target := disassemblePath(next.linkTarget)
			rest := segments[i+1:]
			if !strings.HasPrefix(next.linkTarget, "/") {
				target = disassemblePath(strings.Join(segments[:i], "/") + "/" + next.linkTarget)
			}
			segments = append(append([]string{}, target...), rest...)
			currentNumber = rootInodeNumber
			current, err = fs.readInode(currentNumber)
			if err != nil {
				return nil, 0, err
			}
			i = 0
			continue
		}

		currentNumber = entry.inode
		current = next
		i++
	}

	return current, currentNumber, nil
}

// lookupEntry finds an entry by exact name, including "." and "..".
func lookupEntry(entries []*directoryEntry, name string) *directoryEntry {
	for _, e := range entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

// ReadDir lists the entries of the directory named by pathname, "." and ".."
// included, with each entry's own metadata (not the directory's).
func (fs *FileSystem) ReadDir(pathname string) ([]os.FileInfo, error) {
	in, number, err := fs.resolvePath(pathname)
	if err != nil {
		return nil, fmt.Errorf("ReadDir %q: %w", pathname, err)
	}
	if in.fileType != fileTypeDirectory {
		return nil, fmt.Errorf("ReadDir %q: %w", pathname, errs.FormatError)
	}
	entries, err := fs.directoryEntries(number)
	if err != nil {
		return nil, fmt.Errorf("ReadDir %q: %w", pathname, err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		entryInode, err := fs.readInode(e.inode)
		if err != nil {
			return nil, fmt.Errorf("ReadDir %q: reading %q: %w", pathname, e.name, err)
		}
		infos = append(infos, newFileInfo(e.name, entryInode))
	}
	return infos, nil
}

// OpenDir resolves pathname to a directory and returns a handle onto it.
func (fs *FileSystem) OpenDir(pathname string) (*Directory, error) {
	in, number, err := fs.resolvePath(pathname)
	if err != nil {
		return nil, fmt.Errorf("opening directory %q: %w", pathname, err)
	}
	if in.fileType != fileTypeDirectory {
		return nil, fmt.Errorf("opening directory %q: %w", pathname, errs.FormatError)
	}
	return &Directory{number: number, filesystem: fs}, nil
}

// OpenFile opens pathname for reading. Only read-only flags are honored;
// this tool never mutates an image.
func (fs *FileSystem) OpenFile(pathname string, flag int) (filesystem.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, fmt.Errorf("opening %q: %w", pathname, filesystem.ErrNotSupported)
	}
	in, number, err := fs.resolvePath(pathname)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", pathname, err)
	}
	if in.fileType == fileTypeDirectory {
		return nil, fmt.Errorf("opening %q: %w", pathname, errs.FormatError)
	}

	var runs extents
	inlineData := fs.superblock.features.inlineData && in.flags != nil && in.flags.inlineData
	if !inlineData && in.extents != nil {
		runs, err = in.extents.blocks(fs)
		if err != nil {
			return nil, fmt.Errorf("resolving extents for inode %d: %w", number, err)
		}
	}

	return &File{
		Inode:      in,
		name:       path.Base(pathname),
		filesystem: fs,
		extents:    runs,
	}, nil
}

// Stat returns metadata for pathname, following symlinks along the way.
func (fs *FileSystem) Stat(pathname string) (os.FileInfo, error) {
	in, _, err := fs.resolvePath(pathname)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", pathname, err)
	}
	return newFileInfo(path.Base(pathname), in), nil
}
