package ext4

import (
	"os"
	"time"
)

// The Inode type is exported but all of its fields are not: every field is an
// on-disk decode detail. These accessors are the surface other packages (the
// undelete engine, the CLI) use instead.

// Number is the inode's own number.
func (i *Inode) Number() uint32 { return i.number }

// Deleted reports whether this inode looks like a removed-but-not-yet-
// overwritten entry, per the deleted() rule in inode.go.
func (i *Inode) Deleted() bool { return i.deleted() }

// DeletionTime is the raw dtime field: seconds since the epoch, or 0 if the
// inode was never deleted.
func (i *Inode) DeletionTime() uint32 { return i.deletionTime }

// Size is the inode's declared byte size.
func (i *Inode) Size() uint64 { return i.size }

// IsDir reports whether the inode names a directory.
func (i *Inode) IsDir() bool { return i.fileType == fileTypeDirectory }

// IsRegular reports whether the inode names a regular file.
func (i *Inode) IsRegular() bool { return i.fileType == fileTypeRegularFile }

// IsSymlink reports whether the inode names a symbolic link.
func (i *Inode) IsSymlink() bool { return i.fileType == fileTypeSymbolicLink }

// LinkTarget is the symlink's target path, or "" for anything else.
func (i *Inode) LinkTarget() string { return i.linkTarget }

// HardLinks is the inode's link count.
func (i *Inode) HardLinks() uint16 { return i.hardLinks }

// Mode is the standard os.FileMode built from the inode's type and permission bits.
func (i *Inode) Mode() os.FileMode { return i.permissionsToMode() }

// AccessTime, ChangeTime, ModifyTime and CreateTime are the inode's four
// decoded timestamps.
func (i *Inode) AccessTime() time.Time { return i.accessTime }
func (i *Inode) ChangeTime() time.Time { return i.changeTime }
func (i *Inode) ModifyTime() time.Time { return i.modifyTime }
func (i *Inode) CreateTime() time.Time { return i.createTime }

// ExtendedAttributeBlock is the block holding this inode's extended
// attributes, or 0 if it has none.
func (i *Inode) ExtendedAttributeBlock() uint64 { return i.extendedAttributeBlock }

// ReadInodeData returns an inode's data payload: see the package-private
// inodeData for exactly what "data" means for each inode kind. It is
// exported for the undelete engine, which decodes predecessor inodes
// standalone, outside of any live directory or path.
func (fs *FileSystem) ReadInodeData(in *Inode) ([]byte, error) {
	return fs.inodeData(in)
}

// Inode reads and decodes the current inode table entry for number. It is
// exported for the undelete engine, which scans every inode number rather
// than resolving a path.
func (fs *FileSystem) Inode(number uint32) (*Inode, error) {
	return fs.readInode(number)
}
