package ext4

import (
	"os"
	"os/user"
	"strconv"
	"time"
)

// fileInfo adapts a decoded inode to os.FileInfo, the shape ReadDir, Stat and
// File.Stat all return to callers outside this package.
type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     *StatT
}

// StatT carries the ext4-specific metadata os.FileInfo has no room for:
// ownership, the four inode timestamps, and the extended-attribute block,
// all of which the stat command and the undelete engine want at hand.
type StatT struct {
	UID                    uint32
	GID                    uint32
	Owner                  string
	Group                  string
	InodeNumber            uint32
	Links                  uint16
	AccessTime             time.Time
	ChangeTime             time.Time
	ModifyTime             time.Time
	CreateTime             time.Time
	DeletionTime           uint32
	ExtendedAttributeBlock uint64
	LinkTarget             string
}

func newFileInfo(name string, in *Inode) *fileInfo {
	return &fileInfo{
		name:    name,
		size:    int64(in.size),
		mode:    in.permissionsToMode(),
		modTime: in.modifyTime,
		isDir:   in.fileType == fileTypeDirectory,
		sys: &StatT{
			UID:                    in.owner,
			GID:                    in.group,
			Owner:                  lookupUserName(in.owner),
			Group:                  lookupGroupName(in.group),
			InodeNumber:            in.number,
			Links:                  in.hardLinks,
			AccessTime:             in.accessTime,
			ChangeTime:             in.changeTime,
			ModifyTime:             in.modifyTime,
			CreateTime:             in.createTime,
			DeletionTime:           in.deletionTime,
			ExtendedAttributeBlock: in.extendedAttributeBlock,
			LinkTarget:             in.linkTarget,
		},
	}
}

// lookupUserName resolves uid against the host's user database, falling
// back to the bare numeric id when the host has no such account (a common
// case: the image was built on, or belongs to, a different machine).
func lookupUserName(uid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return strconv.FormatUint(uint64(uid), 10)
	}
	return u.Username
}

// lookupGroupName resolves gid the same way lookupUserName resolves uid.
func lookupGroupName(gid uint32) string {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return strconv.FormatUint(uint64(gid), 10)
	}
	return g.Name
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return fi.sys }
