package ext4

import (
	"fmt"
	"os"

	"github.com/rfhayre/ext4recover/errs"
)

// Directory is a read-only handle onto one directory's entries, re-read from
// the block stream fresh on every call rather than cached: a directory is
// small and this tool favors correctness over repeated traversals over
// holding iterator state that could outlive the blocks it was built from.
// Entries, Files, Directories and Lookup are all safe to call repeatedly and
// in any order; none of them consume the others' state.
type Directory struct {
	number     uint32
	filesystem *FileSystem
}

// Entries lists every directory entry, "." and ".." included, in on-disk order.
func (d *Directory) Entries() ([]os.FileInfo, error) {
	entries, err := d.filesystem.directoryEntries(d.number)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		in, err := d.filesystem.readInode(e.inode)
		if err != nil {
			return nil, err
		}
		infos = append(infos, newFileInfo(e.name, in))
	}
	return infos, nil
}

// Files lists only the regular-file entries of this directory.
func (d *Directory) Files() ([]os.FileInfo, error) {
	return d.filter(func(in *Inode) bool { return in.fileType == fileTypeRegularFile })
}

// Directories lists only the subdirectory entries of this directory,
// including "." and "..".
func (d *Directory) Directories() ([]os.FileInfo, error) {
	return d.filter(func(in *Inode) bool { return in.fileType == fileTypeDirectory })
}

func (d *Directory) filter(keep func(*Inode) bool) ([]os.FileInfo, error) {
	entries, err := d.filesystem.directoryEntries(d.number)
	if err != nil {
		return nil, err
	}
	var infos []os.FileInfo
	for _, e := range entries {
		in, err := d.filesystem.readInode(e.inode)
		if err != nil {
			return nil, err
		}
		if keep(in) {
			infos = append(infos, newFileInfo(e.name, in))
		}
	}
	return infos, nil
}

// Lookup resolves one entry by exact byte-equal name, without walking the
// rest of the path machinery (resolvePath in ext4.go); duplicates resolve to the first
// match, same as path resolution does. It returns an *errs.NotFound when no
// entry carries that name.
func (d *Directory) Lookup(name string) (os.FileInfo, error) {
	entries, err := d.filesystem.directoryEntries(d.number)
	if err != nil {
		return nil, err
	}
	entry := lookupEntry(entries, name)
	if entry == nil {
		return nil, fmt.Errorf("looking up %q: %w", name, &errs.NotFound{Name: name})
	}
	in, err := d.filesystem.readInode(entry.inode)
	if err != nil {
		return nil, err
	}
	return newFileInfo(entry.name, in), nil
}
