package filesystem

import (
	"io"
	"io/fs"
)

// File is a reference to a single open file on a read-only filesystem. The
// write half of the teacher's original interface (io.Writer) is dropped:
// this tool never mutates an image. Directories are a distinct handle type
// in each filesystem implementation, so unlike the teacher's File, this one
// does not also have to satisfy fs.ReadDirFile.
type File interface {
	fs.File
	io.Seeker
}
