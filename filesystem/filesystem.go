// Package filesystem provides interfaces and constants required for filesystem implementations.
// The only implementation in this repository is github.com/rfhayre/ext4recover/filesystem/ext4.
package filesystem

import (
	"errors"
	"os"
)

var (
	ErrNotSupported   = errors.New("method not supported by this filesystem")
	ErrNotImplemented = errors.New("method not implemented (patches are welcome)")
)

// FileSystem is a read-only reference to a single filesystem image. The
// teacher's original interface also carried Mkdir/Mknod/Link/Symlink/Chmod/
// Chown/Rename/Remove/SetLabel; every one of those is a write-path operation,
// and mutating an image is an explicit non-goal, so they are dropped here
// rather than implemented as permanent ErrNotSupported stubs.
type FileSystem interface {
	// Type returns the type of filesystem.
	Type() Type
	// ReadDir reads the directory entries of pathname.
	ReadDir(pathname string) ([]os.FileInfo, error)
	// OpenFile opens a handle to read a file. Only read-only flags are honored.
	OpenFile(pathname string, flag int) (File, error)
	// Label gets the label for the filesystem, or "" if none. Be careful to trim
	// it, as it may contain leading or following whitespace. The label is passed
	// as-is and not cleaned up at all.
	Label() string
}

// Type represents the type of disk this is.
type Type int

const (
	// TypeExt4 is an ext4 compatible filesystem.
	TypeExt4 Type = iota
)
