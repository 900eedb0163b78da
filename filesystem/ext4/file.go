package ext4

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// File represents a single open, read-only file in an ext4 filesystem.
type File struct {
	*Inode
	name       string
	offset     int64
	filesystem *FileSystem
	extents    extents
	decode     func([]byte) (string, error)
}

// SetDecoder installs a caller-supplied text decoder, used by ReadAll and
// Lines to turn this file's raw bytes into text. A nil decode clears it,
// reverting to raw-byte reads.
func (fl *File) SetDecoder(decode func([]byte) (string, error)) {
	fl.decode = decode
}

// ReadAll returns the file's entire content from the start, up to its
// declared size, with every trailing zero byte stripped (including zeros that
// lie within the declared size), passed through the installed decoder if one
// was set with SetDecoder.
func (fl *File) ReadAll() ([]byte, error) {
	data, err := fl.filesystem.inodeData(fl.Inode)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", fl.name, err)
	}
	data = trimTrailingZeros(data)
	if fl.decode == nil {
		return data, nil
	}
	text, err := fl.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", fl.name, err)
	}
	return []byte(text), nil
}

// Lines decodes the file's content with the installed decoder (raw bytes
// interpreted as-is if none was set) and splits it on newlines, matching the
// line-oriented iteration the original Python tool's FileInfo exposed. Each
// call re-derives its result from the underlying block stream, so it is safe
// to call more than once on the same handle.
func (fl *File) Lines() ([]string, error) {
	content, err := fl.ReadAll()
	if err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("splitting %q into lines: %w", fl.name, err)
	}
	return lines, nil
}

// trimTrailingZeros drops every trailing NUL byte. The extent-resolved read
// already stops at the declared size, so what this removes are zeros inside
// the file's own content.
func trimTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}

// Stat returns the file's metadata, satisfying fs.File.
func (fl *File) Stat() (os.FileInfo, error) {
	return newFileInfo(fl.name, fl.Inode), nil
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF.
// Reads from the last known offset in the file from the last read;
// use Seek to set a particular point.
func (fl *File) Read(b []byte) (int, error) {
	if fl.flags != nil && fl.flags.inlineData {
		return fl.readInline(b)
	}

	var (
		fileSize  = int64(fl.size)
		blocksize = uint64(fl.filesystem.superblock.blockSize)
	)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}

	bytesToRead := int64(len(b))
	if fl.offset+bytesToRead > fileSize {
		bytesToRead = fileSize - fl.offset
	}

	readBytes := int64(0)
	b = b[:bytesToRead]

	readStartBlock := uint64(fl.offset) / blocksize
	for _, e := range fl.extents {
		if uint64(e.fileBlock)+uint64(e.count) < readStartBlock {
			continue
		}
		extentSize := int64(e.count) * int64(blocksize)
		startPositionInExtent := fl.offset - int64(e.fileBlock)*int64(blocksize)
		leftInExtent := extentSize - startPositionInExtent
		toReadInOffset := bytesToRead - readBytes
		if toReadInOffset > leftInExtent {
			toReadInOffset = leftInExtent
		}
		startPosOnDisk := e.startingBlock*blocksize + uint64(startPositionInExtent)
		b2 := make([]byte, toReadInOffset)
		read, err := fl.filesystem.backend.ReadAt(b2, int64(startPosOnDisk))
		if err != nil {
			return int(readBytes), fmt.Errorf("failed to read bytes: %v", err)
		}
		copy(b[readBytes:], b2[:read])
		readBytes += int64(read)
		fl.offset += int64(read)

		if readBytes >= bytesToRead {
			break
		}
	}
	var err error
	if fl.offset >= fileSize {
		err = io.EOF
	}

	return int(readBytes), err
}

// readInline serves file content stored directly in the inode's i_block
// region, per §4.4's inline-data case.
func (fl *File) readInline(b []byte) (int, error) {
	fileSize := int64(fl.size)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}
	data := fl.blockRaw[:]
	if fileSize < int64(len(data)) {
		data = data[:fileSize]
	}
	n := copy(b, data[fl.offset:])
	fl.offset += int64(n)
	var err error
	if fl.offset >= fileSize {
		err = io.EOF
	}
	return n, err
}

// Write is not implemented; this tool never mutates an image.
//
//nolint:revive // params unused, read-only implementation
func (fl *File) Write(p []byte) (int, error) {
	return 0, errors.New("not implemented")
}

// Seek sets the offset to a particular point in the file.
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Close closes a file that is being read.
func (fl *File) Close() error {
	*fl = File{}
	return nil
}
