package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/rfhayre/ext4recover/errs"
)

// dirEntryFileType mirrors the on-disk directory entry file type byte, valid
// only when the filesystem carries INCOMPAT_FILETYPE.
type dirEntryFileType uint8

const (
	dirEntryTypeUnknown  dirEntryFileType = 0x0
	dirEntryTypeRegular  dirEntryFileType = 0x1
	dirEntryTypeDir      dirEntryFileType = 0x2
	dirEntryTypeCharDev  dirEntryFileType = 0x3
	dirEntryTypeBlockDev dirEntryFileType = 0x4
	dirEntryTypeFIFO     dirEntryFileType = 0x5
	dirEntryTypeSocket   dirEntryFileType = 0x6
	dirEntryTypeSymlink  dirEntryFileType = 0x7
	// dirEntryTailType marks the checksum tail entry diskfs-go-diskfs and the
	// original reference implementation both use to terminate a directory block.
	dirEntryTailType dirEntryFileType = 0xde
)

// directoryEntry is one decoded linear directory record, per §4.5.
type directoryEntry struct {
	inode    uint32
	recLen   uint16
	name     string
	fileType dirEntryFileType
}

const dirEntryHeaderSize = 8

// directoryEntriesFromBytes walks one directory data block and returns every
// live entry in on-disk order, skipping the inode==0 tombstones and the
// trailing checksum tail record. hasFileType controls whether the eighth
// byte is a file type (INCOMPAT_FILETYPE) or the high byte of a name length.
func directoryEntriesFromBytes(b []byte, hasFileType bool) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	offset := 0
	for offset < len(b) {
		if offset+dirEntryHeaderSize > len(b) {
			return nil, fmt.Errorf("directory block truncated at offset %d: %w", offset, errs.FormatError)
		}
		inode := binary.LittleEndian.Uint32(b[offset : offset+4])
		recLen := binary.LittleEndian.Uint16(b[offset+4 : offset+6])
		nameLen := b[offset+6]
		ftByte := b[offset+7]

		if recLen < dirEntryHeaderSize {
			return nil, fmt.Errorf("directory entry at offset %d has impossible rec_len %d: %w", offset, recLen, errs.FormatError)
		}
		if offset+int(recLen) > len(b) {
			return nil, fmt.Errorf("directory entry at offset %d overruns block with rec_len %d: %w", offset, recLen, errs.FormatError)
		}

		ft := dirEntryTypeUnknown
		if hasFileType {
			ft = dirEntryFileType(ftByte)
		}

		if ft == dirEntryTailType {
			break
		}
		if inode != 0 {
			nameStart := offset + dirEntryHeaderSize
			nameEnd := nameStart + int(nameLen)
			if nameEnd > len(b) {
				return nil, fmt.Errorf("directory entry at offset %d has name past block end: %w", offset, errs.FormatError)
			}
			entries = append(entries, &directoryEntry{
				inode:    inode,
				recLen:   recLen,
				name:     string(b[nameStart:nameEnd]),
				fileType: ft,
			})
		}

		offset += int(recLen)
	}
	return entries, nil
}
