package ext4

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rfhayre/ext4recover/errs"
)

// putDirEntry writes one directory entry record at b[offset:] and returns
// offset+recLen.
func putDirEntry(b []byte, offset int, inode uint32, recLen uint16, name string, ft dirEntryFileType) int {
	binary.LittleEndian.PutUint32(b[offset:offset+4], inode)
	binary.LittleEndian.PutUint16(b[offset+4:offset+6], recLen)
	b[offset+6] = byte(len(name))
	b[offset+7] = byte(ft)
	copy(b[offset+8:], name)
	return offset + int(recLen)
}

func TestDirectoryEntriesFromBytes(t *testing.T) {
	b := make([]byte, 64)
	off := putDirEntry(b, 0, 2, 12, ".", dirEntryTypeDir)
	off = putDirEntry(b, off, 2, 12, "..", dirEntryTypeDir)
	off = putDirEntry(b, off, 12, 20, "hello.txt", dirEntryTypeRegular)
	putDirEntry(b, off, 0, uint16(len(b)-off), "", dirEntryTailType)

	entries, err := directoryEntriesFromBytes(b, true)
	if err != nil {
		t.Fatalf("directoryEntriesFromBytes: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].name != "." || entries[1].name != ".." {
		t.Errorf("expected . and .. retained, got %q, %q", entries[0].name, entries[1].name)
	}
	if entries[2].name != "hello.txt" || entries[2].inode != 12 {
		t.Errorf("unexpected third entry: %+v", entries[2])
	}
}

func TestDirectoryEntriesFromBytesSkipsTombstone(t *testing.T) {
	b := make([]byte, 24)
	off := putDirEntry(b, 0, 0, 12, "deleted", dirEntryTypeUnknown)
	putDirEntry(b, off, 5, uint16(len(b)-off), "live", dirEntryTypeRegular)

	entries, err := directoryEntriesFromBytes(b, true)
	if err != nil {
		t.Fatalf("directoryEntriesFromBytes: %v", err)
	}
	if len(entries) != 1 || entries[0].name != "live" {
		t.Errorf("expected only the live entry, got %+v", entries)
	}
}

func TestDirectoryEntriesFromBytesImpossibleRecLen(t *testing.T) {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], 2)
	binary.LittleEndian.PutUint16(b[4:6], 4) // shorter than the 8-byte header
	_, err := directoryEntriesFromBytes(b, true)
	if !errors.Is(err, errs.FormatError) {
		t.Errorf("expected errs.FormatError, got %v", err)
	}
}

func TestDirectoryEntriesFromBytesOverrun(t *testing.T) {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], 2)
	binary.LittleEndian.PutUint16(b[4:6], 64) // longer than the whole block
	_, err := directoryEntriesFromBytes(b, true)
	if !errors.Is(err, errs.FormatError) {
		t.Errorf("expected errs.FormatError, got %v", err)
	}
}

func TestDirectoryEntriesFromBytesTruncatedHeader(t *testing.T) {
	_, err := directoryEntriesFromBytes(make([]byte, 4), true)
	if !errors.Is(err, errs.FormatError) {
		t.Errorf("expected errs.FormatError, got %v", err)
	}
}
