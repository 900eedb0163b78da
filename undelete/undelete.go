// Package undelete scans an ext4 filesystem's inode table for inodes that
// look deleted, cross-references the jbd2 journal for older surviving
// copies of those inodes, and writes out whatever file content can still be
// recovered from them.
package undelete

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rfhayre/ext4recover/errs"
	"github.com/rfhayre/ext4recover/filesystem/ext4"
)

// Result describes one file the engine wrote to disk.
type Result struct {
	InodeNumber  uint32
	DeletionTime time.Time
	Path         string
	Bytes        int
}

// Options configures a Run.
type Options struct {
	// OutDir is the directory recovered files are written into. It is
	// created if it does not already exist.
	OutDir string
	// Logger receives progress and per-candidate diagnostics. If nil,
	// logrus's standard logger is used.
	Logger *logrus.Logger
	// IncludeReserved restores reserved inodes below the filesystem's
	// first non-reserved inode number too. Off by default: those inodes
	// back filesystem metadata (the root directory, quota files, the
	// journal itself) rather than user data.
	IncludeReserved bool
}

// Run sweeps fs for deleted inodes with a journal-preserved predecessor and
// writes every recoverable one under opts.OutDir. It logs and continues past
// a single inode's failure rather than aborting the whole sweep.
func Run(fs *ext4.FileSystem, opts Options) ([]Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %q", opts.OutDir)
	}

	log.Info("mapping filesystem journal")
	journal, err := fs.OpenJournal()
	if err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}

	firstCandidate := uint32(1)
	if !opts.IncludeReserved {
		firstCandidate = fs.FirstNonReservedInode()
	}

	var results []Result
	fileIndex := 0

	for number := firstCandidate; number <= fs.InodesCount(); number++ {
		in, err := fs.Inode(number)
		if err != nil {
			log.WithError(err).WithField("inode", number).Warn("skipping unreadable inode")
			continue
		}
		if !in.Deleted() {
			continue
		}

		blockNumber, offset, err := fs.InodeLocation(number)
		if err != nil {
			log.WithError(err).WithField("inode", number).Warn("cannot locate deleted inode")
			continue
		}
		log.WithFields(logrus.Fields{
			"inode": number,
			"block": blockNumber,
		}).Info("found deleted inode")

		copies := journal.CopiesForBlock(blockNumber)
		if len(copies) == 0 {
			continue
		}

		for _, jcopy := range copies {
			jBlock, err := journal.ReadBlock(jcopy.JournalBlock)
			if err != nil {
				log.WithError(err).WithField("inode", number).Warn("cannot read journal copy")
				continue
			}
			inodeSize := int(fs.InodeSize())
			if offset+inodeSize > len(jBlock) {
				continue
			}
			predecessor, err := fs.DecodeInodeBytes(jBlock[offset:offset+inodeSize], number)
			if err != nil {
				log.WithError(fmt.Errorf("%v: %w", err, errs.DecodeError)).
					WithField("inode", number).Warn("garbled predecessor record")
				continue
			}
			if predecessor.DeletionTime() != 0 || predecessor.ChangeTime().Unix() <= 0 {
				continue
			}

			log.WithField("inode", number).Info("found predecessor in journal")
			name := fmt.Sprintf("%s - %d", time.Unix(int64(in.DeletionTime()), 0).Local().Format("2006-01-02 15:04:05"), fileIndex)
			outPath := filepath.Join(opts.OutDir, name)
			fileIndex++

			n, err := restoreOne(fs, predecessor, outPath, log)
			if err != nil {
				log.WithError(err).WithField("inode", number).Warn("cannot restore data")
				continue
			}
			if n == 0 {
				continue
			}
			results = append(results, Result{
				InodeNumber:  number,
				DeletionTime: time.Unix(int64(in.DeletionTime()), 0),
				Path:         outPath,
				Bytes:        n,
			})
		}
	}

	return results, nil
}

// restoreOne extracts a predecessor inode's data and writes it, trailing
// zero bytes stripped, to outPath. It returns 0, nil when there was nothing
// to restore.
func restoreOne(fs *ext4.FileSystem, predecessor *ext4.Inode, outPath string, log *logrus.Logger) (int, error) {
	data, err := fs.ReadInodeData(predecessor)
	if err != nil {
		return 0, errors.Wrap(err, "extracting inode data")
	}
	data = delTrailingZeros(data)
	if len(data) == 0 {
		log.Warn("cannot restore data: inode is empty")
		return 0, nil
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return 0, errors.Wrapf(err, "writing %q", outPath)
	}
	log.WithField("path", outPath).Info("restored data")
	return len(data), nil
}

// delTrailingZeros drops every trailing NUL byte. The extent-resolved read
// already stops at the predecessor's declared size, so what this removes are
// zeros inside that size.
func delTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
