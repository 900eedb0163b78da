package ext4

import "sort"

// journalCopy is one journal-preserved copy of a disk block: which logical
// block of the journal holds it, and which transaction sequence wrote it.
type journalCopy struct {
	sequence     uint32
	journalBlock uint64
}

// journalMap maps a disk block number to every copy of it still sitting in
// the journal, newest transaction first. This is what makes undelete
// possible: an inode's containing block may have been rewritten since
// deletion, but an older copy can still be sitting in an unreplayed
// transaction.
type journalMap map[uint64][]journalCopy

// sequenceRun accumulates one transaction's descriptor-declared disk blocks
// and the journal blocks physically holding their data, in parallel order.
type sequenceRun struct {
	sequence       uint32
	discBlocks     []uint64
	journalIndexes []uint64
}

// buildJournalMap walks the journal's block stream once, in logical-block
// order, and reconstructs, per disk block, every transaction that wrote it.
//
// The journal carries no block-level index: a descriptor block lists, via
// its tags, which disk blocks the data blocks immediately following it
// belong to, in order, until a commit block closes the transaction. A block
// with no recognizable JBD2 header is plain file-system data; it belongs to
// the most recently opened transaction exactly when the last block to carry
// a recognizable header was that transaction's descriptor (payload blocks
// themselves carry no header and so never change this gate, which is what
// lets a transaction's full run of data blocks, not just the first, get
// captured).
func buildJournalMap(blocks [][]byte, sb *journalSuperblock) journalMap {
	runs := map[uint32]*sequenceRun{}
	var order []uint32

	runFor := func(sequence uint32) *sequenceRun {
		r := runs[sequence]
		if r == nil {
			r = &sequenceRun{sequence: sequence}
			runs[sequence] = r
			order = append(order, sequence)
		}
		return r
	}

	var currentSequence uint32
	lastHeaderedWasDescriptor := false

	for idx, b := range blocks {
		header, err := journalHeaderFromBytes(b)
		if err != nil {
			if lastHeaderedWasDescriptor && currentSequence != 0 {
				r := runFor(currentSequence)
				r.journalIndexes = append(r.journalIndexes, uint64(idx))
			}
			continue
		}

		switch header.blockType {
		case journalBlockTypeDescriptor:
			dblock, err := journalDescriptorBlockFromBytes(b, sb)
			if err != nil {
				lastHeaderedWasDescriptor = false
				continue
			}
			currentSequence = header.sequence
			r := runFor(currentSequence)
			for _, tag := range dblock.tags {
				r.discBlocks = append(r.discBlocks, tag.blockNr)
			}
			lastHeaderedWasDescriptor = true
		case journalBlockTypeCommit:
			lastHeaderedWasDescriptor = false
		default:
			// Journal superblock or revoke block: neither carries file data.
			lastHeaderedWasDescriptor = false
		}
	}

	jm := journalMap{}
	for _, sequence := range order {
		r := runs[sequence]
		n := len(r.discBlocks)
		if len(r.journalIndexes) < n {
			n = len(r.journalIndexes)
		}
		for i := 0; i < n; i++ {
			disk := r.discBlocks[i]
			jm[disk] = append(jm[disk], journalCopy{sequence: r.sequence, journalBlock: r.journalIndexes[i]})
		}
	}

	sortJournalMap(jm)
	return jm
}

// sortJournalMap orders each disk block's journal copies by sequence number
// descending, so callers see the newest preserved transaction first.
func sortJournalMap(jm journalMap) {
	for _, copies := range jm {
		sort.Slice(copies, func(a, b int) bool {
			return copies[a].sequence > copies[b].sequence
		})
	}
}
