package blockdev

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// JournalOp identifies the kind of operation a journal record
// describes. Recovery never inspects these values — the journal is
// reserved write-ahead-log scaffolding, not a replay mechanism.
type JournalOp uint8

const (
	JournalOpCreateFile JournalOp = 1
	JournalOpDeleteFile JournalOp = 2
	JournalOpWriteData  JournalOp = 3
	JournalOpUpdateNode JournalOp = 4
	JournalOpCreateDir  JournalOp = 5
	JournalOpDeleteDir  JournalOp = 6
)

const journalMaxBlocks = 32

// journalFilenameLen is sized so the fixed header (28 bytes) plus the
// block-number array (32*4 = 128 bytes) plus the filename exactly fill
// one 256-byte record: 28 + 128 + 100 = 256.
const journalFilenameLen = 100

// JournalRecord is one 256-byte on-disk transaction record.
type JournalRecord struct {
	TransactionID uint32
	Op            JournalOp
	Committed     bool
	Timestamp     int64
	InodeNumber   uint32
	ParentInode   uint32
	BlockCount    uint32
	Blocks        [journalMaxBlocks]uint32
	Filename      string
}

func (r *JournalRecord) valid() bool { return r.TransactionID != 0 }

func (r *JournalRecord) encode(buf []byte) {
	for i := range buf[:JournalRecordSize] {
		buf[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], r.TransactionID)
	buf[4] = byte(r.Op)
	if r.Committed {
		buf[5] = 1
	}
	le.PutUint64(buf[8:16], uint64(r.Timestamp))
	le.PutUint32(buf[16:20], r.InodeNumber)
	le.PutUint32(buf[20:24], r.ParentInode)
	le.PutUint32(buf[24:28], r.BlockCount)
	off := 28
	for i := 0; i < journalMaxBlocks; i++ {
		le.PutUint32(buf[off:off+4], r.Blocks[i])
		off += 4
	}
	name := r.Filename
	if len(name) > journalFilenameLen-1 {
		name = name[:journalFilenameLen-1]
	}
	copy(buf[off:off+journalFilenameLen], name)
}

func (r *JournalRecord) decode(buf []byte) {
	le := binary.LittleEndian
	r.TransactionID = le.Uint32(buf[0:4])
	r.Op = JournalOp(buf[4])
	r.Committed = buf[5] != 0
	r.Timestamp = int64(le.Uint64(buf[8:16]))
	r.InodeNumber = le.Uint32(buf[16:20])
	r.ParentInode = le.Uint32(buf[20:24])
	r.BlockCount = le.Uint32(buf[24:28])
	off := 28
	for i := 0; i < journalMaxBlocks; i++ {
		r.Blocks[i] = le.Uint32(buf[off : off+4])
		off += 4
	}
	end := off + journalFilenameLen
	nameBytes := buf[off:end]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	r.Filename = string(nameBytes[:n])
}

// Journal manages the fixed 64-block reserved journal region. It is
// fully functional (records are written, committed, aborted and
// scanned) but its output is never consulted by recovery — see
// internal/vfs/recovery.go.
type Journal struct {
	dev        *Device
	startBlock uint32
	numBlocks  uint32
	nextID     uint32
}

func entriesPerBlock() uint32 { return BlockSize / JournalRecordSize }

// OpenJournal attaches to the journal region of dev and scans it for
// the highest transaction ID in use, so new transactions never reuse
// an ID still present in the region.
func OpenJournal(dev *Device) (*Journal, error) {
	sb := dev.Superblock()
	j := &Journal{dev: dev, startBlock: sb.JournalStart, numBlocks: sb.JournalSize, nextID: 1}
	maxEntries := j.numBlocks * entriesPerBlock()
	for i := uint32(0); i < maxEntries; i++ {
		rec, err := j.readEntry(i)
		if err != nil {
			return nil, err
		}
		if rec.valid() && rec.TransactionID >= j.nextID {
			j.nextID = rec.TransactionID + 1
		}
	}
	return j, nil
}

// InitJournal zeroes the entire journal region, used during mkfs.
func InitJournal(dev *Device) error {
	sb := dev.Superblock()
	zeros := make([]byte, BlockSize)
	for i := uint32(0); i < sb.JournalSize; i++ {
		if err := dev.WriteBlock(sb.JournalStart+i, zeros); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) readEntry(index uint32) (JournalRecord, error) {
	var rec JournalRecord
	perBlock := entriesPerBlock()
	blockNum := j.startBlock + index/perBlock
	offset := (index % perBlock) * JournalRecordSize
	if blockNum >= j.startBlock+j.numBlocks {
		return rec, fmt.Errorf("%w: journal index %d out of range", ErrOutOfRange, index)
	}
	buf := make([]byte, BlockSize)
	if err := j.dev.ReadBlock(blockNum, buf); err != nil {
		return rec, err
	}
	rec.decode(buf[offset : offset+JournalRecordSize])
	return rec, nil
}

func (j *Journal) writeEntry(index uint32, rec JournalRecord) error {
	perBlock := entriesPerBlock()
	blockNum := j.startBlock + index/perBlock
	offset := (index % perBlock) * JournalRecordSize
	if blockNum >= j.startBlock+j.numBlocks {
		return fmt.Errorf("%w: journal index %d out of range", ErrOutOfRange, index)
	}
	buf := make([]byte, BlockSize)
	if err := j.dev.ReadBlock(blockNum, buf); err != nil {
		return err
	}
	rec.encode(buf[offset : offset+JournalRecordSize])
	return j.dev.WriteBlock(blockNum, buf)
}

func (j *Journal) findFreeSlot() (uint32, bool) {
	maxEntries := j.numBlocks * entriesPerBlock()
	for i := uint32(0); i < maxEntries; i++ {
		rec, err := j.readEntry(i)
		if err == nil && !rec.valid() {
			return i, true
		}
	}
	return 0, false
}

// Begin allocates and writes a new uncommitted transaction record,
// returning its transaction ID (0 on failure).
func (j *Journal) Begin(op JournalOp, inodeNum uint32, filename string) (uint32, error) {
	slot, ok := j.findFreeSlot()
	if !ok {
		return 0, fmt.Errorf("blockdev: journal full")
	}
	rec := JournalRecord{
		TransactionID: j.nextID,
		Op:            op,
		Committed:     false,
		InodeNumber:   inodeNum,
		Filename:      filename,
	}
	j.nextID++
	if err := j.writeEntry(slot, rec); err != nil {
		return 0, err
	}
	logrus.Debugf("blockdev: journal begin txn=%d op=%d inode=%d", rec.TransactionID, op, inodeNum)
	return rec.TransactionID, nil
}

func (j *Journal) findByID(txnID uint32) (uint32, JournalRecord, bool) {
	maxEntries := j.numBlocks * entriesPerBlock()
	for i := uint32(0); i < maxEntries; i++ {
		rec, err := j.readEntry(i)
		if err == nil && rec.TransactionID == txnID {
			return i, rec, true
		}
	}
	return 0, JournalRecord{}, false
}

// Commit marks a transaction committed.
func (j *Journal) Commit(txnID uint32) error {
	idx, rec, ok := j.findByID(txnID)
	if !ok {
		return fmt.Errorf("blockdev: no such journal transaction %d", txnID)
	}
	rec.Committed = true
	return j.writeEntry(idx, rec)
}

// Abort discards a transaction record entirely.
func (j *Journal) Abort(txnID uint32) error {
	idx, _, ok := j.findByID(txnID)
	if !ok {
		return fmt.Errorf("blockdev: no such journal transaction %d", txnID)
	}
	return j.writeEntry(idx, JournalRecord{})
}

// AddBlock records one more block number against an in-progress
// transaction.
func (j *Journal) AddBlock(txnID uint32, blockNum uint32) error {
	idx, rec, ok := j.findByID(txnID)
	if !ok {
		return fmt.Errorf("blockdev: no such journal transaction %d", txnID)
	}
	if rec.BlockCount >= journalMaxBlocks {
		return fmt.Errorf("blockdev: journal transaction %d full", txnID)
	}
	rec.Blocks[rec.BlockCount] = blockNum
	rec.BlockCount++
	return j.writeEntry(idx, rec)
}

// UncommittedTransactions returns every valid, uncommitted record
// currently in the journal region.
func (j *Journal) UncommittedTransactions() ([]JournalRecord, error) {
	var out []JournalRecord
	maxEntries := j.numBlocks * entriesPerBlock()
	for i := uint32(0); i < maxEntries; i++ {
		rec, err := j.readEntry(i)
		if err != nil {
			return nil, err
		}
		if rec.valid() && !rec.Committed {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Clear zeroes the whole journal region and resets the ID counter.
func (j *Journal) Clear() error {
	if err := InitJournal(j.dev); err != nil {
		return err
	}
	j.nextID = 1
	return nil
}
