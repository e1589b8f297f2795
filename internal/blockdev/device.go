package blockdev

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Device is a single host file used as a fixed-size block device. It
// owns the raw byte-range I/O only; layout interpretation lives in
// Superblock and Bitmap, which are handed a Device to read and write
// through.
type Device struct {
	path string
	file *os.File
	sb   Superblock
}

// Create formats a brand-new image file of sizeBytes, rounded down to
// a whole number of blocks, and returns a Device with the superblock
// already written to block 0. Any existing file at path is truncated.
func Create(path string, sizeBytes int64) (*Device, error) {
	totalBlocks := uint32(sizeBytes / BlockSize)
	if totalBlocks < JournalBlocks+8 {
		return nil, fmt.Errorf("%w: image too small for layout (%d blocks)", ErrBadArgument, totalBlocks)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %s", ErrIO, path, err)
	}
	if err := f.Truncate(int64(totalBlocks) * BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate %s: %s", ErrIO, path, err)
	}
	d := &Device{path: path, file: f, sb: newSuperblock(totalBlocks)}
	logrus.Infof("blockdev: formatting %s (%d blocks, %d inodes)", path, d.sb.TotalBlocks, d.sb.InodeCount)
	if err := d.zeroSystemRegions(); err != nil {
		f.Close()
		return nil, err
	}
	if err := d.WriteSuperblock(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Open opens an existing image file and validates its superblock.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %s", ErrIO, path, err)
	}
	d := &Device{path: path, file: f}
	buf := make([]byte, BlockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read superblock of %s: %s", ErrIO, path, err)
	}
	if err := d.sb.Decode(buf); err != nil {
		f.Close()
		return nil, err
	}
	logrus.Debugf("blockdev: opened %s (%d/%d blocks free, cleanShutdown=%d)",
		path, d.sb.FreeBlocks, d.sb.TotalBlocks, d.sb.CleanShutdown)
	return d, nil
}

// IsOpen reports whether the underlying file handle is live.
func (d *Device) IsOpen() bool { return d != nil && d.file != nil }

// Size returns the image's total size in bytes.
func (d *Device) Size() int64 { return int64(d.sb.TotalBlocks) * BlockSize }

// Close persists the superblock and closes the underlying file.
func (d *Device) Close() error {
	if !d.IsOpen() {
		return nil
	}
	err := d.WriteSuperblock()
	cerr := d.file.Close()
	d.file = nil
	if err != nil {
		return err
	}
	return cerr
}

// Superblock returns a copy of the current in-memory superblock.
func (d *Device) Superblock() Superblock { return d.sb }

// SetSuperblock replaces the in-memory superblock. Callers must call
// WriteSuperblock to persist it.
func (d *Device) SetSuperblock(sb Superblock) { d.sb = sb }

// WriteSuperblock flushes the in-memory superblock to block 0.
func (d *Device) WriteSuperblock() error {
	buf := make([]byte, BlockSize)
	d.sb.Encode(buf)
	_, err := d.file.WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("%w: write superblock: %s", ErrIO, err)
	}
	return nil
}

// MarkDirty clears the clean-shutdown flag, matching the original
// tool's behaviour of flagging the image before a risky write.
func (d *Device) MarkDirty() error {
	d.sb.CleanShutdown = 0
	return d.WriteSuperblock()
}

// MarkClean sets the clean-shutdown flag.
func (d *Device) MarkClean() error {
	d.sb.CleanShutdown = 1
	return d.WriteSuperblock()
}

// ReadBlock reads exactly one block into buf, which must be at least
// BlockSize bytes.
func (d *Device) ReadBlock(blockNum uint32, buf []byte) error {
	if !d.IsOpen() {
		return ErrNotMounted
	}
	if blockNum >= d.sb.TotalBlocks {
		return fmt.Errorf("%w: block %d >= %d", ErrOutOfRange, blockNum, d.sb.TotalBlocks)
	}
	if len(buf) < BlockSize {
		return fmt.Errorf("%w: buffer smaller than one block", ErrBadArgument)
	}
	_, err := d.file.ReadAt(buf[:BlockSize], int64(blockNum)*BlockSize)
	if err != nil {
		return fmt.Errorf("%w: read block %d: %s", ErrIO, blockNum, err)
	}
	return nil
}

// WriteBlock writes exactly one block from buf, flushing immediately —
// this device never buffers writes.
func (d *Device) WriteBlock(blockNum uint32, buf []byte) error {
	if !d.IsOpen() {
		return ErrNotMounted
	}
	if blockNum >= d.sb.TotalBlocks {
		return fmt.Errorf("%w: block %d >= %d", ErrOutOfRange, blockNum, d.sb.TotalBlocks)
	}
	if len(buf) < BlockSize {
		return fmt.Errorf("%w: buffer smaller than one block", ErrBadArgument)
	}
	_, err := d.file.WriteAt(buf[:BlockSize], int64(blockNum)*BlockSize)
	if err != nil {
		return fmt.Errorf("%w: write block %d: %s", ErrIO, blockNum, err)
	}
	return nil
}

// ZeroBlock overwrites one block with zero bytes, used whenever a
// block is freed so nothing readable survives a delete.
func (d *Device) ZeroBlock(blockNum uint32) error {
	zeros := make([]byte, BlockSize)
	return d.WriteBlock(blockNum, zeros)
}

func (d *Device) zeroSystemRegions() error {
	zeros := make([]byte, BlockSize)
	for b := d.sb.BitmapStart; b < d.sb.DataBlocksStart; b++ {
		if err := d.WriteBlock(b, zeros); err != nil {
			return err
		}
	}
	return nil
}
