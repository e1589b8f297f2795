package vfs

import (
	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
	"github.com/sirupsen/logrus"
)

// SimulatePowerCutDuringWrite manufactures a self-inconsistent image:
// it creates path, allocates only the prefix of blocks a write would
// have reached before crashPercent of fullData was written, wires them
// into the inode, and leaves the file's declared size at the crashed
// byte count rather than the full length — then marks the image dirty
// so the next mount warns. It never writes the tail of fullData.
func (fs *FileSystem) SimulatePowerCutDuringWrite(path string, fullData []byte, crashPercent float64) error {
	crashBytes := int(float64(len(fullData)) * crashPercent)
	partialBlocks := uint32((crashBytes + blockdev.BlockSize - 1) / blockdev.BlockSize)

	if err := fs.CreateFile(path); err != nil {
		return err
	}
	n, err := fs.ResolvePath(path)
	if err != nil {
		return err
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		return err
	}

	corrupted := make([]uint32, 0, partialBlocks)
	written := 0
	for i := uint32(0); i < partialBlocks; i++ {
		b, err := fs.bitmap.Alloc()
		if err != nil {
			return err
		}
		buf := make([]byte, blockdev.BlockSize)
		lo := written
		hi := lo + blockdev.BlockSize
		if hi > crashBytes {
			hi = crashBytes
		}
		if lo < len(fullData) && lo < hi {
			end := hi
			if end > len(fullData) {
				end = len(fullData)
			}
			copy(buf, fullData[lo:end])
		}
		if err := fs.dev.WriteBlock(b, buf); err != nil {
			return err
		}
		if err := fs.inodes.AddBlock(&in, b); err != nil {
			return err
		}
		fs.owners.SetOwner(b, n)
		corrupted = append(corrupted, b)
		written += blockdev.BlockSize
	}

	in.FileSize = uint32(crashBytes)
	if err := fs.inodes.Write(n, in); err != nil {
		return err
	}
	if err := fs.bitmap.Flush(); err != nil {
		return err
	}
	if err := fs.dev.MarkDirty(); err != nil {
		return err
	}

	fs.hasCorruption = true
	fs.corruptedBlocks = corrupted
	fs.activeWriteInode = n
	logrus.Warnf("vfs: simulated power cut during write to %s (%d/%d bytes landed)", path, crashBytes, len(fullData))
	return nil
}

// HasCorruption, CorruptedBlocks, ActiveWriteInode expose the
// corruption state left by the most recent crash simulation.
func (fs *FileSystem) HasCorruption() bool          { return fs.hasCorruption }
func (fs *FileSystem) CorruptedBlocks() []uint32    { return fs.corruptedBlocks }
func (fs *FileSystem) ActiveWriteInode() uint32     { return fs.activeWriteInode }
