package vfs

import "github.com/sirupsen/logrus"

// RunRecovery repairs the self-inconsistency left by the last crash
// simulation. It trusts only the recorded corruptedBlocks list — it
// does not scan for orphans beyond what those blocks implicate, and it
// never reads the journal region; a broader diagnostic sweep is
// available separately as CheckConsistency.
func (fs *FileSystem) RunRecovery() (bool, error) {
	if !fs.hasCorruption {
		return true, nil
	}

	corruptedSet := make(map[uint32]bool, len(fs.corruptedBlocks))
	for _, b := range fs.corruptedBlocks {
		corruptedSet[b] = true
		fs.owners.ClearOwner(b)
		if err := fs.bitmap.Free(b); err != nil {
			return false, err
		}
	}

	sb := fs.dev.Superblock()
	var toRemove []uint32
	for i := uint32(1); i < sb.InodeCount; i++ {
		in, err := fs.inodes.Read(i)
		if err != nil {
			return false, err
		}
		if !in.Valid() {
			continue
		}
		implicated := false
		for _, p := range in.DirectBlocks {
			if b, ok := p.Live(sb.TotalBlocks); ok && corruptedSet[b] {
				implicated = true
				break
			}
		}
		if implicated {
			toRemove = append(toRemove, i)
		}
	}

	root, err := fs.inodes.Read(RootInode)
	if err != nil {
		return false, err
	}
	for _, i := range toRemove {
		entries, err := fs.dir.ReadEntries(root)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			if e.Inode == i {
				if err := fs.dir.RemoveEntry(&root, e.Name); err != nil {
					return false, err
				}
				break
			}
		}
		in, err := fs.inodes.Read(i)
		if err != nil {
			return false, err
		}
		blocks, err := fs.inodes.EnumerateBlocks(in)
		if err != nil {
			return false, err
		}
		for _, b := range blocks {
			fs.owners.ClearOwner(b)
		}
		if indirect, ok := in.IndirectBlock.Live(sb.TotalBlocks); ok {
			fs.owners.ClearOwner(indirect)
		}
		// inodes.Free frees any of the inode's remaining live blocks
		// (Bitmap.Free is a no-op on an already-free block, so blocks
		// freed above as corrupted are freed exactly once).
		if err := fs.inodes.Free(i); err != nil {
			return false, err
		}
	}
	if err := fs.inodes.Write(RootInode, root); err != nil {
		return false, err
	}

	if err := fs.bitmap.Flush(); err != nil {
		return false, err
	}
	if err := fs.dev.WriteSuperblock(); err != nil {
		return false, err
	}

	fs.hasCorruption = false
	fs.corruptedBlocks = nil
	fs.activeWriteInode = 0
	logrus.Infof("vfs: recovery removed %d orphaned inode(s)", len(toRemove))
	return true, nil
}

// ConsistencyReport is the supplemental diagnostic surface: a general
// scan for problems RunRecovery's targeted corruptedBlocks protocol
// does not look for, useful for validating an image independent of
// whether a crash was ever simulated against it.
type ConsistencyReport struct {
	OrphanedBlocks    []uint32 // allocated but owned by no live inode
	DoubleOwnedBlocks []uint32 // referenced by more than one live inode
	InvalidPointers   []uint32 // inode numbers with a pointer outside [1, totalBlocks)
	Clean             bool
}

// CheckConsistency performs a full-image scan comparable to the
// original tool's general orphan/invalid-inode sweep: every live
// inode's blocks are enumerated and cross-checked against the bitmap
// and against each other, independent of any crash-simulation state.
func (fs *FileSystem) CheckConsistency() (ConsistencyReport, error) {
	sb := fs.dev.Superblock()
	seen := make(map[uint32]uint32)
	var report ConsistencyReport

	for i := uint32(0); i < sb.InodeCount; i++ {
		in, err := fs.inodes.Read(i)
		if err != nil {
			return report, err
		}
		if !in.Valid() {
			continue
		}
		for _, p := range in.DirectBlocks {
			if p == 0 || p == NoBlock {
				continue
			}
			b, ok := p.Live(sb.TotalBlocks)
			if !ok {
				report.InvalidPointers = append(report.InvalidPointers, i)
				continue
			}
			if owner, dup := seen[b]; dup && owner != i {
				report.DoubleOwnedBlocks = append(report.DoubleOwnedBlocks, b)
			}
			seen[b] = i
		}
		if in.IndirectBlock != 0 && in.IndirectBlock != NoBlock {
			b, ok := in.IndirectBlock.Live(sb.TotalBlocks)
			if !ok {
				report.InvalidPointers = append(report.InvalidPointers, i)
				continue
			}
			if owner, dup := seen[b]; dup && owner != i {
				report.DoubleOwnedBlocks = append(report.DoubleOwnedBlocks, b)
			}
			seen[b] = i
			// The indirect block's own slot is recorded above; its
			// pointers name the file's data blocks past DirectBlocks,
			// which also need to land in seen or the orphan sweep below
			// flags every one of them (mirrors OwnerIndex.Rebuild).
			blocks, err := fs.inodes.EnumerateBlocks(in)
			if err != nil {
				return report, err
			}
			for _, b := range blocks {
				if owner, dup := seen[b]; dup && owner != i {
					report.DoubleOwnedBlocks = append(report.DoubleOwnedBlocks, b)
				}
				seen[b] = i
			}
		}
	}

	for b := sb.DataBlocksStart; b < sb.TotalBlocks; b++ {
		if !fs.bitmap.IsFree(b) {
			if _, owned := seen[b]; !owned {
				report.OrphanedBlocks = append(report.OrphanedBlocks, b)
			}
		}
	}

	report.Clean = len(report.OrphanedBlocks) == 0 && len(report.DoubleOwnedBlocks) == 0 && len(report.InvalidPointers) == 0
	return report, nil
}
