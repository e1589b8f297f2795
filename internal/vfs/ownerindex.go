package vfs

// OwnerIndex maps each in-use data block to the inode that owns it,
// maintained incrementally by every write/delete path and rebuildable
// from scratch by walking the inode table — the same "cheap to keep
// current, cheap to regenerate" shape the corpus uses for its
// secondary indexes.
type OwnerIndex struct {
	owner map[uint32]uint32
}

// NewOwnerIndex builds an empty index.
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{owner: make(map[uint32]uint32)}
}

// SetOwner records that blockNum currently belongs to inode n.
func (idx *OwnerIndex) SetOwner(blockNum, n uint32) {
	idx.owner[blockNum] = n
}

// ClearOwner removes any ownership record for blockNum.
func (idx *OwnerIndex) ClearOwner(blockNum uint32) {
	delete(idx.owner, blockNum)
}

// GetOwner reports the inode owning blockNum, if any.
func (idx *OwnerIndex) GetOwner(blockNum uint32) (uint32, bool) {
	n, ok := idx.owner[blockNum]
	return n, ok
}

// Len returns the number of blocks currently tracked.
func (idx *OwnerIndex) Len() int { return len(idx.owner) }

// Rebuild discards the current index and walks every live inode,
// re-deriving block ownership from the inode table and indirect
// blocks. Free-inode records are skipped, and any pointer that fails
// BlockPtr.Live is silently skipped rather than treated as an error —
// a half-written inode from an interrupted operation should not make
// a full rebuild fail.
func (idx *OwnerIndex) Rebuild(fs *FileSystem) error {
	idx.owner = make(map[uint32]uint32)
	sb := fs.dev.Superblock()
	for i := uint32(0); i < sb.InodeCount; i++ {
		in, err := fs.inodes.Read(i)
		if err != nil {
			return err
		}
		if !in.Valid() {
			continue
		}
		for _, p := range in.DirectBlocks {
			if b, ok := p.Live(sb.TotalBlocks); ok {
				idx.owner[b] = i
			}
		}
		if indirect, ok := in.IndirectBlock.Live(sb.TotalBlocks); ok {
			idx.owner[indirect] = i
			blocks, err := fs.inodes.EnumerateBlocks(in)
			if err != nil {
				return err
			}
			for _, b := range blocks {
				idx.owner[b] = i
			}
		}
	}
	return nil
}

// RebuildBlockOwnership is the FileSystem-facing entry point for a full
// rebuild of the index. RunRecovery does not call it; it clears the
// owner entries of the blocks it frees itself.
func (fs *FileSystem) RebuildBlockOwnership() error {
	return fs.owners.Rebuild(fs)
}
