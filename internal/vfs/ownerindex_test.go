package vfs

import (
	"bytes"
	"testing"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
)

// TestAllocatorPlacesFreshFileContiguously mirrors scenario S4: on a
// freshly formatted image, a file's blocks are handed out by the
// first-fit bitmap allocator in ascending, contiguous order.
func TestAllocatorPlacesFreshFileContiguously(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/one"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0xCC}, 10*blockdev.BlockSize)
	if err := fs.WriteFile("/one", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	n, err := fs.ResolvePath("/one")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		t.Fatalf("Read inode: %s", err)
	}
	blocks, err := fs.inodes.EnumerateBlocks(in)
	if err != nil {
		t.Fatalf("EnumerateBlocks: %s", err)
	}
	if len(blocks) != 10 {
		t.Fatalf("len(blocks) = %d, want 10", len(blocks))
	}
	sb := fs.dev.Superblock()
	// The root directory's own data block is allocated first, during
	// InitRoot, so it claims DataBlocksStart; the first user file gets
	// the next lowest free block.
	if blocks[0] != sb.DataBlocksStart+1 {
		t.Fatalf("first block = %d, want DataBlocksStart+1 (%d) on a fresh image", blocks[0], sb.DataBlocksStart+1)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i] != blocks[i-1]+1 {
			t.Fatalf("blocks not contiguous: %v", blocks)
		}
	}
}

// TestOwnerIndexRebuildAfterIndirectAllocation mirrors scenario S5: a
// 50-block file spans the 12 direct slots plus 38 indirect pointers,
// and a full rebuild attributes all 51 owned blocks (50 data + the
// indirect block itself) to that file's inode.
func TestOwnerIndexRebuildAfterIndirectAllocation(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/big"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0xDD}, 50*blockdev.BlockSize)
	if err := fs.WriteFile("/big", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	n, err := fs.ResolvePath("/big")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		t.Fatalf("Read inode: %s", err)
	}
	if in.BlockCount != 50 {
		t.Fatalf("BlockCount = %d, want 50", in.BlockCount)
	}
	indirect, ok := in.IndirectBlock.Live(fs.TotalBlocks())
	if !ok {
		t.Fatalf("a 50-block file must allocate an indirect block")
	}

	ptrs, err := fs.inodes.readIndirect(indirect)
	if err != nil {
		t.Fatalf("readIndirect: %s", err)
	}
	liveCount := 0
	for _, p := range ptrs {
		if _, ok := p.Live(fs.TotalBlocks()); ok {
			liveCount++
		}
	}
	if liveCount != 38 {
		t.Fatalf("live indirect pointers = %d, want 38 (50 - %d direct slots)", liveCount, DirectBlocks)
	}

	if err := fs.RebuildBlockOwnership(); err != nil {
		t.Fatalf("RebuildBlockOwnership: %s", err)
	}
	owned := 0
	for b := uint32(0); b < fs.TotalBlocks(); b++ {
		if owner, ok := fs.owners.GetOwner(b); ok {
			if owner != n {
				continue
			}
			owned++
		}
	}
	if owned != 51 {
		t.Fatalf("blocks attributed to /big after rebuild = %d, want 51 (50 data + 1 indirect)", owned)
	}
}
