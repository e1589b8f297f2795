package vfs

import (
	"bytes"
	"strings"
	"testing"
)

func TestGetBlockMapClassifiesSystemRegions(t *testing.T) {
	fs := newTestFS(t, 1024)
	sb := fs.dev.Superblock()
	entries := fs.GetBlockMap()
	if len(entries) != int(sb.TotalBlocks) {
		t.Fatalf("GetBlockMap returned %d entries, want %d", len(entries), sb.TotalBlocks)
	}
	if entries[0].Role != RoleSuperblock {
		t.Fatalf("block 0 role = %s, want superblock", entries[0].Role)
	}
	if entries[sb.BitmapStart].Role != RoleBitmap {
		t.Fatalf("block %d role = %s, want bitmap", sb.BitmapStart, entries[sb.BitmapStart].Role)
	}
	if entries[sb.InodeTableStart].Role != RoleInodeTable {
		t.Fatalf("block %d role = %s, want inode-table", sb.InodeTableStart, entries[sb.InodeTableStart].Role)
	}
	if entries[sb.JournalStart].Role != RoleJournal {
		t.Fatalf("block %d role = %s, want journal", sb.JournalStart, entries[sb.JournalStart].Role)
	}
	// Root's directory block takes DataBlocksStart during InitRoot, so
	// the next data block is the first free one on a fresh image.
	if entries[sb.DataBlocksStart+1].Role != RoleFree {
		t.Fatalf("first data block after root's = %s, want free on a fresh image", entries[sb.DataBlocksStart+1].Role)
	}
}

func TestGetBlockMapReflectsUsedBlockOwner(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/owned"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	if err := fs.WriteFile("/owned", bytes.Repeat([]byte{0x01}, 4096)); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	n, err := fs.ResolvePath("/owned")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	sb := fs.dev.Superblock()
	found := false
	for b := sb.DataBlocksStart; b < sb.TotalBlocks; b++ {
		e := fs.GetBlockMap()[b]
		if e.Role == RoleUsed && e.Owner == n {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected at least one used block owned by inode %d", n)
	}
}

func TestGetBlockMapMarksCorruptedBlocks(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.SimulatePowerCutDuringWrite("/y", bytes.Repeat([]byte{0x22}, 16384), 0.5); err != nil {
		t.Fatalf("SimulatePowerCutDuringWrite: %s", err)
	}
	entries := fs.GetBlockMap()
	corrupted := fs.CorruptedBlocks()
	if len(corrupted) == 0 {
		t.Fatalf("expected the simulated crash to record corrupted blocks")
	}
	for _, b := range corrupted {
		if entries[b].Role != RoleCorrupted {
			t.Fatalf("expected every corrupted block to report RoleCorrupted, block %d is %s", b, entries[b].Role)
		}
	}
}

func TestFilenameFromInode(t *testing.T) {
	fs := newTestFS(t, 512)
	if err := fs.CreateFile("/named.txt"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	n, err := fs.ResolvePath("/named.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	if got := fs.FilenameFromInode(n); got != "named.txt" {
		t.Fatalf("FilenameFromInode(%d) = %q, want %q", n, got, "named.txt")
	}
}

func TestFilenameFromInodeForNestedFileIsEmpty(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateDir("/sub"); err != nil {
		t.Fatalf("CreateDir: %s", err)
	}
	if err := fs.CreateFile("/sub/deep.txt"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	n, err := fs.ResolvePath("/sub/deep.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	if got := fs.FilenameFromInode(n); got != "" {
		t.Fatalf("FilenameFromInode for a non-root-level file = %q, want empty", got)
	}
}

func TestRenderBlockMapIncludesLegend(t *testing.T) {
	fs := newTestFS(t, 256)
	out := fs.RenderBlockMap(32)
	if !strings.Contains(out, "legend:") {
		t.Fatalf("RenderBlockMap output missing legend line")
	}
	if !strings.Contains(out, "superblock") {
		t.Fatalf("RenderBlockMap legend missing role names")
	}
}
