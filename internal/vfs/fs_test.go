package vfs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
)

func newTestFS(t *testing.T, blocks int64) *FileSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.img")
	fs, err := Create(path, blocks*blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

func TestCreateFileWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/hello.txt"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := []byte("hello, file system")
	if err := fs.WriteFile("/hello.txt", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	got, err := fs.ReadFile("/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadFile = %q, want %q", got, data)
	}
}

func TestFreeInodesAccountsForRoot(t *testing.T) {
	fs := newTestFS(t, 1024)
	sb := fs.dev.Superblock()
	if sb.FreeInodes != sb.InodeCount-1 {
		t.Fatalf("FreeInodes = %d, want InodeCount-1 (%d) to account for root", sb.FreeInodes, sb.InodeCount-1)
	}
	if err := fs.CreateFile("/x"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	sb = fs.dev.Superblock()
	if sb.FreeInodes != sb.InodeCount-2 {
		t.Fatalf("FreeInodes after one allocation = %d, want InodeCount-2 (%d)", sb.FreeInodes, sb.InodeCount-2)
	}
}

func TestScenarioS1RoundTrip(t *testing.T) {
	fs := newTestFS(t, 100*1024*1024/blockdev.BlockSize)
	if err := fs.CreateFile("/a"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0xAA}, 5000)
	if err := fs.WriteFile("/a", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	got, err := fs.ReadFile("/a")
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadFile returned %d bytes, want a 5000-byte vector of 0xAA", len(got))
	}
	info, err := fs.GetFileInfo("/a")
	if err != nil {
		t.Fatalf("GetFileInfo: %s", err)
	}
	if info.FileSize != 5000 {
		t.Fatalf("FileSize = %d, want 5000", info.FileSize)
	}
	if info.BlockCount != 2 {
		t.Fatalf("BlockCount = %d, want 2", info.BlockCount)
	}
}

func TestWriteZeroByteFile(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/empty"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	if err := fs.WriteFile("/empty", nil); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	info, err := fs.GetFileInfo("/empty")
	if err != nil {
		t.Fatalf("GetFileInfo: %s", err)
	}
	if info.BlockCount != 0 {
		t.Fatalf("BlockCount = %d, want 0 for an empty file", info.BlockCount)
	}
	got, err := fs.ReadFile("/empty")
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("ReadFile of empty file returned %d bytes", len(got))
	}
}

func TestWriteExactlyTwelveDirectBlocksAllocatesNoIndirect(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.CreateFile("/direct"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0xCC}, DirectBlocks*blockdev.BlockSize)
	if err := fs.WriteFile("/direct", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	n, err := fs.ResolvePath("/direct")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		t.Fatalf("Read inode: %s", err)
	}
	if _, ok := in.IndirectBlock.Live(fs.TotalBlocks()); ok {
		t.Fatalf("a %d-block file should not need an indirect block", DirectBlocks)
	}
}

func TestWriteOneByteOverTwelveBlocksAllocatesIndirect(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.CreateFile("/overflow"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0xDD}, DirectBlocks*blockdev.BlockSize+1)
	if err := fs.WriteFile("/overflow", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	n, err := fs.ResolvePath("/overflow")
	if err != nil {
		t.Fatalf("ResolvePath: %s", err)
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		t.Fatalf("Read inode: %s", err)
	}
	if _, ok := in.IndirectBlock.Live(fs.TotalBlocks()); !ok {
		t.Fatalf("a file one byte over %d blocks should allocate an indirect block", DirectBlocks)
	}
	got, err := fs.ReadFile("/overflow")
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read-back mismatch across the direct/indirect boundary")
	}
}

func TestAllocationOnFullImageReturnsNoSpace(t *testing.T) {
	fs := newTestFS(t, 96)
	if err := fs.CreateFile("/big"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	before := fs.FreeBlocks()
	huge := bytes.Repeat([]byte{0x01}, int(MaxBlocksPerFile)*blockdev.BlockSize)
	err := fs.WriteFile("/big", huge)
	if err == nil {
		t.Fatalf("WriteFile of an oversized payload on a tiny image should fail")
	}
	// The bitmap may have allocated some blocks before hitting NoSpace;
	// what matters is that the call reports failure rather than silently
	// truncating the file.
	if fs.FreeBlocks() > before {
		t.Fatalf("FreeBlocks increased after a failed write, which should never happen")
	}
}

func TestDeleteFileReturnsBlocksToBitmap(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateFile("/gone"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	data := bytes.Repeat([]byte{0x42}, 4096*3)
	if err := fs.WriteFile("/gone", data); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	before := fs.FreeBlocks()
	if err := fs.DeleteFile("/gone"); err != nil {
		t.Fatalf("DeleteFile: %s", err)
	}
	if fs.FreeBlocks() <= before {
		t.Fatalf("FreeBlocks did not increase after delete")
	}
	if fs.FileExists("/gone") {
		t.Fatalf("/gone should not exist after delete")
	}
}

func TestCreateDirAndNestedFile(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateDir("/sub"); err != nil {
		t.Fatalf("CreateDir: %s", err)
	}
	if err := fs.CreateFile("/sub/file.txt"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	if err := fs.WriteFile("/sub/file.txt", []byte("nested")); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	entries, err := fs.ListDir("/sub")
	if err != nil {
		t.Fatalf("ListDir: %s", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "file.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected file.txt in /sub, got %+v", entries)
	}
}

func TestDeleteDirRejectsNonEmpty(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateDir("/sub"); err != nil {
		t.Fatalf("CreateDir: %s", err)
	}
	if err := fs.CreateFile("/sub/f"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	if err := fs.DeleteDir("/sub"); err == nil {
		t.Fatalf("DeleteDir on a non-empty directory should fail")
	}
}

func TestMountWarnsOnUncleanShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	fs, err := Create(path, 512*blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := fs.dev.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %s", err)
	}
	if err := fs.dev.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	fs2, unclean, err := Mount(path)
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	defer fs2.Unmount()
	if !unclean {
		t.Fatalf("Mount should report the prior unclean shutdown")
	}
}
