package vfs

import (
	"strconv"
	"testing"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
)

func TestDirEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := DirEntry{Inode: 7, NameLength: 5, Type: TypeFile, Name: "hello"}
	buf := make([]byte, blockdev.DirEntrySize)
	e.encode(buf)

	var got DirEntry
	got.decode(buf)
	if got.Inode != e.Inode || got.NameLength != e.NameLength || got.Type != e.Type || got.Name != e.Name {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDirEntryValid(t *testing.T) {
	cases := []struct {
		e    DirEntry
		want bool
	}{
		{DirEntry{Inode: 1, NameLength: 1}, true},
		{DirEntry{Inode: 0, NameLength: 1}, false},
		{DirEntry{Inode: 1, NameLength: 0}, false},
	}
	for _, c := range cases {
		if got := c.e.valid(); got != c.want {
			t.Errorf("%+v.valid() = %v, want %v", c.e, got, c.want)
		}
	}
}

func TestAddEntryRejectsDuplicateName(t *testing.T) {
	fs := newTestFS(t, 512)
	if err := fs.CreateFile("/dup"); err != nil {
		t.Fatalf("CreateFile: %s", err)
	}
	if err := fs.CreateFile("/dup"); err == nil {
		t.Fatalf("creating /dup twice should fail")
	}
}

func TestRemoveEntryNotFound(t *testing.T) {
	fs := newTestFS(t, 512)
	root, err := fs.inodes.Read(RootInode)
	if err != nil {
		t.Fatalf("Read root: %s", err)
	}
	if err := fs.dir.RemoveEntry(&root, "nope"); err == nil {
		t.Fatalf("RemoveEntry of a missing name should fail")
	}
}

func TestLookupNotFound(t *testing.T) {
	fs := newTestFS(t, 512)
	root, err := fs.inodes.Read(RootInode)
	if err != nil {
		t.Fatalf("Read root: %s", err)
	}
	if _, err := fs.dir.Lookup(root, "nope"); err == nil {
		t.Fatalf("Lookup of a missing name should fail")
	}
}

// TestWriteEntriesZeroesTrailingBlocks confirms that removing enough
// entries to need fewer blocks zeroes the blocks no longer in use, so
// a stale entry cannot resurrect on the next ReadEntries call.
func TestWriteEntriesZeroesTrailingBlocks(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.CreateDir("/d"); err != nil {
		t.Fatalf("CreateDir: %s", err)
	}
	// Fill enough entries to span more than one directory block.
	n := EntriesPerBlock + 5
	for i := 0; i < n; i++ {
		path := "/d/file" + strconv.Itoa(i)
		if err := fs.CreateFile(path); err != nil {
			t.Fatalf("CreateFile(%s): %s", path, err)
		}
	}
	// ListDir also returns /d's own "." entry; its ".." points at the
	// root inode (0) and is not listed.
	entriesBefore, err := fs.ListDir("/d")
	if err != nil {
		t.Fatalf("ListDir: %s", err)
	}
	if len(entriesBefore) != n+1 {
		t.Fatalf("ListDir returned %d entries, want %d", len(entriesBefore), n+1)
	}

	// Delete all but one entry, forcing WriteEntries back down to a
	// single block.
	for i := 1; i < n; i++ {
		path := "/d/file" + strconv.Itoa(i)
		if err := fs.DeleteFile(path); err != nil {
			t.Fatalf("DeleteFile(%s): %s", path, err)
		}
	}
	entriesAfter, err := fs.ListDir("/d")
	if err != nil {
		t.Fatalf("ListDir after delete: %s", err)
	}
	if len(entriesAfter) != 2 {
		t.Fatalf("ListDir after delete returned %d entries, want 2 (. and file0), got %+v", len(entriesAfter), entriesAfter)
	}
}

// TestInitRootSeedsDotEntries reads root's first directory block
// directly: root's "." and ".." point at inode 0, which ListDir treats
// as an unused slot and does not return.
func TestInitRootSeedsDotEntries(t *testing.T) {
	fs := newTestFS(t, 512)
	root, err := fs.inodes.Read(RootInode)
	if err != nil {
		t.Fatalf("Read root: %s", err)
	}
	blocks, err := fs.inodes.EnumerateBlocks(root)
	if err != nil {
		t.Fatalf("EnumerateBlocks: %s", err)
	}
	if len(blocks) == 0 {
		t.Fatalf("root directory has no data block")
	}
	buf := make([]byte, blockdev.BlockSize)
	if err := fs.dev.ReadBlock(blocks[0], buf); err != nil {
		t.Fatalf("ReadBlock: %s", err)
	}
	var dot, dotdot DirEntry
	dot.decode(buf[0:blockdev.DirEntrySize])
	dotdot.decode(buf[blockdev.DirEntrySize : 2*blockdev.DirEntrySize])
	if dot.Name != "." || dot.Inode != RootInode || dotdot.Name != ".." || dotdot.Inode != RootInode {
		t.Fatalf("root directory should start with . and .. pointing at itself, got %+v and %+v", dot, dotdot)
	}
}
