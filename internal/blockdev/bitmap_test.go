package blockdev

import (
	"path/filepath"
	"testing"
)

func TestBitmapAllocSkipsSystemRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	dev, err := Create(path, 512*BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer dev.Close()

	bm := InitFormat(dev)
	sb := dev.Superblock()
	b, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if b < sb.DataBlocksStart {
		t.Fatalf("Alloc returned system-region block %d (data starts at %d)", b, sb.DataBlocksStart)
	}
}

func TestBitmapAllocFreeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	dev, err := Create(path, 512*BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer dev.Close()

	bm := InitFormat(dev)
	before := bm.FreeCount()

	b, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if bm.FreeCount() != before-1 {
		t.Fatalf("FreeCount after Alloc = %d, want %d", bm.FreeCount(), before-1)
	}
	if bm.IsFree(b) {
		t.Fatalf("block %d should be marked used after Alloc", b)
	}
	if err := bm.Free(b); err != nil {
		t.Fatalf("Free: %s", err)
	}
	if bm.FreeCount() != before {
		t.Fatalf("FreeCount after Free = %d, want %d", bm.FreeCount(), before)
	}
	if !bm.IsFree(b) {
		t.Fatalf("block %d should be free again", b)
	}
}

func TestBitmapFreeRefusesSystemBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	dev, err := Create(path, 512*BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer dev.Close()

	bm := InitFormat(dev)
	if err := bm.Free(0); err == nil {
		t.Fatalf("Free should refuse to free the superblock's own block")
	}
}

func TestBitmapAllocExhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	dev, err := Create(path, 96*BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer dev.Close()

	bm := InitFormat(dev)
	before := bm.FreeCount()
	var allocated []uint32
	for {
		b, err := bm.Alloc()
		if err != nil {
			break
		}
		allocated = append(allocated, b)
	}
	if bm.FreeCount() != 0 {
		t.Fatalf("FreeCount after exhausting allocator = %d, want 0", bm.FreeCount())
	}
	if uint32(len(allocated)) != before {
		t.Fatalf("allocated %d blocks, want %d", len(allocated), before)
	}
	if _, err := bm.Alloc(); err != ErrNoSpace {
		t.Fatalf("Alloc on exhausted bitmap = %v, want ErrNoSpace", err)
	}
}

func TestBitmapFlushPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img")
	dev, err := Create(path, 512*BlockSize)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	bm := InitFormat(dev)
	freeBeforeAlloc := bm.FreeCount()
	b, err := bm.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if err := bm.Flush(); err != nil {
		t.Fatalf("Flush: %s", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	dev2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer dev2.Close()
	bm2, err := LoadBitmap(dev2)
	if err != nil {
		t.Fatalf("LoadBitmap: %s", err)
	}
	if bm2.IsFree(b) {
		t.Fatalf("block %d should still be marked used after reload", b)
	}
	if got := dev2.Superblock().FreeBlocks; got != freeBeforeAlloc-1 {
		t.Fatalf("reloaded superblock FreeBlocks = %d, want %d (Flush must keep it in sync)", got, freeBeforeAlloc-1)
	}
}
