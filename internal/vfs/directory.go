package vfs

import (
	"encoding/binary"
	"fmt"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
)

// EntriesPerBlock is the number of 64-byte directory entries packed
// into one data block.
const EntriesPerBlock = blockdev.BlockSize / blockdev.DirEntrySize

// MaxNameLength is the largest filename component this format can
// store in one directory entry.
const MaxNameLength = 56

// DirEntry is one 64-byte directory entry.
type DirEntry struct {
	Inode      uint32
	NameLength uint8
	Type       FileType
	Name       string
}

func (e *DirEntry) valid() bool { return e.Inode != 0 && e.NameLength != 0 }

func (e *DirEntry) encode(buf []byte) {
	for i := range buf[:blockdev.DirEntrySize] {
		buf[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], e.Inode)
	buf[4] = e.NameLength
	buf[5] = byte(e.Type)
	copy(buf[8:8+MaxNameLength], e.Name)
}

func (e *DirEntry) decode(buf []byte) {
	le := binary.LittleEndian
	e.Inode = le.Uint32(buf[0:4])
	e.NameLength = buf[4]
	e.Type = FileType(buf[5])
	n := int(e.NameLength)
	if n > MaxNameLength {
		n = MaxNameLength
	}
	e.Name = string(buf[8 : 8+n])
}

// Directory reads and writes the packed directory-entry payload stored
// in a directory inode's data blocks.
type Directory struct {
	dev    *blockdev.Device
	inodes *InodeStore
}

// NewDirectory builds a directory codec bound to an inode store.
func NewDirectory(dev *blockdev.Device, inodes *InodeStore) *Directory {
	return &Directory{dev: dev, inodes: inodes}
}

// ReadEntries returns every live entry stored in dirInode's data
// blocks, in storage order.
func (d *Directory) ReadEntries(dirInode Inode) ([]DirEntry, error) {
	stored, err := d.readStored(dirInode)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	for _, e := range stored {
		if e.valid() {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// readStored returns every named entry in storage order, including
// "." and ".." entries that point at the root inode (number 0), which
// ReadEntries leaves out. AddEntry and RemoveEntry rewrite the payload
// from this list so those entries are kept on disk.
func (d *Directory) readStored(dirInode Inode) ([]DirEntry, error) {
	blocks, err := d.inodes.EnumerateBlocks(dirInode)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	buf := make([]byte, blockdev.BlockSize)
	for _, b := range blocks {
		if err := d.dev.ReadBlock(b, buf); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIO, err)
		}
		for i := 0; i < EntriesPerBlock; i++ {
			off := i * blockdev.DirEntrySize
			var e DirEntry
			e.decode(buf[off : off+blockdev.DirEntrySize])
			if e.NameLength != 0 {
				entries = append(entries, e)
			}
		}
	}
	return entries, nil
}

// WriteEntries serialises entries contiguously into dirInode's data
// blocks, allocating more blocks if needed and zeroing every
// previously used block that is no longer needed — this is the fix
// that stops deleted entries from resurrecting on the next read.
func (d *Directory) WriteEntries(dirInode *Inode, entries []DirEntry) error {
	blocksNeeded := uint32(1)
	if len(entries) > 0 {
		blocksNeeded = uint32((len(entries) + EntriesPerBlock - 1) / EntriesPerBlock)
	}
	blocks, err := d.inodes.EnumerateBlocks(*dirInode)
	if err != nil {
		return err
	}
	for uint32(len(blocks)) < blocksNeeded {
		newBlock, err := d.inodes.bitmap.Alloc()
		if err != nil {
			return ErrNoSpace
		}
		if err := d.dev.ZeroBlock(newBlock); err != nil {
			return err
		}
		if err := d.inodes.AddBlock(dirInode, newBlock); err != nil {
			d.inodes.bitmap.Free(newBlock)
			return err
		}
		blocks = append(blocks, newBlock)
	}

	entryIdx := 0
	for blockIdx := uint32(0); blockIdx < blocksNeeded && int(blockIdx) < len(blocks); blockIdx++ {
		buf := make([]byte, blockdev.BlockSize)
		for i := 0; i < EntriesPerBlock && entryIdx < len(entries); i++ {
			off := i * blockdev.DirEntrySize
			entries[entryIdx].encode(buf[off : off+blockdev.DirEntrySize])
			entryIdx++
		}
		if err := d.dev.WriteBlock(blocks[blockIdx], buf); err != nil {
			return fmt.Errorf("%w: %s", ErrIO, err)
		}
	}
	// Zero out any remaining blocks that are no longer needed so
	// deleted entries do not persist on the next read.
	for blockIdx := blocksNeeded; blockIdx < uint32(len(blocks)); blockIdx++ {
		if err := d.dev.ZeroBlock(blocks[blockIdx]); err != nil {
			return err
		}
	}

	dirInode.FileSize = uint32(len(entries)) * blockdev.DirEntrySize
	return nil
}

// AddEntry appends a new (name, childInode) mapping, rejecting a
// duplicate name.
func (d *Directory) AddEntry(dirInode *Inode, name string, childInode uint32, t FileType) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: name length", ErrInvalidArg)
	}
	entries, err := d.readStored(*dirInode)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == name {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
	}
	entries = append(entries, DirEntry{Inode: childInode, NameLength: uint8(len(name)), Type: t, Name: name})
	return d.WriteEntries(dirInode, entries)
}

// RemoveEntry removes the entry named name, rewriting the payload.
func (d *Directory) RemoveEntry(dirInode *Inode, name string) error {
	entries, err := d.readStored(*dirInode)
	if err != nil {
		return err
	}
	out := entries[:0]
	found := false
	for _, e := range entries {
		if e.Name == name {
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d.WriteEntries(dirInode, out)
}

// Lookup returns the inode number bound to name in dirInode, or
// ErrNotFound.
func (d *Directory) Lookup(dirInode Inode, name string) (uint32, error) {
	entries, err := d.ReadEntries(dirInode)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Inode, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// InitRoot formats inode 0 as the root directory, seeded with "."
// and ".." both pointing at itself.
func InitRoot(inodes *InodeStore, dir *Directory) error {
	root := Inode{
		Number:       0,
		Type:         TypeDir,
		Permissions:  permDir,
		LinkCount:    2,
		CreatedTime:  0,
		ModifiedTime: 0,
		AccessedTime: 0,
	}
	if err := inodes.Write(0, root); err != nil {
		return err
	}
	entries := []DirEntry{
		{Inode: 0, NameLength: 1, Type: TypeDir, Name: "."},
		{Inode: 0, NameLength: 2, Type: TypeDir, Name: ".."},
	}
	if err := dir.WriteEntries(&root, entries); err != nil {
		return err
	}
	if err := inodes.Write(0, root); err != nil {
		return err
	}
	// Root is bootstrapped directly rather than through Allocate, which
	// would otherwise be the only path decrementing FreeInodes.
	sb := inodes.dev.Superblock()
	sb.FreeInodes--
	inodes.dev.SetSuperblock(sb)
	return nil
}
