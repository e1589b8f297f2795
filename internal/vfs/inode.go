package vfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
	"github.com/sirupsen/logrus"
)

// FileType tags the one interesting variant boundary in this format:
// a record is either unused, a regular file, or a directory. Modelled
// as a small enum rather than an interface hierarchy, matching the
// single place polymorphism actually shows up in this design.
type FileType uint8

const (
	TypeFree FileType = 0
	TypeFile FileType = 1
	TypeDir  FileType = 2
)

// DirectBlocks is the number of direct pointer slots carried in every
// inode record.
const DirectBlocks = 12

// PointersPerIndirect is the number of further pointers held by one
// indirect block.
const PointersPerIndirect = blockdev.BlockSize / 4

// MaxBlocksPerFile is the largest number of data blocks one inode can
// reference: 12 direct plus 1024 through its single indirect block.
const MaxBlocksPerFile = DirectBlocks + PointersPerIndirect

const permFile = 0o644
const permDir = 0o755

// Inode is the in-memory decoding of one 128-byte inode-table record.
// Field order matches the on-disk layout exactly.
type Inode struct {
	Number        uint32
	Type          FileType
	Permissions   uint8
	LinkCount     uint16
	FileSize      uint32
	BlockCount    uint32
	CreatedTime   int64
	ModifiedTime  int64
	AccessedTime  int64
	DirectBlocks  [DirectBlocks]BlockPtr
	IndirectBlock BlockPtr
}

// Valid reports whether this record currently describes a live file
// or directory.
func (in *Inode) Valid() bool { return in.Type != TypeFree }

func (in *Inode) encode(buf []byte) {
	for i := range buf[:blockdev.InodeSize] {
		buf[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], in.Number)
	buf[4] = byte(in.Type)
	buf[5] = in.Permissions
	le.PutUint16(buf[6:8], in.LinkCount)
	le.PutUint32(buf[8:12], in.FileSize)
	le.PutUint32(buf[12:16], in.BlockCount)
	le.PutUint64(buf[16:24], uint64(in.CreatedTime))
	le.PutUint64(buf[24:32], uint64(in.ModifiedTime))
	le.PutUint64(buf[32:40], uint64(in.AccessedTime))
	off := 40
	for i := 0; i < DirectBlocks; i++ {
		le.PutUint32(buf[off:off+4], uint32(int32(in.DirectBlocks[i])))
		off += 4
	}
	le.PutUint32(buf[off:off+4], uint32(int32(in.IndirectBlock)))
}

func (in *Inode) decode(buf []byte) {
	le := binary.LittleEndian
	in.Number = le.Uint32(buf[0:4])
	in.Type = FileType(buf[4])
	in.Permissions = buf[5]
	in.LinkCount = le.Uint16(buf[6:8])
	in.FileSize = le.Uint32(buf[8:12])
	in.BlockCount = le.Uint32(buf[12:16])
	in.CreatedTime = int64(le.Uint64(buf[16:24]))
	in.ModifiedTime = int64(le.Uint64(buf[24:32]))
	in.AccessedTime = int64(le.Uint64(buf[32:40]))
	off := 40
	for i := 0; i < DirectBlocks; i++ {
		in.DirectBlocks[i] = BlockPtr(int32(le.Uint32(buf[off : off+4])))
		off += 4
	}
	in.IndirectBlock = BlockPtr(int32(le.Uint32(buf[off : off+4])))
}

func (in *Inode) reset() {
	*in = Inode{}
	for i := range in.DirectBlocks {
		in.DirectBlocks[i] = 0
	}
}

// InodeStore reads and writes fixed-stride inode records and resolves
// their direct/indirect pointers into ordered block lists.
type InodeStore struct {
	dev    *blockdev.Device
	bitmap *blockdev.Bitmap
	cache  *IndirectCache
}

// NewInodeStore builds an inode store over an already-open device and
// loaded bitmap.
func NewInodeStore(dev *blockdev.Device, bitmap *blockdev.Bitmap) *InodeStore {
	return &InodeStore{dev: dev, bitmap: bitmap, cache: NewIndirectCache(indirectCacheCapacity)}
}

func (s *InodeStore) locate(n uint32) (blockNum uint32, offset int) {
	sb := s.dev.Superblock()
	perBlock := blockdev.BlockSize / blockdev.InodeSize
	return sb.InodeTableStart + n/uint32(perBlock), int(n%uint32(perBlock)) * blockdev.InodeSize
}

// Read decodes inode n from the inode table.
func (s *InodeStore) Read(n uint32) (Inode, error) {
	sb := s.dev.Superblock()
	if n >= sb.InodeCount {
		return Inode{}, fmt.Errorf("%w: inode %d >= %d", ErrInvalidArg, n, sb.InodeCount)
	}
	blockNum, offset := s.locate(n)
	buf := make([]byte, blockdev.BlockSize)
	if err := s.dev.ReadBlock(blockNum, buf); err != nil {
		return Inode{}, fmt.Errorf("%w: %s", ErrIO, err)
	}
	var in Inode
	in.decode(buf[offset : offset+blockdev.InodeSize])
	return in, nil
}

// Write re-encodes inode n, read-modify-write on its containing block
// so sibling inodes packed into the same block are undisturbed.
func (s *InodeStore) Write(n uint32, in Inode) error {
	sb := s.dev.Superblock()
	if n >= sb.InodeCount {
		return fmt.Errorf("%w: inode %d >= %d", ErrInvalidArg, n, sb.InodeCount)
	}
	blockNum, offset := s.locate(n)
	buf := make([]byte, blockdev.BlockSize)
	if err := s.dev.ReadBlock(blockNum, buf); err != nil {
		return fmt.Errorf("%w: %s", ErrIO, err)
	}
	in.encode(buf[offset : offset+blockdev.InodeSize])
	if err := s.dev.WriteBlock(blockNum, buf); err != nil {
		return fmt.Errorf("%w: %s", ErrIO, err)
	}
	return nil
}

// Allocate scans for the first free inode record, initialises it with
// default fields for the given type, and persists it.
func (s *InodeStore) Allocate(t FileType) (uint32, error) {
	sb := s.dev.Superblock()
	for i := uint32(0); i < sb.InodeCount; i++ {
		in, err := s.Read(i)
		if err != nil {
			return 0, err
		}
		if in.Valid() {
			continue
		}
		now := time.Now().Unix()
		in = Inode{
			Number:       i,
			Type:         t,
			LinkCount:    1,
			CreatedTime:  now,
			ModifiedTime: now,
			AccessedTime: now,
		}
		if t == TypeDir {
			in.Permissions = permDir
		} else {
			in.Permissions = permFile
		}
		if err := s.Write(i, in); err != nil {
			return 0, err
		}
		sb.FreeInodes--
		s.dev.SetSuperblock(sb)
		logrus.Debugf("vfs: allocated inode %d (type=%d)", i, t)
		return i, nil
	}
	return 0, ErrNoInodes
}

// Free releases every block owned by inode n (without touching the
// owner index — callers that maintain one clear it themselves) and
// zeroes the inode record.
func (s *InodeStore) Free(n uint32) error {
	in, err := s.Read(n)
	if err != nil {
		return err
	}
	blocks, err := s.EnumerateBlocks(in)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if err := s.bitmap.Free(b); err != nil {
			return err
		}
	}
	sb := s.dev.Superblock()
	if indirect, ok := in.IndirectBlock.Live(sb.TotalBlocks); ok {
		if err := s.bitmap.Free(indirect); err != nil {
			return err
		}
		s.cache.Invalidate(indirect)
	}
	in.reset()
	if err := s.Write(n, in); err != nil {
		return err
	}
	sb = s.dev.Superblock()
	sb.FreeInodes++
	s.dev.SetSuperblock(sb)
	return nil
}

// EnumerateBlocks returns every live data block of in, in the order
// data was written: direct slots 0..11, then every live pointer found
// in the indirect block, in storage order. This order must never be
// sorted for reading — file content is reconstructed by concatenating
// blocks in exactly this sequence.
func (s *InodeStore) EnumerateBlocks(in Inode) ([]uint32, error) {
	sb := s.dev.Superblock()
	var blocks []uint32
	for _, p := range in.DirectBlocks {
		if b, ok := p.Live(sb.TotalBlocks); ok {
			blocks = append(blocks, b)
		}
	}
	if indirect, ok := in.IndirectBlock.Live(sb.TotalBlocks); ok {
		ptrs, err := s.readIndirect(indirect)
		if err != nil {
			return nil, err
		}
		for _, p := range ptrs {
			if b, ok := p.Live(sb.TotalBlocks); ok {
				blocks = append(blocks, b)
			}
		}
	}
	return blocks, nil
}

func (s *InodeStore) readIndirect(blockNum uint32) ([PointersPerIndirect]BlockPtr, error) {
	if ptrs, ok := s.cache.Get(blockNum); ok {
		return ptrs, nil
	}
	var ptrs [PointersPerIndirect]BlockPtr
	buf := make([]byte, blockdev.BlockSize)
	if err := s.dev.ReadBlock(blockNum, buf); err != nil {
		return ptrs, fmt.Errorf("%w: %s", ErrIO, err)
	}
	le := binary.LittleEndian
	for i := 0; i < PointersPerIndirect; i++ {
		ptrs[i] = BlockPtr(int32(le.Uint32(buf[i*4 : i*4+4])))
	}
	s.cache.Put(blockNum, ptrs)
	return ptrs, nil
}

func (s *InodeStore) writeIndirect(blockNum uint32, ptrs [PointersPerIndirect]BlockPtr) error {
	buf := make([]byte, blockdev.BlockSize)
	le := binary.LittleEndian
	for i, p := range ptrs {
		le.PutUint32(buf[i*4:i*4+4], uint32(int32(p)))
	}
	if err := s.dev.WriteBlock(blockNum, buf); err != nil {
		return fmt.Errorf("%w: %s", ErrIO, err)
	}
	s.cache.Put(blockNum, ptrs)
	return nil
}

// AddBlock wires a freshly allocated data block into in, preferring
// the first free direct slot before spilling into the indirect block,
// allocating the indirect block itself on first use.
func (s *InodeStore) AddBlock(in *Inode, blockNum uint32) error {
	if in.BlockCount >= MaxBlocksPerFile {
		return fmt.Errorf("%w: inode %d already at %d blocks", ErrTooLarge, in.Number, in.BlockCount)
	}
	for i := range in.DirectBlocks {
		if _, ok := in.DirectBlocks[i].Live(s.dev.Superblock().TotalBlocks); !ok {
			in.DirectBlocks[i] = BlockPtr(blockNum)
			in.BlockCount++
			return nil
		}
	}
	sb := s.dev.Superblock()
	var ptrs [PointersPerIndirect]BlockPtr
	if indirect, ok := in.IndirectBlock.Live(sb.TotalBlocks); ok {
		var err error
		ptrs, err = s.readIndirect(indirect)
		if err != nil {
			return err
		}
	} else {
		newBlock, err := s.bitmap.Alloc()
		if err != nil {
			return ErrNoSpace
		}
		if err := s.dev.ZeroBlock(newBlock); err != nil {
			return err
		}
		in.IndirectBlock = BlockPtr(newBlock)
	}
	placed := false
	for i := range ptrs {
		if _, ok := ptrs[i].Live(sb.TotalBlocks); !ok {
			ptrs[i] = BlockPtr(blockNum)
			placed = true
			break
		}
	}
	if !placed {
		return fmt.Errorf("%w: indirect block full", ErrTooLarge)
	}
	indirectBlock, _ := in.IndirectBlock.Live(sb.TotalBlocks)
	if err := s.writeIndirect(indirectBlock, ptrs); err != nil {
		return err
	}
	in.BlockCount++
	return nil
}

// InvalidateIndirect drops blockNum from the indirect-block cache,
// used by callers that free an indirect block directly on the bitmap
// without going through Free.
func (s *InodeStore) InvalidateIndirect(blockNum uint32) {
	s.cache.Invalidate(blockNum)
}

// ResetBlocks sets all pointer slots to NoBlock and the block count to
// zero without freeing anything on the bitmap — used by writeFile after
// the caller has already freed the inode's old blocks.
func (in *Inode) ResetBlocks() {
	for i := range in.DirectBlocks {
		in.DirectBlocks[i] = NoBlock
	}
	in.IndirectBlock = NoBlock
	in.BlockCount = 0
}
