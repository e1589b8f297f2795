package vfs

import (
	"fmt"
	"time"

	"github.com/nehalsinghchandel/file-system-recovery-tool/internal/blockdev"
	"github.com/sirupsen/logrus"
)

// DefaultImageSize is the default size of a freshly created image:
// 100 MiB, laid out as 25,600 blocks.
const DefaultImageSize = 100 * 1024 * 1024

// PerformanceStats accumulates read/write latency and throughput,
// scoped to one FileSystem instance rather than any process-global
// state.
type PerformanceStats struct {
	LastReadTimeMs    float64
	LastWriteTimeMs   float64
	TotalBytesRead    uint64
	TotalBytesWritten uint64
	TotalReads        uint32
	TotalWrites       uint32
}

// FileInfo is a read-only snapshot of one inode's metadata.
type FileInfo struct {
	Inode        uint32
	Type         FileType
	Permissions  uint8
	FileSize     uint32
	BlockCount   uint32
	CreatedTime  int64
	ModifiedTime int64
	AccessedTime int64
}

// FileSystem is the mounted, in-memory handle over one image: the
// device, bitmap, inode store, directory codec, journal, owner index,
// and corruption/performance state all live here, owned exclusively by
// this instance — nothing at the package level is shared across mounts.
type FileSystem struct {
	dev     *blockdev.Device
	bitmap  *blockdev.Bitmap
	inodes  *InodeStore
	dir     *Directory
	journal *blockdev.Journal
	owners  *OwnerIndex
	stats   PerformanceStats

	hasCorruption    bool
	corruptedBlocks  []uint32
	activeWriteInode uint32

	progress func(percent int, message string)
}

// Create formats a new image of sizeBytes (0 selects DefaultImageSize)
// at path and returns it mounted.
func Create(path string, sizeBytes int64) (*FileSystem, error) {
	if sizeBytes <= 0 {
		sizeBytes = DefaultImageSize
	}
	dev, err := blockdev.Create(path, sizeBytes)
	if err != nil {
		return nil, err
	}
	bitmap := blockdev.InitFormat(dev)
	if err := bitmap.Flush(); err != nil {
		dev.Close()
		return nil, err
	}
	if err := blockdev.InitJournal(dev); err != nil {
		dev.Close()
		return nil, err
	}
	inodes := NewInodeStore(dev, bitmap)
	dir := NewDirectory(dev, inodes)
	if err := InitRoot(inodes, dir); err != nil {
		dev.Close()
		return nil, err
	}
	journal, err := blockdev.OpenJournal(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	fs := &FileSystem{
		dev:     dev,
		bitmap:  bitmap,
		inodes:  inodes,
		dir:     dir,
		journal: journal,
		owners:  NewOwnerIndex(),
	}
	fs.owners.Rebuild(fs)
	logrus.Infof("vfs: created image %s (%d MiB)", path, sizeBytes/(1024*1024))
	return fs, nil
}

// Mount opens an existing image, warning (not failing) if the last
// unmount was unclean, and marks the superblock dirty for the
// duration of the mount.
func Mount(path string) (*FileSystem, bool, error) {
	dev, err := blockdev.Open(path)
	if err != nil {
		return nil, false, err
	}
	sb := dev.Superblock()
	warnUnclean := sb.CleanShutdown == 0
	if warnUnclean {
		logrus.Warnf("vfs: image %s was not cleanly unmounted", path)
	}
	if err := dev.MarkDirty(); err != nil {
		dev.Close()
		return nil, false, err
	}
	bitmap, err := blockdev.LoadBitmap(dev)
	if err != nil {
		dev.Close()
		return nil, false, err
	}
	inodes := NewInodeStore(dev, bitmap)
	dir := NewDirectory(dev, inodes)
	journal, err := blockdev.OpenJournal(dev)
	if err != nil {
		dev.Close()
		return nil, false, err
	}
	fs := &FileSystem{
		dev:     dev,
		bitmap:  bitmap,
		inodes:  inodes,
		dir:     dir,
		journal: journal,
		owners:  NewOwnerIndex(),
	}
	fs.owners.Rebuild(fs)
	logrus.Debugf("vfs: mounted %s", path)
	return fs, warnUnclean, nil
}

// Unmount flushes the bitmap and superblock, raises the clean-shutdown
// flag, and releases the host file handle.
func (fs *FileSystem) Unmount() error {
	if err := fs.bitmap.Flush(); err != nil {
		return err
	}
	if err := fs.dev.MarkClean(); err != nil {
		return err
	}
	return fs.dev.Close()
}

// Close flushes the bitmap and releases the host file handle without
// raising the clean-shutdown flag, leaving it exactly as it was (dirty,
// if a crash was just simulated). A later Mount of the same image will
// still report the unclean shutdown; use this instead of Unmount when
// that signal must survive the current process. It does not clear
// hasCorruption/corruptedBlocks — those never persist across a Mount
// regardless, since they are in-memory-only state.
func (fs *FileSystem) Close() error {
	if err := fs.bitmap.Flush(); err != nil {
		return err
	}
	return fs.dev.Close()
}

// SetProgressCallback installs a callback that DefragmentFileSystem
// invokes once per file it reallocates. No other operation calls it.
func (fs *FileSystem) SetProgressCallback(fn func(percent int, message string)) {
	fs.progress = fn
}

func (fs *FileSystem) reportProgress(percent int, message string) {
	if fs.progress != nil {
		fs.progress(percent, message)
	}
}

// TotalBlocks, FreeBlocks, UsedBlocks report bitmap-derived statistics.
func (fs *FileSystem) TotalBlocks() uint32 { return fs.dev.Superblock().TotalBlocks }
func (fs *FileSystem) FreeBlocks() uint32  { return fs.bitmap.FreeCount() }
func (fs *FileSystem) UsedBlocks() uint32  { return fs.TotalBlocks() - fs.FreeBlocks() }

// ImageSizeBytes returns the underlying image file's total size.
func (fs *FileSystem) ImageSizeBytes() int64 { return fs.dev.Size() }

// Stats returns a copy of the accumulated performance counters.
func (fs *FileSystem) Stats() PerformanceStats { return fs.stats }

// ResetStats zeroes the accumulated performance counters.
func (fs *FileSystem) ResetStats() { fs.stats = PerformanceStats{} }

func (fs *FileSystem) updateStats(isRead bool, elapsed time.Duration, n uint64) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	if isRead {
		fs.stats.LastReadTimeMs = ms
		fs.stats.TotalBytesRead += n
		fs.stats.TotalReads++
	} else {
		fs.stats.LastWriteTimeMs = ms
		fs.stats.TotalBytesWritten += n
		fs.stats.TotalWrites++
	}
}

// FileExists reports whether path resolves to a live inode.
func (fs *FileSystem) FileExists(path string) bool {
	_, err := fs.ResolvePath(path)
	return err == nil
}

// GetFileInfo returns a metadata snapshot for path.
func (fs *FileSystem) GetFileInfo(path string) (FileInfo, error) {
	n, err := fs.ResolvePath(path)
	if err != nil {
		return FileInfo{}, err
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Inode: n, Type: in.Type, Permissions: in.Permissions,
		FileSize: in.FileSize, BlockCount: in.BlockCount,
		CreatedTime: in.CreatedTime, ModifiedTime: in.ModifiedTime, AccessedTime: in.AccessedTime,
	}, nil
}

// GetFileSize is a convenience wrapper over GetFileInfo.
func (fs *FileSystem) GetFileSize(path string) (uint64, error) {
	info, err := fs.GetFileInfo(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.FileSize), nil
}

// CreateFile creates a new zero-length regular file at path.
func (fs *FileSystem) CreateFile(path string) error {
	dirPath, name := splitParent(path)
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: name %q", ErrInvalidArg, name)
	}
	dirNum, err := fs.ResolvePath(dirPath)
	if err != nil {
		return err
	}
	dirInode, err := fs.inodes.Read(dirNum)
	if err != nil {
		return err
	}
	if dirInode.Type != TypeDir {
		return ErrNotDirectory
	}
	if _, err := fs.dir.Lookup(dirInode, name); err == nil {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, path)
	}
	txn, _ := fs.journal.Begin(blockdev.JournalOpCreateFile, 0, name)
	newInode, err := fs.inodes.Allocate(TypeFile)
	if err != nil {
		return err
	}
	if err := fs.dir.AddEntry(&dirInode, name, newInode, TypeFile); err != nil {
		fs.inodes.Free(newInode)
		return err
	}
	if err := fs.inodes.Write(dirNum, dirInode); err != nil {
		return err
	}
	if txn != 0 {
		fs.journal.Commit(txn)
	}
	logrus.Debugf("vfs: created file %s (inode %d)", path, newInode)
	return nil
}

// WriteFile replaces the full contents of the regular file at path.
// It frees the inode's currently live blocks before allocating new
// ones — mandatory ordering so a same-size rewrite reuses the same low
// addresses and defragmentation can converge.
func (fs *FileSystem) WriteFile(path string, data []byte) error {
	start := time.Now()
	n, err := fs.ResolvePath(path)
	if err != nil {
		return err
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		return err
	}
	if in.Type != TypeFile {
		return ErrNotRegularFile
	}
	blocksNeeded := uint32((len(data) + blockdev.BlockSize - 1) / blockdev.BlockSize)
	if blocksNeeded > MaxBlocksPerFile {
		return ErrTooLarge
	}

	txn, _ := fs.journal.Begin(blockdev.JournalOpWriteData, n, "")

	oldBlocks, err := fs.inodes.EnumerateBlocks(in)
	if err != nil {
		return err
	}
	for _, b := range oldBlocks {
		fs.owners.ClearOwner(b)
		if err := fs.bitmap.Free(b); err != nil {
			return err
		}
	}
	if oldIndirect, ok := in.IndirectBlock.Live(fs.dev.Superblock().TotalBlocks); ok {
		fs.owners.ClearOwner(oldIndirect)
		if err := fs.bitmap.Free(oldIndirect); err != nil {
			return err
		}
		fs.inodes.InvalidateIndirect(oldIndirect)
	}
	in.ResetBlocks()

	for i := uint32(0); i < blocksNeeded; i++ {
		b, err := fs.bitmap.Alloc()
		if err != nil {
			return ErrNoSpace
		}
		buf := make([]byte, blockdev.BlockSize)
		lo := int(i) * blockdev.BlockSize
		hi := lo + blockdev.BlockSize
		if hi > len(data) {
			hi = len(data)
		}
		copy(buf, data[lo:hi])
		if err := fs.dev.WriteBlock(b, buf); err != nil {
			return err
		}
		if err := fs.inodes.AddBlock(&in, b); err != nil {
			return err
		}
		if indirect, ok := in.IndirectBlock.Live(fs.dev.Superblock().TotalBlocks); ok {
			fs.owners.SetOwner(indirect, n)
		}
		fs.owners.SetOwner(b, n)
		if txn != 0 {
			fs.journal.AddBlock(txn, b)
		}
	}
	in.FileSize = uint32(len(data))
	in.ModifiedTime = time.Now().Unix()
	if err := fs.inodes.Write(n, in); err != nil {
		return err
	}
	if err := fs.bitmap.Flush(); err != nil {
		return err
	}
	if txn != 0 {
		fs.journal.Commit(txn)
	}
	fs.updateStats(false, time.Since(start), uint64(len(data)))
	logrus.Debugf("vfs: wrote %s (%d bytes, %d blocks)", path, len(data), blocksNeeded)
	return nil
}

// ReadFile returns the full contents of the regular file at path.
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	start := time.Now()
	n, err := fs.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		return nil, err
	}
	if in.Type != TypeFile {
		return nil, ErrNotRegularFile
	}
	blocks, err := fs.inodes.EnumerateBlocks(in)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, in.FileSize)
	buf := make([]byte, blockdev.BlockSize)
	for _, b := range blocks {
		if err := fs.dev.ReadBlock(b, buf); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIO, err)
		}
		remaining := int(in.FileSize) - len(out)
		if remaining <= 0 {
			break
		}
		if remaining > blockdev.BlockSize {
			remaining = blockdev.BlockSize
		}
		out = append(out, buf[:remaining]...)
	}
	fs.updateStats(true, time.Since(start), uint64(len(out)))
	return out, nil
}

// DeleteFile removes path from its parent directory and frees its
// inode and blocks.
func (fs *FileSystem) DeleteFile(path string) error {
	dirPath, name := splitParent(path)
	dirNum, err := fs.ResolvePath(dirPath)
	if err != nil {
		return err
	}
	dirInode, err := fs.inodes.Read(dirNum)
	if err != nil {
		return err
	}
	target, err := fs.dir.Lookup(dirInode, name)
	if err != nil {
		return err
	}
	in, err := fs.inodes.Read(target)
	if err != nil {
		return err
	}
	if in.Type != TypeFile {
		return ErrNotRegularFile
	}
	txn, _ := fs.journal.Begin(blockdev.JournalOpDeleteFile, target, name)
	blocks, err := fs.inodes.EnumerateBlocks(in)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fs.owners.ClearOwner(b)
	}
	if indirect, ok := in.IndirectBlock.Live(fs.dev.Superblock().TotalBlocks); ok {
		fs.owners.ClearOwner(indirect)
	}
	if err := fs.inodes.Free(target); err != nil {
		return err
	}
	if err := fs.dir.RemoveEntry(&dirInode, name); err != nil {
		return err
	}
	if err := fs.inodes.Write(dirNum, dirInode); err != nil {
		return err
	}
	if err := fs.bitmap.Flush(); err != nil {
		return err
	}
	if txn != 0 {
		fs.journal.Commit(txn)
	}
	logrus.Debugf("vfs: deleted %s (inode %d)", path, target)
	return nil
}

// CreateDir creates a new empty directory at path, seeded with "."
// and ".." entries.
func (fs *FileSystem) CreateDir(path string) error {
	dirPath, name := splitParent(path)
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: name %q", ErrInvalidArg, name)
	}
	parentNum, err := fs.ResolvePath(dirPath)
	if err != nil {
		return err
	}
	parentInode, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	if parentInode.Type != TypeDir {
		return ErrNotDirectory
	}
	if _, err := fs.dir.Lookup(parentInode, name); err == nil {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, path)
	}
	txn, _ := fs.journal.Begin(blockdev.JournalOpCreateDir, 0, name)
	newInode, err := fs.inodes.Allocate(TypeDir)
	if err != nil {
		return err
	}
	self, err := fs.inodes.Read(newInode)
	if err != nil {
		return err
	}
	entries := []DirEntry{
		{Inode: newInode, NameLength: 1, Type: TypeDir, Name: "."},
		{Inode: parentNum, NameLength: 2, Type: TypeDir, Name: ".."},
	}
	if err := fs.dir.WriteEntries(&self, entries); err != nil {
		fs.inodes.Free(newInode)
		return err
	}
	if err := fs.inodes.Write(newInode, self); err != nil {
		return err
	}
	if err := fs.dir.AddEntry(&parentInode, name, newInode, TypeDir); err != nil {
		return err
	}
	if err := fs.inodes.Write(parentNum, parentInode); err != nil {
		return err
	}
	if txn != 0 {
		fs.journal.Commit(txn)
	}
	logrus.Debugf("vfs: created dir %s (inode %d)", path, newInode)
	return nil
}

// DeleteDir removes an empty directory. Non-empty directories are
// rejected with ErrInvalidArg; this format has no defined recursive
// delete semantics.
func (fs *FileSystem) DeleteDir(path string) error {
	if path == "/" {
		return fmt.Errorf("%w: cannot delete root", ErrInvalidArg)
	}
	dirPath, name := splitParent(path)
	parentNum, err := fs.ResolvePath(dirPath)
	if err != nil {
		return err
	}
	parentInode, err := fs.inodes.Read(parentNum)
	if err != nil {
		return err
	}
	target, err := fs.dir.Lookup(parentInode, name)
	if err != nil {
		return err
	}
	targetInode, err := fs.inodes.Read(target)
	if err != nil {
		return err
	}
	if targetInode.Type != TypeDir {
		return ErrNotDirectory
	}
	entries, err := fs.dir.ReadEntries(targetInode)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return fmt.Errorf("%w: directory %q not empty", ErrInvalidArg, path)
		}
	}
	blocks, err := fs.inodes.EnumerateBlocks(targetInode)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fs.owners.ClearOwner(b)
	}
	if err := fs.inodes.Free(target); err != nil {
		return err
	}
	if err := fs.dir.RemoveEntry(&parentInode, name); err != nil {
		return err
	}
	if err := fs.inodes.Write(parentNum, parentInode); err != nil {
		return err
	}
	return fs.bitmap.Flush()
}

// ListDir returns the live entries of the directory at path.
func (fs *FileSystem) ListDir(path string) ([]DirEntry, error) {
	n, err := fs.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	in, err := fs.inodes.Read(n)
	if err != nil {
		return nil, err
	}
	if in.Type != TypeDir {
		return nil, ErrNotDirectory
	}
	return fs.dir.ReadEntries(in)
}
