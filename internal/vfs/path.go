package vfs

import (
	"fmt"
	"strings"
)

// RootInode is the fixed inode number of the root directory.
const RootInode = 0

// splitPath breaks an absolute path into non-empty components. It does
// not interpret "." or ".." specially — those only exist as stored
// directory entries, never as path syntax.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitParent splits a path into its parent directory path and final
// component name, e.g. "/a/b/c" -> ("/a/b", "c").
func splitParent(path string) (dir, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "/", path
	}
	dir = path[:i]
	if dir == "" {
		dir = "/"
	}
	name = path[i+1:]
	return dir, name
}

// ResolvePath walks path from the root inode through directory lookups
// and returns the inode number it names.
func (fs *FileSystem) ResolvePath(path string) (uint32, error) {
	if !strings.HasPrefix(path, "/") {
		return 0, fmt.Errorf("%w: path %q is not absolute", ErrInvalidArg, path)
	}
	if path == "/" || path == "" {
		return RootInode, nil
	}
	current := uint32(RootInode)
	for _, component := range splitPath(path) {
		dirInode, err := fs.inodes.Read(current)
		if err != nil {
			return 0, err
		}
		next, err := fs.dir.Lookup(dirInode, component)
		if err != nil {
			return 0, err
		}
		current = next
	}
	return current, nil
}
