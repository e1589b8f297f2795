package vfs

import "errors"

// Sentinel errors, one per error kind named by the on-disk file system
// design. Callers check these with errors.Is.
var (
	ErrNotMounted     = errors.New("vfs: not mounted")
	ErrIO             = errors.New("vfs: i/o error")
	ErrNoSpace        = errors.New("vfs: no space left")
	ErrNoInodes       = errors.New("vfs: no free inodes")
	ErrNotFound       = errors.New("vfs: not found")
	ErrAlreadyExists  = errors.New("vfs: already exists")
	ErrInvalidArg     = errors.New("vfs: invalid argument")
	ErrNotRegularFile = errors.New("vfs: not a regular file")
	ErrNotDirectory   = errors.New("vfs: not a directory")
	ErrTooLarge       = errors.New("vfs: file too large")
	ErrCorrupted      = errors.New("vfs: corrupted image")
)
