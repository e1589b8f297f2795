package blockdev

import "errors"

// Sentinel errors returned by this package, checked with errors.Is at
// call sites the way the higher-level vfs package expects.
var (
	ErrNotMounted  = errors.New("blockdev: image not open")
	ErrIO          = errors.New("blockdev: i/o error")
	ErrCorrupted   = errors.New("blockdev: corrupted image")
	ErrOutOfRange  = errors.New("blockdev: block number out of range")
	ErrNoSpace     = errors.New("blockdev: no free blocks")
	ErrBadArgument = errors.New("blockdev: invalid argument")
)
