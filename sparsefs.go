// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package sparsefs contains the shared types of the SparseFS virtual
// filesystem client. SparseFS presents a large version controlled repository
// as a live, writable local filesystem without materializing every file. The
// implementation lives in the subpackages, this package only holds the types
// which cross package boundaries.
package sparsefs

// InodeNumber is the stable identifier of one filesystem object for the
// lifetime of a mount. Inode numbers increase monotonically and are never
// reused while any reference to them, on disk or in memory, exists.
type InodeNumber uint64

const (
	InodeIdInvalid = InodeNumber(0)
	InodeIdRoot    = InodeNumber(1)
)

// The type of object a directory entry refers to. These values are recorded
// on disk in the overlay and must not be renumbered.
type EntryType uint32

const (
	EntryTypeFile    = EntryType(1)
	EntryTypeDir     = EntryType(2)
	EntryTypeSymlink = EntryType(3)
	EntryTypeSpecial = EntryType(4)
)

// DirEntry is one child entry of a locally diverged directory.
type DirEntry struct {
	Name  string
	Inode InodeNumber
	Type  EntryType
}

// ProcessNameResolver maps a process id to a human readable name. The
// implementation is provided by the environment and must be safe for
// concurrent use; the access log registers every newly seen pid with it.
type ProcessNameResolver interface {
	RegisterPid(pid uint32)
}
