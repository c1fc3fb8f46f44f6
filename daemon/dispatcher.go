// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package daemon

import (
	"fmt"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/fuse"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/utils"
)

// Backends which track negative lookups implement this beyond the channel
// interface proper.
type negativePathCacher interface {
	CacheNegativePath(path string)
}

// dispatcher translates raw driver callbacks into overlay operations. It only
// serves what the overlay has an override for; everything else is the backing
// snapshot's business and answered ENOENT here.
//
// Paths of inodes seen through Lookup are remembered so cache invalidation by
// path and negative path caching have something to resolve against.
type dispatcher struct {
	fuse.RawFileSystem
	mount *Mount

	// Read on every lookup miss, written only when a new inode is seen
	pathLock utils.DeferableRwMutex
	paths    map[sparsefs.InodeNumber]string
}

func newDispatcher(mount *Mount) *dispatcher {
	return &dispatcher{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		mount:         mount,
		paths: map[sparsefs.InodeNumber]string{
			sparsefs.InodeIdRoot: "",
		},
	}
}

func logRequestPanic(c *ctx) {
	exception := recover()
	if exception == nil {
		return
	}

	c.elog("PANIC serving request %d: '%v' Stacktrace: %s", c.RequestId,
		exception, utils.BytesToString(debug.Stack()))
}

func (d *dispatcher) pathOf(inode sparsefs.InodeNumber) (string, bool) {
	defer d.pathLock.RLock().RUnlock()
	path, exists := d.paths[inode]
	return path, exists
}

func (d *dispatcher) notePath(parent sparsefs.InodeNumber, name string,
	child sparsefs.InodeNumber) {

	defer d.pathLock.Lock().Unlock()

	parentPath, exists := d.paths[parent]
	if !exists {
		return
	}

	d.paths[child] = childPath(parentPath, name)
}

func childPath(parentPath string, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}

// ResolvePath walks the overlay from the root. ok reports whether the parent
// directory resolved; the child is InodeIdInvalid when the path names nothing
// live, which is exactly the case cache invalidation cares about.
func (d *dispatcher) ResolvePath(path string) (sparsefs.InodeNumber, string,
	sparsefs.InodeNumber, bool) {

	c := d.mount.c

	components := strings.Split(strings.Trim(path, "/"), "/")
	if len(components) == 1 && components[0] == "" {
		// The root has no parent to resolve against
		return sparsefs.InodeIdInvalid, "", sparsefs.InodeIdInvalid,
			false
	}

	dir := sparsefs.InodeIdRoot
	for _, component := range components[:len(components)-1] {
		entries, exists, err := d.mount.LoadDir(&c.Ctx, dir)
		if err != nil || !exists {
			return sparsefs.InodeIdInvalid, "",
				sparsefs.InodeIdInvalid, false
		}

		next := sparsefs.InodeIdInvalid
		for _, entry := range entries {
			if entry.Name == component &&
				entry.Type == sparsefs.EntryTypeDir {

				next = entry.Inode
				break
			}
		}

		if next == sparsefs.InodeIdInvalid {
			return sparsefs.InodeIdInvalid, "",
				sparsefs.InodeIdInvalid, false
		}
		dir = next
	}

	name := components[len(components)-1]
	child := sparsefs.InodeIdInvalid

	// The parent is resolved at this point even if it carries no override
	// of its own; only the child may be missing.
	entries, exists, err := d.mount.LoadDir(&c.Ctx, dir)
	if err == nil && exists {
		for _, entry := range entries {
			if entry.Name == name {
				child = entry.Inode
				break
			}
		}
	}

	return dir, name, child, true
}

func fillEntryOutCacheData(c *ctx, out *fuse.EntryOut) {
	out.EntryValid = c.config.CacheTimeSeconds
	out.EntryValidNsec = c.config.CacheTimeNsecs
	out.AttrValid = c.config.CacheTimeSeconds
	out.AttrValidNsec = c.config.CacheTimeNsecs
}

func fillAttrWithDirEntry(attr *fuse.Attr, entry sparsefs.DirEntry) {
	attr.Ino = uint64(entry.Inode)

	now := time.Now()
	attr.Atime = uint64(now.Unix())
	attr.Atimensec = uint32(now.Nanosecond())
	attr.Mtime = uint64(now.Unix())
	attr.Mtimensec = uint32(now.Nanosecond())
	attr.Ctime = 1
	attr.Ctimensec = 1
	attr.Blksize = 4096

	switch entry.Type {
	case sparsefs.EntryTypeDir:
		attr.Size = 4096
		attr.Blocks = 1
		attr.Nlink = 2
		attr.Mode = 0777 | fuse.S_IFDIR
	case sparsefs.EntryTypeSymlink:
		attr.Nlink = 1
		attr.Mode = 0777 | fuse.S_IFLNK
	case sparsefs.EntryTypeSpecial:
		attr.Nlink = 1
		attr.Mode = 0644 | syscall.S_IFCHR
	default:
		attr.Nlink = 1
		attr.Mode = 0644 | fuse.S_IFREG
	}
}

func fillRootAttr(attr *fuse.Attr) {
	fillAttrWithDirEntry(attr, sparsefs.DirEntry{
		Inode: sparsefs.InodeIdRoot,
		Type:  sparsefs.EntryTypeDir,
	})
}

const LookupLog = "Dispatcher::Lookup"

func (d *dispatcher) Lookup(header *fuse.InHeader, name string,
	out *fuse.EntryOut) (result fuse.Status) {

	result = fuse.EIO

	c := d.mount.c.req(header)
	defer logRequestPanic(c)
	defer c.FuncIn(LookupLog, "inode %d name %s", header.NodeId,
		name).Out()

	d.mount.RecordAccess(header.Context.Pid)

	parent := sparsefs.InodeNumber(header.NodeId)
	entries, exists, err := d.mount.LoadDir(&c.Ctx, parent)
	if err != nil {
		c.elog("Lookup in %d failed: %s", parent, err.Error())
		return fuse.EIO
	}

	if exists {
		for _, entry := range entries {
			if entry.Name != name {
				continue
			}

			d.notePath(parent, name, entry.Inode)
			out.NodeId = uint64(entry.Inode)
			fillEntryOutCacheData(c, out)
			fillAttrWithDirEntry(&out.Attr, entry)
			return fuse.OK
		}
	}

	d.cacheNegative(c, parent, name)
	return fuse.ENOENT
}

// cacheNegative remembers the absent path channel-side so the kernel's cached
// negative entry can be flushed later.
func (d *dispatcher) cacheNegative(c *ctx, parent sparsefs.InodeNumber,
	name string) {

	cacher, supported := d.mount.channel.(negativePathCacher)
	if !supported {
		return
	}

	parentPath, known := d.pathOf(parent)
	if !known {
		c.vlog("No path for inode %d, negative entry not cached",
			parent)
		return
	}

	cacher.CacheNegativePath(childPath(parentPath, name))
}

const GetAttrLog = "Dispatcher::GetAttr"

func (d *dispatcher) GetAttr(input *fuse.GetAttrIn,
	out *fuse.AttrOut) (result fuse.Status) {

	result = fuse.EIO

	c := d.mount.c.req(&input.InHeader)
	defer logRequestPanic(c)
	defer c.FuncIn(GetAttrLog, "inode %d", input.NodeId).Out()

	d.mount.RecordAccess(input.Context.Pid)

	inode := sparsefs.InodeNumber(input.NodeId)
	if inode == sparsefs.InodeIdRoot {
		out.AttrValid = c.config.CacheTimeSeconds
		out.AttrValidNsec = c.config.CacheTimeNsecs
		fillRootAttr(&out.Attr)
		return fuse.OK
	}

	// Only diverged directories are known locally; everything else is the
	// backing snapshot's to answer.
	_, exists, err := d.mount.LoadDir(&c.Ctx, inode)
	if err != nil {
		c.elog("GetAttr of %d failed: %s", inode, err.Error())
		return fuse.EIO
	}
	if !exists {
		return fuse.ENOENT
	}

	out.AttrValid = c.config.CacheTimeSeconds
	out.AttrValidNsec = c.config.CacheTimeNsecs
	fillAttrWithDirEntry(&out.Attr, sparsefs.DirEntry{
		Inode: inode,
		Type:  sparsefs.EntryTypeDir,
	})
	return fuse.OK
}

func (d *dispatcher) String() string {
	return fmt.Sprintf("SparseFS %s", d.mount.config.MountPath)
}
