// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// The FUSE backend of the virtualization channel

package fschannel

import (
	"github.com/hanwen/go-fuse/fuse"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/qlog"
	"github.com/aristanetworks/sparsefs/utils"
)

// FuseChannel drives a kernel FUSE session for one mount path.
type FuseChannel struct {
	mountPath string

	lock       utils.DeferableMutex
	state      State
	server     *fuse.Server
	dispatcher Dispatcher
	stopFuture *StopFuture

	useNegativePathCaching bool
	negativeLock           utils.DeferableMutex
	negativePaths          map[string]struct{}
}

func NewFuseChannel(mountPath string) *FuseChannel {
	return &FuseChannel{
		mountPath:     mountPath,
		state:         Stopped,
		stopFuture:    NewStopFuture(),
		negativePaths: make(map[string]struct{}),
	}
}

func (ch *FuseChannel) Start(c *sparsefs.Ctx, readOnly bool,
	dispatcher Dispatcher, useNegativePathCaching bool) error {

	defer c.FuncIn(qlog.LogChannel, "FuseChannel::Start", "%s",
		ch.mountPath).Out()

	defer ch.lock.Lock().Unlock()

	utils.Assert(ch.state == Stopped,
		"FuseChannel started while %s", ch.state)

	mountOptions := fuse.MountOptions{
		AllowOther:    true,
		MaxBackground: 1024,
		FsName:        "SparseFS",
		Name:          "sparsefs",
	}
	if readOnly {
		mountOptions.Options = append(mountOptions.Options, "ro")
	}

	server, err := fuse.NewServer(dispatcher, ch.mountPath, &mountOptions)
	if err != nil {
		c.Elog(qlog.LogChannel, "Failed to create fuse server: %s",
			err.Error())
		return sparsefs.NewChannelErr(sparsefs.CHANNEL_START_FAILURE,
			"mounting %s: %s", ch.mountPath, err.Error())
	}

	ch.server = server
	ch.dispatcher = dispatcher
	ch.useNegativePathCaching = useNegativePathCaching
	ch.stopFuture = NewStopFuture()
	ch.state = Running

	go ch.serve(c)

	return nil
}

// serve runs the kernel request loop. When Serve returns the driver has
// acknowledged the drain and the channel is fully stopped.
func (ch *FuseChannel) serve(c *sparsefs.Ctx) {
	c.Dlog(qlog.LogChannel, "FuseChannel::serve Serving %s", ch.mountPath)
	ch.server.Serve()
	c.Dlog(qlog.LogChannel, "FuseChannel::serve Finished serving %s",
		ch.mountPath)

	future := func() *StopFuture {
		defer ch.lock.Lock().Unlock()
		ch.state = Stopped
		ch.server = nil
		ch.dispatcher = nil
		return ch.stopFuture
	}()

	future.Resolve(StopData{
		Reason: "unmounted",
	})
}

func (ch *FuseChannel) Stop(c *sparsefs.Ctx) {
	defer c.FuncIn(qlog.LogChannel, "FuseChannel::Stop", "%s",
		ch.mountPath).Out()

	server := func() *fuse.Server {
		defer ch.lock.Lock().Unlock()
		if ch.state != Running {
			// Already stopping or stopped, nothing to do
			return nil
		}
		ch.state = Stopping
		return ch.server
	}()

	if server == nil {
		return
	}

	// Unmounting can take a while; fire and forget, completion is observed
	// through the stop future when Serve returns.
	go func() {
		if err := server.Unmount(); err != nil {
			c.Wlog(qlog.LogChannel, "Unmount of %s failed: %s",
				ch.mountPath, err.Error())
		}
	}()
}

func (ch *FuseChannel) StopFuture() *StopFuture {
	defer ch.lock.Lock().Unlock()
	return ch.stopFuture
}

func (ch *FuseChannel) session() (*fuse.Server, Dispatcher) {
	defer ch.lock.Lock().Unlock()
	if ch.state == Stopped {
		return nil, nil
	}
	return ch.server, ch.dispatcher
}

func (ch *FuseChannel) RemoveCachedFile(c *sparsefs.Ctx, path string) {
	defer c.FuncIn(qlog.LogChannel, "FuseChannel::RemoveCachedFile", "%s",
		path).Out()

	server, dispatcher := ch.session()
	if server == nil {
		return
	}

	parent, name, child, ok := dispatcher.ResolvePath(path)
	if !ok {
		return
	}

	if child != sparsefs.InodeIdInvalid {
		server.InodeNotify(uint64(child), 0, -1)
	}
	server.EntryNotify(uint64(parent), name)
}

// AddDirectoryPlaceholder tells the kernel the entry may now exist so the
// next lookup reaches the dispatcher, which expands the directory lazily.
func (ch *FuseChannel) AddDirectoryPlaceholder(c *sparsefs.Ctx,
	path string) {

	defer c.FuncIn(qlog.LogChannel,
		"FuseChannel::AddDirectoryPlaceholder", "%s", path).Out()

	server, dispatcher := ch.session()
	if server == nil {
		return
	}

	parent, name, _, ok := dispatcher.ResolvePath(path)
	if !ok {
		return
	}

	server.EntryNotify(uint64(parent), name)
}

// CacheNegativePath records a path the dispatcher has confirmed absent. The
// dispatcher calls this whenever it returns ENOENT with a positive entry
// timeout, so the set mirrors what the kernel may have cached.
func (ch *FuseChannel) CacheNegativePath(path string) {
	if !ch.useNegativePathCaching {
		return
	}

	defer ch.negativeLock.Lock().Unlock()
	ch.negativePaths[path] = struct{}{}
}

func (ch *FuseChannel) FlushNegativePathCache(c *sparsefs.Ctx) {
	defer c.FuncIn(qlog.LogChannel, "FuseChannel::FlushNegativePathCache",
		"%s", ch.mountPath).Out()

	if !ch.useNegativePathCaching {
		return
	}

	flushed := func() map[string]struct{} {
		defer ch.negativeLock.Lock().Unlock()
		rtn := ch.negativePaths
		ch.negativePaths = make(map[string]struct{})
		return rtn
	}()

	server, dispatcher := ch.session()
	if server == nil {
		return
	}

	for path := range flushed {
		parent, name, _, ok := dispatcher.ResolvePath(path)
		if !ok {
			continue
		}
		server.EntryNotify(uint64(parent), name)
	}

	c.Vlog(qlog.LogChannel, "Flushed %d negative path entries",
		len(flushed))
}
