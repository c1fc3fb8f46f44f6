// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package daemon glues one mount together: the overlay store, the
// virtualization channel, the access log and the mount registry. It owns the
// inode number allocator and the per-operation latency statistics.
package daemon

import (
	"sync/atomic"
	"time"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/accesslog"
	"github.com/aristanetworks/sparsefs/fschannel"
	"github.com/aristanetworks/sparsefs/overlay"
	"github.com/aristanetworks/sparsefs/qlog"
	"github.com/aristanetworks/sparsefs/stats"
	"github.com/aristanetworks/sparsefs/stats/inmem"
	"github.com/aristanetworks/sparsefs/systemlocal"
)

// Mount is one live virtualized repository checkout.
type Mount struct {
	config SparseFsConfig
	c      *ctx

	overlay    *overlay.Overlay
	accessLog  *accesslog.AccessLog
	channel    fschannel.FsChannel
	mountState *systemlocal.MountStateDB

	// The last inode number handed out. Only ever incremented, and seeded
	// strictly at or above everything the overlay has ever recorded.
	lastInode uint64

	dirLoads   stats.OpStats
	dirSaves   stats.OpStats
	chanStarts stats.OpStats
}

// OpenMount brings up a mount: open and recover the overlay, record the
// mount in the system local registry, then start the virtualization channel.
// A channel start failure tears everything back down and surfaces the
// structured error; a stale mount must not be left registered.
func OpenMount(base *sparsefs.Ctx, config SparseFsConfig) (*Mount, error) {
	c := &ctx{
		Ctx: sparsefs.Ctx{
			Qlog:      base.Qlog,
			RequestId: qlog.MountReqId,
		},
	}

	defer c.FuncIn("OpenMount", "%s", config.MountPath).Out()

	store, err := overlay.Open(&c.Ctx, config.OverlayRoot)
	if err != nil {
		return nil, err
	}

	mount := &Mount{
		config:   config,
		c:        c,
		overlay:  store,
		dirLoads:   inmem.NewOpStatsInMem("overlay::LoadDir"),
		dirSaves:   inmem.NewOpStatsInMem("overlay::SaveDir"),
		chanStarts: inmem.NewOpStatsInMem("channel::Start"),
	}
	c.mount = mount
	c.config = &mount.config

	lastInode := uint64(store.MaxRecordedInode())
	if lastInode < uint64(sparsefs.InodeIdRoot) {
		lastInode = uint64(sparsefs.InodeIdRoot)
	}
	mount.lastInode = lastInode

	backend := config.ChannelBackend
	if backend == "" {
		backend = "fuse"
	}

	mount.mountState = systemlocal.NewMountStateDB(config.MountStateDbPath)
	err = mount.mountState.RecordMount(&c.Ctx, config.MountPath,
		systemlocal.MountInfo{
			OverlayRoot:    config.OverlayRoot,
			ChannelBackend: backend,
		})
	if err != nil {
		mount.mountState.Close()
		store.Close(&c.Ctx)
		return nil, err
	}

	mount.accessLog = accesslog.NewAccessLog(config.Resolver)

	mount.channel = config.Channel
	if mount.channel == nil {
		mount.channel = fschannel.NewFuseChannel(config.MountPath)
	}

	startTime := time.Now()
	err = mount.channel.Start(&c.Ctx, config.ReadOnly,
		newDispatcher(mount), config.NegativePathCaching)
	mount.chanStarts.RecordOp(time.Since(startTime))
	if err != nil {
		c.elog("Aborting mount of %s: %s", config.MountPath,
			err.Error())
		mount.accessLog.Close()
		mount.mountState.DeleteMount(&c.Ctx, config.MountPath)
		mount.mountState.Close()
		store.Close(&c.Ctx)
		return nil, err
	}

	c.dlog("Mounted %s with overlay %s", config.MountPath,
		config.OverlayRoot)

	return mount, nil
}

// allocateInodeNumber hands out the next inode number. Never reuses a number,
// even across remounts: the allocator starts strictly above the maximum the
// overlay recovered at open time.
func (mount *Mount) allocateInodeNumber() sparsefs.InodeNumber {
	return sparsefs.InodeNumber(atomic.AddUint64(&mount.lastInode, 1))
}

// RecordAccess counts one filesystem request against the originating process
func (mount *Mount) RecordAccess(pid uint32) {
	mount.accessLog.RecordAccess(pid)
}

// Accesses returns per-pid request counts over the trailing window
func (mount *Mount) Accesses(windowSeconds int) map[uint32]uint64 {
	return mount.accessLog.GetAllAccesses(windowSeconds)
}

func (mount *Mount) Channel() fschannel.FsChannel {
	return mount.channel
}

func (mount *Mount) Overlay() *overlay.Overlay {
	return mount.overlay
}

// LoadDir reads a directory override from the overlay, timing the operation
func (mount *Mount) LoadDir(c *sparsefs.Ctx, inode sparsefs.InodeNumber) (
	[]sparsefs.DirEntry, bool, error) {

	start := time.Now()
	entries, exists, err := mount.overlay.LoadDir(c, inode)
	mount.dirLoads.RecordOp(time.Since(start))
	return entries, exists, err
}

// SaveDir writes a directory override to the overlay, timing the operation
func (mount *Mount) SaveDir(c *sparsefs.Ctx, inode sparsefs.InodeNumber,
	entries []sparsefs.DirEntry) error {

	start := time.Now()
	err := mount.overlay.SaveDir(c, inode, entries)
	mount.dirSaves.RecordOp(time.Since(start))
	return err
}

func (mount *Mount) ReportOpStats() {
	defer mount.c.funcIn("Mount::ReportOpStats").Out()

	mount.dirLoads.ReportOpStats()
	mount.dirSaves.ReportOpStats()
	mount.chanStarts.ReportOpStats()
}

// Close shuts the mount down in dependency order: drain the channel so no
// request can arrive, then release the telemetry and storage underneath it.
// The inode checkpoint is advisory, the overlay info file remains the
// authority on restart.
func (mount *Mount) Close() error {
	c := mount.c
	defer c.FuncIn("Mount::Close", "%s", mount.config.MountPath).Out()

	mount.channel.Stop(&c.Ctx)
	stopData := mount.channel.StopFuture().Wait()
	c.dlog("Channel for %s stopped: %s", mount.config.MountPath,
		stopData.Reason)

	mount.accessLog.Close()

	err := mount.mountState.SetCheckpoint(&c.Ctx, mount.config.MountPath,
		sparsefs.InodeNumber(atomic.LoadUint64(&mount.lastInode)))
	if err != nil {
		c.wlog("Failed to checkpoint %s: %s", mount.config.MountPath,
			err.Error())
	}
	mount.mountState.Close()

	return mount.overlay.Close(&c.Ctx)
}
