// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package fschannel abstracts the operating system mechanism which lets a
// user space process serve filesystem requests for a mounted path. Each
// platform backend implements the same five operation contract; nothing
// backend specific crosses this boundary upward.
package fschannel

import (
	"sync"

	"github.com/hanwen/go-fuse/fuse"

	"github.com/aristanetworks/sparsefs"
)

type State int

const (
	// No driver requests are being serviced
	Stopped State = iota

	// The channel is servicing driver callbacks
	Running

	// Graceful shutdown has begun. Driver originated requests are still
	// served until the driver acknowledges the drain, or its worker
	// threads could deadlock, but no new application level requests
	// should be issued.
	Stopping
)

func (state State) String() string {
	switch state {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// StopData carries the termination diagnostics of a channel.
type StopData struct {
	// Why the channel stopped, ie. "unmounted"
	Reason string

	// The failure which terminated servicing, nil on a clean stop
	Err error
}

// StopFuture resolves exactly once, when its channel reaches Stopped. Any
// number of observers may Wait on the same resolution and all see the same
// StopData.
type StopFuture struct {
	resolveOnce sync.Once
	done        chan struct{}
	data        StopData
}

func NewStopFuture() *StopFuture {
	return &StopFuture{
		done: make(chan struct{}),
	}
}

func (future *StopFuture) Resolve(data StopData) {
	future.resolveOnce.Do(func() {
		future.data = data
		close(future.done)
	})
}

// Wait blocks until the channel has fully stopped
func (future *StopFuture) Wait() StopData {
	<-future.done
	return future.data
}

// Resolved reports whether the future has resolved, without blocking
func (future *StopFuture) Resolved() bool {
	select {
	case <-future.done:
		return true
	default:
		return false
	}
}

// Dispatcher translates raw driver callbacks into repository lookups and
// mutations. It is supplied by the mount, not owned by the channel. The
// ResolvePath extension lets the channel translate path based cache
// invalidation into the inode terms the driver understands; ok reports
// whether the parent directory resolved, child may be InodeIdInvalid for a
// path with no live object.
type Dispatcher interface {
	fuse.RawFileSystem

	ResolvePath(path string) (parent sparsefs.InodeNumber, name string,
		child sparsefs.InodeNumber, ok bool)
}

// FsChannel is the virtualization channel: an abstract capability bridging
// the overlay/object tree to the native filesystem virtualization driver.
// One channel is created at mount start and destroyed with the mount.
//
// The state machine is Stopped -> Start -> Running -> Stop -> Stopping ->
// driver acknowledges drain -> Stopped. Starting a running channel is a
// programming error and panics. Stopping a channel twice is safe and must
// not resolve the stop future twice.
type FsChannel interface {
	Start(c *sparsefs.Ctx, readOnly bool, dispatcher Dispatcher,
		useNegativePathCaching bool) error

	// Stop begins graceful shutdown and returns immediately. Completion
	// is observed only through StopFuture, never polled.
	Stop(c *sparsefs.Ctx)

	StopFuture() *StopFuture

	// RemoveCachedFile evicts one path from the driver's content cache
	// unconditionally; no-op if the path is not cached.
	RemoveCachedFile(c *sparsefs.Ctx, path string)

	// AddDirectoryPlaceholder inserts a directory marker the driver will
	// expand lazily on first access.
	AddDirectoryPlaceholder(c *sparsefs.Ctx, path string)

	// FlushNegativePathCache clears cached "path confirmed absent"
	// entries so future lookups are retried against the live tree.
	FlushNegativePathCache(c *sparsefs.Ctx)
}
