// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package processlocal provides in-process implementations of the external
// capabilities: a virtualization channel backend which needs no kernel
// driver and a process name resolver. They are primarily used by tests and
// tools.
package processlocal

import (
	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/fschannel"
	"github.com/aristanetworks/sparsefs/qlog"
	"github.com/aristanetworks/sparsefs/utils"
)

// Channel implements fschannel.FsChannel entirely in memory. It honors the
// full state machine, including servicing the drain asynchronously, and
// records every cache operation for inspection.
type Channel struct {
	lock       utils.DeferableMutex
	state      fschannel.State
	dispatcher fschannel.Dispatcher
	stopFuture *fschannel.StopFuture
	stopReason chan string

	useNegativePathCaching bool

	cacheLock     utils.DeferableMutex
	placeholders  map[string]struct{}
	removedFiles  []string
	negativePaths map[string]struct{}
}

func NewChannel() *Channel {
	return &Channel{
		state:         fschannel.Stopped,
		stopFuture:    fschannel.NewStopFuture(),
		placeholders:  make(map[string]struct{}),
		negativePaths: make(map[string]struct{}),
	}
}

func (ch *Channel) Start(c *sparsefs.Ctx, readOnly bool,
	dispatcher fschannel.Dispatcher, useNegativePathCaching bool) error {

	defer c.FuncIn(qlog.LogChannel, "processlocal::Channel::Start",
		"readOnly %t", readOnly).Out()

	defer ch.lock.Lock().Unlock()

	utils.Assert(ch.state == fschannel.Stopped,
		"Channel started while %s", ch.state)

	ch.dispatcher = dispatcher
	ch.useNegativePathCaching = useNegativePathCaching
	ch.stopFuture = fschannel.NewStopFuture()
	ch.stopReason = make(chan string)
	ch.state = fschannel.Running

	go ch.drain(ch.stopReason, ch.stopFuture)

	return nil
}

// drain stands in for the driver acknowledging shutdown. Requests arriving
// while Stopping are still served; only once the reason channel fires does
// the backend settle into Stopped and resolve the future.
func (ch *Channel) drain(stopReason chan string,
	future *fschannel.StopFuture) {

	reason := <-stopReason

	func() {
		defer ch.lock.Lock().Unlock()
		ch.state = fschannel.Stopped
		ch.dispatcher = nil
	}()

	future.Resolve(fschannel.StopData{
		Reason: reason,
	})
}

func (ch *Channel) Stop(c *sparsefs.Ctx) {
	defer c.FuncIn(qlog.LogChannel, "processlocal::Channel::Stop",
		"").Out()

	stopReason := func() chan string {
		defer ch.lock.Lock().Unlock()
		if ch.state != fschannel.Running {
			// A second Stop while already stopping must be safe
			return nil
		}
		ch.state = fschannel.Stopping
		return ch.stopReason
	}()

	if stopReason == nil {
		return
	}

	go func() {
		stopReason <- "stopped"
	}()
}

func (ch *Channel) StopFuture() *fschannel.StopFuture {
	defer ch.lock.Lock().Unlock()
	return ch.stopFuture
}

// State returns the current lifecycle state, for tests
func (ch *Channel) State() fschannel.State {
	defer ch.lock.Lock().Unlock()
	return ch.state
}

func (ch *Channel) RemoveCachedFile(c *sparsefs.Ctx, path string) {
	c.Vlog(qlog.LogChannel, "processlocal removeCachedFile %s", path)

	defer ch.cacheLock.Lock().Unlock()
	ch.removedFiles = append(ch.removedFiles, path)
}

func (ch *Channel) AddDirectoryPlaceholder(c *sparsefs.Ctx, path string) {
	c.Vlog(qlog.LogChannel, "processlocal addDirectoryPlaceholder %s",
		path)

	defer ch.cacheLock.Lock().Unlock()
	ch.placeholders[path] = struct{}{}
}

func (ch *Channel) CacheNegativePath(path string) {
	if !ch.useNegativePathCaching {
		return
	}

	defer ch.cacheLock.Lock().Unlock()
	ch.negativePaths[path] = struct{}{}
}

func (ch *Channel) FlushNegativePathCache(c *sparsefs.Ctx) {
	defer ch.cacheLock.Lock().Unlock()

	c.Vlog(qlog.LogChannel, "processlocal flushing %d negative paths",
		len(ch.negativePaths))
	ch.negativePaths = make(map[string]struct{})
}

// Placeholders returns the directory placeholders added so far, for tests
func (ch *Channel) Placeholders() []string {
	defer ch.cacheLock.Lock().Unlock()

	rtn := make([]string, 0, len(ch.placeholders))
	for path := range ch.placeholders {
		rtn = append(rtn, path)
	}
	return rtn
}

// RemovedFiles returns the paths evicted from the content cache, for tests
func (ch *Channel) RemovedFiles() []string {
	defer ch.cacheLock.Lock().Unlock()
	return append([]string{}, ch.removedFiles...)
}

// NegativePathCount returns the number of cached negative paths, for tests
func (ch *Channel) NegativePathCount() int {
	defer ch.cacheLock.Lock().Unlock()
	return len(ch.negativePaths)
}
