// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package daemon

import (
	"github.com/hanwen/go-fuse/fuse"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/qlog"
)

// The ctx type needs to be threaded through all the objects and calls of the
// system. It provides access to the configuration, the owning mount and
// request specific logging information.
//
// If Go ever gets goroutine local storage it may be cleaner to move these
// contents to using that instead of threading it everywhere.
type ctx struct {
	sparsefs.Ctx
	mount   *Mount
	config  *SparseFsConfig
	fuseCtx *fuse.Context
}

func (c *ctx) reqId(reqId uint64, context *fuse.Context) *ctx {
	var contextCopy *fuse.Context
	if context != nil {
		contextDeref := *context
		contextCopy = &contextDeref
	}

	return &ctx{
		Ctx: sparsefs.Ctx{
			Qlog:      c.Qlog,
			RequestId: reqId,
		},
		mount:   c.mount,
		config:  c.config,
		fuseCtx: contextCopy,
	}
}

func (c *ctx) req(header *fuse.InHeader) *ctx {
	return c.reqId(header.Unique, &header.Context)
}

// local daemon package specific log wrappers
func (c *ctx) elog(format string, args ...interface{}) {
	c.Ctx.Elog(qlog.LogDaemon, format, args...)
}

func (c *ctx) wlog(format string, args ...interface{}) {
	c.Ctx.Wlog(qlog.LogDaemon, format, args...)
}

func (c *ctx) dlog(format string, args ...interface{}) {
	c.Ctx.Dlog(qlog.LogDaemon, format, args...)
}

func (c *ctx) vlog(format string, args ...interface{}) {
	c.Ctx.Vlog(qlog.LogDaemon, format, args...)
}

func (c *ctx) funcIn(funcName string) sparsefs.ExitFuncLog {
	return c.Ctx.FuncInName(qlog.LogDaemon, funcName)
}

func (c *ctx) FuncIn(funcName string, extraFmtStr string,
	args ...interface{}) sparsefs.ExitFuncLog {

	return c.Ctx.FuncIn(qlog.LogDaemon, funcName, extraFmtStr, args...)
}
