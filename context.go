// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sparsefs

import "github.com/aristanetworks/sparsefs/qlog"

// Generic request context object
type Ctx struct {
	Qlog      *qlog.Qlog
	RequestId uint64
}

// Log an Error message
func (c *Ctx) Elog(subsystem qlog.LogSubsystem, format string,
	args ...interface{}) {

	c.Qlog.Log(subsystem, c.RequestId, 0, format, args...)
}

// Log a Warning message
func (c *Ctx) Wlog(subsystem qlog.LogSubsystem, format string,
	args ...interface{}) {

	c.Qlog.Log(subsystem, c.RequestId, 1, format, args...)
}

// Log a Debug message
func (c *Ctx) Dlog(subsystem qlog.LogSubsystem, format string,
	args ...interface{}) {

	c.Qlog.Log(subsystem, c.RequestId, 2, format, args...)
}

// Log a Verbose tracing message
func (c *Ctx) Vlog(subsystem qlog.LogSubsystem, format string,
	args ...interface{}) {

	c.Qlog.Log(subsystem, c.RequestId, 3, format, args...)
}

type ExitFuncLog struct {
	c         *Ctx
	subsystem qlog.LogSubsystem
	funcName  string
}

// Log the entry into a function and return a token whose Out method logs the
// exit. Intended usage is "defer c.FuncInName(subsystem, name).Out()".
func (c *Ctx) FuncInName(subsystem qlog.LogSubsystem,
	funcName string) ExitFuncLog {

	c.Qlog.Log(subsystem, c.RequestId, 3, qlog.FnEnterStr+funcName)
	return ExitFuncLog{
		c:         c,
		subsystem: subsystem,
		funcName:  funcName,
	}
}

func (c *Ctx) FuncIn(subsystem qlog.LogSubsystem, funcName string,
	extraFmtStr string, args ...interface{}) ExitFuncLog {

	c.Qlog.Log(subsystem, c.RequestId, 3,
		qlog.FnEnterStr+funcName+" "+extraFmtStr, args...)
	return ExitFuncLog{
		c:         c,
		subsystem: subsystem,
		funcName:  funcName,
	}
}

func (e ExitFuncLog) Out() {
	e.c.Qlog.Log(e.subsystem, e.c.RequestId, 3, qlog.FnExitStr+e.funcName)
}
