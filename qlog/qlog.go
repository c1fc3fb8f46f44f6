// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package qlog contains all sparsefs logging support. Logs are tagged with a
// subsystem and a level, filtered through a per-subsystem level bitmask and
// handed to a pluggable Write function.
package qlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000000000"

// These should be short to save space, visually different to aid in reading
const FnEnterStr = "---In "
const FnExitStr = "Out-- "

type LogSubsystem uint8

const (
	LogDaemon LogSubsystem = iota
	LogOverlay
	LogChannel
	LogAccess
	LogSystemLocal
	LogTest
	logSubsystemMax = LogTest
)

const (
	MuxReqId uint64 = 0xffffffffffffffff - iota
	MountReqId
	QlogReqId
	TestReqId
	MinFixedReqId
)

const MinSpecialReqId = uint64(0xb) << 48

func specialReq(reqId uint64) string {
	switch reqId {
	case MuxReqId:
		return "[Mux]"
	case MountReqId:
		return "[Mount]"
	case QlogReqId:
		return "[Qlog]"
	case TestReqId:
		return "[Test]"
	default:
		return "[Unknown]"
	}
}

type logSubsystemPair struct {
	name   string
	logger LogSubsystem
}

var logSubsystemList = []logSubsystemPair{
	{"Daemon", LogDaemon},
	{"Overlay", LogOverlay},
	{"Channel", LogChannel},
	{"Access", LogAccess},
	{"SystemLocal", LogSystemLocal},
	{"Test", LogTest},
}

var logSubsystem = []string{}
var logSubsystemMap = map[string]LogSubsystem{}

func init() {
	for _, v := range logSubsystemList {
		logSubsystem = append(logSubsystem, v.name)
		logSubsystemMap[strings.ToLower(v.name)] = v.logger
	}
}

func (enum LogSubsystem) String() string {
	if 0 <= enum && enum <= logSubsystemMax {
		return logSubsystem[enum]
	}
	return ""
}

func getSubsystem(sys string) (LogSubsystem, error) {
	if m, ok := logSubsystemMap[strings.ToLower(sys)]; ok {
		return m, nil
	}
	return LogDaemon, errors.New("Invalid subsystem string")
}

const logEnvTag = "TRACE"
const maxLogLevels = 4

type Qlog struct {
	// This is the logging system level store. Increase size as the number of
	// LogSubsystems increases past your capacity
	LogLevels uint32

	// N.B. The format and args arguments are only valid until Write returns
	// as they may refer to transient request state.
	Write func(format string, args ...interface{}) error

	// Maximum level to emit at all, independent of the subsystem bitmask
	maxLevel uint8
}

func PrintToStdout(format string, args ...interface{}) error {
	format += "\n"
	_, err := fmt.Printf(format, args...)
	return err
}

func NewQlog(outLog func(format string,
	args ...interface{}) error) *Qlog {

	q := Qlog{
		LogLevels: 0,
		Write:     outLog,
		maxLevel:  255,
	}

	q.SetLogLevels("")

	return &q
}

// NewQlogTiny returns a logger suitable for tests and tools, printing to
// stdout.
func NewQlogTiny() *Qlog {
	return NewQlog(PrintToStdout)
}

func (q *Qlog) SetWriter(w func(format string, args ...interface{}) error) {
	q.Write = w
}

func (q *Qlog) SetMaxLevel(level uint8) {
	q.maxLevel = level
}

// Get whether, given the subsystem, the given level is active for logs
func (q *Qlog) getLogLevel(idx LogSubsystem, level uint8) bool {
	var mask uint32 = (1 << uint32((uint8(idx)*maxLogLevels)+level))
	return (q.LogLevels & mask) != 0
}

func (q *Qlog) setLogLevelBitmask(sys LogSubsystem, level uint8) {
	idx := uint8(sys)
	q.LogLevels &= ^(((1 << maxLogLevels) - 1) << (idx * maxLogLevels))
	q.LogLevels |= uint32(level) << uint32(idx*maxLogLevels)
}

// Load desired log levels from a specification string such as
// "Daemon/2,Overlay/*". The subsystem/level form enables all levels up to and
// including the given one, the subsystem|level form enables exactly that
// level. "*/*" enables everything.
func (q *Qlog) SetLogLevels(levels string) {
	// reset all levels
	defaultSetting := uint8(1)
	if levels == "*/*" {
		defaultSetting = ^uint8(0)
	}

	for i := 0; i <= int(logSubsystemMax); i++ {
		q.setLogLevelBitmask(LogSubsystem(i), defaultSetting)
	}

	bases := strings.Split(levels, ",")

	for i := range bases {
		cummulative := true
		tokens := strings.Split(bases[i], "/")
		if len(tokens) != 2 {
			tokens = strings.Split(bases[i], "|")
			cummulative = false
			if len(tokens) != 2 {
				continue
			}
		}

		var level int = 0
		if tokens[1] == "*" {
			level = int(maxLogLevels)
			cummulative = true
		} else {
			var e error
			level, e = strconv.Atoi(tokens[1])
			if e != nil {
				continue
			}
		}

		// if it's cummulative, turn it into a cummulative mask
		if cummulative {
			if level >= int(maxLogLevels) {
				level = int(maxLogLevels - 1)
			}
			level = (1 << uint8(level+1)) - 1
		}

		idx, e := getSubsystem(tokens[0])
		if e != nil {
			continue
		}

		q.setLogLevelBitmask(idx, uint8(level))
	}
}

func formatString(idx LogSubsystem, reqId uint64, t time.Time,
	format string) string {

	var front string
	if reqId < MinSpecialReqId {
		const frontFmt = "%s | %12s %7d: "
		front = fmt.Sprintf(frontFmt, t.Format(timeFormat),
			idx, reqId)
	} else {
		const frontFmt = "%s | %12s % 7s: "
		front = fmt.Sprintf(frontFmt, t.Format(timeFormat),
			idx, specialReq(reqId))
	}

	return front + format
}

func (q *Qlog) Log(idx LogSubsystem, reqId uint64, level uint8, format string,
	args ...interface{}) {

	if level <= q.maxLevel {
		q.Log_(time.Now(), idx, reqId, level, format, args...)
	}
}

// Should only be used by tests
func (q *Qlog) Log_(t time.Time, idx LogSubsystem, reqId uint64, level uint8,
	format string, args ...interface{}) {

	if q.getLogLevel(idx, level) {
		q.Write(formatString(idx, reqId, t, format), args...)
	}
}
