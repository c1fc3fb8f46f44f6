// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package qlog

// Test the logging subsystem

import "strings"
import "testing"

import "github.com/aristanetworks/sparsefs/utils"

func TestLogSet(t *testing.T) {
	qlog := NewQlogTiny()
	// let's redirect the log writer
	var logs string
	qlog.SetWriter(utils.IoPipe(&logs))

	qlog.SetLogLevels("Daemon|2")
	qlog.Log(LogDaemon, MuxReqId, 1, "TestToken1")
	if strings.Contains(logs, "TestToken1") {
		t.Fatal("Log level 1 not disabled by mask")
	}
	qlog.Log(LogDaemon, MuxReqId, 2, "TestToken2")
	if !strings.Contains(logs, "TestToken2") {
		t.Fatal("Enabled log doesn't show up")
	}
	qlog.Log(LogOverlay, MuxReqId, 0, "TestToken0")
	if !strings.Contains(logs, "TestToken0") {
		t.Fatal("Different subsystem erroneously affected by log setting")
	}

	qlog.SetLogLevels("")
	logs = ""
	for i := 1; i < int(maxLogLevels); i++ {
		qlog.Log(LogDaemon, MuxReqId, uint8(i), "TestToken")
		if strings.Contains(logs, "TestToken") {
			t.Fatal("Disabled log appeared")
		}
	}
	qlog.Log(LogDaemon, MuxReqId, 0, "TestToken")
	if !strings.Contains(logs, "TestToken") {
		t.Fatal("Default log level not working")
	}

	// Test variable arguments
	a := 12345
	b := 98765
	qlog.Log(LogDaemon, MuxReqId, 0, "Testing args %d %d", a, b)
	if !strings.Contains(logs, "12345") ||
		!strings.Contains(logs, "98765") {
		t.Fatal("Variable insertion in logs not working.")
	}
}

func TestLoadLevels(t *testing.T) {
	qlog := NewQlogTiny()

	qlog.SetLogLevels("Overlay/*")
	if qlog.LogLevels != 0x1111F1 {
		t.Fatalf("Wildcard log levels incorrectly set: %x != %x", 0x1111F1,
			qlog.LogLevels)
	}

	// test out of order, combo setting, and general bitmask
	qlog.SetLogLevels("Daemon/1,Access/*,Overlay|10")
	if qlog.LogLevels != 0x11F1A3 {
		t.Fatalf("Out of order, combo setting, or general bitmask broken %x",
			qlog.LogLevels)
	}

	// test misspelling ignores misspelt entry. Ensure case insensitivity
	qlog.SetLogLevels("DaeMAN/1,ACCESS/*,Overlayed|10")
	if qlog.LogLevels != 0x11F111 {
		t.Fatalf("Case insensitivity broken / mis-spelling not ignored %x",
			qlog.LogLevels)
	}
}

func TestRequestIdFormatting(t *testing.T) {
	qlog := NewQlogTiny()
	var logs string
	qlog.SetWriter(utils.IoPipe(&logs))

	qlog.Log(LogTest, TestReqId, 0, "special request")
	if !strings.Contains(logs, "[Test]") {
		t.Fatal("Special request id not formatted by name")
	}

	logs = ""
	qlog.Log(LogTest, 12345, 0, "plain request")
	if !strings.Contains(logs, "12345") {
		t.Fatal("Plain request id missing from log line")
	}
}
