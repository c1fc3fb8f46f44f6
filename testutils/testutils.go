// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package testutils provides the common harness used by the per-package
// tests: a temporary directory, a log capturing qlog and a test context.
package testutils

import (
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/qlog"
	"github.com/aristanetworks/sparsefs/utils"
)

// TestName returns the name of the test function the given number of stack
// frames above the caller.
func TestName(depth int) string {
	// The +1 accounts for TestName itself
	pc, _, _, _ := runtime.Caller(depth + 1)
	name := runtime.FuncForPC(pc).Name()
	lastSlash := strings.LastIndex(name, "/")
	return name[lastSlash+1:]
}

type TestHelper struct {
	T        *testing.T
	TestName string
	TempDir  string

	Logger *qlog.Qlog

	logLock utils.DeferableMutex
	logs    string
}

func NewTestHelper(t *testing.T) *TestHelper {
	testName := TestName(2)

	tempDir, err := ioutil.TempDir("", testName)
	if err != nil {
		panic(fmt.Sprintf("Unable to create test directory: %v", err))
	}

	th := &TestHelper{
		T:        t,
		TestName: testName,
		TempDir:  tempDir,
	}

	th.Logger = qlog.NewQlog(th.writeLog)
	th.Logger.SetLogLevels("*/*")

	return th
}

func (th *TestHelper) writeLog(format string, args ...interface{}) error {
	defer th.logLock.Lock().Unlock()
	th.logs += fmt.Sprintf(format+"\n", args...)
	return nil
}

// Logs returns everything logged through the helper's qlog so far
func (th *TestHelper) Logs() string {
	defer th.logLock.Lock().Unlock()
	return th.logs
}

func (th *TestHelper) NewCtx() *sparsefs.Ctx {
	return &sparsefs.Ctx{
		Qlog:      th.Logger,
		RequestId: qlog.TestReqId,
	}
}

func (th *TestHelper) Assert(condition bool, format string,
	args ...interface{}) {

	if !condition {
		panic(fmt.Sprintf(format, args...))
	}
}

func (th *TestHelper) AssertNoErr(err error) {
	if err != nil {
		panic(err.Error())
	}
}

// WaitFor the given condition to become true, failing the test after a
// generous timeout.
func (th *TestHelper) WaitFor(description string, condition func() bool) {
	for start := time.Now(); time.Since(start) < 10*time.Second; {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	th.T.Fatalf("Timed out waiting for %s", description)
}

// EndTest cleans up the temporary directory. The directory is kept, and the
// captured logs dumped, when the test has failed.
func (th *TestHelper) EndTest() {
	if th.T.Failed() {
		th.T.Logf("Test data kept in %s", th.TempDir)
		th.T.Log(th.Logs())
		return
	}

	os.RemoveAll(th.TempDir)
}
