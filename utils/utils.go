// Copyright (c) 2017 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package utils

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// BytesToString converts the given null terminated byte array into a string.
func BytesToString(data []byte) string {
	length := bytes.IndexByte(data, 0)
	if length == -1 {
		length = len(data)
	}
	return string(data[:length])
}

// Assert the condition is true. If it is not true then panic with the given
// message.
func Assert(condition bool, format string, args ...interface{}) {
	if !condition {
		msg := fmt.Sprintf(format, args...)
		panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		Assert(false, err.Error())
	}
}

func WriteAll(fd *os.File, data []byte) error {
	for {
		size, err := fd.Write(data)
		if err != nil {
			return err
		}

		if len(data) == size {
			return nil
		}

		data = data[size:]
	}
}

// IoPipe returns a log writer which appends the formatted line to the given
// string. Only useful for tests.
func IoPipe(output *string) func(format string, args ...interface{}) error {
	return func(format string, args ...interface{}) error {
		*output += fmt.Sprintf(format+"\n", args...)
		return nil
	}
}

// TmpDir returns a per-test path under /tmp derived from the caller's
// function name.
func TmpDir() string {
	testPc, _, _, _ := runtime.Caller(1)
	testName := runtime.FuncForPC(testPc).Name()
	lastSlash := strings.LastIndex(testName, "/")
	return "/tmp/" + testName[lastSlash+1:]
}
