// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package systemlocal

// Test the systemlocal mount registry

import "fmt"
import "io/ioutil"
import "os"
import "testing"

type systemlocalTest func(path string)

func runTest(t *testing.T, test systemlocalTest) {
	t.Parallel()

	// Create a temporary directory to contain the database
	testDir, err := ioutil.TempDir("/tmp", "systemlocalTest")
	if err != nil {
		panic(fmt.Sprintf("Unable to create test directory: %v", err))
	}

	test(testDir)

	os.RemoveAll(testDir)
}

func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		msg := fmt.Sprintf(format, args...)
		panic(msg)
	}
}

func TestDBInit(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		assert(db != nil, "Failed to init")
		db.Close()
	})
}

func TestRecordMount(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		defer db.Close()

		err := db.RecordMount(nil, "/mnt/repo", MountInfo{
			OverlayRoot:    path + "/overlay",
			ChannelBackend: "fuse",
		})
		assert(err == nil, "Failed recording mount: %v", err)

		info, exists := db.Mount(nil, "/mnt/repo")
		assert(exists, "Recorded mount not there")
		assert(info.OverlayRoot == path+"/overlay",
			"Wrong overlay root %s", info.OverlayRoot)
		assert(info.ChannelBackend == "fuse",
			"Wrong backend %s", info.ChannelBackend)

		_, exists = db.Mount(nil, "/mnt/other")
		assert(!exists, "Unexpected mount")
	})
}

func TestMountList(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		defer db.Close()

		err := db.RecordMount(nil, "/mnt/a", MountInfo{})
		assert(err == nil, "Failed recording mount: %v", err)
		err = db.RecordMount(nil, "/mnt/b", MountInfo{})
		assert(err == nil, "Failed recording mount: %v", err)

		mounts := db.MountList(nil)
		assert(len(mounts) == 2, "Incorrect number of mounts")

		a := false
		b := false

		for _, mount := range mounts {
			if mount == "/mnt/a" {
				a = true
			}

			if mount == "/mnt/b" {
				b = true
			}
		}

		assert(a && b, "Expected mounts not there")
	})
}

func TestCheckpoint(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		defer db.Close()

		err := db.SetCheckpoint(nil, "/mnt/repo", 99)
		assert(err != nil, "Succeeded checkpointing unknown mount")

		err = db.RecordMount(nil, "/mnt/repo", MountInfo{})
		assert(err == nil, "Failed recording mount: %v", err)

		_, exists := db.Checkpoint(nil, "/mnt/repo")
		assert(!exists, "Checkpoint present before any save")

		err = db.SetCheckpoint(nil, "/mnt/repo", 99)
		assert(err == nil, "Failed setting checkpoint: %v", err)

		inode, exists := db.Checkpoint(nil, "/mnt/repo")
		assert(exists, "Checkpoint not there")
		assert(inode == 99, "Wrong checkpoint %d", inode)
	})
}

func TestDeleteMount(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		defer db.Close()

		err := db.RecordMount(nil, "/mnt/repo", MountInfo{})
		assert(err == nil, "Failed recording mount: %v", err)

		err = db.DeleteMount(nil, "/mnt/repo")
		assert(err == nil, "Failed deleting mount: %v", err)

		_, exists := db.Mount(nil, "/mnt/repo")
		assert(!exists, "Deleted mount still there")

		// Deleting an absent mount is not an error
		err = db.DeleteMount(nil, "/mnt/repo")
		assert(err == nil, "Deleting absent mount failed: %v", err)
	})
}

func TestPersistence(t *testing.T) {
	runTest(t, func(path string) {
		db := NewMountStateDB(path + "/db")
		err := db.RecordMount(nil, "/mnt/repo", MountInfo{
			ChannelBackend: "processlocal",
		})
		assert(err == nil, "Failed recording mount: %v", err)
		err = db.SetCheckpoint(nil, "/mnt/repo", 1234)
		assert(err == nil, "Failed setting checkpoint: %v", err)
		db.Close()

		db = NewMountStateDB(path + "/db")
		defer db.Close()

		info, exists := db.Mount(nil, "/mnt/repo")
		assert(exists, "Mount lost across reopen")
		assert(info.ChannelBackend == "processlocal",
			"Backend lost across reopen")

		inode, exists := db.Checkpoint(nil, "/mnt/repo")
		assert(exists && inode == 1234,
			"Checkpoint lost across reopen: %d", inode)
	})
}
