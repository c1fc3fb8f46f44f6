// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package systemlocal persists the mount registry of one sparsefs daemon
// instance. It records, per mount path, where the overlay lives, which
// channel backend serves it and the last inode number checkpoint, so
// tooling can inspect mounts without taking the overlay lock.
package systemlocal

import "fmt"
import "strings"
import "time"

import "encoding/binary"

import "github.com/boltdb/bolt"

import "github.com/aristanetworks/sparsefs"
import "github.com/aristanetworks/sparsefs/qlog"

var mountsBucket []byte

func init() {
	mountsBucket = []byte("Mounts")
}

// Keys within each per-mount bucket
var overlayRootKey = []byte("OverlayRoot")
var channelBackendKey = []byte("ChannelBackend")
var checkpointKey = []byte("InodeCheckpoint")

// The database has two levels of buckets. The first level bucket holds all
// the mounts, keyed by mount path, each mapped to a second level bucket
// carrying that mount's attributes as plain keys.

type MountInfo struct {
	OverlayRoot    string
	ChannelBackend string
}

// MountStateDB is a persistent, system local mount registry. It only
// supports one sparsefs instance at a time however.
type MountStateDB struct {
	db *bolt.DB
}

func NewMountStateDB(conf string) *MountStateDB {
	var options *bolt.Options

	if strings.HasPrefix(conf, "/tmp") {
		// We are running inside a test, don't wait forever
		options = &bolt.Options{
			Timeout: 100 * time.Millisecond,
		}
	}

	db, err := bolt.Open(conf, 0600, options)
	if err != nil {
		panic(err.Error())
	}

	if strings.HasPrefix(conf, "/tmp") {
		// We are running inside a test, syncing can only slow us down
		db.NoSync = true
	}

	db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mountsBucket)
		if err != nil {
			panic("Unable to create Mounts bucket")
		}
		return nil
	})

	return &MountStateDB{
		db: db,
	}
}

func (msdb *MountStateDB) RecordMount(c *sparsefs.Ctx, mountPath string,
	info MountInfo) error {

	return msdb.db.Update(func(tx *bolt.Tx) error {
		mounts := tx.Bucket(mountsBucket)
		mount, err := mounts.CreateBucketIfNotExists([]byte(mountPath))
		if err != nil {
			return err
		}

		err = mount.Put(overlayRootKey, []byte(info.OverlayRoot))
		if err != nil {
			return err
		}

		err = mount.Put(channelBackendKey, []byte(info.ChannelBackend))
		if err != nil {
			return err
		}

		if c != nil {
			c.Dlog(qlog.LogSystemLocal,
				"Recorded mount '%s' overlay '%s' backend '%s'",
				mountPath, info.OverlayRoot, info.ChannelBackend)
		}

		return nil
	})
}

func (msdb *MountStateDB) Mount(c *sparsefs.Ctx, mountPath string) (
	MountInfo, bool) {

	var info MountInfo
	var exists bool

	msdb.db.View(func(tx *bolt.Tx) error {
		mounts := tx.Bucket(mountsBucket)
		mount := mounts.Bucket([]byte(mountPath))
		if mount == nil {
			return nil
		}

		exists = true
		info.OverlayRoot = string(mount.Get(overlayRootKey))
		info.ChannelBackend = string(mount.Get(channelBackendKey))
		return nil
	})

	return info, exists
}

func (msdb *MountStateDB) MountList(c *sparsefs.Ctx) []string {
	mountList := make([]string, 0, 10)

	msdb.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(mountsBucket)
		mounts := bucket.Cursor()
		for m, _ := mounts.First(); m != nil; m, _ = mounts.Next() {
			mountList = append(mountList, string(m))
		}

		return nil
	})

	return mountList
}

// SetCheckpoint stores the last inode number the mount has handed out. The
// overlay info file remains authoritative for recovery, the checkpoint is
// advisory for inspection tools.
func (msdb *MountStateDB) SetCheckpoint(c *sparsefs.Ctx, mountPath string,
	inode sparsefs.InodeNumber) error {

	return msdb.db.Update(func(tx *bolt.Tx) error {
		mounts := tx.Bucket(mountsBucket)
		mount := mounts.Bucket([]byte(mountPath))
		if mount == nil {
			return fmt.Errorf("Mount doesn't exist")
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(inode))
		return mount.Put(checkpointKey, buf)
	})
}

func (msdb *MountStateDB) Checkpoint(c *sparsefs.Ctx, mountPath string) (
	sparsefs.InodeNumber, bool) {

	var inode sparsefs.InodeNumber
	var exists bool

	msdb.db.View(func(tx *bolt.Tx) error {
		mounts := tx.Bucket(mountsBucket)
		mount := mounts.Bucket([]byte(mountPath))
		if mount == nil {
			return nil
		}

		buf := mount.Get(checkpointKey)
		if buf == nil {
			return nil
		}

		exists = true
		inode = sparsefs.InodeNumber(binary.BigEndian.Uint64(buf))
		return nil
	})

	return inode, exists
}

func (msdb *MountStateDB) DeleteMount(c *sparsefs.Ctx,
	mountPath string) error {

	return msdb.db.Update(func(tx *bolt.Tx) error {
		mounts := tx.Bucket(mountsBucket)
		if mounts.Bucket([]byte(mountPath)) == nil {
			// No such mount. Success.
			return nil
		}

		return mounts.DeleteBucket([]byte(mountPath))
	})
}

func (msdb *MountStateDB) Close() error {
	return msdb.db.Close()
}
