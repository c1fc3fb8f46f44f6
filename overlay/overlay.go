// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package overlay persists the locally diverged portion of a mounted
// directory tree. Only inodes whose structure or content differ from the
// backing history are stored, one file per inode under the overlay root,
// keyed by inode number. The contents of this storage layer are overlaid on
// top of the immutable snapshot active in the mount.
//
// The store is exclusive to one process. An info file inside the overlay
// root is held open and flocked for the store's entire lifetime; it also
// records the maximum observed inode number as of the last save so reopening
// after a crash can never hand out a live inode number again.
//
// The overlay provides no write atomicity beyond the underlying storage
// medium's single write guarantee. A file torn by an unclean shutdown is
// rejected as corrupt on the next load rather than assumed consistent.
//
// Calls for the same inode are not self-synchronizing, callers must
// serialize per-inode access externally. Distinct inodes may be mutated
// concurrently without additional coordination.
package overlay

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"encoding/binary"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/qlog"
	"github.com/aristanetworks/sparsefs/utils"
)

const infoFileName = "info"

// The info file carries the standard header followed by the maximum observed
// inode number as a little endian u64.
const infoMaxInodeOffset = HeaderLength
const infoFileLength = HeaderLength + 8

type Overlay struct {
	localDir string

	// Held open for the whole lifetime of the store, primarily so the
	// flock on it excludes every other process from this overlay root.
	infoFile *os.File

	// Computed once at open time by scanning the store
	maxRecordedInode sparsefs.InodeNumber

	// The max inode currently persisted in the info file. Only grows.
	infoLock     utils.DeferableMutex
	infoMaxInode sparsefs.InodeNumber
}

// Open creates the overlay root if absent, acquires the cross process
// exclusivity lock and either initializes an empty store or validates and
// recovers an existing one. Fails with OVERLAY_ALREADY_LOCKED if another
// process holds the lock and OVERLAY_CORRUPT if the info file fails header
// validation.
func Open(c *sparsefs.Ctx, localDir string) (*Overlay, error) {
	defer c.FuncIn(qlog.LogOverlay, "overlay.Open", "%s", localDir).Out()

	if err := os.MkdirAll(localDir, 0700); err != nil {
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"creating overlay root %s: %s", localDir, err.Error())
	}

	infoFile, err := os.OpenFile(filepath.Join(localDir, infoFileName),
		os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"opening overlay info file: %s", err.Error())
	}

	err = syscall.Flock(int(infoFile.Fd()),
		syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		infoFile.Close()
		return nil, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_ALREADY_LOCKED,
			"overlay %s", localDir)
	} else if err != nil {
		infoFile.Close()
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"locking overlay info file: %s", err.Error())
	}

	o := &Overlay{
		localDir: localDir,
		infoFile: infoFile,
	}

	if err := o.recover(c); err != nil {
		infoFile.Close()
		return nil, err
	}

	c.Dlog(qlog.LogOverlay, "Opened overlay %s with max inode %d",
		localDir, o.maxRecordedInode)

	return o, nil
}

// recover either initializes a fresh info file or validates an existing one,
// then computes the maximum inode number ever recorded in the store. The
// cost is proportional to the number of locally materialized inodes; it is
// paid once, at open time.
func (o *Overlay) recover(c *sparsefs.Ctx) error {
	stat, err := o.infoFile.Stat()
	if err != nil {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"stating overlay info file: %s", err.Error())
	}

	infoMax := sparsefs.InodeIdInvalid
	if stat.Size() == 0 {
		if err := o.initInfoFile(c); err != nil {
			return err
		}
	} else {
		infoMax, err = o.readInfoFile()
		if err != nil {
			return err
		}
	}

	scanMax, err := o.scanMaxInode(c)
	if err != nil {
		return err
	}

	// The info file lags the truth if the process died between a save and
	// the subsequent info update, so the scan is authoritative whenever it
	// finds a larger number.
	if scanMax > infoMax {
		infoMax = scanMax
	}

	o.maxRecordedInode = infoMax
	o.infoMaxInode = infoMax

	return o.writeInfoMax(infoMax)
}

func (o *Overlay) initInfoFile(c *sparsefs.Ctx) error {
	c.Vlog(qlog.LogOverlay, "Initializing empty overlay %s", o.localDir)

	now := time.Now()
	buf := createHeader(headerIdentifierInfo, now, now, now)
	buf = append(buf, make([]byte, 8)...)

	if err := utils.WriteAll(o.infoFile, buf); err != nil {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"initializing overlay info file: %s", err.Error())
	}
	return nil
}

func (o *Overlay) readInfoFile() (sparsefs.InodeNumber, error) {
	buf := make([]byte, infoFileLength)
	n, err := o.infoFile.ReadAt(buf, 0)
	if err != nil || n != infoFileLength {
		return sparsefs.InodeIdInvalid, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_CORRUPT,
			"overlay info file truncated at %d bytes", n)
	}

	if err := validateHeader(buf, headerIdentifierInfo); err != nil {
		return sparsefs.InodeIdInvalid, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_CORRUPT, "overlay info file: %s",
			err.Error())
	}

	max := binary.LittleEndian.Uint64(buf[infoMaxInodeOffset:])
	return sparsefs.InodeNumber(max), nil
}

func (o *Overlay) writeInfoMax(inode sparsefs.InodeNumber) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(inode))
	_, err := o.infoFile.WriteAt(buf[:], infoMaxInodeOffset)
	if err != nil {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"updating overlay info file: %s", err.Error())
	}
	return nil
}

func (o *Overlay) scanMaxInode(c *sparsefs.Ctx) (sparsefs.InodeNumber,
	error) {

	files, err := ioutil.ReadDir(o.localDir)
	if err != nil {
		return sparsefs.InodeIdInvalid, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_IO_ERROR,
			"scanning overlay root: %s", err.Error())
	}

	max := sparsefs.InodeIdInvalid
	for _, file := range files {
		inode, err := strconv.ParseUint(file.Name(), 10, 64)
		if err != nil {
			// Not an inode file, ie. the info file
			continue
		}

		if sparsefs.InodeNumber(inode) > max {
			max = sparsefs.InodeNumber(inode)
		}
	}

	return max, nil
}

// LocalDir returns the path to the root of the overlay storage area
func (o *Overlay) LocalDir() string {
	return o.localDir
}

// FilePath returns the path to the overlay file for the given inode
func (o *Overlay) FilePath(inode sparsefs.InodeNumber) string {
	return filepath.Join(o.localDir,
		strconv.FormatUint(uint64(inode), 10))
}

// MaxRecordedInode returns the maximum inode number stored in the overlay as
// computed when the store was opened. New inodes handed out from that point
// forwards must always be strictly greater.
func (o *Overlay) MaxRecordedInode() sparsefs.InodeNumber {
	return o.maxRecordedInode
}

// bumpMaxInode grows the max recorded in the info file. Recorded maxes never
// shrink, even when the corresponding inode is later removed, so a freed
// number cannot be reused by a later incarnation of the mount.
func (o *Overlay) bumpMaxInode(inode sparsefs.InodeNumber) error {
	defer o.infoLock.Lock().Unlock()

	if inode <= o.infoMaxInode {
		return nil
	}

	if err := o.writeInfoMax(inode); err != nil {
		return err
	}

	o.infoMaxInode = inode
	return nil
}

// SaveDir writes the entry set of a locally diverged directory, replacing
// any prior content for that inode.
func (o *Overlay) SaveDir(c *sparsefs.Ctx, inode sparsefs.InodeNumber,
	entries []sparsefs.DirEntry) error {

	defer c.FuncIn(qlog.LogOverlay, "Overlay::SaveDir", "inode %d",
		inode).Out()

	utils.Assert(inode != sparsefs.InodeIdInvalid,
		"SaveDir of invalid inode")

	maxChild := inode
	for _, entry := range entries {
		utils.Assert(entry.Inode != sparsefs.InodeIdInvalid,
			"dangling entry %q in directory %d", entry.Name, inode)
		if entry.Inode > maxChild {
			maxChild = entry.Inode
		}
	}

	// The grown max must hit the info file before the entries hit disk. A
	// crash in between leaves the recorded max too high, which is
	// harmless; the reverse order would let recovery hand a live child
	// inode out again.
	if err := o.bumpMaxInode(maxChild); err != nil {
		return err
	}

	now := time.Now()
	buf := createHeader(HeaderIdentifierDir, now, now, now)
	buf = append(buf, serializeDirEntries(entries)...)

	file, err := os.OpenFile(o.FilePath(inode),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"creating overlay dir %d: %s", inode, err.Error())
	}
	defer file.Close()

	if err := utils.WriteAll(file, buf); err != nil {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"writing overlay dir %d: %s", inode, err.Error())
	}

	return nil
}

// LoadDir returns the stored entry set for a directory inode. Absence of an
// override is the common case for unmodified directories and is not an
// error; it is reported through the boolean.
func (o *Overlay) LoadDir(c *sparsefs.Ctx, inode sparsefs.InodeNumber) (
	[]sparsefs.DirEntry, bool, error) {

	defer c.FuncIn(qlog.LogOverlay, "Overlay::LoadDir", "inode %d",
		inode).Out()

	data, err := ioutil.ReadFile(o.FilePath(inode))
	if os.IsNotExist(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_IO_ERROR,
			"reading overlay dir %d: %s", inode, err.Error())
	}

	if err := validateHeader(data, HeaderIdentifierDir); err != nil {
		return nil, false, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_CORRUPT, "overlay dir %d: %s", inode,
			err.Error())
	}

	entries, err := parseDirEntries(data[HeaderLength:])
	if err != nil {
		return nil, false, sparsefs.NewOverlayErr(
			sparsefs.OVERLAY_CORRUPT, "overlay dir %d: %s", inode,
			err.Error())
	}

	return entries, true, nil
}

// Remove deletes the stored data for an inode. Removing an absent inode is
// not an error.
func (o *Overlay) Remove(c *sparsefs.Ctx, inode sparsefs.InodeNumber) error {
	defer c.FuncIn(qlog.LogOverlay, "Overlay::Remove", "inode %d",
		inode).Out()

	err := os.Remove(o.FilePath(inode))
	if err != nil && !os.IsNotExist(err) {
		return sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"removing overlay data %d: %s", inode, err.Error())
	}
	return nil
}

// CreateFile creates a new overlay file for a materialized inode and returns
// a writable handle positioned just past the already written header.
func (o *Overlay) CreateFile(c *sparsefs.Ctx,
	inode sparsefs.InodeNumber) (*os.File, error) {

	defer c.FuncIn(qlog.LogOverlay, "Overlay::CreateFile", "inode %d",
		inode).Out()

	utils.Assert(inode != sparsefs.InodeIdInvalid,
		"CreateFile of invalid inode")

	file, err := os.OpenFile(o.FilePath(inode),
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"creating overlay file %d: %s", inode, err.Error())
	}

	now := time.Now()
	if err := utils.WriteAll(file,
		createHeader(HeaderIdentifierFile, now, now, now)); err != nil {

		file.Close()
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"writing overlay file header %d: %s", inode, err.Error())
	}

	if err := o.bumpMaxInode(inode); err != nil {
		file.Close()
		return nil, err
	}

	return file, nil
}

// OpenFile opens an existing overlay file, checks its header and returns the
// handle positioned just past the header.
func (o *Overlay) OpenFile(c *sparsefs.Ctx, inode sparsefs.InodeNumber) (
	*os.File, error) {

	defer c.FuncIn(qlog.LogOverlay, "Overlay::OpenFile", "inode %d",
		inode).Out()

	file, err := os.OpenFile(o.FilePath(inode), os.O_RDWR, 0600)
	if err != nil {
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"opening overlay file %d: %s", inode, err.Error())
	}

	header := make([]byte, HeaderLength)
	n, err := file.ReadAt(header, 0)
	if err != nil || n != HeaderLength {
		file.Close()
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_CORRUPT,
			"overlay file %d truncated at %d bytes", inode, n)
	}

	if err := validateHeader(header, HeaderIdentifierFile); err != nil {
		file.Close()
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_CORRUPT,
			"overlay file %d: %s", inode, err.Error())
	}

	if _, err := file.Seek(HeaderLength, os.SEEK_SET); err != nil {
		file.Close()
		return nil, sparsefs.NewOverlayErr(sparsefs.OVERLAY_IO_ERROR,
			"seeking overlay file %d: %s", inode, err.Error())
	}

	return file, nil
}

// Close releases the exclusivity lock and invalidates the store. Safe to
// call exactly once on every exit path from the owning mount's lifetime.
func (o *Overlay) Close(c *sparsefs.Ctx) error {
	defer c.FuncIn(qlog.LogOverlay, "Overlay::Close", "%s",
		o.localDir).Out()

	syscall.Flock(int(o.infoFile.Fd()), syscall.LOCK_UN)
	err := o.infoFile.Close()
	o.infoFile = nil
	return err
}
