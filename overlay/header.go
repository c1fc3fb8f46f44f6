// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// On disk format of the overlay file header and the serialized directory
// entries which follow it.

package overlay

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/aristanetworks/sparsefs"
)

const (
	// Identifier tags of the three kinds of files in an overlay
	HeaderIdentifierDir  = "OVDR"
	HeaderIdentifierFile = "OVFL"
	headerIdentifierInfo = "OVIF"

	HeaderVersion = uint32(1)

	// Every stored file begins with this fixed prefix: 4 byte identifier
	// tag, 4 byte format version, three sec/nsec timestamp pairs and zero
	// padding up to 64 bytes.
	HeaderLength = 64
)

func putTimespec(buf []byte, t time.Time) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.Unix()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.Nanosecond()))
}

func createHeader(identifier string, atime time.Time, ctime time.Time,
	mtime time.Time) []byte {

	header := make([]byte, HeaderLength)
	copy(header[0:4], identifier)
	binary.LittleEndian.PutUint32(header[4:8], HeaderVersion)
	putTimespec(header[8:24], atime)
	putTimespec(header[24:40], ctime)
	putTimespec(header[40:56], mtime)
	// bytes 56-63 are padding and left zero

	return header
}

// validateHeader confirms the data begins with a well formed header carrying
// the expected identifier tag. Readers must reject files shorter than the
// header or whose tag does not match, never silently accept them.
func validateHeader(data []byte, identifier string) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("file shorter than header: %d bytes", len(data))
	}

	if string(data[0:4]) != identifier {
		return fmt.Errorf("bad identifier tag %q, expected %q",
			string(data[0:4]), identifier)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != HeaderVersion {
		return fmt.Errorf("unsupported format version %d", version)
	}

	return nil
}

func serializeDirEntries(entries []sparsefs.DirEntry) []byte {
	length := 4
	for _, entry := range entries {
		length += 8 + 4 + 2 + len(entry.Name)
	}

	buf := make([]byte, length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))

	offset := 4
	for _, entry := range entries {
		binary.LittleEndian.PutUint64(buf[offset:],
			uint64(entry.Inode))
		binary.LittleEndian.PutUint32(buf[offset+8:],
			uint32(entry.Type))
		binary.LittleEndian.PutUint16(buf[offset+12:],
			uint16(len(entry.Name)))
		copy(buf[offset+14:], entry.Name)
		offset += 14 + len(entry.Name)
	}

	return buf
}

func parseDirEntries(data []byte) ([]sparsefs.DirEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated entry count")
	}

	count := binary.LittleEndian.Uint32(data[0:4])

	// Every entry occupies at least its 14 byte fixed prefix. A count the
	// remaining data cannot possibly hold is corruption and must not reach
	// the allocator.
	if uint64(count) > uint64(len(data)-4)/14 {
		return nil, fmt.Errorf("entry count %d exceeds %d data bytes",
			count, len(data)-4)
	}

	entries := make([]sparsefs.DirEntry, 0, count)

	offset := 4
	for i := uint32(0); i < count; i++ {
		if len(data) < offset+14 {
			return nil, fmt.Errorf("truncated entry %d", i)
		}

		inode := binary.LittleEndian.Uint64(data[offset:])
		entryType := binary.LittleEndian.Uint32(data[offset+8:])
		nameLen := int(binary.LittleEndian.Uint16(data[offset+12:]))

		if len(data) < offset+14+nameLen {
			return nil, fmt.Errorf("truncated name in entry %d", i)
		}

		entries = append(entries, sparsefs.DirEntry{
			Name:  string(data[offset+14 : offset+14+nameLen]),
			Inode: sparsefs.InodeNumber(inode),
			Type:  sparsefs.EntryType(entryType),
		})
		offset += 14 + nameLen
	}

	return entries, nil
}
