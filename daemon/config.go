// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Central configuration object and handling

package daemon

import "github.com/aristanetworks/sparsefs"
import "github.com/aristanetworks/sparsefs/fschannel"

type SparseFsConfig struct {
	MountPath   string
	OverlayRoot string

	// Path of the bolt database recording this system's mounts
	MountStateDbPath string

	ReadOnly            bool
	NegativePathCaching bool

	// How long the kernel is allowed to cache values
	CacheTimeSeconds uint64
	CacheTimeNsecs   uint32

	Resolver sparsefs.ProcessNameResolver

	// The virtualization channel backend. When nil a kernel FUSE channel
	// is created on MountPath; tests and tools inject their own.
	Channel        fschannel.FsChannel
	ChannelBackend string
}
