// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package daemon

// Test the mount orchestration

import "strings"
import "testing"

import "github.com/aristanetworks/sparsefs"
import "github.com/aristanetworks/sparsefs/fschannel"
import "github.com/aristanetworks/sparsefs/processlocal"
import "github.com/aristanetworks/sparsefs/systemlocal"
import "github.com/aristanetworks/sparsefs/testutils"

type daemonTest func(th *testHelper)

type testHelper struct {
	*testutils.TestHelper
	c *sparsefs.Ctx

	channel  *processlocal.Channel
	resolver *processlocal.NameResolver
}

func runTest(t *testing.T, test daemonTest) {
	t.Parallel()

	th := &testHelper{
		TestHelper: testutils.NewTestHelper(t),
		channel:    processlocal.NewChannel(),
		resolver:   processlocal.NewNameResolver(),
	}
	th.c = th.NewCtx()
	defer th.EndTest()

	test(th)
}

func (th *testHelper) config() SparseFsConfig {
	return SparseFsConfig{
		MountPath:           th.TempDir + "/mnt",
		OverlayRoot:         th.TempDir + "/overlay",
		MountStateDbPath:    th.TempDir + "/mountstate",
		NegativePathCaching: true,
		Resolver:            th.resolver,
		Channel:             th.channel,
		ChannelBackend:      "processlocal",
	}
}

func (th *testHelper) openMount() *Mount {
	mount, err := OpenMount(th.c, th.config())
	th.AssertNoErr(err)
	return mount
}

func TestOpenCloseMount(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()
		th.Assert(th.channel.State() == fschannel.Running,
			"Channel not running after mount")

		th.AssertNoErr(mount.Close())
		th.Assert(th.channel.State() == fschannel.Stopped,
			"Channel not stopped after close")
	})
}

func TestMountRegistered(t *testing.T) {
	runTest(t, func(th *testHelper) {
		config := th.config()
		mount := th.openMount()

		// The mount holds the bolt file; inspect after close
		th.AssertNoErr(mount.Close())

		state := systemlocal.NewMountStateDB(config.MountStateDbPath)
		defer state.Close()

		info, exists := state.Mount(th.c, config.MountPath)
		th.Assert(exists, "Mount not registered")
		th.Assert(info.OverlayRoot == config.OverlayRoot,
			"Wrong overlay root registered: %s", info.OverlayRoot)
		th.Assert(info.ChannelBackend == "processlocal",
			"Wrong backend registered: %s", info.ChannelBackend)
	})
}

func TestInodeAllocation(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()
		defer mount.Close()

		first := mount.allocateInodeNumber()
		second := mount.allocateInodeNumber()

		th.Assert(first > sparsefs.InodeIdRoot,
			"Allocator handed out a reserved inode %d", first)
		th.Assert(second == first+1, "Non-monotonic allocation %d %d",
			first, second)
	})
}

func TestInodeAllocationAcrossRemount(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()

		inode := mount.allocateInodeNumber()
		err := mount.SaveDir(th.c, sparsefs.InodeIdRoot,
			[]sparsefs.DirEntry{
				{Name: "src", Inode: inode,
					Type: sparsefs.EntryTypeDir},
			})
		th.AssertNoErr(err)
		th.AssertNoErr(mount.Close())

		mount = th.openMount()
		defer mount.Close()

		// Numbers persisted by the previous incarnation must never be
		// handed out again
		next := mount.allocateInodeNumber()
		th.Assert(next > inode,
			"Inode %d reused after remount, last was %d", next,
			inode)
	})
}

func TestOverlayLockedBySecondMount(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()
		defer mount.Close()

		config := th.config()
		config.MountPath = th.TempDir + "/mnt2"
		config.MountStateDbPath = th.TempDir + "/mountstate2"
		config.Channel = processlocal.NewChannel()

		_, err := OpenMount(th.c, config)
		th.Assert(err != nil, "Second mount of locked overlay succeeded")
		th.Assert(sparsefs.OverlayErrCodeOf(err) ==
			sparsefs.OVERLAY_ALREADY_LOCKED,
			"Wrong error for locked overlay: %s", err.Error())
	})
}

type failingChannel struct {
	*processlocal.Channel
}

func (ch *failingChannel) Start(c *sparsefs.Ctx, readOnly bool,
	dispatcher fschannel.Dispatcher, useNegativePathCaching bool) error {

	return sparsefs.NewChannelErr(sparsefs.CHANNEL_START_FAILURE,
		"injected failure")
}

func TestChannelFailureAbortsMount(t *testing.T) {
	runTest(t, func(th *testHelper) {
		config := th.config()
		config.Channel = &failingChannel{
			Channel: processlocal.NewChannel(),
		}

		_, err := OpenMount(th.c, config)
		th.Assert(err != nil, "Mount succeeded with broken channel")

		cerr, isChannelErr := err.(*sparsefs.ChannelErr)
		th.Assert(isChannelErr && cerr.Code ==
			sparsefs.CHANNEL_START_FAILURE,
			"Wrong error from broken channel: %s", err.Error())

		// The aborted mount must not stay registered
		state := systemlocal.NewMountStateDB(config.MountStateDbPath)
		_, exists := state.Mount(th.c, config.MountPath)
		state.Close()
		th.Assert(!exists, "Aborted mount left registered")

		// And the overlay lock must be released so a retry can succeed
		mount := th.openMount()
		th.AssertNoErr(mount.Close())
	})
}

func TestAccessRecording(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()
		defer mount.Close()

		mount.RecordAccess(1234)
		mount.RecordAccess(1234)
		mount.RecordAccess(5678)

		accesses := mount.Accesses(60)
		th.Assert(accesses[1234] == 2, "Wrong count for 1234: %d",
			accesses[1234])
		th.Assert(accesses[5678] == 1, "Wrong count for 5678: %d",
			accesses[5678])

		th.Assert(th.resolver.Registrations(1234) > 0,
			"Accessing process never registered")
	})
}

func TestOpStatsReported(t *testing.T) {
	runTest(t, func(th *testHelper) {
		mount := th.openMount()
		defer mount.Close()

		th.AssertNoErr(mount.SaveDir(th.c, sparsefs.InodeIdRoot,
			[]sparsefs.DirEntry{
				{Name: "src", Inode: 2,
					Type: sparsefs.EntryTypeDir},
			}))
		_, _, err := mount.LoadDir(th.c, sparsefs.InodeIdRoot)
		th.AssertNoErr(err)

		mount.ReportOpStats()
		th.Assert(strings.Contains(th.Logs(), "Mount::ReportOpStats"),
			"Stats report not traced")
	})
}

func TestCheckpointOnClose(t *testing.T) {
	runTest(t, func(th *testHelper) {
		config := th.config()
		mount := th.openMount()

		mount.allocateInodeNumber()
		last := mount.allocateInodeNumber()
		th.AssertNoErr(mount.Close())

		state := systemlocal.NewMountStateDB(config.MountStateDbPath)
		defer state.Close()

		checkpoint, exists := state.Checkpoint(th.c, config.MountPath)
		th.Assert(exists, "No checkpoint recorded on close")
		th.Assert(checkpoint == last,
			"Checkpoint %d doesn't match last allocation %d",
			checkpoint, last)
	})
}
