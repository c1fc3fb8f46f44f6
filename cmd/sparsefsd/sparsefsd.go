// Copyright (c) 2019 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// sparsefsd is the central daemon of the filesystem
package main

import "flag"
import "fmt"
import "os"
import "os/signal"
import "syscall"

import "github.com/aristanetworks/sparsefs"
import "github.com/aristanetworks/sparsefs/daemon"
import "github.com/aristanetworks/sparsefs/processlocal"
import "github.com/aristanetworks/sparsefs/qlog"

const (
	exitOk = iota
	exitBadArgs
	exitMountFail
)

var config daemon.SparseFsConfig
var logLevels string
var cacheTimeNsecs uint

func init() {
	const (
		defaultMountPath        = "/mnt/sparsefs"
		defaultOverlayRoot      = "/var/lib/sparsefs/overlay"
		defaultMountStateDb     = "/var/lib/sparsefs/mountstate"
		defaultCacheTimeSeconds = 1
		defaultCacheTimeNsecs   = 0
	)

	flag.StringVar(&config.MountPath, "mountpath", defaultMountPath,
		"Path to mount sparsefs at")
	flag.StringVar(&config.OverlayRoot, "overlay", defaultOverlayRoot,
		"Directory holding the locally diverged data")
	flag.StringVar(&config.MountStateDbPath, "mountstatedb",
		defaultMountStateDb, "Path of the mount registry database")
	flag.BoolVar(&config.ReadOnly, "readonly", false,
		"Mount read-only")
	flag.BoolVar(&config.NegativePathCaching, "negativePathCaching", true,
		"Cache lookups of absent paths in the kernel")
	flag.Uint64Var(&config.CacheTimeSeconds, "cacheTimeSeconds",
		defaultCacheTimeSeconds,
		"Number of seconds the kernel will cache response data")
	flag.UintVar(&cacheTimeNsecs, "cacheTimeNsecs", defaultCacheTimeNsecs,
		"Number of nanoseconds the kernel will cache response data")
	flag.StringVar(&logLevels, "logLevels", "",
		"Log levels, e.g. Daemon/*,Overlay|2")
}

// Process the command arguments. Exit if processing failed.
func processArgs() {
	flag.Parse()

	if config.MountPath == "" || config.OverlayRoot == "" {
		flag.Usage()
		os.Exit(exitBadArgs)
	}

	config.CacheTimeNsecs = (uint32)(cacheTimeNsecs)
	config.Resolver = processlocal.NewNameResolver()
}

func consoleLog(format string, args ...interface{}) error {
	_, err := fmt.Printf(format+"\n", args...)
	return err
}

func main() {
	processArgs()

	logger := qlog.NewQlog(consoleLog)
	if logLevels != "" {
		logger.SetLogLevels(logLevels)
	}

	c := &sparsefs.Ctx{
		Qlog:      logger,
		RequestId: qlog.MountReqId,
	}

	mount, err := daemon.OpenMount(c, config)
	if err != nil {
		c.Elog(qlog.LogDaemon, "Failed to mount %s: %s",
			config.MountPath, err.Error())
		os.Exit(exitMountFail)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		c.Dlog(qlog.LogDaemon, "Received %s, unmounting", sig)
		mount.Channel().Stop(c)
	}()

	stopData := mount.Channel().StopFuture().Wait()
	c.Dlog(qlog.LogDaemon, "Channel stopped: %s", stopData.Reason)

	mount.ReportOpStats()

	if err := mount.Close(); err != nil {
		c.Elog(qlog.LogDaemon, "Error closing mount: %s", err.Error())
	}

	os.Exit(exitOk)
}
