// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package accesslog counts filesystem requests by originating process, per
// mount, queryable over a trailing time window.
//
// RecordAccess is called from every request handling goroutine and is very
// hot. It is a write-often read-rarely workload, so counts go into
// goroutine-sharded recorders which only merge into the shared aggregate
// when the data must be read or a recorder is released. No shared lock is
// taken on the fast path; two goroutines contend only when they collide on
// the same shard.
//
// The lock order is always recorder lock before the shared aggregate lock,
// so a reader forcing merges cannot deadlock against a recorder merging
// itself upstream.
package accesslog

import (
	"time"

	"github.com/silentred/gid"

	"github.com/aristanetworks/sparsefs"
	"github.com/aristanetworks/sparsefs/utils"
)

// Shard count of the fast path recorder table. Must be a power of two.
const recorderShards = 64

type AccessLog struct {
	resolver sparsefs.ProcessNameResolver

	// Clock returning whole seconds, replaceable by tests
	now func() uint64

	aggregateLock utils.DeferableMutex
	aggregate     bucketedLog

	// Every live recorder, iterated to force merges on read
	registryLock utils.DeferableMutex
	recorders    []*Recorder

	shards [recorderShards]*Recorder
}

// Recorder is one worker-private buffer of access counts. It holds a
// non-owning back reference to the log which created it; when that log has
// been closed the recorder detects the dead owner and drops its data rather
// than merging into freed state.
type Recorder struct {
	lock    utils.DeferableMutex
	buckets bucketedLog
	owner   *AccessLog
}

func secondsNow() uint64 {
	return uint64(time.Now().Unix())
}

func NewAccessLog(resolver sparsefs.ProcessNameResolver) *AccessLog {
	al := &AccessLog{
		resolver: resolver,
		now:      secondsNow,
	}

	for i := range al.shards {
		al.shards[i] = al.NewRecorder()
	}

	return al
}

// NewRecorder registers a fresh private buffer with the log. Workers with an
// explicit per-worker context should hold one and Release it on exit;
// everyone else goes through RecordAccess which shards by goroutine id.
func (al *AccessLog) NewRecorder() *Recorder {
	r := &Recorder{
		owner: al,
	}

	defer al.registryLock.Lock().Unlock()
	al.recorders = append(al.recorders, r)
	return r
}

// RecordAccess appends one count for pid in the current epoch. Amortized
// constant time, never blocks on the aggregate. pid 0 is recorded but never
// triggers name resolution.
func (al *AccessLog) RecordAccess(pid uint32) {
	al.shards[uint64(gid.Get())%recorderShards].RecordAccess(pid)
}

func (r *Recorder) RecordAccess(pid uint32) {
	isNew, owner := r.add(pid)

	// Many processes are short lived, so the name is resolved during the
	// access, but only on the first sight of the pid this recorder-second.
	// A sample dropped for being outside the retained window never reports
	// isNew and so never wastes a lookup.
	if isNew && pid != 0 {
		owner.resolver.RegisterPid(pid)
	}
}

func (r *Recorder) add(pid uint32) (bool, *AccessLog) {
	defer r.lock.Lock().Unlock()

	if r.owner == nil {
		return false, nil
	}

	return r.buckets.add(r.owner.now(), pid), r.owner
}

// mergeUpstream folds this recorder's buckets into the owner's aggregate and
// clears them. Nothing happens when the owner is already gone.
func (r *Recorder) mergeUpstream() {
	// Recorder lock strictly before the owner's aggregate lock
	defer r.lock.Lock().Unlock()

	if r.owner == nil {
		return
	}

	defer r.owner.aggregateLock.Lock().Unlock()
	r.owner.aggregate.merge(&r.buckets)
	r.buckets.clear()
}

func (r *Recorder) clearOwnerIfMe(owner *AccessLog) {
	defer r.lock.Lock().Unlock()
	if r.owner == owner {
		r.owner = nil
	}
}

// Release merges the recorder into its owner and detaches it. Called when
// the owning worker exits.
func (r *Recorder) Release() {
	r.mergeUpstream()

	owner := func() *AccessLog {
		defer r.lock.Lock().Unlock()
		rtn := r.owner
		r.owner = nil
		return rtn
	}()

	if owner == nil {
		return
	}

	defer owner.registryLock.Lock().Unlock()
	for i, recorder := range owner.recorders {
		if recorder == r {
			owner.recorders = append(owner.recorders[:i],
				owner.recorders[i+1:]...)
			break
		}
	}
}

// GetAllAccesses forces every live recorder to merge into the shared
// aggregate, a rare globally synchronizing step, then sums the buckets of
// the trailing windowSeconds epochs, inclusive of the current partial
// second. A negative window returns an empty mapping. A window longer than
// the retained history returns all retained data without a truncation
// signal; availability is favored over strict accuracy.
func (al *AccessLog) GetAllAccesses(windowSeconds int) map[uint32]uint64 {
	recorders := func() []*Recorder {
		defer al.registryLock.Lock().Unlock()
		return append([]*Recorder{}, al.recorders...)
	}()

	for _, r := range recorders {
		r.mergeUpstream()
	}

	rtn := make(map[uint32]uint64)
	if windowSeconds < 0 {
		return rtn
	}

	now := al.now()

	defer al.aggregateLock.Lock().Unlock()
	buckets := al.aggregate.getAll(now)

	count := windowSeconds
	if count > len(buckets) {
		count = len(buckets)
	}

	for _, b := range buckets[len(buckets)-count:] {
		for pid, accesses := range b.accessCounts {
			rtn[pid] += accesses
		}
	}

	return rtn
}

// Close detaches every recorder from the log. Recorders still held by
// workers outlive the log harmlessly, their subsequent records and releases
// become no-ops.
func (al *AccessLog) Close() {
	recorders := func() []*Recorder {
		defer al.registryLock.Lock().Unlock()
		rtn := al.recorders
		al.recorders = nil
		return rtn
	}()

	for _, r := range recorders {
		r.clearOwnerIfMe(al)
	}
}
