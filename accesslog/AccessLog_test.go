// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package accesslog

// Test the per mount access telemetry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aristanetworks/sparsefs/utils"
)

// countingResolver counts RegisterPid calls per pid
type countingResolver struct {
	lock      utils.DeferableMutex
	registers map[uint32]int
}

func newCountingResolver() *countingResolver {
	return &countingResolver{
		registers: make(map[uint32]int),
	}
}

func (resolver *countingResolver) RegisterPid(pid uint32) {
	defer resolver.lock.Lock().Unlock()
	resolver.registers[pid]++
}

func (resolver *countingResolver) count(pid uint32) int {
	defer resolver.lock.Lock().Unlock()
	return resolver.registers[pid]
}

// A fixed epoch base well above the retention window so tests can move the
// clock in both directions
const epochBase = uint64(1000000)

func newTestLog() (*AccessLog, *countingResolver, *uint64) {
	resolver := newCountingResolver()
	al := NewAccessLog(resolver)

	clock := new(uint64)
	*clock = epochBase
	al.now = func() uint64 {
		return atomic.LoadUint64(clock)
	}

	return al, resolver, clock
}

func TestRecordAndQuery(t *testing.T) {
	t.Parallel()
	al, _, _ := newTestLog()

	for i := 0; i < 5; i++ {
		al.RecordAccess(100)
	}

	accesses := al.GetAllAccesses(10)
	require.Equal(t, uint64(5), accesses[100])
}

func TestEpochAgesOut(t *testing.T) {
	t.Parallel()
	al, _, clock := newTestLog()

	al.RecordAccess(100)

	// Way past retention; the old bucket must be evicted
	atomic.StoreUint64(clock, epochBase+BucketCount+10)

	accesses := al.GetAllAccesses(BucketCount)
	require.Equal(t, uint64(0), accesses[100])
}

func TestWindowNegative(t *testing.T) {
	t.Parallel()
	al, _, _ := newTestLog()

	al.RecordAccess(100)

	accesses := al.GetAllAccesses(-1)
	require.Empty(t, accesses)
}

func TestWindowLongerThanHistory(t *testing.T) {
	t.Parallel()
	al, _, clock := newTestLog()

	al.RecordAccess(100)
	atomic.StoreUint64(clock, epochBase+2)
	al.RecordAccess(100)

	// All retained data, silently, no truncation signal
	accesses := al.GetAllAccesses(1000000)
	require.Equal(t, uint64(2), accesses[100])
}

func TestWindowExcludesOlderEpochs(t *testing.T) {
	t.Parallel()
	al, _, clock := newTestLog()

	al.RecordAccess(100)
	atomic.StoreUint64(clock, epochBase+10)
	al.RecordAccess(200)

	// Window of one second sees only the current partial second
	accesses := al.GetAllAccesses(1)
	require.Equal(t, uint64(0), accesses[100])
	require.Equal(t, uint64(1), accesses[200])

	// A wider window includes both
	accesses = al.GetAllAccesses(11)
	require.Equal(t, uint64(1), accesses[100])
	require.Equal(t, uint64(1), accesses[200])
}

func TestNoLostUpdates(t *testing.T) {
	t.Parallel()
	al, _, _ := newTestLog()

	const workers = 8
	const pidsPerWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < pidsPerWorker; j++ {
				pid := uint32(1000 + worker*pidsPerWorker + j)
				al.RecordAccess(pid)
			}
		}(i)
	}
	wg.Wait()

	accesses := al.GetAllAccesses(BucketCount)
	var total uint64
	for _, count := range accesses {
		total += count
	}
	require.Equal(t, uint64(workers*pidsPerWorker), total)
}

func TestExplicitRecorders(t *testing.T) {
	t.Parallel()
	al, _, _ := newTestLog()

	const workers = 4
	const accessesPerWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			recorder := al.NewRecorder()
			defer recorder.Release()
			for j := 0; j < accessesPerWorker; j++ {
				recorder.RecordAccess(uint32(500 + worker))
			}
		}(i)
	}
	wg.Wait()

	accesses := al.GetAllAccesses(BucketCount)
	var total uint64
	for _, count := range accesses {
		total += count
	}
	require.Equal(t, uint64(workers*accessesPerWorker), total)
}

func TestPidZeroNotResolved(t *testing.T) {
	t.Parallel()
	al, resolver, _ := newTestLog()

	al.RecordAccess(0)
	al.RecordAccess(0)

	accesses := al.GetAllAccesses(10)
	require.Equal(t, uint64(2), accesses[0])
	require.Equal(t, 0, resolver.count(0))
}

func TestResolveOncePerEpoch(t *testing.T) {
	t.Parallel()
	al, resolver, clock := newTestLog()

	recorder := al.NewRecorder()
	defer recorder.Release()

	recorder.RecordAccess(100)
	recorder.RecordAccess(100)
	require.Equal(t, 1, resolver.count(100))

	// A new epoch means a fresh registration
	atomic.StoreUint64(clock, epochBase+1)
	recorder.RecordAccess(100)
	require.Equal(t, 2, resolver.count(100))
}

func TestStaleSampleDropped(t *testing.T) {
	t.Parallel()
	al, resolver, clock := newTestLog()

	recorder := al.NewRecorder()
	defer recorder.Release()

	recorder.RecordAccess(100)

	// Rewind the clock beyond the retention window; the sample must be
	// silently dropped and must not trigger name resolution
	atomic.StoreUint64(clock, epochBase-BucketCount-10)
	recorder.RecordAccess(200)

	atomic.StoreUint64(clock, epochBase)
	accesses := al.GetAllAccesses(BucketCount)
	require.Equal(t, uint64(1), accesses[100])
	require.Equal(t, uint64(0), accesses[200])
	require.Equal(t, 0, resolver.count(200))
}

func TestDeadOwner(t *testing.T) {
	t.Parallel()
	al, resolver, _ := newTestLog()

	recorder := al.NewRecorder()
	al.Close()

	// Recording and releasing after the owner is gone must not touch the
	// dead log
	recorder.RecordAccess(100)
	recorder.Release()
	require.Equal(t, 0, resolver.count(100))
}
