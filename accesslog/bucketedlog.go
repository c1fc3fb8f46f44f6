// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package accesslog

// BucketCount is the number of one second epochs of history retained.
// Inserting a bucket for a newer epoch evicts the oldest retained bucket; a
// sample for an epoch older than the oldest retained bucket is silently
// dropped.
const BucketCount = 300

// bucket counts filesystem requests by originating process for one fixed
// width time epoch. Counts within an epoch only increase.
type bucket struct {
	accessCounts map[uint32]uint64
}

// add counts one access and reports whether the pid was newly seen within
// this bucket.
func (b *bucket) add(pid uint32) bool {
	if b.accessCounts == nil {
		b.accessCounts = make(map[uint32]uint64)
	}

	count, exists := b.accessCounts[pid]
	b.accessCounts[pid] = count + 1
	return !exists
}

func (b *bucket) merge(other *bucket) {
	if b.accessCounts == nil {
		b.accessCounts = make(map[uint32]uint64)
	}

	for pid, count := range other.accessCounts {
		b.accessCounts[pid] += count
	}
}

func (b *bucket) clear() {
	b.accessCounts = nil
}

// bucketedLog is a fixed capacity ring of access buckets indexed by epoch.
// The zero value is an empty log. Epoch zero is reserved as the empty
// marker; real epochs are seconds since the Unix epoch and never collide
// with it.
type bucketedLog struct {
	// Epoch of the newest bucket ever touched, zero while empty
	latest  uint64
	buckets [BucketCount]bucket
}

func (bl *bucketedLog) oldestRetained() uint64 {
	if bl.latest < BucketCount {
		return 1
	}
	return bl.latest - BucketCount + 1
}

// advance moves the window forward so that `now` is the newest epoch,
// clearing every bucket which falls out of retention. Moving backwards is a
// no-op.
func (bl *bucketedLog) advance(now uint64) {
	if now <= bl.latest {
		return
	}

	if bl.latest == 0 || now-bl.latest >= BucketCount {
		for i := range bl.buckets {
			bl.buckets[i].clear()
		}
	} else {
		for epoch := bl.latest + 1; epoch <= now; epoch++ {
			bl.buckets[epoch%BucketCount].clear()
		}
	}

	bl.latest = now
}

// add counts one access in the bucket for the given epoch. The return is
// whether the pid was newly seen in that bucket; it stays false when the
// sample is older than the retention window and dropped, so callers don't
// resolve process names for data that will be discarded anyway.
func (bl *bucketedLog) add(now uint64, pid uint32) bool {
	if bl.latest != 0 && now < bl.oldestRetained() {
		return false
	}

	bl.advance(now)
	return bl.buckets[now%BucketCount].add(pid)
}

func (bl *bucketedLog) mergeBucket(epoch uint64, other *bucket) {
	if len(other.accessCounts) == 0 {
		return
	}

	if bl.latest != 0 && epoch < bl.oldestRetained() {
		return
	}

	bl.advance(epoch)
	bl.buckets[epoch%BucketCount].merge(other)
}

func (bl *bucketedLog) merge(other *bucketedLog) {
	if other.latest == 0 {
		return
	}

	for epoch := other.oldestRetained(); epoch <= other.latest; epoch++ {
		bl.mergeBucket(epoch, &other.buckets[epoch%BucketCount])
	}
}

func (bl *bucketedLog) clear() {
	for i := range bl.buckets {
		bl.buckets[i].clear()
	}
	bl.latest = 0
}

// getAll returns the retained buckets in epoch order, ending with the bucket
// for `now`. The contained maps are shared, the caller must not mutate them
// and must not hold them past the owning lock.
func (bl *bucketedLog) getAll(now uint64) []bucket {
	bl.advance(now)

	start := uint64(1)
	if now >= BucketCount {
		start = now - BucketCount + 1
	}

	rtn := make([]bucket, 0, BucketCount)
	for epoch := start; epoch <= now; epoch++ {
		rtn = append(rtn, bl.buckets[epoch%BucketCount])
	}
	return rtn
}
