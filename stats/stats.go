// Copyright (c) 2016 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package stats defines the operational statistics managers used to track
// the latency of overlay and channel operations.
package stats

import "time"

// OpStats tracks latencies of one kind of operation
type OpStats interface {
	RecordOp(latency time.Duration)
	ReportOpStats()
}
