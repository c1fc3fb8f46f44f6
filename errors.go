// Copyright (c) 2018 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Structured errors surfaced by the overlay store and the virtualization
// channel. The mount orchestrator switches on the error codes to decide
// whether to abort or degrade the mount.

package sparsefs

import "fmt"

type OverlayErrCode int

const (
	OVERLAY_RESERVED OverlayErrCode = iota

	// Another process holds the overlay lock for this mount
	OVERLAY_ALREADY_LOCKED

	// An existing store failed header validation and no safe recovery is
	// possible. Fatal at open time for that mount.
	OVERLAY_CORRUPT

	// A storage operation failed. Surfaced to the specific caller, which
	// decides whether to retry or mark the affected inode unusable.
	OVERLAY_IO_ERROR
)

type OverlayErr struct {
	Code OverlayErrCode
	msg  string
}

func NewOverlayErr(code OverlayErrCode, format string,
	args ...interface{}) error {

	return &OverlayErr{
		Code: code,
		msg:  fmt.Sprintf(format, args...),
	}
}

func (err *OverlayErr) Error() string {
	switch err.Code {
	case OVERLAY_ALREADY_LOCKED:
		return "Overlay locked by another process: " + err.msg
	case OVERLAY_CORRUPT:
		return "Overlay corrupt: " + err.msg
	case OVERLAY_IO_ERROR:
		return "Overlay IO error: " + err.msg
	default:
		return "Unknown overlay error: " + err.msg
	}
}

// OverlayErrCodeOf returns the code of an overlay error, or OVERLAY_RESERVED
// if err is not an overlay error.
func OverlayErrCodeOf(err error) OverlayErrCode {
	if oerr, ok := err.(*OverlayErr); ok {
		return oerr.Code
	}
	return OVERLAY_RESERVED
}

type ChannelErrCode int

const (
	CHANNEL_RESERVED ChannelErrCode = iota

	// The virtualization driver could not be started. Fatal to the mount.
	CHANNEL_START_FAILURE
)

type ChannelErr struct {
	Code ChannelErrCode
	msg  string
}

func NewChannelErr(code ChannelErrCode, format string,
	args ...interface{}) error {

	return &ChannelErr{
		Code: code,
		msg:  fmt.Sprintf(format, args...),
	}
}

func (err *ChannelErr) Error() string {
	switch err.Code {
	case CHANNEL_START_FAILURE:
		return "Channel start failure: " + err.msg
	default:
		return "Unknown channel error: " + err.msg
	}
}
