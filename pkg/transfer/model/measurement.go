package model

import (
	"github.com/m-lab/tcp-info/tcp"
)

// The Measurement struct contains a snapshot of one stream taken while the
// transfer is running. Snapshots are collected at quasi-regular intervals
// and stored in the stream's archival Result.
type Measurement struct {
	// BytesTransferred is the number of payload bytes sent or received at
	// the application level when the snapshot was taken.
	BytesTransferred int64 `json:",omitempty"`

	// ElapsedTime is the number of microseconds elapsed since the
	// measurement started.
	ElapsedTime int64 `json:",omitempty"`

	// TCPInfo is an optional struct containing some of the TCP_INFO
	// kernel metrics for this stream. Only present when the platform
	// provides access to it.
	TCPInfo *TCPInfo `json:",omitempty"`
}

// TCPInfo is an extension to Linux's TCPInfo struct that includes the time
// elapsed since the connection was established.
type TCPInfo struct {
	tcp.LinuxTCPInfo
	ElapsedTime int64
}
