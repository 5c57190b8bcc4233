package model

import (
	"time"
)

// Result is the struct that is serialized as JSON to disk as the archival
// record of one stream.
type Result struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running code.
	Version string

	// UUID is the unique ID for this TCP flow.
	UUID string
	// Direction is the side of the transfer this record was taken on
	// (send or receive).
	Direction string
	// LocalAddr and RemoteAddr are the flow's TCP endpoints (ip:port).
	LocalAddr  string
	RemoteAddr string
	// StartTime is the time when the flow started. It does not include
	// the connection setup time.
	StartTime time.Time
	// EndTime is the time when the flow ended.
	EndTime time.Time
	// BytesTransferred is the total payload carried by the flow.
	BytesTransferred int64
	// Truncated reports that the flow ended without completing the
	// teardown exchange.
	Truncated bool
	// Measurements is a list of snapshots taken while the flow was
	// running.
	Measurements []Measurement
}
