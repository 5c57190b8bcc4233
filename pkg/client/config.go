package client

import (
	"time"

	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
)

// Config is the configuration for a Client.
type Config struct {
	// Server is the host:port to connect to.
	Server string

	// Streams is the number of parallel connections spawned by this
	// client. Values below 1 are treated as 1.
	Streams int

	// Duration is how long each stream sends when ByteLimit is zero.
	Duration time.Duration

	// ByteLimit is the total number of bytes each stream sends. If set to
	// 0, the stream is time-limited instead.
	ByteLimit int64

	// ReportInterval is the cadence of interval reports. Zero disables
	// them.
	ReportInterval time.Duration

	// DrainDelay overrides the fixed pre-teardown drain delay when
	// positive.
	DrainDelay time.Duration

	// Format selects the display unit for byte counts.
	Format model.Format

	// Emitter is the interface used to emit results. It can be overridden
	// to provide a custom output. When nil, a HumanReadable emitter
	// printing to stdout is used.
	Emitter Emitter
}
