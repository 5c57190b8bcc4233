// Package measurer periodically samples the kernel-level TCP metrics of an
// open connection and the application-level byte counters kept by netx.
package measurer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ndt-server/tcpinfox"
	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
)

// Measurer takes snapshots of one side of a transfer at quasi-regular
// intervals.
type Measurer struct {
	direction spec.Direction
}

// New returns a Measurer for the given transfer direction. The direction
// selects which of the connection's byte counters ends up in the snapshots.
func New(direction spec.Direction) *Measurer {
	return &Measurer{
		direction: direction,
	}
}

// Start starts a measurer goroutine that periodically reads the tcp_info
// kernel struct for the connection, if available, and sends it wrapped in a
// Measurement over the returned channel.
//
// The context determines the measurer goroutine's lifetime. The channel is
// closed when the context is canceled.
//
// The connection must have been wrapped by netx, or Start panics.
func (m *Measurer) Start(ctx context.Context, conn net.Conn) <-chan model.Measurement {
	// Implementation note: this channel must be buffered to account for slow
	// readers. The "typical" reader is a send or receive loop, which might
	// be busy with data r/w. The buffer size corresponds to at least 10
	// seconds:
	//
	// 10000ms / 100 ms/snapshot = 100 snapshots
	dst := make(chan model.Measurement, 100)

	connInfo := netx.ToConnInfo(conn)
	t, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      spec.MinMeasureInterval,
		Expected: spec.AvgMeasureInterval,
		Max:      spec.MaxMeasureInterval,
	})
	// This can only error if min/expected/max above are set to invalid
	// values. Since they are constants, we panic here.
	rtx.PanicOnError(err, "ticker creation failed (this should never happen)")

	go func() {
		defer close(dst)
		defer t.Stop()
		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.measure(ctx, connInfo, start, dst)
			}
		}
	}()
	return dst
}

func (m *Measurer) measure(ctx context.Context, connInfo netx.ConnInfo,
	start time.Time, dst chan<- model.Measurement) {
	read, written := connInfo.ByteCounters()
	bytes := read
	if m.direction == spec.DirectionSend {
		bytes = written
	}
	measurement := model.Measurement{
		BytesTransferred: int64(bytes),
		ElapsedTime:      time.Since(start).Microseconds(),
	}

	tcpInfo, err := connInfo.Info()
	switch {
	case err == nil:
		measurement.TCPInfo = &model.TCPInfo{
			LinuxTCPInfo: *tcpInfo,
			ElapsedTime:  time.Since(connInfo.AcceptTime()).Microseconds(),
		}
	case !errors.Is(err, tcpinfox.ErrNoSupport):
		log.Debug("Cannot get TCP_INFO for connection", "err", err)
	}

	select {
	case <-ctx.Done():
		// NOTHING
	case dst <- measurement:
	}
}
