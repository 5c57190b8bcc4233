package client

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
)

// Emitter is an interface for emitting results.
type Emitter interface {
	// OnStart is called when a stream is about to connect.
	OnStart(stream int, server string)
	// OnConnect is called when a stream's connection is established.
	OnConnect(stream int, local, remote string)
	// OnSample is called on every interval rate sample.
	OnSample(s model.RateSample)
	// OnComplete is called with a stream's final summary.
	OnComplete(s model.Summary)
	// OnError is called on per-stream errors.
	OnError(stream int, err error)
	// OnSummary is called once with the summaries of all completed
	// streams after a parallel run.
	OnSummary(summaries []model.Summary)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
}

// HumanReadable prints human-readable output. Writes are serialized so
// that lines from concurrent streams never interleave.
type HumanReadable struct {
	// Format selects the display unit for byte counts.
	Format model.Format
	// Debug enables debug output.
	Debug bool

	mu  sync.Mutex
	out io.Writer
}

// NewHumanReadable returns a HumanReadable emitter printing to stdout.
func NewHumanReadable(format model.Format, debug bool) *HumanReadable {
	return &HumanReadable{
		Format: format,
		Debug:  debug,
		out:    os.Stdout,
	}
}

// SetOutput redirects the emitter's output to w.
func (e *HumanReadable) SetOutput(w io.Writer) {
	e.out = w
}

func (e *HumanReadable) printf(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.out, format, args...)
}

// OnStart is called when a stream is about to connect and prints the
// target server.
func (e *HumanReadable) OnStart(stream int, server string) {
	e.printf("Client (%d) connecting to server %s\n", stream, server)
}

// OnConnect is called when the connection to the server is established.
func (e *HumanReadable) OnConnect(stream int, local, remote string) {
	e.printf("Client (%d) connected: %s -> %s\n", stream, local, remote)
}

// OnSample prints one interval report line. Window offsets are relative to
// the stream's start and the rate is in megabytes per second.
func (e *HumanReadable) OnSample(s model.RateSample) {
	e.printf("(%d) %s\t%.1f - %.1fs\t%.1f %s\t%.2f MBps\n",
		s.Stream, s.LocalAddr,
		s.WindowStart.Sub(s.Start).Seconds(),
		s.WindowEnd.Sub(s.Start).Seconds(),
		e.Format.Scale(s.ByteDelta), e.Format, s.MBps())
}

// OnComplete prints a stream's final summary block.
func (e *HumanReadable) OnComplete(s model.Summary) {
	e.printf("----------------------------------------------------------\n"+
		"ID\t\t\tInterval\tTransfer\tBandwidth\n"+
		"(%d) %s\t0.0 - %.1fs\t%.1f %s\t%.2f Mbps\n",
		s.Stream, s.LocalAddr, s.Elapsed().Seconds(),
		e.Format.Scale(s.Bytes), e.Format, s.Mbps())
}

// OnError is called on per-stream errors.
func (e *HumanReadable) OnError(stream int, err error) {
	e.printf("Client (%d) error: %v\n", stream, err)
}

// OnSummary prints the aggregate line for a parallel run: total bytes and
// average bandwidth over the span from the earliest stream start to the
// latest stream end.
func (e *HumanReadable) OnSummary(summaries []model.Summary) {
	var total int64
	var start, end time.Time
	for _, s := range summaries {
		total += s.Bytes
		if !s.StartTime.IsZero() &&
			(start.IsZero() || s.StartTime.Before(start)) {
			start = s.StartTime
		}
		if s.EndTime.After(end) {
			end = s.EndTime
		}
	}
	elapsed := end.Sub(start).Seconds()
	var mbps float64
	if elapsed > 0 {
		mbps = float64(total) * 8 / elapsed / 1e6
	}
	e.printf("[SUM]\t0.0 - %.1fs\t%.1f %s\t%.2f Mbps\t(%d streams)\n",
		elapsed, e.Format.Scale(total), e.Format, mbps, len(summaries))
}

// OnDebug is called to print debug information.
func (e *HumanReadable) OnDebug(msg string) {
	if e.Debug {
		e.printf("DEBUG: %s\n", msg)
	}
}

// Checks that HumanReadable implements Emitter.
var _ Emitter = &HumanReadable{}
