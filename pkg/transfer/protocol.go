// Package transfer implements both sides of a TCP throughput measurement
// session: an optional greeting line, a stream of filler-data chunks, and a
// terminal BYE / ACK: BYE exchange.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/netmeasure/tcpmeter/internal/measurer"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
)

// ErrProtocol is returned when the peer violates the teardown exchange:
// the acknowledgment is missing, garbled, or does not arrive in time.
var ErrProtocol = errors.New("protocol error")

// Protocol implements one side of a transfer session over an established
// connection. The connection must have been wrapped by netx so that
// kernel-level metrics can be collected while the session runs.
type Protocol struct {
	conn net.Conn

	stream         int
	byteLimit      int64
	duration       time.Duration
	reportInterval time.Duration
	drainDelay     time.Duration
	ackTimeout     time.Duration

	measurements []model.Measurement
}

// New returns a new Protocol for the given connection with every option set
// to its default.
func New(conn net.Conn) *Protocol {
	return &Protocol{
		conn:       conn,
		stream:     1,
		duration:   spec.DefaultDuration,
		drainDelay: spec.DrainDelay,
		ackTimeout: spec.AckTimeout,
	}
}

// SetStream sets the 1-based stream index attached to this session's rate
// samples and summary.
func (p *Protocol) SetStream(stream int) {
	p.stream = stream
}

// SetByteLimit sets the number of payload bytes after which the sender will
// stop. Set the value to zero to send for a fixed duration instead.
func (p *Protocol) SetByteLimit(value int64) {
	p.byteLimit = value
}

// SetDuration sets how long the sender transmits when no byte limit is set.
func (p *Protocol) SetDuration(d time.Duration) {
	p.duration = d
}

// SetReportInterval enables periodic rate samples at the given cadence. Set
// the value to zero to disable interval reporting.
func (p *Protocol) SetReportInterval(d time.Duration) {
	p.reportInterval = d
}

// SetDrainDelay overrides the wait between the last payload chunk and the
// termination marker.
func (p *Protocol) SetDrainDelay(d time.Duration) {
	p.drainDelay = d
}

// SetAckTimeout overrides how long the sender waits for the acknowledgment.
func (p *Protocol) SetAckTimeout(d time.Duration) {
	p.ackTimeout = d
}

// Measurements returns the kernel snapshots collected while the session ran.
// It must only be called after the session's summary or error channel has
// yielded a value.
func (p *Protocol) Measurements() []model.Measurement {
	return p.measurements
}

// SenderLoop starts the sending side of a session: greeting, payload loop,
// drain delay, then the teardown exchange. It returns one channel for
// interval rate samples, one channel yielding the final summary and one
// channel for errors. Exactly one of summary or error is produced; the
// samples channel is closed once the session ends. The errors channel MUST
// be drained by the caller.
func (p *Protocol) SenderLoop(ctx context.Context) (<-chan model.RateSample,
	<-chan model.Summary, <-chan error) {
	samples := make(chan model.RateSample, 100)
	summaryCh := make(chan model.Summary, 1)
	errCh := make(chan error, 1)
	go p.sender(ctx, samples, summaryCh, errCh)
	return samples, summaryCh, errCh
}

// ReceiverLoop starts the receiving side of a session. The channels it
// returns behave like SenderLoop's. A peer that goes away without completing
// the teardown exchange is not an error: the summary is delivered with
// Truncated set.
func (p *Protocol) ReceiverLoop(ctx context.Context) (<-chan model.RateSample,
	<-chan model.Summary, <-chan error) {
	samples := make(chan model.RateSample, 100)
	summaryCh := make(chan model.Summary, 1)
	errCh := make(chan error, 1)
	go p.receiver(ctx, samples, summaryCh, errCh)
	return samples, summaryCh, errCh
}

func (p *Protocol) sender(ctx context.Context, samples chan<- model.RateSample,
	summaryCh chan<- model.Summary, errCh chan<- error) {
	defer close(samples)

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	measurerCh := measurer.New(spec.DirectionSend).Start(mctx, p.conn)

	// The greeting is informational and not counted as payload.
	greeting := fmt.Sprintf("%s%.6f\n", spec.StartLinePrefix,
		float64(time.Now().UnixMicro())/1e6)
	if _, err := p.conn.Write([]byte(greeting)); err != nil {
		errCh <- fmt.Errorf("sending greeting: %w", err)
		return
	}

	chunk := bytes.Repeat([]byte("0"), spec.ChunkSize)
	start := time.Now()
	lastSampleTime := start
	var lastSampleBytes, sent int64

	if p.byteLimit > 0 {
		for sent < p.byteLimit {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			// The final chunk is sized to land exactly on the limit.
			size := spec.ChunkSize
			if remaining := p.byteLimit - sent; remaining < int64(size) {
				size = int(remaining)
			}
			if _, err := p.conn.Write(chunk[:size]); err != nil {
				errCh <- fmt.Errorf("sending payload: %w", err)
				return
			}
			sent += int64(size)
			p.collect(measurerCh)
			lastSampleTime, lastSampleBytes = p.maybeSample(samples, start,
				lastSampleTime, lastSampleBytes, sent)
		}
	} else {
		// Chunk boundaries win over byte-level precision here: the last
		// chunk may overshoot the deadline.
		deadline := start.Add(p.duration)
		for time.Now().Before(deadline) {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			if _, err := p.conn.Write(chunk); err != nil {
				errCh <- fmt.Errorf("sending payload: %w", err)
				return
			}
			sent += spec.ChunkSize
			p.collect(measurerCh)
			lastSampleTime, lastSampleBytes = p.maybeSample(samples, start,
				lastSampleTime, lastSampleBytes, sent)
		}
	}
	end := time.Now()

	// Give the receiver time to drain its buffer before the teardown
	// exchange.
	p.drain(ctx, measurerCh)
	if err := ctx.Err(); err != nil {
		errCh <- err
		return
	}

	if _, err := p.conn.Write([]byte(spec.ByeMessage)); err != nil {
		errCh <- fmt.Errorf("sending termination marker: %w", err)
		return
	}
	p.conn.SetReadDeadline(time.Now().Add(p.ackTimeout))
	ack := make([]byte, len(spec.AckMessage))
	if _, err := io.ReadFull(p.conn, ack); err != nil {
		errCh <- fmt.Errorf("%w: reading acknowledgment: %v", ErrProtocol, err)
		return
	}
	if string(ack) != spec.AckMessage {
		errCh <- fmt.Errorf("%w: unexpected acknowledgment %q", ErrProtocol, ack)
		return
	}

	cancel()
	for m := range measurerCh {
		p.measurements = append(p.measurements, m)
	}

	summaryCh <- model.Summary{
		Stream:     p.stream,
		LocalAddr:  p.conn.LocalAddr().String(),
		RemoteAddr: p.conn.RemoteAddr().String(),
		StartTime:  start,
		EndTime:    end,
		Bytes:      sent,
	}
}

func (p *Protocol) receiver(ctx context.Context, samples chan<- model.RateSample,
	summaryCh chan<- model.Summary, errCh chan<- error) {
	defer close(samples)

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	measurerCh := measurer.New(spec.DirectionReceive).Start(mctx, p.conn)

	buf := make([]byte, spec.ChunkSize)
	var total, lastSampleBytes int64
	var start, end, lastSampleTime time.Time
	greeted := false
	truncated := false

	for {
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		n, err := p.conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			if !greeted {
				greeted = true
				data = stripGreeting(data)
			}
			if bytes.Equal(data, []byte(spec.ByeMessage)) {
				// The marker is not counted as payload.
				if _, err := p.conn.Write([]byte(spec.AckMessage)); err != nil {
					errCh <- fmt.Errorf("sending acknowledgment: %w", err)
					return
				}
				break
			}
			if len(data) > 0 {
				now := time.Now()
				if start.IsZero() {
					start = now
					lastSampleTime = now
				}
				end = now
				total += int64(len(data))
				lastSampleTime, lastSampleBytes = p.maybeSample(samples, start,
					lastSampleTime, lastSampleBytes, total)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The peer went away without completing the teardown
				// exchange. Report what was counted so far.
				truncated = true
				break
			}
			errCh <- fmt.Errorf("reading payload: %w", err)
			return
		}
		p.collect(measurerCh)
	}

	cancel()
	for m := range measurerCh {
		p.measurements = append(p.measurements, m)
	}

	summaryCh <- model.Summary{
		Stream:     p.stream,
		LocalAddr:  p.conn.LocalAddr().String(),
		RemoteAddr: p.conn.RemoteAddr().String(),
		StartTime:  start,
		EndTime:    end,
		Bytes:      total,
		Truncated:  truncated,
	}
}

// stripGreeting removes the greeting line from the first chunk read off the
// wire, if present. A greeting without its newline in the same chunk is
// counted as payload: the line is expected to arrive in a single small
// segment.
func stripGreeting(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte(spec.StartLinePrefix)) {
		return data
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[i+1:]
	}
	return data
}

// maybeSample emits a rate sample covering [lastTime, now] if the reporting
// interval elapsed. It returns the updated window anchors.
func (p *Protocol) maybeSample(samples chan<- model.RateSample, start,
	lastTime time.Time, lastBytes, total int64) (time.Time, int64) {
	if p.reportInterval <= 0 {
		return lastTime, lastBytes
	}
	now := time.Now()
	if now.Sub(lastTime) < p.reportInterval {
		return lastTime, lastBytes
	}
	s := model.RateSample{
		Stream:      p.stream,
		LocalAddr:   p.conn.LocalAddr().String(),
		RemoteAddr:  p.conn.RemoteAddr().String(),
		Start:       start,
		WindowStart: lastTime,
		WindowEnd:   now,
		ByteDelta:   total - lastBytes,
	}
	// This send is non-blocking in case there is no one to read the sample
	// and the channel's buffer is full.
	select {
	case samples <- s:
	default:
	}
	return now, total
}

// collect drains at most one pending measurement so the loop never blocks.
func (p *Protocol) collect(measurerCh <-chan model.Measurement) {
	select {
	case m, ok := <-measurerCh:
		if ok {
			p.measurements = append(p.measurements, m)
		}
	default:
	}
}

// drain waits for the drain delay while keeping measurement collection
// going.
func (p *Protocol) drain(ctx context.Context, measurerCh <-chan model.Measurement) {
	timer := time.NewTimer(p.drainDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case m, ok := <-measurerCh:
			if !ok {
				measurerCh = nil
				continue
			}
			p.measurements = append(p.measurements, m)
		}
	}
}
