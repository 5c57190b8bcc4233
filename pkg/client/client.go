// Package client implements the sending side of the measurement tool: N
// parallel send streams against one server, interval reporting while they
// run, and per-stream plus aggregate summaries once they finish.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/pkg/transfer"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
)

// Client runs a complete measurement against a server.
type Client struct {
	config  Config
	emitter Emitter

	summariesMu sync.Mutex
	summaries   []model.Summary
}

// New returns a new Client with the provided config. If the config has no
// Emitter, a HumanReadable emitter printing to stdout is used.
func New(config Config) *Client {
	emitter := config.Emitter
	if emitter == nil {
		emitter = NewHumanReadable(config.Format, false)
	}
	return &Client{
		config:  config,
		emitter: emitter,
	}
}

// Run starts all the streams and waits for them to finish. Stream failures
// are collected and returned joined after every stream has completed; one
// stream's failure does not cancel the others.
func (c *Client) Run(ctx context.Context) error {
	streams := c.config.Streams
	if streams < 1 {
		streams = 1
	}

	var wg sync.WaitGroup
	errs := make([]error, streams)
	for i := 0; i < streams; i++ {
		stream := i + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.runStream(ctx, stream); err != nil {
				c.emitter.OnError(stream, err)
				errs[stream-1] = err
			}
		}()
	}
	wg.Wait()

	if streams > 1 {
		c.summariesMu.Lock()
		summaries := make([]model.Summary, len(c.summaries))
		copy(summaries, c.summaries)
		c.summariesMu.Unlock()
		if len(summaries) > 0 {
			c.emitter.OnSummary(summaries)
		}
	}
	return errors.Join(errs...)
}

// runStream runs a single send stream: connect, stream payload, then
// consume interval samples and the final summary.
func (c *Client) runStream(ctx context.Context, stream int) error {
	c.emitter.OnStart(stream, c.config.Server)
	conn, err := dial(ctx, c.config.Server)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.config.Server, err)
	}
	defer conn.Close()
	c.emitter.OnConnect(stream, conn.LocalAddr().String(),
		conn.RemoteAddr().String())

	proto := transfer.New(conn)
	proto.SetStream(stream)
	proto.SetByteLimit(c.config.ByteLimit)
	if c.config.Duration > 0 {
		proto.SetDuration(c.config.Duration)
	}
	if c.config.DrainDelay > 0 {
		proto.SetDrainDelay(c.config.DrainDelay)
	}
	proto.SetReportInterval(c.config.ReportInterval)

	samples, summaryCh, errCh := proto.SenderLoop(ctx)
	for sample := range samples {
		c.emitter.OnSample(sample)
	}
	select {
	case summary := <-summaryCh:
		log.Debug("Stream complete", "stream", stream,
			"bytes", summary.Bytes, "elapsed", summary.Elapsed())
		c.emitter.OnComplete(summary)
		c.summariesMu.Lock()
		c.summaries = append(c.summaries, summary)
		c.summariesMu.Unlock()
		return nil
	case err := <-errCh:
		return err
	}
}

// dial establishes the TCP connection for one stream and wraps it so that
// kernel metrics can be collected while the session runs.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return netx.FromTCPConn(conn.(*net.TCPConn))
}
