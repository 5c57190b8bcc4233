// Package server implements the listening side of the measurement tool: an
// accept loop running one receive session per connection, printing each
// session's final statistics and optionally archiving its results.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/go/prometheusx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/internal/persistence"
	"github.com/netmeasure/tcpmeter/pkg/transfer"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
	"github.com/netmeasure/tcpmeter/pkg/version"
)

var (
	connections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpmeter_server_connections_total",
		Help: "Total number of connections accepted by the server.",
	})
	transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcpmeter_server_transfers_total",
		Help: "Total number of finished receive sessions, by status.",
	}, []string{"status"})
	receivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpmeter_server_received_bytes_total",
		Help: "Total payload bytes received across all sessions.",
	})
)

// Server accepts measurement connections and runs one receive session per
// connection. Statistics lines go to os.Stdout unless redirected with
// SetOutput.
type Server struct {
	format  model.Format
	dataDir string

	out   io.Writer
	outMu sync.Mutex

	groups   *ttlcache.Cache[string, *peerGroup]
	groupsMu sync.Mutex
	wg       sync.WaitGroup
}

// peerGroup accumulates finished sessions from one remote IP so that
// parallel runs can be summarized once the peer goes quiet. Its own mutex
// lets the eviction callback read a group that a finishing session is
// still updating.
type peerGroup struct {
	mu       sync.Mutex
	sessions int
	bytes    int64
	start    time.Time
	end      time.Time
}

func (g *peerGroup) add(sum model.Summary) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions++
	g.bytes += sum.Bytes
	if !sum.StartTime.IsZero() &&
		(g.start.IsZero() || sum.StartTime.Before(g.start)) {
		g.start = sum.StartTime
	}
	if sum.EndTime.After(g.end) {
		g.end = sum.EndTime
	}
}

func (g *peerGroup) snapshot() (int, int64, time.Time, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions, g.bytes, g.start, g.end
}

// New returns a Server that formats byte counts with the given format. If
// dataDir is not empty, an archival record is written under it for every
// summarized session.
func New(format model.Format, dataDir string) *Server {
	s := &Server{
		format:  format,
		dataDir: dataDir,
		out:     os.Stdout,
	}
	s.groups = ttlcache.New(
		ttlcache.WithTTL[string, *peerGroup](spec.PeerGroupTTL),
		ttlcache.WithDisableTouchOnHit[string, *peerGroup](),
	)
	// The callback runs under the cache's internal lock, so it must not
	// touch the cache or groupsMu.
	s.groups.OnEviction(func(ctx context.Context,
		er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *peerGroup]) {
		log.Debug("Peer group closed", "peer", i.Key(), "reason", er)
		s.emitGroup(i.Key(), i.Value())
	})
	return s
}

// SetOutput redirects the statistics lines to w.
func (s *Server) SetOutput(w io.Writer) {
	s.out = w
}

// Serve accepts connections on l until ctx is canceled or the listener is
// closed, spawning one receive session per connection. It returns once the
// accept loop has stopped and every running session has finished.
func (s *Server) Serve(ctx context.Context, l *netx.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	go s.groups.Start()

	log.Info("Server listening", "addr", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warn("Failed to accept connection", "err", err)
			continue
		}
		connections.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
	s.wg.Wait()
	// Flush pending peer groups so parallel runs are summarized on
	// shutdown too.
	s.groups.DeleteAll()
	s.groups.Stop()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	uuid, err := netx.ToConnInfo(conn).UUID()
	if err != nil {
		// UUID() has a fallback that won't ever fail. This should not
		// happen.
		log.Error("Failed to read connection UUID", "err", err)
		return
	}
	log.Info("Client connected", "peer", conn.RemoteAddr(),
		"local", conn.LocalAddr(), "uuid", uuid)

	proto := transfer.New(conn)
	_, summaryCh, errCh := proto.ReceiverLoop(ctx)
	var summary model.Summary
	select {
	case summary = <-summaryCh:
	case err := <-errCh:
		transfers.WithLabelValues("failed").Inc()
		log.Error("Receive session failed", "uuid", uuid, "err", err)
		return
	}

	receivedBytes.Add(float64(summary.Bytes))
	if summary.Truncated {
		transfers.WithLabelValues("truncated").Inc()
		log.Warn("Transfer truncated by peer", "uuid", uuid,
			"bytes", summary.Bytes)
	} else {
		transfers.WithLabelValues("completed").Inc()
	}

	s.emitSummary(summary)
	s.recordPeer(summary)

	if s.dataDir != "" {
		s.writeResult(uuid, proto, summary)
	}
	log.Debug("Session complete", "uuid", uuid, "bytes", summary.Bytes,
		"elapsed", summary.Elapsed())
}

// emitSummary prints the final statistics line for one receive session,
// with byte counts in the configured format.
func (s *Server) emitSummary(sum model.Summary) {
	marker := ""
	if sum.Truncated {
		marker = "\t(truncated)"
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, "ID\t\t\tInterval\tReceived\tRate\n")
	fmt.Fprintf(s.out, "%s\t0.0 - %.1fs\t%.1f %s\t%.2f Mbps%s\n",
		sum.RemoteAddr, sum.Elapsed().Seconds(),
		s.format.Scale(sum.Bytes), s.format, sum.Mbps(), marker)
}

// recordPeer adds a finished session to its peer's group, resetting the
// group's expiration.
func (s *Server) recordPeer(sum model.Summary) {
	host, _, err := net.SplitHostPort(sum.RemoteAddr)
	if err != nil {
		host = sum.RemoteAddr
	}
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	g := &peerGroup{}
	if item := s.groups.Get(host); item != nil {
		g = item.Value()
	}
	g.add(sum)
	s.groups.Set(host, g, ttlcache.DefaultTTL)
}

// emitGroup prints an aggregate [SUM] line for a peer that ran parallel
// streams. Single-stream peers are not summarized.
func (s *Server) emitGroup(peer string, g *peerGroup) {
	sessions, bytes, start, end := g.snapshot()
	if sessions < 2 {
		return
	}
	elapsed := end.Sub(start).Seconds()
	var mbps float64
	if elapsed > 0 {
		mbps = float64(bytes) * 8 / elapsed / 1e6
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, "[SUM] %s\t0.0 - %.1fs\t%.1f %s\t%.2f Mbps\t(%d streams)\n",
		peer, elapsed, s.format.Scale(bytes), s.format, mbps, sessions)
}

func (s *Server) writeResult(uuid string, proto *transfer.Protocol,
	sum model.Summary) {
	result := &model.Result{
		GitShortCommit:   prometheusx.GitShortCommit,
		Version:          version.Version,
		UUID:             uuid,
		Direction:        string(spec.DirectionReceive),
		LocalAddr:        sum.LocalAddr,
		RemoteAddr:       sum.RemoteAddr,
		StartTime:        sum.StartTime,
		EndTime:          sum.EndTime,
		BytesTransferred: sum.Bytes,
		Truncated:        sum.Truncated,
		Measurements:     proto.Measurements(),
	}
	df, err := persistence.WriteDataFile(s.dataDir, "transfer",
		string(spec.DirectionReceive), uuid, result)
	if err != nil {
		log.Error("Failed to write result", "uuid", uuid, "err", err)
		return
	}
	log.Debug("Result saved", "uuid", uuid, "path", df.Path)
}
