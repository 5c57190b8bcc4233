package transfer_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/pkg/transfer"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
)

// connPair returns two netx-wrapped ends of an established TCP connection.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	tcpl, err := net.ListenTCP("tcp", &net.TCPAddr{})
	rtx.Must(err, "failed to create listener")
	l := netx.NewListener(tcpl)
	defer l.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			t.Errorf("failed to accept: %v", err)
			acceptCh <- nil
			return
		}
		acceptCh <- c
	}()

	c, err := net.Dial("tcp", tcpl.Addr().String())
	rtx.Must(err, "failed to dial")
	wrapped, err := netx.FromTCPConn(c.(*net.TCPConn))
	rtx.Must(err, "failed to wrap conn")

	s := <-acceptCh
	if s == nil {
		t.FailNow()
	}
	return wrapped, s
}

func TestProtocol_ByteLimit(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := transfer.New(cliConn)
	sender.SetByteLimit(5000)
	sender.SetDrainDelay(200 * time.Millisecond)
	receiver := transfer.New(srvConn)

	_, rsumCh, rerrCh := receiver.ReceiverLoop(ctx)
	_, ssumCh, serrCh := sender.SenderLoop(ctx)

	var ssum, rsum model.Summary
	select {
	case ssum = <-ssumCh:
	case err := <-serrCh:
		t.Fatalf("sender failed: %v", err)
	}
	select {
	case rsum = <-rsumCh:
	case err := <-rerrCh:
		t.Fatalf("receiver failed: %v", err)
	}

	if ssum.Bytes != 5000 {
		t.Errorf("sender transferred %d bytes, want 5000", ssum.Bytes)
	}
	if rsum.Bytes != 5000 {
		t.Errorf("receiver counted %d bytes, want 5000", rsum.Bytes)
	}
	if rsum.Truncated {
		t.Errorf("receiver reported a truncated transfer")
	}
	if got := sender.Measurements(); got == nil {
		// Snapshots are timing-dependent, but the slice access must be
		// safe after the summary is delivered.
		t.Logf("no sender measurements collected")
	}
}

func TestProtocol_Duration(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	duration := 200 * time.Millisecond
	sender := transfer.New(cliConn)
	sender.SetDuration(duration)
	sender.SetDrainDelay(200 * time.Millisecond)
	receiver := transfer.New(srvConn)

	_, rsumCh, rerrCh := receiver.ReceiverLoop(ctx)
	_, ssumCh, serrCh := sender.SenderLoop(ctx)

	var ssum model.Summary
	select {
	case ssum = <-ssumCh:
	case err := <-serrCh:
		t.Fatalf("sender failed: %v", err)
	}
	if ssum.Elapsed() < duration {
		t.Errorf("sender stopped after %v, want at least %v", ssum.Elapsed(), duration)
	}
	if ssum.Bytes <= 0 || ssum.Bytes%1000 != 0 {
		t.Errorf("sender transferred %d bytes, want a positive multiple of the chunk size", ssum.Bytes)
	}

	select {
	case rsum := <-rsumCh:
		if rsum.Bytes != ssum.Bytes {
			t.Errorf("receiver counted %d bytes, sender sent %d", rsum.Bytes, ssum.Bytes)
		}
	case err := <-rerrCh:
		t.Fatalf("receiver failed: %v", err)
	}
}

func TestProtocol_NoGreeting(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A bare-bones peer that skips the greeting entirely.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cliConn.Write(make([]byte, 500)); err != nil {
			t.Errorf("failed to write payload: %v", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
		if _, err := cliConn.Write([]byte("BYE")); err != nil {
			t.Errorf("failed to write termination marker: %v", err)
			return
		}
		ack := make([]byte, 8)
		n, err := cliConn.Read(ack)
		if err != nil {
			t.Errorf("failed to read acknowledgment: %v", err)
			return
		}
		if string(ack[:n]) != "ACK: BYE" {
			t.Errorf("unexpected acknowledgment %q", ack[:n])
		}
	}()

	receiver := transfer.New(srvConn)
	_, sumCh, errCh := receiver.ReceiverLoop(ctx)
	select {
	case sum := <-sumCh:
		if sum.Bytes != 500 {
			t.Errorf("receiver counted %d bytes, want 500", sum.Bytes)
		}
		if sum.Truncated {
			t.Errorf("receiver reported a truncated transfer")
		}
	case err := <-errCh:
		t.Fatalf("receiver failed: %v", err)
	}
	<-done
}

func TestProtocol_TruncatedTransfer(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer srvConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		if _, err := cliConn.Write([]byte("START 1234.5\n")); err != nil {
			t.Errorf("failed to write greeting: %v", err)
			return
		}
		if _, err := cliConn.Write(make([]byte, 1234)); err != nil {
			t.Errorf("failed to write payload: %v", err)
			return
		}
		cliConn.Close()
	}()

	receiver := transfer.New(srvConn)
	_, sumCh, errCh := receiver.ReceiverLoop(ctx)
	select {
	case sum := <-sumCh:
		if !sum.Truncated {
			t.Errorf("receiver did not report a truncated transfer")
		}
		if sum.Bytes != 1234 {
			t.Errorf("receiver counted %d bytes, want 1234", sum.Bytes)
		}
	case err := <-errCh:
		t.Fatalf("receiver failed: %v", err)
	}
}

func TestProtocol_AckTimeout(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	// A peer that reads everything and never acknowledges.
	go func() {
		buf := make([]byte, 1000)
		for {
			if _, err := srvConn.Read(buf); err != nil {
				return
			}
		}
	}()

	sender := transfer.New(cliConn)
	sender.SetByteLimit(1000)
	sender.SetDrainDelay(0)
	sender.SetAckTimeout(50 * time.Millisecond)

	_, sumCh, errCh := sender.SenderLoop(context.Background())
	select {
	case <-sumCh:
		t.Fatalf("expected a failure, got a summary")
	case err := <-errCh:
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected a protocol error, got %v", err)
		}
	}
}

func TestProtocol_WrongAck(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	// A peer that replies to the termination marker with garbage.
	go func() {
		buf := make([]byte, 1000)
		for {
			n, err := srvConn.Read(buf)
			if err != nil {
				return
			}
			if n == 3 && string(buf[:3]) == "BYE" {
				srvConn.Write([]byte("ACK: NO!"))
				return
			}
		}
	}()

	sender := transfer.New(cliConn)
	sender.SetByteLimit(1000)
	sender.SetDrainDelay(100 * time.Millisecond)
	sender.SetAckTimeout(2 * time.Second)

	_, sumCh, errCh := sender.SenderLoop(context.Background())
	select {
	case <-sumCh:
		t.Fatalf("expected a failure, got a summary")
	case err := <-errCh:
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected a protocol error, got %v", err)
		}
	}
}

func TestProtocol_RateSamples(t *testing.T) {
	cliConn, srvConn := connPair(t)
	defer cliConn.Close()
	defer srvConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := transfer.New(cliConn)
	sender.SetDuration(300 * time.Millisecond)
	sender.SetDrainDelay(100 * time.Millisecond)
	sender.SetReportInterval(50 * time.Millisecond)
	sender.SetStream(3)
	receiver := transfer.New(srvConn)

	_, rsumCh, rerrCh := receiver.ReceiverLoop(ctx)
	samples, ssumCh, serrCh := sender.SenderLoop(ctx)

	count := 0
	for s := range samples {
		if s.Stream != 3 {
			t.Errorf("sample carries stream %d, want 3", s.Stream)
		}
		if s.ByteDelta <= 0 {
			t.Errorf("sample has non-positive byte delta: %d", s.ByteDelta)
		}
		if !s.WindowEnd.After(s.WindowStart) {
			t.Errorf("sample window is inverted: %v - %v", s.WindowStart, s.WindowEnd)
		}
		if s.WindowStart.Before(s.Start) {
			t.Errorf("sample window opens before the session start")
		}
		count++
	}
	if count == 0 {
		t.Errorf("no rate samples emitted")
	}

	select {
	case <-ssumCh:
	case err := <-serrCh:
		t.Fatalf("sender failed: %v", err)
	}
	select {
	case <-rsumCh:
	case err := <-rerrCh:
		t.Fatalf("receiver failed: %v", err)
	}
}
