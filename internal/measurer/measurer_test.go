package measurer_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/netmeasure/tcpmeter/internal/measurer"
	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
)

func TestMeasurer_Start(t *testing.T) {
	listener, err := netx.Listen("127.0.0.1:0")
	rtx.Must(err, "cannot create listener")
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 128)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	tcpConn, err := net.Dial("tcp", listener.Addr().String())
	rtx.Must(err, "cannot dial listener")
	conn, err := netx.FromTCPConn(tcpConn.(*net.TCPConn))
	rtx.Must(err, "cannot wrap connection")
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	rtx.Must(err, "cannot write to connection")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mchan := measurer.New(spec.DirectionSend).Start(ctx, conn)
	select {
	case m := <-mchan:
		if m.BytesTransferred != 5 {
			t.Errorf("unexpected byte counter: %d", m.BytesTransferred)
		}
		if m.ElapsedTime <= 0 {
			t.Errorf("unexpected elapsed time: %d", m.ElapsedTime)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("did not receive any measurement")
	}

	// Canceling the context stops the measurer and closes the channel.
	cancel()
	for range mchan {
	}
}
