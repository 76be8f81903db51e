package broker

import (
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"odin-stomp/internal/iobuf"
	"odin-stomp/internal/wire"
)

// newLoopedConn wires conn into loop's epoll instance and conns the same way
// acceptReady does, without going through an actual accept(2) — the caller
// supplies an already-connected fd (e.g. one end of a socketpair).
func newLoopedConn(t *testing.T, l *Loop, conns *ConnectionSet, conn *Connection) int {
	t.Helper()
	handle := conns.Add(conn)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, conn.FD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(handle),
	}); err != nil {
		t.Fatalf("epoll_ctl add: %v", err)
	}
	conn.epollEvents = unix.EPOLLIN
	return handle
}

func newTestLoop(t *testing.T) (*Loop, *ConnectionSet) {
	t.Helper()
	listener, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	conns := NewConnectionSet()
	b := NewBroker(NewBundle(DefaultQueueConfig()), zerolog.Nop())
	loop, err := NewLoop(listener, b, nil, conns, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	t.Cleanup(func() { loop.Close() })
	return loop, conns
}

// TestLoopReapsConnectionAfterProtocolError drives a real socketpair through
// a full RunOnce tick: a SEND before CONNECT should get its ERROR frame
// flushed to the peer and the connection fully closed and reclaimed from the
// connection set in the same tick its output finishes draining, rather than
// sitting in StatusError forever with its fd and slab slot never freed.
func TestLoopReapsConnectionAfterProtocolError(t *testing.T) {
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	serverFD, clientFD := sv[0], sv[1]
	if err := unix.SetNonblock(serverFD, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	defer unix.Close(clientFD)

	loop, conns := newTestLoop(t)
	conn := NewConnection(serverFD, "peer", zerolog.Nop())
	handle := newLoopedConn(t, loop, conns, conn)

	raw := []byte("SEND\ndestination:/queue/a\n\n\x00")
	if _, err := unix.Write(clientFD, raw); err != nil {
		t.Fatalf("write SEND: %v", err)
	}

	if err := loop.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if conn.Status != StatusClosed {
		t.Fatalf("Status after protocol error tick = %v, want StatusClosed", conn.Status)
	}
	if _, ok := conns.Get(handle); ok {
		t.Fatal("connection set should have reclaimed the slab slot")
	}
	if conns.Len() != 0 {
		t.Fatalf("conns.Len() = %d, want 0", conns.Len())
	}

	reply := make([]byte, 256)
	n, err := unix.Read(clientFD, reply)
	if err != nil {
		t.Fatalf("read ERROR frame: %v", err)
	}
	buf := iobuf.New(n)
	buf.AppendBytes(reply[:n])
	p := wire.NewParser()
	if out := p.Parse(buf); out != wire.OutcomeFrame || p.Frame().Command != wire.CommandError {
		t.Fatalf("expected a single ERROR frame on the wire, got outcome %v", out)
	}
}

// TestLoopSyncEpollInterestTogglesOnOutboundBacklog checks that a
// connection's epoll registration grows an EPOLLOUT interest the moment its
// Outbound buffer holds anything, and drops it again once drained, so
// output queued by something other than the connection's own PumpOutput
// call (e.g. a MESSAGE routed in from another connection's publish) still
// gets a readiness event to retry against instead of sitting there until
// the connection happens to become read-ready on its own.
func TestLoopSyncEpollInterestTogglesOnOutboundBacklog(t *testing.T) {
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	serverFD, clientFD := sv[0], sv[1]
	if err := unix.SetNonblock(serverFD, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	defer unix.Close(clientFD)

	loop, conns := newTestLoop(t)
	conn := NewConnection(serverFD, "peer", zerolog.Nop())
	handle := newLoopedConn(t, loop, conns, conn)

	if conn.epollEvents != unix.EPOLLIN {
		t.Fatalf("initial epollEvents = %#x, want EPOLLIN only", conn.epollEvents)
	}

	conn.Outbound.AppendBytes([]byte("queued by a delivery from elsewhere"))
	loop.syncEpollInterest(handle, conn)
	if conn.epollEvents != unix.EPOLLIN|unix.EPOLLOUT {
		t.Fatalf("epollEvents after backlog = %#x, want EPOLLIN|EPOLLOUT", conn.epollEvents)
	}

	conn.PumpOutput()
	if conn.Outbound.Len() != 0 {
		t.Fatalf("Outbound.Len() after PumpOutput = %d, want 0", conn.Outbound.Len())
	}
	loop.syncEpollInterest(handle, conn)
	if conn.epollEvents != unix.EPOLLIN {
		t.Fatalf("epollEvents after drain = %#x, want EPOLLIN only", conn.epollEvents)
	}
}
