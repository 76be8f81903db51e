package broker

import (
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"odin-stomp/internal/metrics"
	"odin-stomp/internal/wire"
)

// EpollTimeoutMS is the event loop's wait ceiling: a 30-second readiness
// poll used to drive periodic heartbeat checks even when no socket is
// ready.
const EpollTimeoutMS = 30_000

// MaxEventsPerWait bounds one EpollWait call's result buffer.
const MaxEventsPerWait = 256

// Loop is a single-threaded, cooperative, I/O-multiplexed reactor: a
// level-triggered epoll multiplexer over both the listening socket and
// every accepted connection, with no goroutine per connection.
type Loop struct {
	epfd     int
	listener *Listener
	conns    *ConnectionSet
	broker   *Broker
	guard    *ResourceGuard
	log      zerolog.Logger
	events   []unix.EpollEvent
}

// NewLoop creates a Loop bound to listener, dispatching accepted frames
// through broker and rate-limiting accepts through guard. conns
// is shared with guard's caller so the guard's admission checks observe the
// same live connections the loop actually accepts.
func NewLoop(listener *Listener, broker *Broker, guard *ResourceGuard, conns *ConnectionSet, log zerolog.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		epfd:     epfd,
		listener: listener,
		conns:    conns,
		broker:   broker,
		guard:    guard,
		log:      log,
		events:   make([]unix.EpollEvent, MaxEventsPerWait),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listener.FD(), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(listenerHandle),
	}); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return l, nil
}

// listenerHandle is a sentinel ConnectionSet handle value: real handles
// from container.Slab.Add are slot indexes, never negative, so -1 never
// collides.
const listenerHandle = -1

// RunOnce waits for at most EpollTimeoutMS of readiness, then services
// every ready fd, pumps buffered output, and reaps closed connections. It
// is exported as a single step (rather than an internal infinite loop) so
// callers control shutdown.
func (l *Loop) RunOnce() error {
	n, err := unix.EpollWait(l.epfd, l.events, EpollTimeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		handle := int(l.events[i].Fd)
		if handle == listenerHandle {
			l.acceptReady()
			continue
		}
		conn, ok := l.conns.Get(handle)
		if !ok {
			continue
		}
		l.serviceConnection(conn)
	}

	l.checkHeartbeats()
	l.conns.Each(func(handle int, conn *Connection) {
		l.syncEpollInterest(handle, conn)
	})
	l.conns.ReapClosed(l.broker.Queues)
	metrics.ConnectionsActive.Set(float64(l.conns.Len()))
	if l.guard != nil {
		l.guard.Tick(time.Now())
	}
	return nil
}

// acceptReady accepts at most one pending connection per tick so a single
// busy listener cannot starve already-accepted connections of service.
func (l *Loop) acceptReady() {
	if l.guard != nil && !l.guard.AllowAccept() {
		return
	}

	fd, remote, ok, err := l.listener.Accept()
	if err != nil {
		l.log.Warn().Err(err).Msg("accept failed")
		return
	}
	if !ok {
		return
	}
	peerIP := remote
	if host, _, err := net.SplitHostPort(remote); err == nil {
		peerIP = host
	}
	if l.guard != nil && !l.guard.AllowAcceptFromIP(peerIP) {
		unix.Close(fd)
		return
	}

	conn := NewConnection(fd, remote, l.log)
	handle := l.conns.Add(conn)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(handle),
	}); err != nil {
		l.log.Warn().Err(err).Msg("epoll_ctl add failed")
		conn.Close("could not register with epoll")
		l.conns.Remove(handle)
		return
	}
	conn.epollEvents = unix.EPOLLIN
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(l.conns.Len()))
	l.log.Debug().Str("remote", remote).Msg("accepted connection")
}

// serviceConnection pumps input, dispatches every frame the parser
// produces, and flushes any output those frames queued. A connection that
// just hit a protocol error still gets PumpOutput called here (and on every
// later tick that finds it writable) until its ERROR frame fully drains,
// at which point it is closed so ReapClosed can reclaim its fd and slab
// slot.
func (l *Loop) serviceConnection(conn *Connection) {
	if conn.Status != StatusClosed && conn.Status != StatusError {
		conn.PumpInput()
		if conn.Status != StatusClosed && conn.Status != StatusError {
			l.dispatchFrames(conn)
		}
	}

	if conn.Status != StatusClosed {
		conn.PumpOutput()
	}
	if conn.Status == StatusError && conn.Outbound.Len() == 0 {
		conn.Close("protocol error")
	}
}

// dispatchFrames parses and hands off every complete frame currently
// buffered in conn.Inbound, stopping as soon as the connection closes,
// errors, or the parser has no complete frame left to hand off.
func (l *Loop) dispatchFrames(conn *Connection) {
	for {
		outcome := conn.Parser.Parse(conn.Inbound)
		switch outcome {
		case wire.OutcomeFrame:
			f := conn.Parser.Frame()
			metrics.FramesParsedTotal.WithLabelValues(f.Command.Name()).Inc()
			l.broker.HandleFrame(conn, f)
			if conn.Status == StatusClosed || conn.Status == StatusError {
				return
			}
			continue
		case wire.OutcomeError:
			metrics.ParseErrorsTotal.Inc()
			conn.SendErrorMessage(conn.Parser.Err(), nil)
			return
		default: // wire.OutcomeWaiting
			return
		}
	}
}

// syncEpollInterest toggles EPOLLOUT registration to match whether conn
// currently has anything buffered to write, so a connection whose Outbound
// filled up via cross-connection delivery (not its own read readiness)
// still gets woken once the socket can take more bytes. Skips the
// EPOLL_CTL_MOD syscall when the mask hasn't changed since it was last
// applied.
func (l *Loop) syncEpollInterest(handle int, conn *Connection) {
	if conn.Status == StatusClosed {
		return
	}
	want := uint32(unix.EPOLLIN)
	if conn.Outbound.Len() > 0 {
		want |= unix.EPOLLOUT
	}
	if want == conn.epollEvents {
		return
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, conn.FD, &unix.EpollEvent{
		Events: want,
		Fd:     int32(handle),
	}); err != nil {
		l.log.Warn().Err(err).Msg("epoll_ctl mod failed")
		return
	}
	conn.epollEvents = want
}

// checkHeartbeats closes any connection that has missed its negotiated
// incoming heartbeat deadline (2x grace over the negotiated interval).
func (l *Loop) checkHeartbeats() {
	now := time.Now()
	l.conns.Each(func(_ int, conn *Connection) {
		if conn.Status == StatusClosed {
			return
		}
		deadline, enforced := conn.HeartbeatDeadline()
		if enforced && now.After(deadline) {
			metrics.HeartbeatTimeoutsTotal.Inc()
			conn.Close("heartbeat timeout")
		}
	})
}

// Close releases the loop's epoll instance.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}
