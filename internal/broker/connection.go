package broker

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"odin-stomp/internal/container"
	"odin-stomp/internal/iobuf"
	"odin-stomp/internal/metrics"
	"odin-stomp/internal/wire"
)

// Status is a connection's position in the STOMP handshake lifecycle.
type Status int

const (
	StatusLogin Status = iota
	StatusConnected
	StatusError
	StatusClosed
)

// NetworkReadSize is the per-pump read quantum.
const NetworkReadSize = 4096

// Connection is one accepted STOMP client, owning its parse/serialize
// state and subscription tables. It has no goroutine of its own: the event
// loop in loop.go drives PumpInput/PumpOutput on readiness.
type Connection struct {
	FD         int
	RemoteAddr string
	Status     Status
	Version    string
	LastError  string

	Inbound    *iobuf.Buffer
	Outbound   *iobuf.Buffer
	Parser     *wire.Parser
	Serializer *wire.Serializer

	LastReadAt  time.Time
	LastWriteAt time.Time

	InHeartbeatMS  int
	OutHeartbeatMS int

	SubsByClientID *container.HashMap[*Subscription]
	SubsByServerID *container.HashMap[*Subscription]
	nextSubID      uint64

	connectedAt time.Time
	log         zerolog.Logger

	// epollEvents is the interest mask last registered with the event
	// loop's epoll instance, so the loop can skip a redundant EPOLL_CTL_MOD
	// when Outbound's empty/non-empty state hasn't changed since last tick.
	epollEvents uint32
}

// NewConnection wraps an accepted, non-blocking socket fd.
func NewConnection(fd int, remoteAddr string, log zerolog.Logger) *Connection {
	now := time.Now()
	return &Connection{
		FD:             fd,
		RemoteAddr:     remoteAddr,
		Status:         StatusLogin,
		Inbound:        iobuf.New(NetworkReadSize),
		Outbound:       iobuf.New(NetworkReadSize),
		Parser:         wire.NewParser(),
		Serializer:     wire.NewSerializer(),
		LastReadAt:     now,
		LastWriteAt:    now,
		SubsByClientID: container.NewHashMap[*Subscription](8),
		SubsByServerID: container.NewHashMap[*Subscription](8),
		connectedAt:    now,
		log:            log.With().Int("fd", fd).Str("remote", remoteAddr).Logger(),
	}
}

// PumpInput performs one read of up to NetworkReadSize bytes into Inbound. A
// would-block read is a no-op, EPIPE/ECONNRESET close the connection
// quietly, and any other errno aborts it with StatusError.
func (c *Connection) PumpInput() {
	n, err := c.Inbound.ReadFrom(fdReader{c.FD}, NetworkReadSize)
	if err != nil {
		c.handleIOError(err)
		return
	}
	if n == 0 {
		c.Close("peer closed connection")
		return
	}
	c.LastReadAt = time.Now()
}

// PumpOutput flushes as much of Outbound as the socket accepts right now.
func (c *Connection) PumpOutput() {
	if c.Outbound.Len() == 0 {
		return
	}
	_, err := c.Outbound.WriteTo(fdWriter{c.FD}, c.Outbound.Len())
	if err != nil {
		c.handleIOError(err)
		return
	}
	c.LastWriteAt = time.Now()
}

func (c *Connection) handleIOError(err error) {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return
	}
	if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
		c.Close("peer reset connection")
		return
	}
	c.LastError = err.Error()
	c.Status = StatusError
	c.log.Warn().Err(err).Msg("connection aborted")
}

// Close marks the connection CLOSED and releases its socket. Idempotent.
func (c *Connection) Close(reason string) {
	if c.Status == StatusClosed {
		return
	}
	c.Status = StatusClosed
	c.log.Debug().Str("reason", reason).Msg("connection closed")
	_ = unix.Close(c.FD)
}

// EnqueueFrame serializes f into the connection's Serializer work queue and
// immediately drains as much as fits into Outbound. Returns false if the
// serializer's work queue was already full.
func (c *Connection) EnqueueFrame(f *wire.Frame) bool {
	if _, ok := c.Serializer.Enqueue(f); !ok {
		return false
	}
	c.Serializer.Serialize(c.Outbound)
	metrics.FramesSerializedTotal.WithLabelValues(f.Command.Name()).Inc()
	return true
}

// GenerateSubscriptionServerID mints a connection-scoped subscription
// handle in "sub-%x" form.
func (c *Connection) GenerateSubscriptionServerID() string {
	id := fmt.Sprintf("sub-%x", c.nextSubID)
	c.nextSubID++
	return id
}

// SendErrorMessage builds and enqueues an ERROR frame, copying any
// "receipt" header on orig to "receipt-id" per STOMP 1.2's error framing,
// and moves the connection to StatusError so the event loop closes it once
// the ERROR frame has drained. If the frame cannot be queued, the
// connection is closed at once.
func (c *Connection) SendErrorMessage(message string, orig *wire.Frame) {
	f := wire.NewFrame(wire.CommandError)
	f.AppendHeader(wire.NewByteStringFromString("message"), wire.NewByteStringFromString(message))
	if orig != nil {
		if receipt, ok := orig.HeaderValue("receipt"); ok {
			f.AppendHeader(wire.NewByteStringFromString("receipt-id"), receipt)
		}
	}
	body := f.EnsureBody()
	*body = wire.NewByteStringFromString(message)
	f.AppendHeader(wire.NewByteStringFromString("content-length"), wire.NewByteStringFromString(fmt.Sprintf("%d", body.Len())))

	if !c.EnqueueFrame(f) {
		c.Close("error frame could not be queued")
		return
	}
	c.LastError = message
	c.Status = StatusError
}

// HeartbeatDeadline returns the instant by which PumpInput must observe
// activity before the connection is considered dead, applying a 2x grace
// factor over the negotiated incoming heartbeat interval. A zero
// InHeartbeatMS means no enforcement.
func (c *Connection) HeartbeatDeadline() (time.Time, bool) {
	if c.InHeartbeatMS <= 0 {
		return time.Time{}, false
	}
	grace := time.Duration(c.InHeartbeatMS) * 2 * time.Millisecond
	return c.LastReadAt.Add(grace), true
}

// fdReader/fdWriter adapt a raw non-blocking fd to io.Reader/io.Writer so
// iobuf.Buffer's ReadFrom/WriteTo can drive it directly.
type fdReader struct{ fd int }

func (r fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	return unix.Write(w.fd, p)
}
