package broker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"odin-stomp/internal/container"
	"odin-stomp/internal/wire"
)

// ServerVersion is advertised in the CONNECTED frame's "server" header.
const ServerVersion = "odin-stomp/1.0.0"

// SupportedVersion is the sole STOMP protocol version this broker
// negotiates.
const SupportedVersion = "1.2"

// Broker wires the destination table to the set of live connections and
// dispatches incoming frames to their STOMP semantics.
type Broker struct {
	Queues *Bundle
	log    zerolog.Logger
}

// NewBroker creates a Broker over queues.
func NewBroker(queues *Bundle, log zerolog.Logger) *Broker {
	return &Broker{Queues: queues, log: log}
}

// HandleFrame processes one parsed frame from conn by STOMP command. It
// never returns an error: protocol violations are reported to the client
// via SendErrorMessage and considered handled.
func (b *Broker) HandleFrame(conn *Connection, f *wire.Frame) {
	if conn.Status == StatusLogin && f.Command != wire.CommandConnect && f.Command != wire.CommandSTOMP {
		conn.SendErrorMessage("must CONNECT before sending any other frame", f)
		return
	}

	switch f.Command {
	case wire.CommandConnect, wire.CommandSTOMP:
		b.handleConnect(conn, f)
	case wire.CommandSend:
		b.handleSend(conn, f)
	case wire.CommandSubscribe:
		b.handleSubscribe(conn, f)
	case wire.CommandUnsubscribe:
		b.handleUnsubscribe(conn, f)
	case wire.CommandAck:
		b.handleAck(conn, f)
	case wire.CommandNack:
		b.handleNack(conn, f)
	case wire.CommandBegin, wire.CommandCommit, wire.CommandAbort:
		b.handleTransaction(conn, f)
	case wire.CommandDisconnect:
		b.handleDisconnect(conn, f)
	default:
		conn.SendErrorMessage(fmt.Sprintf("unsupported client command %q", f.Command.Name()), f)
	}
}

func (b *Broker) handleConnect(conn *Connection, f *wire.Frame) {
	versions, _ := f.HeaderValue("accept-version")
	if !versionAccepted(versions.String()) {
		conn.SendErrorMessage("server only supports STOMP version 1.2", f)
		return
	}

	inMS, outMS := parseHeartbeat(f)
	conn.InHeartbeatMS = inMS
	conn.OutHeartbeatMS = outMS
	conn.Version = SupportedVersion
	conn.Status = StatusConnected

	resp := wire.NewFrame(wire.CommandConnected)
	resp.AppendHeader(wire.NewByteStringFromString("version"), wire.NewByteStringFromString(SupportedVersion))
	resp.AppendHeader(wire.NewByteStringFromString("server"), wire.NewByteStringFromString(ServerVersion))
	resp.AppendHeader(wire.NewByteStringFromString("heart-beat"), wire.NewByteStringFromString(fmt.Sprintf("%d,%d", outMS, inMS)))
	if session, ok := f.HeaderValue("login"); ok {
		resp.AppendHeader(wire.NewByteStringFromString("session"), session)
	}
	if !conn.EnqueueFrame(resp) {
		conn.Close("could not queue CONNECTED frame")
	}
}

func versionAccepted(header string) bool {
	if header == "" {
		return true // STOMP 1.0 clients omit accept-version; we still only speak 1.2
	}
	for _, v := range strings.Split(header, ",") {
		if strings.TrimSpace(v) == SupportedVersion {
			return true
		}
	}
	return false
}

// parseHeartbeat reads the "heart-beat" header (format "cx,cy") and returns
// the negotiated (in, out) intervals in milliseconds from the server's
// perspective, per STOMP 1.2 negotiation rules: the server's incoming
// interval is max(serverWantsIn, clientOffersOut) unless either side is 0.
func parseHeartbeat(f *wire.Frame) (inMS, outMS int) {
	hb, ok := f.HeaderValue("heart-beat")
	if !ok {
		return 0, 0
	}
	parts := strings.SplitN(hb.String(), ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	clientOut, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	clientIn, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	const serverWant = 5000
	inMS = negotiate(serverWant, clientOut)
	outMS = negotiate(serverWant, clientIn)
	return inMS, outMS
}

func negotiate(serverWant, clientOffer int) int {
	if serverWant == 0 || clientOffer == 0 {
		return 0
	}
	if serverWant > clientOffer {
		return serverWant
	}
	return clientOffer
}

func (b *Broker) handleSend(conn *Connection, f *wire.Frame) {
	dest, ok := f.HeaderValue("destination")
	if !ok {
		conn.SendErrorMessage("SEND requires a destination header", f)
		return
	}
	q := b.Queues.EnsureQueue(dest.String())
	if err := q.Publish(f); err != nil {
		conn.SendErrorMessage(err.Error(), f)
		return
	}
	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
}

func (b *Broker) handleSubscribe(conn *Connection, f *wire.Frame) {
	dest, ok := f.HeaderValue("destination")
	if !ok {
		conn.SendErrorMessage("SUBSCRIBE requires a destination header", f)
		return
	}
	clientID, ok := f.HeaderValue("id")
	if !ok {
		conn.SendErrorMessage("SUBSCRIBE requires an id header", f)
		return
	}
	if _, exists := conn.SubsByClientID.Get(container.Key(clientID.String())); exists {
		conn.SendErrorMessage(fmt.Sprintf("subscription id %q already in use", clientID.String()), f)
		return
	}

	ackHeader, _ := f.HeaderValue("ack")
	mode := AckModeFromHeader(ackHeader.String())

	q := b.Queues.EnsureQueue(dest.String())
	sub := NewSubscription(conn.GenerateSubscriptionServerID(), clientID.String(), dest.String(), mode, q, conn)
	conn.SubsByClientID.Add(container.Key(sub.ClientID), sub)
	conn.SubsByServerID.Add(container.Key(sub.ServerID), sub)
	q.Subscribe(sub)

	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
}

func (b *Broker) handleUnsubscribe(conn *Connection, f *wire.Frame) {
	clientID, ok := f.HeaderValue("id")
	if !ok {
		conn.SendErrorMessage("UNSUBSCRIBE requires an id header", f)
		return
	}
	sub, ok := conn.SubsByClientID.Get(container.Key(clientID.String()))
	if !ok {
		conn.SendErrorMessage(fmt.Sprintf("no such subscription %q", clientID.String()), f)
		return
	}
	sub.Queue.Unsubscribe(sub)
	conn.SubsByClientID.Remove(container.Key(sub.ClientID))
	conn.SubsByServerID.Remove(container.Key(sub.ServerID))

	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
}

func (b *Broker) handleAck(conn *Connection, f *wire.Frame) {
	b.settleAck(conn, f, true)
}

func (b *Broker) handleNack(conn *Connection, f *wire.Frame) {
	b.settleAck(conn, f, false)
}

func (b *Broker) settleAck(conn *Connection, f *wire.Frame, positive bool) {
	idHeader, ok := f.HeaderValue("id")
	if !ok {
		conn.SendErrorMessage(f.Command.Name()+" requires an id header", f)
		return
	}
	token := idHeader.String()
	serverID := token
	if slash := strings.IndexByte(token, '/'); slash >= 0 {
		serverID = token[:slash]
	}
	sub, ok := conn.SubsByServerID.Get(container.Key(serverID))
	if !ok {
		conn.SendErrorMessage(fmt.Sprintf("no such subscription for ack token %q", token), f)
		return
	}

	var settled bool
	if positive {
		settled = sub.Ack(token)
	} else {
		settled = sub.Nack(token)
	}
	if !settled {
		conn.SendErrorMessage(fmt.Sprintf("unknown ack token %q", token), f)
		return
	}
	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
}

// handleTransaction acknowledges BEGIN/COMMIT/ABORT at the protocol
// surface without backing transactional semantics: nothing downstream
// (Queue, Storage) currently buffers frames by transaction id.
func (b *Broker) handleTransaction(conn *Connection, f *wire.Frame) {
	if _, ok := f.HeaderValue("transaction"); !ok {
		conn.SendErrorMessage(f.Command.Name()+" requires a transaction header", f)
		return
	}
	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
}

func (b *Broker) handleDisconnect(conn *Connection, f *wire.Frame) {
	if receipt, ok := f.HeaderValue("receipt"); ok {
		b.sendReceipt(conn, receipt.String())
	}
	conn.Close("client DISCONNECT")
}

func (b *Broker) sendReceipt(conn *Connection, receiptID string) {
	r := wire.NewFrame(wire.CommandReceipt)
	r.AppendHeader(wire.NewByteStringFromString("receipt-id"), wire.NewByteStringFromString(receiptID))
	if !conn.EnqueueFrame(r) {
		conn.Close("could not queue RECEIPT frame")
	}
}
