package broker

import (
	"fmt"

	"odin-stomp/internal/wire"
)

// AckMode is the acknowledgement discipline a client chose on SUBSCRIBE.
type AckMode int

const (
	AckAuto AckMode = iota
	AckClient
	AckClientIndividual
)

// AckModeFromHeader maps a SUBSCRIBE frame's "ack" header value, defaulting
// to AckAuto when absent or unrecognized (the STOMP 1.2 default).
func AckModeFromHeader(v string) AckMode {
	switch v {
	case "client":
		return AckClient
	case "client-individual":
		return AckClientIndividual
	default:
		return AckAuto
	}
}

// Delivery is an in-flight MESSAGE awaiting ACK/NACK, tracked only for
// AckClient and AckClientIndividual subscriptions.
type Delivery struct {
	AckToken string
	Entry    *StoredEntry
}

// Subscription binds one connection's interest in one Queue. ServerID is
// the broker-assigned handle used in the "ack"/"subscription" headers and
// connection lookup maps; ClientID is whatever the client itself sent as
// "id" on SUBSCRIBE.
type Subscription struct {
	ServerID    string
	ClientID    string
	Destination string
	AckMode     AckMode
	Queue       *Queue
	Conn        *Connection

	nextSeq uint64
	pending []Delivery
}

// NewSubscription creates a Subscription with an empty pending-ack list.
func NewSubscription(serverID, clientID, destination string, mode AckMode, q *Queue, conn *Connection) *Subscription {
	return &Subscription{
		ServerID:    serverID,
		ClientID:    clientID,
		Destination: destination,
		AckMode:     mode,
		Queue:       q,
		Conn:        conn,
	}
}

// Deliver builds a MESSAGE frame from entry and hands it to the owning
// connection's serializer. It always reports success to the caller: once
// the router has chosen this subscription, there is no well-specified
// retry path, so a full or broken connection is forced closed (mirroring
// SendErrorMessage's behavior) rather than leaving the frame stuck.
func (s *Subscription) Deliver(entry *StoredEntry) bool {
	seq := s.nextSeq
	s.nextSeq++

	msg := wire.NewFrame(wire.CommandMessage)
	msg.AppendHeader(wire.NewByteStringFromString("destination"), wire.NewByteStringFromString(s.Destination))
	msg.AppendHeader(wire.NewByteStringFromString("subscription"), wire.NewByteStringFromString(s.ClientID))
	messageID := fmt.Sprintf("%s-%d", s.ServerID, seq)
	msg.AppendHeader(wire.NewByteStringFromString("message-id"), wire.NewByteStringFromString(messageID))

	var ackToken string
	if s.AckMode != AckAuto {
		ackToken = fmt.Sprintf("%s/%d", s.ServerID, seq)
		msg.AppendHeader(wire.NewByteStringFromString("ack"), wire.NewByteStringFromString(ackToken))
	}

	if ct, ok := entry.Frame.HeaderValue("content-type"); ok {
		msg.AppendHeader(wire.NewByteStringFromString("content-type"), ct)
	}
	body := msg.EnsureBody()
	*body = entry.Frame.Body

	if s.AckMode != AckAuto {
		s.pending = append(s.pending, Delivery{AckToken: ackToken, Entry: entry})
	}

	if !s.Conn.EnqueueFrame(msg) {
		s.Conn.Close("delivery failed: serializer queue full")
	}
	return true
}

// Ack resolves the delivery named by token. AckClientIndividual removes
// only that delivery; AckClient is cumulative and also removes every
// delivery queued ahead of it, per STOMP 1.2 §"ACK". Returns false if
// token is unknown.
func (s *Subscription) Ack(token string) bool {
	for i, d := range s.pending {
		if d.AckToken == token {
			if s.AckMode == AckClientIndividual {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
			} else {
				s.pending = s.pending[i+1:]
			}
			return true
		}
	}
	return false
}

// Nack drops the named delivery from the pending list and increments its
// entry's RejectCount. The frame is not re-published, and the queue's
// NackMax and NackAction are not consulted. Returns false if token is
// unknown.
func (s *Subscription) Nack(token string) bool {
	for i, d := range s.pending {
		if d.AckToken == token {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			d.Entry.RejectCount++
			return true
		}
	}
	return false
}

// PendingCount reports the number of unacknowledged deliveries.
func (s *Subscription) PendingCount() int { return len(s.pending) }
