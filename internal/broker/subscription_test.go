package broker

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"odin-stomp/internal/wire"
)

func TestSubscriptionAckClientIsCumulative(t *testing.T) {
	q := NewQueue("/queue/cumulative", DefaultQueueConfig())
	conn := NewConnection(-1, "sub", zerolog.Nop())
	sub := NewSubscription("sub-0", "1", q.Name, AckClient, q, conn)

	var tokens []string
	for i := 0; i < 3; i++ {
		entry := &StoredEntry{LocalID: uint64(i), Frame: wire.NewFrame(wire.CommandSend)}
		sub.Deliver(entry)
		tokens = append(tokens, fmt.Sprintf("sub-0/%d", i))
	}
	if sub.PendingCount() != 3 {
		t.Fatalf("PendingCount() = %d, want 3", sub.PendingCount())
	}

	// ACKing the second delivery must also settle the first (cumulative).
	if !sub.Ack(tokens[1]) {
		t.Fatalf("Ack(%q) should succeed", tokens[1])
	}
	if sub.PendingCount() != 1 {
		t.Fatalf("PendingCount() after cumulative ACK of index 1 = %d, want 1", sub.PendingCount())
	}
	if sub.Ack(tokens[0]) {
		t.Fatal("Ack of an already-cumulatively-settled token should report false")
	}
}

func TestSubscriptionAckUnknownTokenFails(t *testing.T) {
	q := NewQueue("/queue/unknown", DefaultQueueConfig())
	conn := NewConnection(-1, "sub", zerolog.Nop())
	sub := NewSubscription("sub-0", "1", q.Name, AckClientIndividual, q, conn)
	if sub.Ack("sub-0/999") {
		t.Fatal("Ack of an unknown token should report false")
	}
}

func TestSubscriptionNackIncrementsRejectCount(t *testing.T) {
	q := NewQueue("/queue/nack", DefaultQueueConfig())
	conn := NewConnection(-1, "sub", zerolog.Nop())
	sub := NewSubscription("sub-0", "1", q.Name, AckClientIndividual, q, conn)

	entry := &StoredEntry{Frame: wire.NewFrame(wire.CommandSend)}
	sub.Deliver(entry)
	token := "sub-0/0"

	if !sub.Nack(token) {
		t.Fatalf("Nack(%q) should succeed", token)
	}
	if entry.RejectCount != 1 {
		t.Fatalf("RejectCount = %d, want 1", entry.RejectCount)
	}
	if sub.PendingCount() != 0 {
		t.Fatalf("PendingCount() after NACK = %d, want 0", sub.PendingCount())
	}
}

func TestSubscriptionAckAutoNeverTracksPending(t *testing.T) {
	q := NewQueue("/queue/auto", DefaultQueueConfig())
	conn := NewConnection(-1, "sub", zerolog.Nop())
	sub := NewSubscription("sub-0", "1", q.Name, AckAuto, q, conn)

	sub.Deliver(&StoredEntry{Frame: wire.NewFrame(wire.CommandSend)})
	if sub.PendingCount() != 0 {
		t.Fatalf("PendingCount() for an auto-ack subscription = %d, want 0", sub.PendingCount())
	}
}
