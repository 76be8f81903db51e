package broker

import (
	"testing"

	"odin-stomp/internal/wire"
)

func sendFrame(destination string) *wire.Frame {
	f := wire.NewFrame(wire.CommandSend)
	f.AppendHeader(wire.NewByteStringFromString("destination"), wire.NewByteStringFromString(destination))
	return f
}

func TestMemoryStorageFIFOOrder(t *testing.T) {
	cfg := DefaultQueueConfig()
	s := NewMemoryStorage(cfg)
	for i := 0; i < 3; i++ {
		if ok, err := s.Enqueue(sendFrame("/q")); !ok || err != nil {
			t.Fatalf("Enqueue %d: ok=%v err=%v", i, ok, err)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	for i := uint64(0); i < 3; i++ {
		e, ok := s.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: missing entry", i)
		}
		if e.LocalID != i {
			t.Fatalf("Dequeue %d: LocalID = %d, want %d", i, e.LocalID, i)
		}
	}
	if _, ok := s.Dequeue(); ok {
		t.Fatal("Dequeue on empty storage should report ok=false")
	}
}

func TestMemoryStorageFullActionError(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.SizeMax = 2
	cfg.FullAction = FullActionError
	s := NewMemoryStorage(cfg)
	s.Enqueue(sendFrame("/q"))
	s.Enqueue(sendFrame("/q"))
	ok, err := s.Enqueue(sendFrame("/q"))
	if ok || err == nil {
		t.Fatalf("Enqueue over SizeMax with FullActionError: ok=%v err=%v, want ok=false err!=nil", ok, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (rejected entry must not be stored)", s.Len())
	}
}

func TestMemoryStorageFullActionDropNewest(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.SizeMax = 2
	cfg.FullAction = FullActionDropNewest
	s := NewMemoryStorage(cfg)
	s.Enqueue(sendFrame("/first"))
	s.Enqueue(sendFrame("/second"))
	ok, err := s.Enqueue(sendFrame("/third"))
	if ok || err != nil {
		t.Fatalf("Enqueue over SizeMax with FullActionDropNewest: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	e, _ := s.Dequeue()
	dest, _ := e.Frame.HeaderValue("destination")
	if dest.String() != "/first" {
		t.Fatalf("oldest entry destination = %q, want /first (newest arrival should have been dropped)", dest.String())
	}
}

func TestMemoryStorageFullActionDropOldest(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.SizeMax = 2
	cfg.FullAction = FullActionDropOldest
	s := NewMemoryStorage(cfg)
	s.Enqueue(sendFrame("/first"))
	s.Enqueue(sendFrame("/second"))
	ok, err := s.Enqueue(sendFrame("/third"))
	if !ok || err != nil {
		t.Fatalf("Enqueue over SizeMax with FullActionDropOldest: ok=%v err=%v, want ok=true err=nil", ok, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	e, _ := s.Dequeue()
	dest, _ := e.Frame.HeaderValue("destination")
	if dest.String() != "/second" {
		t.Fatalf("oldest remaining entry destination = %q, want /second (oldest arrival should have been dropped)", dest.String())
	}
}

func TestServerInfoStorageUnsupported(t *testing.T) {
	var s ServerInfoStorage
	if ok, err := s.Enqueue(sendFrame("/q")); ok || err == nil {
		t.Fatal("ServerInfoStorage.Enqueue should report unsupported, not silently succeed")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestBundleEnsureQueueIsLazyAndIdempotent(t *testing.T) {
	b := NewBundle(DefaultQueueConfig())
	if _, ok := b.Lookup("/queue/a"); ok {
		t.Fatal("Lookup before any SEND/SUBSCRIBE should find nothing")
	}
	q1 := b.EnsureQueue("/queue/a")
	q2 := b.EnsureQueue("/queue/a")
	if q1 != q2 {
		t.Fatal("EnsureQueue should return the same Queue on repeated calls")
	}
}
