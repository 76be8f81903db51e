package wire

import (
	"testing"

	"odin-stomp/internal/iobuf"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	f := NewFrame(CommandMessage)
	f.AppendHeader(NewByteStringFromString("destination"), NewByteStringFromString("/queue/a"))
	f.AppendHeader(NewByteStringFromString("destination"), NewByteStringFromString("dup-wins-none")) // duplicate preserved
	body := f.EnsureBody()
	*body = NewByteString([]byte("hello"))
	f.AppendHeader(NewByteStringFromString("content-length"), NewByteStringFromString("5"))

	s := NewSerializer()
	qid, ok := s.Enqueue(f)
	if !ok || qid != 1 {
		t.Fatalf("Enqueue = (%d, %v)", qid, ok)
	}

	buf := iobuf.New(16)
	s.Serialize(buf)

	p := NewParser()
	out := p.Parse(buf)
	if out != OutcomeFrame {
		t.Fatalf("outcome = %v, want frame (err=%q)", out, p.Err())
	}
	got := p.Frame()
	if got.Command != CommandMessage {
		t.Fatalf("command = %v", got.Command)
	}
	if len(got.Headers) != 3 {
		t.Fatalf("headers = %v", got.Headers)
	}
	if got.Body.String() != "hello" {
		t.Fatalf("body = %q", got.Body.String())
	}

	c, ok := s.PopCompleted()
	if !ok || c.QID != 1 {
		t.Fatalf("PopCompleted = (%v, %v)", c, ok)
	}
}

func TestSerializeEscapesHeaderValues(t *testing.T) {
	f := NewFrame(CommandSend)
	f.AppendHeader(NewByteStringFromString("k"), NewByteString([]byte("a\nb:c\\d")))

	s := NewSerializer()
	s.Enqueue(f)
	buf := iobuf.New(16)
	s.Serialize(buf)

	p := NewParser()
	out := p.Parse(buf)
	if out != OutcomeFrame {
		t.Fatalf("outcome = %v (%s)", out, p.Err())
	}
	v, _ := p.Frame().HeaderValue("k")
	if v.String() != "a\nb:c\\d" {
		t.Fatalf("round-tripped value = %q", v.String())
	}
}

func TestSerializeConnectedSkipsEscape(t *testing.T) {
	f := NewFrame(CommandConnected)
	f.AppendHeader(NewByteStringFromString("version"), NewByteStringFromString("1.2"))
	s := NewSerializer()
	s.Enqueue(f)
	buf := iobuf.New(16)
	s.Serialize(buf)
	if got := string(buf.Bytes()); got != "CONNECTED\nversion:1.2\n\n\x00" {
		t.Fatalf("serialized = %q", got)
	}
}

func TestSerializeEmptyBody(t *testing.T) {
	f := NewFrame(CommandSend)
	f.EnsureBody()
	s := NewSerializer()
	s.Enqueue(f)
	buf := iobuf.New(16)
	s.Serialize(buf)
	if got := string(buf.Bytes()); got != "SEND\n\n\x00" {
		t.Fatalf("serialized = %q", got)
	}
}

func TestSerializerQueueCapacity(t *testing.T) {
	s := NewSerializer()
	for i := 0; i < QueueSize; i++ {
		f := NewFrame(CommandReceipt)
		if _, ok := s.Enqueue(f); !ok {
			t.Fatalf("enqueue %d should have room", i)
		}
	}
	if _, ok := s.Enqueue(NewFrame(CommandReceipt)); ok {
		t.Fatal("enqueue beyond QueueSize should fail")
	}
}
