package wire

import "testing"

func TestByteStringEqualIgnoresIdentity(t *testing.T) {
	a := NewByteStringFromString("hello")
	b := NewByteStringFromString("hello")
	if !a.Equal(b) {
		t.Fatal("expected equal ByteStrings to compare equal")
	}
	c := a.Clone()
	c.b[0] = 'H'
	if a.Equal(c) {
		t.Fatal("clone mutation should not affect original")
	}
}

func TestByteStringZeroVsEmpty(t *testing.T) {
	var zero ByteString
	empty := NewByteString(nil)
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if empty.IsZero() {
		t.Fatal("explicit empty ByteString should not report IsZero")
	}
}
