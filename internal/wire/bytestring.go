// Package wire implements the STOMP 1.2 frame data model and the streaming
// parser/serializer that convert between that model and a byte stream.
package wire

// ByteString is an owning, growable byte buffer used for frame commands,
// header keys/values, and bodies. It is a value-oriented wrapper around a
// slice: slicing and comparison never allocate, but Clone produces a new
// owned copy. Equality is byte-wise and ignores capacity.
type ByteString struct {
	b []byte
}

// NewByteString copies data into a freshly owned ByteString.
func NewByteString(data []byte) ByteString {
	cp := make([]byte, len(data))
	copy(cp, data)
	return ByteString{b: cp}
}

// NewByteStringFromString is a convenience constructor for literal headers
// and commands.
func NewByteStringFromString(s string) ByteString {
	return NewByteString([]byte(s))
}

// Bytes returns the ByteString's current readable view. Callers must not
// mutate the returned slice; use Clone first if an independent copy needed.
func (s ByteString) Bytes() []byte { return s.b }

// Len returns the number of readable bytes.
func (s ByteString) Len() int { return len(s.b) }

// String renders the ByteString as a Go string (copies).
func (s ByteString) String() string { return string(s.b) }

// Clone returns an independently owned copy.
func (s ByteString) Clone() ByteString { return NewByteString(s.b) }

// Equal compares two ByteStrings byte-wise.
func (s ByteString) Equal(o ByteString) bool {
	if len(s.b) != len(o.b) {
		return false
	}
	for i := range s.b {
		if s.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether the ByteString was never assigned a backing slice,
// distinguishing an absent header value from an explicit empty one.
func (s ByteString) IsZero() bool { return s.b == nil }
