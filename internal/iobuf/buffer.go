// Package iobuf implements the broker's windowed byte buffer: the sliding
// (capacity, position, length) region over an owned byte slice that sits
// between a socket and the STOMP frame parser/serializer.
package iobuf

import (
	"io"
)

// Buffer is a read/write window over a byte slice. The readable region is
// data[position : position+length]; the write slack is
// cap(data)-position-length. ReadFrom/WriteTo drive the window directly off
// an io.Reader/io.Writer rather than a raw fd.
type Buffer struct {
	data     []byte
	position int
	length   int
}

// New creates a Buffer with the given initial capacity (minimum 1).
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the number of readable bytes.
func (b *Buffer) Len() int { return b.length }

// Cap returns the total backing capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the current readable region. The slice is only valid until
// the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.position : b.position+b.length] }

// ByteAt returns the byte at a position relative to the read cursor, or 0
// if out of range, matching buffer_get_byte's bounds-checked return.
func (b *Buffer) ByteAt(index int) byte {
	if index < 0 || index >= b.length {
		return 0
	}
	return b.data[b.position+index]
}

// slack returns the unused write capacity after the readable region.
func (b *Buffer) slack() int {
	return len(b.data) - b.position - b.length
}

// Compact moves the readable region to offset 0, reclaiming leading slack.
func (b *Buffer) Compact() {
	if b.position == 0 {
		return
	}
	copy(b.data, b.data[b.position:b.position+b.length])
	b.position = 0
}

// EnsureSlack grows the buffer (at least doubling) until at least n bytes
// of write slack are available, compacting along the way.
func (b *Buffer) EnsureSlack(n int) {
	if b.slack() >= n {
		return
	}
	needed := len(b.data) + (n - b.slack())
	newSize := len(b.data) * 2
	if newSize < needed {
		newSize = needed
	}
	grown := make([]byte, newSize)
	copy(grown, b.data[b.position:b.position+b.length])
	b.data = grown
	b.position = 0
}

// AppendBytes appends raw bytes to the end of the readable region, growing
// as needed.
func (b *Buffer) AppendBytes(p []byte) {
	b.EnsureSlack(len(p))
	copy(b.data[b.position+b.length:], p)
	b.length += len(p)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.EnsureSlack(1)
	b.data[b.position+b.length] = c
	b.length++
}

// ReadFrom reads up to max bytes from r into the buffer's tail. It returns
// the byte count read, 0 on a clean EOF, or -1 with the error on any other
// failure — callers tell a would-block error (EAGAIN/EWOULDBLOCK) apart
// from a hard error by inspecting the returned error.
func (b *Buffer) ReadFrom(r io.Reader, max int) (int, error) {
	b.EnsureSlack(max)
	n, err := r.Read(b.data[b.position+b.length : b.position+b.length+max])
	if n > 0 {
		b.length += n
	}
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return -1, err
	}
	return n, nil
}

// WriteTo writes up to max bytes of the readable region to w and consumes
// them on success.
func (b *Buffer) WriteTo(w io.Writer, max int) (int, error) {
	if max > b.length {
		max = b.length
	}
	if max == 0 {
		return 0, nil
	}
	n, err := w.Write(b.data[b.position : b.position+max])
	if n > 0 {
		b.Consume(n)
	}
	if err != nil {
		return -1, err
	}
	return n, nil
}

// FindByte returns the position (relative to the read cursor) of the first
// occurrence of value, or -1.
func (b *Buffer) FindByte(value byte) int {
	for i := 0; i < b.length; i++ {
		if b.data[b.position+i] == value {
			return i
		}
	}
	return -1
}

// Consume advances the read cursor by count bytes, resetting both cursors
// to zero once the buffer has been fully drained (cheap compaction).
func (b *Buffer) Consume(count int) {
	if count < b.length {
		b.position += count
		b.length -= count
		return
	}
	b.position = 0
	b.length = 0
}
