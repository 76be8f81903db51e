package wire

import "odin-stomp/internal/iobuf"

// QueueSize is the fixed capacity of both the work and completed queues.
const QueueSize = 16

type workState int

const (
	workCommand workState = iota
	workHeaders
	workBody
)

// CompletedState reports how a serialized frame finished.
type CompletedState int

const (
	CompletedSuccess CompletedState = iota
)

type workItem struct {
	frame       *Frame
	qid         int
	state       workState
	headerIndex int
	bodyIndex   int
}

// Completed is a frame that finished writing and is pending acknowledgement
// to its producer.
type Completed struct {
	Frame *Frame
	QID   int
	State CompletedState
}

// Serializer streams Frames into an iobuf.Buffer, which grows to take each
// frame whole; serialization stalls only when the completed queue is full.
// Ported from frameserializer.c's work/completed dual-queue design.
type Serializer struct {
	nextQID   int
	work      []workItem
	completed []Completed
}

// NewSerializer creates an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{nextQID: 1}
}

// Enqueue adds frame to the tail of the work queue. Returns the assigned
// qid, or (0, false) if the work queue is full.
func (s *Serializer) Enqueue(f *Frame) (int, bool) {
	if len(s.work) >= QueueSize {
		return 0, false
	}
	qid := s.nextQID
	s.nextQID++
	s.work = append(s.work, workItem{frame: f, qid: qid, state: workCommand})
	return qid, true
}

// PopCompleted removes and returns the oldest completed frame, if any.
func (s *Serializer) PopCompleted() (Completed, bool) {
	if len(s.completed) == 0 {
		return Completed{}, false
	}
	c := s.completed[0]
	s.completed = s.completed[1:]
	return c, true
}

// Serialize writes the work queue into b, growing b as needed, and moves
// each frame into the completed queue as its trailing NUL is written. It
// stops before a frame's trailing NUL while the completed queue is full.
func (s *Serializer) Serialize(b *iobuf.Buffer) {
	for len(s.work) > 0 {
		if !s.step(b) {
			return
		}
	}
}

func (s *Serializer) step(b *iobuf.Buffer) bool {
	item := &s.work[0]
	switch item.state {
	case workCommand:
		return s.serializeCommand(item, b)
	case workHeaders:
		return s.serializeHeader(item, b)
	case workBody:
		return s.serializeBody(item, b)
	default:
		panic("wire: unreachable serializer state")
	}
}

func (s *Serializer) serializeCommand(item *workItem, b *iobuf.Buffer) bool {
	b.AppendBytes([]byte(item.frame.Command.Name()))
	b.AppendByte('\n')
	item.state = workHeaders
	return true
}

func (s *Serializer) serializeHeader(item *workItem, b *iobuf.Buffer) bool {
	hdrs := item.frame.Headers
	if item.headerIndex >= len(hdrs) {
		b.AppendByte('\n')
		item.state = workBody
		return true
	}

	h := hdrs[item.headerIndex]
	skipEscape := item.frame.Command == CommandConnected

	if skipEscape {
		b.AppendBytes(h.Key.Bytes())
	} else {
		b.AppendBytes(escapeHeader(h.Key.Bytes()))
	}
	b.AppendByte(':')
	if skipEscape {
		b.AppendBytes(h.Value.Bytes())
	} else {
		b.AppendBytes(escapeHeader(h.Value.Bytes()))
	}
	b.AppendByte('\n')

	item.headerIndex++
	return true
}

func (s *Serializer) serializeBody(item *workItem, b *iobuf.Buffer) bool {
	body := item.frame.Body.Bytes()
	progressed := false

	if item.bodyIndex < len(body) {
		b.AppendBytes(body[item.bodyIndex:])
		item.bodyIndex = len(body)
		progressed = true
	}

	if item.bodyIndex >= len(body) && len(s.completed) < QueueSize {
		b.AppendByte(0)
		s.completed = append(s.completed, Completed{Frame: item.frame, QID: item.qid, State: CompletedSuccess})
		s.work = s.work[1:]
		progressed = true
	}

	return progressed
}

// escapeHeader escapes LF, CR, colon, and backslash for header-value
// octets, the inverse of the parser's unescape step.
func escapeHeader(in []byte) []byte {
	needsEscape := false
	for _, c := range in {
		switch c {
		case '\n', '\r', ':', '\\':
			needsEscape = true
		}
		if needsEscape {
			break
		}
	}
	if !needsEscape {
		return in
	}

	out := make([]byte, 0, len(in)+4)
	for _, c := range in {
		switch c {
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case ':':
			out = append(out, '\\', 'c')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, c)
		}
	}
	return out
}
