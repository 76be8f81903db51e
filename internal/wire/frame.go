package wire

// Command identifies a STOMP frame's first line. CommandNone marks an
// unrecognized line.
type Command int

const (
	CommandNone Command = iota
	CommandSTOMP
	CommandConnect
	CommandConnected
	CommandSend
	CommandSubscribe
	CommandUnsubscribe
	CommandBegin
	CommandCommit
	CommandAbort
	CommandAck
	CommandNack
	CommandDisconnect
	CommandMessage
	CommandReceipt
	CommandError
	commandCount
)

var commandNames = [commandCount]string{
	CommandNone:        "",
	CommandSTOMP:       "STOMP",
	CommandConnect:     "CONNECT",
	CommandConnected:   "CONNECTED",
	CommandSend:        "SEND",
	CommandSubscribe:   "SUBSCRIBE",
	CommandUnsubscribe: "UNSUBSCRIBE",
	CommandBegin:       "BEGIN",
	CommandCommit:      "COMMIT",
	CommandAbort:       "ABORT",
	CommandAck:         "ACK",
	CommandNack:        "NACK",
	CommandDisconnect:  "DISCONNECT",
	CommandMessage:     "MESSAGE",
	CommandReceipt:     "RECEIPT",
	CommandError:       "ERROR",
}

// Name returns the wire-format command name, e.g. "SEND".
func (c Command) Name() string { return commandNames[c] }

// CommandFromName maps a wire-format command line to its Command, or
// CommandNone if unrecognized.
func CommandFromName(name []byte) Command {
	for i := CommandSTOMP; i < commandCount; i++ {
		if string(name) == commandNames[i] {
			return i
		}
	}
	return CommandNone
}

// HasBody reports whether cmd is one of the three commands that may carry
// a nonempty body (SEND, MESSAGE, ERROR).
func (c Command) HasBody() bool {
	return c == CommandSend || c == CommandMessage || c == CommandError
}

// Header is a single ordered (key, value) pair. Duplicates are legal within
// a Frame; lookup returns the first match.
type Header struct {
	Key   ByteString
	Value ByteString
}

// Frame is a fully parsed (or fully built) STOMP frame: a command, an
// ordered header list preserving duplicates, and an optional body.
type Frame struct {
	Command Command
	Headers []Header
	Body    ByteString
	hasBody bool
}

// NewFrame creates an empty frame for the given command.
func NewFrame(cmd Command) *Frame {
	return &Frame{Command: cmd}
}

// AppendHeader appends a header, preserving insertion order and duplicates.
func (f *Frame) AppendHeader(key, value ByteString) {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// PrependHeader inserts a header at the front of the list.
func (f *Frame) PrependHeader(key, value ByteString) {
	f.Headers = append([]Header{{Key: key, Value: value}}, f.Headers...)
}

// HeaderValue returns the value of the first header matching key, and
// whether one was found.
func (f *Frame) HeaderValue(key string) (ByteString, bool) {
	for _, h := range f.Headers {
		if h.Key.String() == key {
			return h.Value, true
		}
	}
	return ByteString{}, false
}

// EnsureBody marks the frame as having a (possibly empty) body and returns
// its current bytes, mirroring frame_ensure_body's lazy allocation.
func (f *Frame) EnsureBody() *ByteString {
	f.hasBody = true
	return &f.Body
}

// HasBody reports whether EnsureBody has been called (distinguishing "no
// body" from "empty body").
func (f *Frame) HasBody() bool { return f.hasBody }
