package wire

import (
	"fmt"

	"odin-stomp/internal/iobuf"
)

// Wire-format size limits, enforced as the corresponding parser state
// consumes bytes rather than after the fact.
const (
	LimitFrameCmdLineLen    = 32
	LimitFrameHeaderLineLen = 8192
	LimitFrameHeaderCount   = 128
	LimitFrameBodyLen       = 10 * 1024 * 1024
)

// lengthUnknown marks a body read-until-NUL (no content-length header).
const lengthUnknown = -1

type parserState int

const (
	stateIdle parserState = iota
	stateCommand
	stateHeader
	stateBody
	stateEnd
	stateError
)

// Outcome is the result of one Parser.Parse call.
type Outcome int

const (
	OutcomeWaiting Outcome = iota
	OutcomeFrame
	OutcomeError
)

// Parser is the streaming STOMP frame state machine. It consumes bytes
// from an iobuf.Buffer as progress allows and buffers exactly one finished
// frame until the caller retrieves it with Frame().
type Parser struct {
	state      parserState
	lengthLeft int
	curFrame   *Frame
	finFrame   *Frame
	err        string
}

// NewParser creates a Parser in the IDLE state.
func NewParser() *Parser {
	return &Parser{state: stateIdle, lengthLeft: lengthUnknown}
}

// Err returns the first recorded parse error, if any.
func (p *Parser) Err() string { return p.err }

// Frame returns and clears the pending finished frame, or nil if none is
// ready.
func (p *Parser) Frame() *Frame {
	f := p.finFrame
	p.finFrame = nil
	return f
}

func (p *Parser) setError(format string, args ...any) {
	p.state = stateError
	if p.err != "" {
		return // only the first error is kept
	}
	p.err = fmt.Sprintf(format, args...)
}

// Parse drives the state machine as far as the buffer's contents allow,
// compacting the buffer afterward. Call Frame() to retrieve a finished
// frame after an OutcomeFrame result.
func (p *Parser) Parse(b *iobuf.Buffer) Outcome {
	for b.Len() > 0 {
		if !p.step(b) {
			break
		}
	}
	b.Compact()

	switch {
	case p.state == stateError:
		return OutcomeError
	case p.finFrame != nil:
		return OutcomeFrame
	default:
		return OutcomeWaiting
	}
}

// step advances one state transition. Returns true iff progress was made.
func (p *Parser) step(b *iobuf.Buffer) bool {
	switch p.state {
	case stateError:
		return false
	case stateIdle:
		return p.stepIdle(b)
	case stateCommand:
		return p.stepCommand(b)
	case stateHeader:
		return p.stepHeader(b)
	case stateBody:
		return p.stepBody(b)
	case stateEnd:
		return p.stepEnd(b)
	default:
		panic("wire: unreachable parser state")
	}
}

func (p *Parser) stepIdle(b *iobuf.Buffer) bool {
	switch b.ByteAt(0) {
	case '\r':
		if b.Len() < 2 {
			return false
		}
		if b.ByteAt(1) != '\n' {
			p.setError("expected 0x0A after 0x0D, got 0x%02X", b.ByteAt(1))
			return false
		}
		b.Consume(2)
		return true
	case '\n':
		b.Consume(1)
		return true
	default:
		p.state = stateCommand
		return true
	}
}

func (p *Parser) stepCommand(b *iobuf.Buffer) bool {
	lf := b.FindByte('\n')
	if lf < 0 {
		if b.Len() > LimitFrameCmdLineLen {
			p.setError("command line length limit exceeded")
		}
		return false
	}

	line := lf
	if line > 0 && b.ByteAt(line-1) == '\r' {
		line--
	}
	name := append([]byte(nil), b.Bytes()[:line]...)
	b.Consume(lf + 1)

	cmd := CommandFromName(name)
	if cmd == CommandNone {
		p.setError("unknown command")
		return false
	}

	if p.curFrame == nil {
		p.curFrame = NewFrame(cmd)
	} else {
		p.curFrame.Command = cmd
	}
	p.state = stateHeader
	return true
}

func (p *Parser) stepHeader(b *iobuf.Buffer) bool {
	lf := b.FindByte('\n')
	if lf < 0 {
		if b.Len() > LimitFrameHeaderLineLen {
			p.setError("header line length limit exceeded")
		}
		return false
	}

	if lf == 0 {
		b.Consume(1)
		p.headersComplete()
		return true
	}
	if lf == 1 && b.ByteAt(0) == '\r' {
		b.Consume(2)
		p.headersComplete()
		return true
	}

	line := lf
	if b.ByteAt(line-1) == '\r' {
		line--
	}

	colon := -1
	for i := 0; i < line; i++ {
		if b.ByteAt(i) == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		p.setError("expected colon delimiter on header line")
		return false
	}
	if colon == 0 {
		p.setError("header name has zero length")
		return false
	}

	if len(p.curFrame.Headers) >= LimitFrameHeaderCount {
		p.setError("header count limit exceeded")
		return false
	}

	rawKey := append([]byte(nil), b.Bytes()[:colon]...)
	rawVal := append([]byte(nil), b.Bytes()[colon+1:line]...)
	b.Consume(lf + 1)

	skipUnescape := p.curFrame.Command == CommandConnect || p.curFrame.Command == CommandConnected

	var key, val ByteString
	var ok bool
	if skipUnescape {
		key, val = NewByteString(rawKey), NewByteString(rawVal)
		ok = true
	} else {
		key, ok = unescapeHeader(rawKey)
		if ok {
			val, ok = unescapeHeader(rawVal)
		}
	}
	if !ok {
		p.setError("invalid escape sequence in header")
		return false
	}

	p.curFrame.AppendHeader(key, val)
	return true
}

// headersComplete decides whether a body follows and, if so, how long it
// is expected to be.
func (p *Parser) headersComplete() {
	if !p.curFrame.Command.HasBody() {
		p.state = stateEnd
		return
	}

	cl, ok := p.curFrame.HeaderValue("content-length")
	if !ok {
		p.lengthLeft = lengthUnknown
		p.state = stateBody
		return
	}

	value, ok := parseNonNegativeInt(cl.Bytes())
	if !ok {
		p.setError("contents of 'content-length' header is not a valid number")
		return
	}
	if value > LimitFrameBodyLen {
		p.setError("value of 'content-length' header is out of range")
		return
	}
	p.lengthLeft = value
	p.state = stateBody
}

func (p *Parser) stepBody(b *iobuf.Buffer) bool {
	body := p.curFrame.EnsureBody()

	if p.lengthLeft == lengthUnknown {
		nul := b.FindByte(0)
		if nul < 0 {
			n := b.Len()
			*body = ByteString{b: append(body.b, b.Bytes()...)}
			b.Consume(n)
			return true
		}
		if nul > 0 {
			*body = ByteString{b: append(body.b, b.Bytes()[:nul]...)}
		}
		b.Consume(nul)
		p.state = stateEnd
		return true
	}

	count := b.Len()
	if p.lengthLeft < count {
		count = p.lengthLeft
	}
	*body = ByteString{b: append(body.b, b.Bytes()[:count]...)}
	b.Consume(count)
	p.lengthLeft -= count
	if p.lengthLeft == 0 {
		p.state = stateEnd
	}
	return true
}

func (p *Parser) stepEnd(b *iobuf.Buffer) bool {
	if p.finFrame != nil {
		return false // previous finished frame not yet retrieved
	}
	if b.ByteAt(0) != 0 {
		p.setError("expected trailing NUL at end of frame")
		return false
	}
	b.Consume(1)

	p.finFrame = p.curFrame
	p.curFrame = nil
	p.lengthLeft = lengthUnknown
	p.state = stateIdle
	return true
}

// unescapeHeader applies \n \r \c \\ unescaping, returning ok=false on any
// other backslash sequence.
func unescapeHeader(in []byte) (ByteString, bool) {
	if len(in) == 0 {
		return ByteString{}, true
	}

	bsIdx := -1
	for i, c := range in {
		if c == '\\' {
			bsIdx = i
			break
		}
	}
	if bsIdx < 0 {
		return NewByteString(in), true
	}

	out := make([]byte, 0, len(in))
	pos := 0
	for pos < len(in) {
		bs := -1
		for i := pos; i < len(in); i++ {
			if in[i] == '\\' {
				bs = i
				break
			}
		}
		if bs < 0 {
			out = append(out, in[pos:]...)
			break
		}
		out = append(out, in[pos:bs]...)
		if bs+1 >= len(in) {
			return ByteString{}, false
		}
		switch in[bs+1] {
		case '\\':
			out = append(out, '\\')
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case 'c':
			out = append(out, ':')
		default:
			return ByteString{}, false
		}
		pos = bs + 2
	}
	return ByteString{b: out}, true
}

// parseNonNegativeInt parses an ASCII decimal integer strictly (no sign, no
// leading/trailing junk), matching content-length's validation.
func parseNonNegativeInt(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > LimitFrameBodyLen*10 {
			return 0, false // guard against overflow on pathological input
		}
	}
	return n, true
}
