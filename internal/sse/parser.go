// ABOUTME: Chunk-boundary independent event-stream frame parser
// ABOUTME: Buffers partial input until a blank line closes the frame

package sse

import (
	"bytes"
	"strings"
)

// DefaultEvent is the event name used when a frame has no event line.
const DefaultEvent = "message"

// Frame is one delimited unit of the event stream.
type Frame struct {
	Event string
	Data  string
}

// Parser accumulates chunks and emits complete frames. The zero value is
// ready to use. A Parser is not safe for concurrent use; each transport
// session owns its own.
type Parser struct {
	buf []byte
}

var (
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
	delimiter = []byte("\n\n")
)

// Feed appends chunk to the carry-over buffer and returns every frame
// completed by it, in stream order.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)
	p.normalize()

	var frames []Frame
	for {
		i := bytes.Index(p.buf, delimiter)
		if i < 0 {
			break
		}
		block := string(p.buf[:i])
		p.buf = p.buf[i+len(delimiter):]
		if f, ok := parseBlock(block); ok {
			frames = append(frames, f)
		}
	}

	// Keep the remainder in a fresh slice so a long stream doesn't pin
	// every chunk it has ever seen.
	if len(p.buf) == 0 {
		p.buf = nil
	} else {
		p.buf = append([]byte(nil), p.buf...)
	}
	return frames
}

// Flush returns the buffered frame when the stream ended without a final
// blank line, and resets the parser.
func (p *Parser) Flush() []Frame {
	block := strings.TrimRight(string(p.buf), "\r\n")
	p.buf = nil
	if block == "" {
		return nil
	}
	if f, ok := parseBlock(block); ok {
		return []Frame{f}
	}
	return nil
}

// Buffered reports how many bytes are waiting for a delimiter.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// normalize rewrites CRLF line endings to LF. A trailing CR is kept because
// its LF may arrive in the next chunk.
func (p *Parser) normalize() {
	if bytes.IndexByte(p.buf, '\r') < 0 {
		return
	}
	tail := len(p.buf) > 0 && p.buf[len(p.buf)-1] == '\r'
	body := p.buf
	if tail {
		body = body[:len(body)-1]
	}
	out := bytes.ReplaceAll(body, crlf, lf)
	if tail {
		out = append(out, '\r')
	}
	p.buf = out
}

// parseBlock decodes one frame. Blocks without data lines are dropped.
func parseBlock(block string) (Frame, bool) {
	f := Frame{Event: DefaultEvent}
	var data []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			if name := strings.TrimSpace(strings.TrimPrefix(line, "event:")); name != "" {
				f.Event = name
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	f.Data = strings.Join(data, "\n")
	return f, true
}
