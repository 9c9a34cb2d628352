package protocol

import (
	"bytes"
	"fmt"
)

// DefaultMaxFrameSize bounds buffered bytes while waiting for a terminator.
// Events with an attached JPEG are the largest frames seen in practice.
const DefaultMaxFrameSize = 4 << 20

var (
	frameStart = []byte("\r{")
	frameEnd   = []byte("}\n")
)

// Frame is one delimited unit extracted from the byte stream.
// Err is set when the frame could not be decoded; Raw is kept for logging.
type Frame struct {
	Message *Message
	Raw     []byte
	Err     error
}

// Framer extracts frames from an arbitrarily chunked byte stream.
//
// A frame starts at "\r{" and ends at the first "}\n" after it. When
// several starts precede a terminator the last one wins: a raw CR cannot
// appear inside JSON text, so earlier bytes belong to a truncated frame.
// The buffer always advances past a terminator, whether or not the frame
// decodes, so one corrupt frame never blocks the stream.
//
// Thread Safety:
//   - Not safe for concurrent use; the Client serializes calls to Feed.
type Framer struct {
	buf     []byte
	maxSize int
}

// NewFramer creates a framer. maxSize <= 0 selects DefaultMaxFrameSize.
func NewFramer(maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Framer{maxSize: maxSize}
}

// Feed appends p and returns every frame completed by it, in stream order.
func (f *Framer) Feed(p []byte) []Frame {
	f.buf = append(f.buf, p...)

	var frames []Frame
	for {
		end := bytes.Index(f.buf, frameEnd)
		if end < 0 {
			break
		}

		start := bytes.LastIndex(f.buf[:end], frameStart)
		if start < 0 {
			// Terminator with no opening marker: line noise.
			f.buf = f.buf[end+len(frameEnd):]
			continue
		}

		raw := make([]byte, end+1-(start+1))
		copy(raw, f.buf[start+1:end+1])
		f.buf = f.buf[end+len(frameEnd):]

		msg, err := ParseMessage(raw)
		frames = append(frames, Frame{Message: msg, Raw: raw, Err: err})
	}

	f.compact()

	if len(f.buf) > f.maxSize {
		frames = append(frames, Frame{
			Err: fmt.Errorf("%w: %d bytes without terminator", ErrFrameTooLarge, len(f.buf)),
		})
		f.buf = f.buf[:0]
	}

	return frames
}

// compact drops bytes that can never become part of a frame.
func (f *Framer) compact() {
	if i := bytes.LastIndex(f.buf, frameStart); i >= 0 {
		f.buf = append(f.buf[:0], f.buf[i:]...)
		return
	}
	// Keep a trailing CR: the next chunk may start with '{'.
	if n := len(f.buf); n > 0 && f.buf[n-1] == '\r' {
		f.buf = append(f.buf[:0], '\r')
		return
	}
	f.buf = f.buf[:0]
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards any partial frame.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
