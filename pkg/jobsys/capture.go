package jobsys

import "fmt"

// DefaultOutputLimit bounds the captured bytes per output stream.
const DefaultOutputLimit = 64 * 1024

// boundedBuffer keeps the first limit bytes written to it and counts the
// rest. The excess is never dropped silently; Bytes appends a marker.
type boundedBuffer struct {
	limit   int
	buf     []byte
	dropped int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		b.buf = append(b.buf, p[:room]...)
	}
	b.dropped += int64(len(p) - room)
	return len(p), nil
}

// Bytes returns the captured output with a truncation marker when the limit
// was exceeded.
func (b *boundedBuffer) Bytes() []byte {
	if b.dropped == 0 {
		return b.buf
	}

	marker := fmt.Sprintf("\n[output truncated, %d bytes dropped]\n", b.dropped)
	return append(b.buf, marker...)
}
