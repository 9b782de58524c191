package protocol

// BufferCap is the server's per-connection receive buffer capacity. A
// connection that accumulates this many bytes without a frame terminator is
// violating the protocol and must be torn down; the cap bounds per-session
// memory.
//
// Server-emitted chat frames carry the stamped address and username on top
// of the relayed message body, so they can run slightly past BufferCap;
// clients reassembling server frames should size their buffer with
// NewFrameBufferSize accordingly.
const BufferCap = 1024

// FrameBuffer accumulates raw stream bytes for one connection and slices off
// complete '\n'-terminated frames as they become available. It tolerates any
// fragmentation of the byte stream: frames split across reads assemble
// exactly as if they had arrived whole.
//
// Internally it is an ordered byte queue over a fixed allocation: Next
// consumes from the front without moving memory, and Fill compacts pending
// bytes to the front only when the tail runs out of room.
//
// FrameBuffer is not safe for concurrent use; each connection's buffer is
// owned by the single goroutine that dispatches its frames.
type FrameBuffer struct {
	buf   []byte
	start int // first unconsumed byte
	end   int // one past the last buffered byte
}

// NewFrameBuffer returns an empty FrameBuffer with the protocol's standard
// BufferCap capacity.
func NewFrameBuffer() *FrameBuffer {
	return NewFrameBufferSize(BufferCap)
}

// NewFrameBufferSize returns an empty FrameBuffer with the given capacity.
//
// Parameters:
//   - capacity: Buffer capacity in bytes; must be positive
//
// Returns:
//   - An empty FrameBuffer
func NewFrameBufferSize(capacity int) *FrameBuffer {
	return &FrameBuffer{buf: make([]byte, capacity)}
}

// Fill appends bytes from p to the buffer, consuming at most the free
// capacity. Callers alternate Fill and Next: drain complete frames after
// every Fill, then Fill again with the unconsumed remainder of p.
//
// Parameters:
//   - p: Newly read stream bytes
//
// Returns:
//   - The number of bytes consumed from p
func (b *FrameBuffer) Fill(p []byte) int {
	if b.start > 0 && len(b.buf)-b.end < len(p) {
		copy(b.buf, b.buf[b.start:b.end])
		b.end -= b.start
		b.start = 0
	}

	n := copy(b.buf[b.end:], p)
	b.end += n
	return n
}

// Next slices one complete frame (up to and including its terminator) off
// the front of the buffer. The returned slice is only valid until the next
// call to Fill, which may compact the buffer; decode it before refilling.
//
// Returns:
//   - The frame bytes including the trailing terminator
//   - false if no complete frame is buffered
func (b *FrameBuffer) Next() ([]byte, bool) {
	for i := b.start; i < b.end; i++ {
		if b.buf[i] == Terminator {
			frame := b.buf[b.start : i+1]
			b.start = i + 1
			if b.start == b.end {
				b.start, b.end = 0, 0
			}

			return frame, true
		}
	}

	return nil, false
}

// Len returns the number of buffered bytes not yet resolved into a frame.
func (b *FrameBuffer) Len() int {
	return b.end - b.start
}

// Free returns the remaining capacity.
func (b *FrameBuffer) Free() int {
	return len(b.buf) - b.Len()
}

// Full reports whether the buffer is at capacity. A full buffer with no
// complete frame (Next returned false) is a fatal framing violation.
func (b *FrameBuffer) Full() bool {
	return b.Len() == len(b.buf)
}

// Reset discards all buffered bytes.
func (b *FrameBuffer) Reset() {
	b.start, b.end = 0, 0
}
