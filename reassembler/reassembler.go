// Package reassembler implements an out-of-order byte reassembly window:
// arbitrary-indexed byte segments go in, a contiguous ordered byte
// stream comes out.
package reassembler

import "github.com/rdtproto/rdt/bytestream"

// Reassembler owns a sliding window of absolute byte indices starting at
// firstUnassembled. Its available width at any instant is the output
// stream's available capacity; the internal buffer/bitmap are preallocated
// to the stream's full capacity (an upper bound on that width) so they
// never need resizing mid-flight.
type Reassembler struct {
	output *bytestream.ByteStream

	firstUnassembled uint64
	buf              []byte
	present          []bool

	pendingEOF bool
}

// New creates a Reassembler that drains into output. output must be freshly
// constructed (nothing pushed yet): its available capacity at this moment
// is taken as the reassembler's fixed buffer size.
func New(output *bytestream.ByteStream) *Reassembler {
	capacity := output.AvailableCapacity()
	return &Reassembler{
		output:  output,
		buf:     make([]byte, capacity),
		present: make([]bool, capacity),
	}
}

// Insert merges a byte segment [firstIndex, firstIndex+len(data)) into the
// window, draining whatever contiguous prefix results, and closes the
// output stream once EOF has been both seen and fully drained.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	windowSize := r.output.AvailableCapacity()
	windowEnd := r.firstUnassembled + uint64(windowSize)

	// Case 1: entirely beyond the window (with an is_last-at-right-edge
	// exception).
	beyondWindow := firstIndex >= windowEnd
	rightEdgeProbe := isLast && len(data) == 0 && firstIndex == windowEnd
	if beyondWindow && !rightEdgeProbe {
		return
	}

	segStart := firstIndex
	segEnd := firstIndex + uint64(len(data))

	// EOF is only remembered if the segment's right edge fits inside the
	// window; a clipped FIN will be retransmitted once the window admits it.
	if isLast && segEnd <= windowEnd {
		r.pendingEOF = true
	}

	// Case 2: entirely already assembled. Nothing to write, but a
	// retransmitted FIN whose bytes have all been delivered still closes
	// the stream via the pendingEOF set above.
	if segEnd <= r.firstUnassembled {
		if r.pendingEOF && r.countPendingLocked() == 0 {
			r.output.Close()
		}
		return
	}

	// Clip to [max(firstIndex, U), min(firstIndex+len(data), U+W)).
	clippedStart := segStart
	if clippedStart < r.firstUnassembled {
		clippedStart = r.firstUnassembled
	}
	clippedEnd := segEnd
	if clippedEnd > windowEnd {
		clippedEnd = windowEnd
	}

	for i := clippedStart; i < clippedEnd; i++ {
		offset := i - r.firstUnassembled
		if !r.present[offset] {
			r.buf[offset] = data[i-segStart]
			r.present[offset] = true
		}
	}

	r.drain()

	if r.pendingEOF && r.countPendingLocked() == 0 {
		r.output.Close()
	}
}

// drain pushes the longest contiguous true prefix of the window to output,
// advances firstUnassembled past it, and refills the tail of buf/present so
// both stay at their fixed preallocated length.
func (r *Reassembler) drain() {
	n := 0
	for n < len(r.present) && r.present[n] {
		n++
	}
	if n == 0 {
		return
	}
	r.output.Push(r.buf[:n])
	r.firstUnassembled += uint64(n)

	size := len(r.buf)
	newBuf := make([]byte, size)
	newPresent := make([]bool, size)
	copy(newBuf, r.buf[n:])
	copy(newPresent, r.present[n:])
	r.buf = newBuf
	r.present = newPresent
}

// CountBytesPending returns the number of bytes currently held in the
// window (bitmap-true positions not yet drained).
func (r *Reassembler) CountBytesPending() int {
	return r.countPendingLocked()
}

func (r *Reassembler) countPendingLocked() int {
	n := 0
	for _, p := range r.present {
		if p {
			n++
		}
	}
	return n
}

// FirstUnassembled returns the absolute index of the first byte not yet
// delivered to output.
func (r *Reassembler) FirstUnassembled() uint64 { return r.firstUnassembled }

// HasError reports whether the output stream has been marked errored.
func (r *Reassembler) HasError() bool { return r.output.HasError() }

// SetError marks the output stream errored.
func (r *Reassembler) SetError() { r.output.SetError() }
