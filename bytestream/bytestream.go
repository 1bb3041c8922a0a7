// Package bytestream implements ByteStream, a bounded FIFO of octets with
// a single writer and a single reader. It backs both halves of a
// connection: the outbound stream feeds SenderHalf, the inbound stream is
// fed by ReceiverHalf via the Reassembler.
package bytestream

import (
	"sync"

	"github.com/rdtproto/rdt/ringbuf"
)

// ByteStream is a bounded, writer-closes/reader-drains FIFO of bytes.
//
// It is safe for concurrent use by exactly one writer goroutine and one
// reader goroutine (kcp-go's UDPSession.Read/Write notification channels
// motivate the optional readReady/writeReady channels below; the core operations
// themselves only need a mutex).
type ByteStream struct {
	mu       sync.Mutex
	buf      *ringbuf.RingBuffer
	capacity int
	closed   bool
	errored  bool

	pushed uint64
	popped uint64

	// readReady/writeReady are optional edge-triggered notifications: a
	// blocking Read/Write on a higher layer (the socket package) can wait
	// on these instead of polling. They are not part of the core FIFO's
	// functional contract.
	readReady  chan struct{}
	writeReady chan struct{}
}

// New creates a ByteStream able to buffer up to capacity bytes.
func New(capacity int) *ByteStream {
	return &ByteStream{
		buf:        ringbuf.New(capacity),
		capacity:   capacity,
		readReady:  make(chan struct{}, 1),
		writeReady: make(chan struct{}, 1),
	}
}

// Push appends data to the stream. It fails if the stream is closed or if
// data does not fit within the available capacity; on failure the stream
// is left unmodified.
func (s *ByteStream) Push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(data) > s.availableCapacityLocked() {
		return ErrCapacityExceeded
	}
	if len(data) == 0 {
		return nil
	}
	s.buf.Push(data)
	s.pushed += uint64(len(data))
	s.notify(s.readReady)
	return nil
}

// Close idempotently marks the stream as closed: no more bytes may be
// pushed, but already-buffered bytes may still be popped.
func (s *ByteStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notify(s.readReady)
}

// AvailableCapacity returns capacity - buffered.
func (s *ByteStream) AvailableCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableCapacityLocked()
}

func (s *ByteStream) availableCapacityLocked() int {
	return s.capacity - s.buf.Len()
}

// Peek returns up to min(n, buffered) bytes without removing them.
func (s *ByteStream) Peek(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Peek(n)
}

// Pop removes and returns up to min(n, buffered) bytes.
func (s *ByteStream) Pop(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf.Pop(n)
	s.popped += uint64(len(out))
	s.notify(s.writeReady)
	return out
}

// IsClosed reports whether Close has been called.
func (s *ByteStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// IsFinished reports whether the stream is closed and fully drained.
func (s *ByteStream) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.buf.Len() == 0
}

// SetError latches the sticky error flag.
func (s *ByteStream) SetError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = true
	s.notify(s.readReady)
	s.notify(s.writeReady)
}

// HasError reports the sticky error flag.
func (s *ByteStream) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errored
}

// BytesPushed returns the monotone total of bytes ever pushed.
func (s *ByteStream) BytesPushed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// BytesPopped returns the monotone total of bytes ever popped.
func (s *ByteStream) BytesPopped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popped
}

// BytesBuffered returns the number of bytes currently buffered.
func (s *ByteStream) BytesBuffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// ReadReady returns the channel a blocking reader can wait on; it is
// signaled at least once after every event that could make a read
// possible (data pushed, stream closed, error set).
func (s *ByteStream) ReadReady() <-chan struct{} { return s.readReady }

// WriteReady returns the channel a blocking writer can wait on; it is
// signaled at least once after every event that could make a write
// possible (data popped, error set).
func (s *ByteStream) WriteReady() <-chan struct{} { return s.writeReady }

func (s *ByteStream) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
