// Package receiver implements the receiving half of a connection: it
// consumes inbound sender-segments, feeds them to a Reassembler, and
// produces the receiver-segments (ack/window/rst) the peer needs.
package receiver

import (
	"github.com/rdtproto/rdt/bytestream"
	"github.com/rdtproto/rdt/reassembler"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wrap32"
)

// MaxWindowSize is the largest window this half ever advertises.
const MaxWindowSize = 65535

// Half owns the inbound byte stream and reassembler for one direction of a
// connection, tracking just enough state to interpret peer sequence
// numbers and produce outgoing acks.
type Half struct {
	inbound     *bytestream.ByteStream
	reassembler *reassembler.Reassembler

	isn         wrap32.Wrap32
	synReceived bool
	finReceived bool

	// capacity is the output stream's capacity, capped at MaxWindowSize
	// for window-advertisement purposes.
	capacity int
}

// New creates a receiving half whose reassembler drains into inbound.
func New(inbound *bytestream.ByteStream, capacity int) *Half {
	if capacity > MaxWindowSize {
		capacity = MaxWindowSize
	}
	return &Half{
		inbound:     inbound,
		reassembler: reassembler.New(inbound),
		capacity:    capacity,
	}
}

// Receive processes one inbound sender-segment.
func (h *Half) Receive(msg segment.Sender) {
	if msg.RST {
		h.inbound.SetError()
		return
	}
	if msg.SYN {
		h.isn = msg.Seqno
		h.synReceived = true
	}
	if !h.synReceived {
		return
	}

	checkpoint := h.inbound.BytesPushed() + 1
	absolute := wrap32.Unwrap(msg.Seqno, h.isn, checkpoint)

	var streamIndex uint64
	if absolute > 0 {
		streamIndex = absolute - 1
	}
	if msg.SYN {
		streamIndex = 0
	}

	h.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)

	if msg.FIN {
		h.finReceived = true
	}
}

// Send produces the receiver-segment describing this half's current ack
// and window state.
func (h *Half) Send() segment.Receiver {
	var ackno segment.Ackno
	if h.synReceived {
		n := h.inbound.BytesPushed() + 1
		if h.inbound.IsFinished() {
			n++
		}
		ackno = segment.SomeAckno(wrap32.Wrap(n, h.isn))
	}

	window := h.capacity - h.inbound.BytesBuffered()
	if window < 0 {
		window = 0
	}
	if window > MaxWindowSize {
		window = MaxWindowSize
	}

	return segment.Receiver{
		Ackno:      ackno,
		WindowSize: uint16(window),
		RST:        h.reassembler.HasError(),
	}
}

// SynReceived reports whether this half has learned the peer's ISN.
func (h *Half) SynReceived() bool { return h.synReceived }

// FinReceived reports whether this half has observed the peer's FIN.
func (h *Half) FinReceived() bool { return h.finReceived }

// Inbound returns the byte stream the application reads from.
func (h *Half) Inbound() *bytestream.ByteStream { return h.inbound }
