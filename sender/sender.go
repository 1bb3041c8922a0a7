// Package sender implements the sending half of a connection: it drains
// an outbound ByteStream into sender-segments, tracks outstanding
// (unacknowledged) segments, and retransmits on a timer with exponential
// backoff.
package sender

import (
	"container/list"

	"github.com/rdtproto/rdt/bytestream"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wrap32"
)

// MaxPayloadSize is the largest payload a single outgoing segment carries.
const MaxPayloadSize = 1000

// MaxRetxAttempts is the recommended retransmission ceiling; breaching
// it is a fatal condition for the enclosing connection.
const MaxRetxAttempts = 8

// MaxRTO caps the exponential backoff of current_RTO.
const MaxRTO = 60000

// Transmit is called once per segment this half wants to send.
type Transmit func(segment.Sender)

// outstandingSegment is one entry of the outstanding FIFO: the absolute
// sequence number at which it starts, its wire form, and its sequence
// length (cached so pruning on ack doesn't need to recompute it).
type outstandingSegment struct {
	abs     uint64
	seqLen  int
	segment segment.Sender
}

// Half owns the outbound byte stream and the retransmission state machine
// for one direction of a connection.
type Half struct {
	outbound *bytestream.ByteStream

	isn          wrap32.Wrap32
	nextSeqno    uint64
	ackSeqno     uint64
	windowSize   uint16 // transmission-adjusted: max(peer window, 1)
	zeroWindow   bool
	finSeqno     uint64 // meaningful only once finScheduled is set
	finScheduled bool

	initialRTO    uint32
	currentRTO    uint32
	timeSinceSend uint32

	consecutiveRetx int

	outstanding *list.List // of *outstandingSegment, ordered by abs
}

// New creates a sending half over outbound, with the given initial
// sequence number and starting retransmission timeout.
func New(outbound *bytestream.ByteStream, isn wrap32.Wrap32, initialRTO uint32) *Half {
	return &Half{
		outbound:    outbound,
		isn:         isn,
		windowSize:  1,
		initialRTO:  initialRTO,
		currentRTO:  initialRTO,
		outstanding: list.New(),
	}
}

func (h *Half) synBit() int {
	if h.nextSeqno == 0 {
		return 1
	}
	return 0
}

// Push drains as much of the outbound stream as the peer's advertised
// window allows, transmitting each resulting segment.
func (h *Half) Push(transmit Transmit) {
	for {
		windowRightEdge := h.ackSeqno + uint64(max16(h.windowSize, 1))
		if h.nextSeqno >= windowRightEdge {
			return
		}

		var seg segment.Sender
		seg.SYN = h.nextSeqno == 0
		synBit := 0
		if seg.SYN {
			synBit = 1
		}

		if h.outbound.HasError() {
			seg.RST = true
		}

		remaining := windowRightEdge - h.nextSeqno - uint64(synBit)
		payloadLen := int(remaining)
		if payloadLen > MaxPayloadSize {
			payloadLen = MaxPayloadSize
		}
		if buffered := h.outbound.BytesBuffered(); payloadLen > buffered {
			payloadLen = buffered
		}
		if payloadLen < 0 {
			payloadLen = 0
		}

		seg.Payload = h.outbound.Peek(payloadLen)
		h.outbound.Pop(len(seg.Payload))

		if h.outbound.IsFinished() && !h.finScheduled {
			used := uint64(synBit + len(seg.Payload))
			if used+1 <= windowRightEdge-h.nextSeqno {
				seg.FIN = true
				h.finSeqno = h.nextSeqno + used
				h.finScheduled = true
			}
		}

		if seg.SequenceLength() == 0 {
			return
		}

		seg.Seqno = wrap32.Wrap(h.nextSeqno, h.isn)
		transmit(seg)

		h.outstanding.PushBack(&outstandingSegment{
			abs:     h.nextSeqno,
			seqLen:  seg.SequenceLength(),
			segment: seg,
		})
		h.nextSeqno += uint64(seg.SequenceLength())

		if seg.FIN {
			return
		}
	}
}

// Receive processes one inbound receiver-segment (ack/window report).
func (h *Half) Receive(msg segment.Receiver) {
	if msg.RST {
		h.outbound.SetError()
	}

	h.zeroWindow = msg.WindowSize == 0
	h.windowSize = max16(msg.WindowSize, 1)

	if !msg.Ackno.Present() {
		return
	}

	newAck := wrap32.Unwrap(msg.Ackno.Value(), h.isn, h.ackSeqno)

	if newAck > h.nextSeqno {
		// Impossible ack: peer claims to have received more than we
		// ever sent. Drop it, no state change.
		return
	}

	if newAck > h.ackSeqno {
		h.ackSeqno = newAck
		h.pruneAcknowledged()
		h.timeSinceSend = 0
		h.currentRTO = h.initialRTO
		h.consecutiveRetx = 0
	}
}

func (h *Half) pruneAcknowledged() {
	for e := h.outstanding.Front(); e != nil; {
		next := e.Next()
		seg := e.Value.(*outstandingSegment)
		if seg.abs+uint64(seg.seqLen) <= h.ackSeqno {
			h.outstanding.Remove(e)
		} else {
			break
		}
		e = next
	}
}

// Tick advances the retransmission timer by msElapsed milliseconds,
// retransmitting the earliest outstanding segment if current_RTO has
// elapsed. It returns true if the retransmission limit has just been
// exceeded, at which point the enclosing connection must fail.
func (h *Half) Tick(msElapsed uint32, transmit Transmit) bool {
	if h.outstanding.Len() == 0 {
		h.timeSinceSend = 0
		h.currentRTO = h.initialRTO
		return false
	}

	h.timeSinceSend += msElapsed
	if h.timeSinceSend < h.currentRTO {
		return false
	}

	front := h.outstanding.Front().Value.(*outstandingSegment)
	transmit(front.segment)

	h.consecutiveRetx++
	if !h.zeroWindow {
		h.currentRTO *= 2
		if h.currentRTO > MaxRTO {
			h.currentRTO = MaxRTO
		}
	}
	h.timeSinceSend = 0

	return h.consecutiveRetx > MaxRetxAttempts
}

// MakeEmptyMessage produces a segment carrying only the current sequence
// number (no payload, no SYN/FIN), used to acknowledge segments that
// consumed sequence space without producing outbound data of our own.
func (h *Half) MakeEmptyMessage() segment.Sender {
	seqno := h.nextSeqno
	if h.finScheduled && h.finSeqno < seqno {
		seqno = h.finSeqno
	}
	return segment.Sender{
		Seqno: wrap32.Wrap(seqno, h.isn),
		RST:   h.outbound.HasError(),
	}
}

// ConsecutiveRetransmissions reports the current retransmission streak.
func (h *Half) ConsecutiveRetransmissions() int { return h.consecutiveRetx }

// Outbound returns the byte stream the application writes to.
func (h *Half) Outbound() *bytestream.ByteStream { return h.outbound }

// BytesInFlight returns the number of outstanding, unacknowledged
// sequence numbers.
func (h *Half) BytesInFlight() uint64 { return h.nextSeqno - h.ackSeqno }

// NextSeqno returns the absolute sequence number of the next byte/flag
// this half will transmit; it is > 0 once SYN has been sent.
func (h *Half) NextSeqno() uint64 { return h.nextSeqno }

// AckSeqno returns the greatest absolute sequence number cumulatively
// acknowledged by the peer so far.
func (h *Half) AckSeqno() uint64 { return h.ackSeqno }

// FinSent reports whether this half has transmitted its FIN.
func (h *Half) FinSent() bool { return h.finScheduled }

// FinSeqno returns the absolute sequence number at which FIN was
// scheduled; only meaningful when FinSent is true.
func (h *Half) FinSeqno() uint64 { return h.finSeqno }

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
