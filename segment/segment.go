// Package segment defines the in-memory representation of the messages
// exchanged between the sender and receiver halves of a connection, ahead
// of wire encoding (see package wire).
package segment

import "github.com/rdtproto/rdt/wrap32"

// Ackno is a sum type: either no acknowledgment is present (None), or a
// concrete wrapped sequence number (Value). The source's ackno field is a
// nullable wire value; this is its Go equivalent.
type Ackno struct {
	present bool
	value   wrap32.Wrap32
}

// NoAckno is the absent Ackno.
var NoAckno = Ackno{}

// SomeAckno constructs a present Ackno carrying value.
func SomeAckno(value wrap32.Wrap32) Ackno {
	return Ackno{present: true, value: value}
}

// Present reports whether an ackno value is carried.
func (a Ackno) Present() bool { return a.present }

// Value returns the carried wrap32 value; only meaningful when Present().
func (a Ackno) Value() wrap32.Wrap32 { return a.value }

// Sender is the segment a SenderHalf transmits: a wrapped sequence number,
// flags, and a payload.
type Sender struct {
	Seqno   wrap32.Wrap32
	SYN     bool
	FIN     bool
	RST     bool
	Payload []byte
}

// SequenceLength is payload length plus one for each of SYN and FIN.
func (s Sender) SequenceLength() int {
	n := len(s.Payload)
	if s.SYN {
		n++
	}
	if s.FIN {
		n++
	}
	return n
}

// Receiver is the segment a ReceiverHalf produces: an optional cumulative
// ackno, an advertised window, and a reset flag.
type Receiver struct {
	Ackno      Ackno
	WindowSize uint16
	RST        bool
}

// Message pairs a Sender segment with a Receiver segment: this is what
// actually crosses the wire as a single datagram (see package wire).
type Message struct {
	Sender   Sender
	Receiver Receiver
}
