// Package wire implements the 14-byte fixed header + payload encoding:
//
//	seqno(32) | ackno(32) | payload_len(16) | window_size(16) | sender_flags(8) | receiver_flags(8) | payload
//
// All integers are big-endian. ackno==0 on the wire means "absent"; a
// legitimate ackno of zero never occurs because isn is never zero for a
// well-behaved peer (the connection's ISN is chosen to avoid it, see
// rconn.New).
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wrap32"
)

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 14

// MaxPayloadSize is the largest payload a single segment may carry.
const MaxPayloadSize = 1000

// MaxDatagramSize is the largest datagram this protocol ever transmits.
const MaxDatagramSize = 1500

const (
	senderFlagRST = 1 << 0
	senderFlagFIN = 1 << 1
	senderFlagSYN = 1 << 2

	receiverFlagRST = 1 << 0
)

// ErrMalformed is returned by Unmarshal for a segment shorter than
// HeaderSize or carrying an impossible payload_len. Such segments are
// dropped silently by the caller, never surfaced as a connection-level
// error.
var ErrMalformed = errors.New("wire: malformed segment")

// Marshal encodes msg into a newly allocated buffer ready for
// transmission.
func Marshal(msg segment.Message) []byte {
	buf := make([]byte, HeaderSize+len(msg.Sender.Payload))
	marshalInto(buf, msg)
	return buf
}

// MarshalInto encodes msg into dst, which must have len(dst) >=
// HeaderSize+len(msg.Sender.Payload), and returns the number of bytes
// written.
func MarshalInto(dst []byte, msg segment.Message) int {
	need := HeaderSize + len(msg.Sender.Payload)
	if len(dst) < need {
		panic("wire: destination buffer too small")
	}
	marshalInto(dst[:need], msg)
	return need
}

func marshalInto(buf []byte, msg segment.Message) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(msg.Sender.Seqno))

	// A genuine wrapped ackno of zero is indistinguishable from "absent"
	// on the wire; well-behaved peers never produce one because isn != 0
	// (see rconn.New).
	var ackno uint32
	if msg.Receiver.Ackno.Present() {
		ackno = uint32(msg.Receiver.Ackno.Value())
	}
	binary.BigEndian.PutUint32(buf[4:8], ackno)

	binary.BigEndian.PutUint16(buf[8:10], uint16(len(msg.Sender.Payload)))
	binary.BigEndian.PutUint16(buf[10:12], msg.Receiver.WindowSize)

	var senderFlags byte
	if msg.Sender.SYN {
		senderFlags |= senderFlagSYN
	}
	if msg.Sender.FIN {
		senderFlags |= senderFlagFIN
	}
	if msg.Sender.RST {
		senderFlags |= senderFlagRST
	}
	buf[12] = senderFlags

	var receiverFlags byte
	if msg.Receiver.RST {
		receiverFlags |= receiverFlagRST
	}
	buf[13] = receiverFlags

	copy(buf[HeaderSize:], msg.Sender.Payload)
}

// Unmarshal decodes a wire-format datagram. It returns ErrMalformed for
// anything shorter than the fixed header or with an inconsistent
// payload_len; callers should drop such datagrams rather than propagate
// the error into connection state.
func Unmarshal(data []byte) (segment.Message, error) {
	if len(data) < HeaderSize {
		return segment.Message{}, ErrMalformed
	}

	seqno := wrap32.Wrap32(binary.BigEndian.Uint32(data[0:4]))
	ackno := binary.BigEndian.Uint32(data[4:8])
	payloadLen := int(binary.BigEndian.Uint16(data[8:10]))
	windowSize := binary.BigEndian.Uint16(data[10:12])
	senderFlags := data[12]
	receiverFlags := data[13]

	if HeaderSize+payloadLen != len(data) {
		return segment.Message{}, ErrMalformed
	}

	var ackField segment.Ackno
	if ackno != 0 {
		ackField = segment.SomeAckno(wrap32.Wrap32(ackno))
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderSize:])

	msg := segment.Message{
		Sender: segment.Sender{
			Seqno:   seqno,
			SYN:     senderFlags&senderFlagSYN != 0,
			FIN:     senderFlags&senderFlagFIN != 0,
			RST:     senderFlags&senderFlagRST != 0,
			Payload: payload,
		},
		Receiver: segment.Receiver{
			Ackno:      ackField,
			WindowSize: windowSize,
			RST:        receiverFlags&receiverFlagRST != 0,
		},
	}
	return msg, nil
}
