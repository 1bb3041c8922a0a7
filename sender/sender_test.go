package sender

import (
	"testing"

	"github.com/rdtproto/rdt/bytestream"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wrap32"
)

func collectTransmit(dst *[]segment.Sender) Transmit {
	return func(s segment.Sender) { *dst = append(*dst, s) }
}

func TestInitialPushSendsSYN(t *testing.T) {
	out := bytestream.New(64)
	h := New(out, wrap32.Wrap32(45535), 1000)
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))
	if len(sent) != 1 || !sent[0].SYN {
		t.Fatalf("sent = %+v, want one SYN segment", sent)
	}
	if sent[0].Seqno != wrap32.Wrap32(45535) {
		t.Fatalf("seqno = %v, want 45535", sent[0].Seqno)
	}
}

func TestPushRespectsWindow(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("0123456789"))
	h := New(out, wrap32.Wrap32(0), 1000)
	h.windowSize = 4 // tiny advertised window, including the SYN byte
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))
	if len(sent) != 1 {
		t.Fatalf("sent = %d segments, want 1", len(sent))
	}
	if len(sent[0].Payload) != 3 {
		t.Fatalf("payload len = %d, want 3 (4 - 1 SYN)", len(sent[0].Payload))
	}
}

func TestFinScheduledWhenStreamFinishes(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("hi"))
	out.Close()
	h := New(out, wrap32.Wrap32(0), 1000)
	h.windowSize = 64
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))
	if len(sent) != 1 || !sent[0].SYN || !sent[0].FIN {
		t.Fatalf("sent = %+v, want single SYN+FIN segment", sent)
	}
}

func TestRetransmissionAfterInitialRTO(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("a"))
	h := New(out, wrap32.Wrap32(0), 1000)
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))
	sent = nil

	if fatal := h.Tick(999, collectTransmit(&sent)); fatal || len(sent) != 0 {
		t.Fatalf("retransmitted too early: sent=%v", sent)
	}
	if fatal := h.Tick(1, collectTransmit(&sent)); fatal || len(sent) != 1 {
		t.Fatalf("expected exactly one retransmission at RTO boundary, got %v", sent)
	}
	if h.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("consecutiveRetx = %d, want 1", h.ConsecutiveRetransmissions())
	}
	if h.currentRTO != 2000 {
		t.Fatalf("currentRTO = %d, want 2000", h.currentRTO)
	}
}

func TestCumulativeAckResetsTimerAndPrunesOutstanding(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("abcdefghij"))
	h := New(out, wrap32.Wrap32(0), 1000)
	h.windowSize = 1
	var sent []segment.Sender
	// Widen the window so the SYN and all ten bytes go out in one segment.
	h.windowSize = 16
	h.Push(collectTransmit(&sent))
	if len(sent) == 0 {
		t.Fatal("nothing sent")
	}
	h.Tick(1000, collectTransmit(&sent))
	if h.consecutiveRetx == 0 {
		t.Fatal("expected a retransmission to have occurred")
	}

	// Ack everything sent so far.
	ackAbs := h.nextSeqno
	h.Receive(segment.Receiver{Ackno: segment.SomeAckno(wrap32.Wrap(ackAbs, h.isn)), WindowSize: 16})

	if h.outstanding.Len() != 0 {
		t.Fatalf("outstanding.Len() = %d, want 0", h.outstanding.Len())
	}
	if h.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("consecutiveRetx = %d, want 0 after new ack", h.ConsecutiveRetransmissions())
	}
	if h.currentRTO != h.initialRTO {
		t.Fatalf("currentRTO = %d, want reset to initialRTO %d", h.currentRTO, h.initialRTO)
	}
}

func TestImpossibleAckIgnored(t *testing.T) {
	out := bytestream.New(64)
	h := New(out, wrap32.Wrap32(0), 1000)
	var sent []segment.Sender
	h.Push(collectTransmit(&sent)) // sends SYN only, nextSeqno becomes 1

	beforeAck := h.ackSeqno
	// Claim an ack far beyond anything ever sent.
	h.Receive(segment.Receiver{Ackno: segment.SomeAckno(wrap32.Wrap(1000, h.isn)), WindowSize: 64})
	if h.ackSeqno != beforeAck {
		t.Fatalf("ackSeqno changed on impossible ack: %d -> %d", beforeAck, h.ackSeqno)
	}
}

func TestZeroWindowProbeDoesNotBackOff(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("x"))
	h := New(out, wrap32.Wrap32(0), 1000)
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))

	h.Receive(segment.Receiver{WindowSize: 0})
	if !h.zeroWindow {
		t.Fatal("zeroWindow not set")
	}

	h.Tick(1000, collectTransmit(&sent))
	if h.currentRTO != h.initialRTO {
		t.Fatalf("currentRTO backed off during zero-window probe: %d", h.currentRTO)
	}
}

func TestRetxLimitBreach(t *testing.T) {
	out := bytestream.New(64)
	out.Push([]byte("x"))
	h := New(out, wrap32.Wrap32(0), 1)
	var sent []segment.Sender
	h.Push(collectTransmit(&sent))

	var fatal bool
	for i := 0; i < MaxRetxAttempts+1 && !fatal; i++ {
		fatal = h.Tick(h.currentRTO, collectTransmit(&sent))
	}
	if !fatal {
		t.Fatal("expected retransmission limit breach to be reported fatal")
	}
	if h.ConsecutiveRetransmissions() != MaxRetxAttempts+1 {
		t.Fatalf("consecutiveRetx = %d, want %d", h.ConsecutiveRetransmissions(), MaxRetxAttempts+1)
	}
}
