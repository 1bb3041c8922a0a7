package rconn

import (
	"testing"

	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wrap32"
)

func collect(dst *[]segment.Message) Transmit {
	return func(m segment.Message) { *dst = append(*dst, m) }
}

// TestThreeWayHandshake exercises a full SYN/SYN-ACK/ACK handshake
// between two Connections.
func TestThreeWayHandshake(t *testing.T) {
	cfgA := DefaultConfig()
	cfgA.ISN = wrap32.Wrap32(45535)
	a := New(cfgA, true)

	cfgB := DefaultConfig()
	cfgB.ISN = wrap32.Wrap32(65535 - 1) // arbitrary distinct ISN for B
	b := New(cfgB, false)

	var fromA, fromB []segment.Message
	a.Push(collect(&fromA))
	if len(fromA) != 1 || !fromA[0].Sender.SYN || fromA[0].Sender.Seqno != wrap32.Wrap32(45535) {
		t.Fatalf("A's opening segment = %+v", fromA)
	}

	b.Receive(fromA[0], collect(&fromB))
	if b.State() != SynRcvd {
		t.Fatalf("B state = %v, want SYN_RCVD", b.State())
	}
	if len(fromB) != 1 || !fromB[0].Sender.SYN || !fromB[0].Receiver.Ackno.Present() {
		t.Fatalf("B's reply = %+v", fromB)
	}

	fromA = nil
	a.Receive(fromB[0], collect(&fromA))
	if a.State() != Established {
		t.Fatalf("A state = %v, want ESTABLISHED", a.State())
	}
	if len(fromA) != 1 {
		t.Fatalf("A's ack of B's SYN = %+v", fromA)
	}

	fromB = nil
	b.Receive(fromA[0], collect(&fromB))
	if b.State() != Established {
		t.Fatalf("B state = %v, want ESTABLISHED", b.State())
	}
}

func handshake(t *testing.T, a, b *Connection) {
	t.Helper()
	var buf []segment.Message
	a.Push(collect(&buf))
	b.Receive(buf[0], collect(&buf))
	buf = buf[1:]
	a.Receive(buf[0], collect(&buf))
	buf = buf[1:]
	if len(buf) > 0 {
		b.Receive(buf[0], collect(&buf))
	}
	if a.State() != Established || b.State() != Established {
		t.Fatalf("handshake incomplete: A=%v B=%v", a.State(), b.State())
	}
}

// TestOrderedDeliveryThroughReorderer checks that two segments, delivered
// to the receiver half out of order, still reassemble into the correct
// byte stream and the correct cumulative ackno.
func TestOrderedDeliveryThroughReorderer(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, false)

	seg1 := segment.Message{Sender: segment.Sender{Seqno: 1, Payload: []byte("hello")}}
	seg2 := segment.Message{Sender: segment.Sender{Seqno: 6, Payload: []byte("world")}}
	syn := segment.Message{Sender: segment.Sender{Seqno: 0, SYN: true}}

	var out []segment.Message
	b.Receive(syn, collect(&out))
	b.Receive(seg2, collect(&out))
	b.Receive(seg1, collect(&out))

	got := b.Inbound().Pop(10)
	if string(got) != "helloworld" {
		t.Fatalf("got %q", got)
	}
	lastAck := out[len(out)-1].Receiver.Ackno
	if !lastAck.Present() || lastAck.Value() != wrap32.Wrap32(11) {
		t.Fatalf("ackno = %+v, want present(11)", lastAck)
	}
}

func TestCleanClose(t *testing.T) {
	cfgA, cfgB := DefaultConfig(), DefaultConfig()
	cfgA.ISN, cfgB.ISN = 0, 0
	a, b := New(cfgA, true), New(cfgB, false)
	handshake(t, a, b)

	a.Close()
	var fromA, fromB []segment.Message
	a.Push(collect(&fromA))
	if len(fromA) == 0 || !fromA[len(fromA)-1].Sender.FIN {
		t.Fatalf("expected a FIN to be sent: %+v", fromA)
	}

	for _, m := range fromA {
		b.Receive(m, collect(&fromB))
	}
	if !b.Inbound().IsFinished() {
		t.Fatal("B's inbound stream not finished after A's FIN")
	}

	for _, m := range fromB {
		a.Receive(m, collect(&fromA))
	}
	if a.State() != FinWait {
		t.Fatalf("A state after its own FIN is acked but B hasn't closed = %v, want FIN_WAIT", a.State())
	}

	// B has nothing more to say either; once it closes, its FIN reaches A
	// and the connection completes its teardown.
	b.Close()
	var fromB2 []segment.Message
	b.Push(collect(&fromB2))
	for _, m := range fromB2 {
		a.Receive(m, collect(&fromA))
	}
	if a.State() != TimeWait && a.State() != Closed {
		t.Fatalf("A state after both FINs exchanged = %v, want TIME_WAIT or CLOSED", a.State())
	}
}

func TestPassiveCloseSkipsTimeWait(t *testing.T) {
	cfgA, cfgB := DefaultConfig(), DefaultConfig()
	a, b := New(cfgA, true), New(cfgB, false)
	handshake(t, a, b)

	// A closes first, making B the passive closer.
	a.Close()
	var fromA, fromB []segment.Message
	a.Push(collect(&fromA))
	for _, m := range fromA {
		b.Receive(m, collect(&fromB))
	}
	if b.State() != CloseWait {
		t.Fatalf("B state = %v, want CLOSE_WAIT", b.State())
	}
	for _, m := range fromB {
		a.Receive(m, collect(&fromA))
	}

	b.Close()
	fromB = nil
	b.Push(collect(&fromB))
	if b.State() != LastAck {
		t.Fatalf("B state = %v, want LAST_ACK", b.State())
	}

	var acks []segment.Message
	for _, m := range fromB {
		a.Receive(m, collect(&acks))
	}
	for _, m := range acks {
		b.Receive(m, collect(&fromB))
	}
	if b.State() != Closed {
		t.Fatalf("B state = %v, want CLOSED after its FIN is acked", b.State())
	}
}

func TestRstLatchesFatal(t *testing.T) {
	cfgA, cfgB := DefaultConfig(), DefaultConfig()
	a, b := New(cfgA, true), New(cfgB, false)
	handshake(t, a, b)

	var fromB []segment.Message
	b.Receive(segment.Message{Sender: segment.Sender{RST: true}}, collect(&fromB))
	if !b.Errored() {
		t.Fatal("B not marked errored after receiving RST")
	}
	if b.State() != Closed {
		t.Fatalf("B state = %v, want CLOSED", b.State())
	}
}

func TestRetxLimitFailsConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRTO = 1
	a := New(cfg, true)
	var out []segment.Message
	a.Outbound().Push([]byte("x"))
	a.Push(collect(&out))

	for i := 0; i < 20 && !a.Errored(); i++ {
		a.Tick(100000, collect(&out))
	}
	if !a.Errored() {
		t.Fatal("connection never latched fatal after repeated retransmission timeouts")
	}
	if a.State() != Closed {
		t.Fatalf("state = %v, want CLOSED", a.State())
	}
}

// TestProbeIdleKeepAlive checks that Probe transmits a segment on an
// established, otherwise-idle connection, and is a no-op once CLOSED.
func TestProbeIdleKeepAlive(t *testing.T) {
	cfgA, cfgB := DefaultConfig(), DefaultConfig()
	a, b := New(cfgA, true), New(cfgB, false)
	handshake(t, a, b)

	var out []segment.Message
	a.Probe(collect(&out))
	if len(out) != 1 {
		t.Fatalf("Probe() sent %d segments, want 1", len(out))
	}
	if out[0].Sender.SYN || out[0].Sender.FIN {
		t.Fatalf("probe segment carries flags it shouldn't: %+v", out[0].Sender)
	}

	a.fail(collect(&out))
	out = nil
	a.Probe(collect(&out))
	if len(out) != 0 {
		t.Fatalf("Probe() on a CLOSED connection sent %d segments, want 0", len(out))
	}
}
