// Package rconn implements Connection: the component that composes a
// sender half and a receiver half into the endpoint-level state machine,
// including the LISTEN..CLOSED lifecycle and TIME_WAIT lingering.
package rconn

import (
	"math/rand"

	"github.com/rdtproto/rdt/bytestream"
	"github.com/rdtproto/rdt/receiver"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/sender"
	"github.com/rdtproto/rdt/wrap32"
)

// State enumerates the connection-level states.
type State int

const (
	Listen State = iota
	SynSent
	SynRcvd
	Established
	FinWait
	CloseWait
	LastAck
	TimeWait
	Closed
)

func (s State) String() string {
	switch s {
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynRcvd:
		return "SYN_RCVD"
	case Established:
		return "ESTABLISHED"
	case FinWait:
		return "FIN_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	case TimeWait:
		return "TIME_WAIT"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// LingerMultiple is how many initial_RTOs the connection waits in
// TIME_WAIT before declaring itself CLOSED, mirroring the common
// ten-retransmission-timeout convention for a clean teardown.
const LingerMultiple = 10

// Transmit is called with a full protocol message ready for the wire.
type Transmit func(segment.Message)

// Config carries the connection's tunable knobs.
type Config struct {
	Capacity   int
	InitialRTO uint32
	ISN        wrap32.Wrap32
	// RandomizeISN, when true and ISN is zero, picks a random ISN instead
	// of zero (useful for a real dialer; tests want determinism).
	RandomizeISN bool
}

// DefaultConfig returns the recommended knob values.
func DefaultConfig() Config {
	return Config{
		Capacity:   65535,
		InitialRTO: 1000,
	}
}

// Connection glues a sender half and receiver half into one endpoint,
// tracking the derived connection-level state and linger timer.
type Connection struct {
	cfg Config

	sender   *sender.Half
	receiver *receiver.Half

	state State

	needSend bool

	lingerElapsed uint32
	lingering     bool

	errored bool
}

// New creates a connection in LISTEN state (passive open) if active is
// false, or SYN_SENT (active open, transmitting an initial SYN via the
// first Push) if active is true.
func New(cfg Config, active bool) *Connection {
	isn := cfg.ISN
	if isn == 0 && cfg.RandomizeISN {
		// Zero is excluded: an ackno of exactly zero encodes "absent" on
		// the wire, so a peer's cumulative ack of our ISN must be nonzero.
		for isn == 0 {
			isn = wrap32.Wrap32(rand.Uint32())
		}
	}

	outbound := bytestream.New(cfg.Capacity)
	inbound := bytestream.New(cfg.Capacity)

	c := &Connection{
		cfg:      cfg,
		sender:   sender.New(outbound, isn, cfg.InitialRTO),
		receiver: receiver.New(inbound, cfg.Capacity),
		state:    Listen,
	}
	if active {
		c.state = SynSent
	}
	return c
}

// State returns the connection's current derived state.
func (c *Connection) State() State { return c.state }

// Outbound returns the application-facing outbound stream.
func (c *Connection) Outbound() *bytestream.ByteStream { return c.sender.Outbound() }

// Inbound returns the application-facing inbound stream.
func (c *Connection) Inbound() *bytestream.ByteStream { return c.receiver.Inbound() }

// Errored reports whether the connection has latched a fatal error (RST
// sent/received, or the retransmission limit exceeded).
func (c *Connection) Errored() bool { return c.errored }

// Active reports whether the connection is not yet CLOSED.
func (c *Connection) Active() bool { return c.state != Closed }

// Push drains the outbound stream through the sender, transmitting full
// protocol messages (sender segment paired with the receiver's current
// ack/window state) via transmit.
func (c *Connection) Push(transmit Transmit) {
	c.sender.Push(func(s segment.Sender) {
		transmit(segment.Message{Sender: s, Receiver: c.receiver.Send()})
	})
	c.advanceState()
}

// Probe transmits a keep-alive segment carrying no new sequence space: a
// plain make_empty_message/receiver.Send() pair. The socket layer calls
// this on an otherwise idle connection so NAT mappings on the path don't
// time the connection out between real segments.
func (c *Connection) Probe(transmit Transmit) {
	if c.state == Closed {
		return
	}
	transmit(segment.Message{Sender: c.sender.MakeEmptyMessage(), Receiver: c.receiver.Send()})
}

// Receive processes one inbound protocol message, updating both halves,
// draining any resulting outbound traffic, and latching a fatal RST if
// either half has errored.
func (c *Connection) Receive(msg segment.Message, transmit Transmit) {
	if c.state == Closed {
		return
	}

	ourAckno := c.receiver.Send().Ackno
	c.needSend = c.needSend || msg.Sender.SequenceLength() > 0
	if ourAckno.Present() && msg.Sender.Seqno+1 == ourAckno.Value() {
		c.needSend = true
	}

	c.receiver.Receive(msg.Sender)
	c.sender.Receive(msg.Receiver)

	sentAny := false
	c.sender.Push(func(s segment.Sender) {
		sentAny = true
		transmit(segment.Message{Sender: s, Receiver: c.receiver.Send()})
	})

	if !sentAny && c.needSend {
		transmit(segment.Message{Sender: c.sender.MakeEmptyMessage(), Receiver: c.receiver.Send()})
	}
	c.needSend = false

	c.advanceState()
	c.checkFatal(transmit)
}

// Tick advances the retransmission timer and the TIME_WAIT linger clock.
func (c *Connection) Tick(msElapsed uint32, transmit Transmit) {
	if c.state == Closed {
		return
	}

	fatal := c.sender.Tick(msElapsed, func(s segment.Sender) {
		transmit(segment.Message{Sender: s, Receiver: c.receiver.Send()})
	})
	if fatal {
		c.fail(transmit)
		return
	}

	if c.lingering {
		c.lingerElapsed += msElapsed
		if c.lingerElapsed >= uint64ToU32(uint64(c.cfg.InitialRTO)*LingerMultiple) {
			c.state = Closed
			c.lingering = false
		}
	}

	c.advanceState()
}

// Close initiates application-driven teardown by closing the outbound
// stream, so the next Push schedules a FIN. It does not change the state
// itself; a CLOSE_WAIT connection moves to LAST_ACK once that FIN is sent.
func (c *Connection) Close() {
	c.sender.Outbound().Close()
}

func (c *Connection) checkFatal(transmit Transmit) {
	if c.errored {
		return
	}
	if c.sender.Outbound().HasError() || c.receiver.Inbound().HasError() {
		c.fail(transmit)
		return
	}
	if c.sender.ConsecutiveRetransmissions() > sender.MaxRetxAttempts {
		c.fail(transmit)
	}
}

func (c *Connection) fail(transmit Transmit) {
	c.errored = true
	seg := c.sender.MakeEmptyMessage()
	seg.RST = true
	rcv := c.receiver.Send()
	rcv.RST = true
	transmit(segment.Message{Sender: seg, Receiver: rcv})
	c.state = Closed
	c.lingering = false
}

// advanceState derives the connection-level state from the two halves'
// observable progress.
func (c *Connection) advanceState() {
	if c.state == Closed || c.errored {
		return
	}

	synAcked := c.sender.NextSeqno() > 0 && c.sender.AckSeqno() >= 1
	peerSynSeen := c.receiver.SynReceived()

	switch c.state {
	case Listen:
		if peerSynSeen {
			c.state = SynRcvd
		}
	case SynSent:
		if peerSynSeen {
			c.state = Established
		}
	case SynRcvd:
		if synAcked {
			c.state = Established
		}
	}

	if c.state == Established || c.state == SynRcvd {
		localFinSent := c.localFinSent()
		localFinAcked := localFinSent && c.sender.BytesInFlight() == 0
		peerFinSeen := c.receiver.FinReceived() && c.receiver.Inbound().IsFinished()

		switch {
		case localFinAcked && peerFinSeen:
			c.enterLinger()
		case localFinAcked && !peerFinSeen:
			c.state = FinWait
		case peerFinSeen && !localFinSent:
			c.state = CloseWait
		}
	}

	switch c.state {
	case FinWait:
		if c.receiver.FinReceived() && c.receiver.Inbound().IsFinished() {
			c.enterLinger()
		}
	case CloseWait:
		if c.localFinSent() {
			c.state = LastAck
		}
	case LastAck:
		// The passive closer needs no TIME_WAIT: once its FIN is acked
		// there is nothing left the peer could retransmit to it.
		if c.localFinSent() && c.sender.BytesInFlight() == 0 {
			c.state = Closed
		}
	}
}

func (c *Connection) enterLinger() {
	if c.cfg.InitialRTO == 0 {
		c.state = Closed
		return
	}
	c.state = TimeWait
	c.lingering = true
	c.lingerElapsed = 0
}

func (c *Connection) localFinSent() bool {
	return c.sender.FinSent()
}

func uint64ToU32(n uint64) uint32 {
	const max = ^uint32(0)
	if n > uint64(max) {
		return max
	}
	return uint32(n)
}
