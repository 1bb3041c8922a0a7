// Package socket binds a Connection to a net.PacketConn: it runs the
// read loop that feeds inbound datagrams to rconn.Connection.Receive,
// a ticker that drives rconn.Connection.Tick, and a batched writer for
// outbound datagrams, mirroring the UDPSession/tx/readloop split used
// by kcp-go's session layer. One Socket serves exactly one peer; a
// Listener demultiplexes only the first inbound SYN to its one
// accepted Socket.
package socket

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/rdtproto/rdt/bytestream"
	"github.com/rdtproto/rdt/rconn"
	"github.com/rdtproto/rdt/segment"
	"github.com/rdtproto/rdt/wire"
)

// tickInterval is how often the retransmission/linger timer fires.
// kcp-go's UDPSession uses a fixed-granularity internal clock for the
// same purpose (see its updateTask/interval handling); a single fixed
// interval is simpler and sufficient here since current_RTO is always
// a multiple of it in practice.
const tickInterval = 10 * time.Millisecond

// idleKeepAliveInterval is how long a connection may go without any
// segment crossing the wire (in either direction) before this side emits
// an unsolicited probe, the same role kcptun's "-keepalive" smux setting
// plays one layer up, but here guarding the RDT connection itself against
// NAT mapping expiry independent of whatever the multiplexer decides to do.
const idleKeepAliveInterval = 15 * time.Second

// batchConn mirrors kcp-go's platform_linux.go batchConn: the subset
// of ipv4.PacketConn/ipv6.PacketConn this package uses for batched
// datagram I/O when the underlying net.PacketConn is a *net.UDPConn.
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// newBatchConn returns a batchConn for conn if it is UDP-backed, or nil
// if batched I/O isn't available (e.g. conn is an in-memory pipe used
// by tests).
func newBatchConn(conn net.PacketConn) batchConn {
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", udp.LocalAddr().String())
	if err != nil || addr.IP.To4() == nil {
		return ipv6.NewPacketConn(udp)
	}
	return ipv4.NewPacketConn(udp)
}

// Socket is one endpoint of a connection, bound to exactly one remote
// peer.
type Socket struct {
	conn   net.PacketConn
	remote net.Addr
	c      *rconn.Connection
	batch  batchConn

	// connMu serializes every mutation of c: the read loop, the tick
	// loop, application writes, and Close all funnel through withConn.
	// The two ByteStreams carry their own locks, so the pure read-side
	// accessors (Inbound/Outbound stream operations) stay lock-free here.
	connMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	closeErr error

	writeBuf []ipv4.Message // reused scratch space for batched writes

	// lastActivity is a UnixNano timestamp of the most recent segment
	// sent or received, used by tickLoop to decide when to emit an idle
	// keep-alive probe. Accessed without the mutex via atomic ops since
	// it's touched from both readLoop and transmit.
	lastActivity int64
}

func (s *Socket) touch() { atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano()) }

// newSocket wraps conn/remote/c into a running Socket: it starts the
// read loop and the tick loop as background goroutines.
func newSocket(conn net.PacketConn, remote net.Addr, c *rconn.Connection) *Socket {
	s := &Socket{
		conn:   conn,
		remote: remote,
		c:      c,
		batch:  newBatchConn(conn),
	}
	s.touch()
	go s.readLoop()
	go s.tickLoop()
	return s
}

// Dial creates an actively-opening Socket: it sends the initial SYN
// immediately and begins the read/tick loops.
func Dial(conn net.PacketConn, remote net.Addr, cfg rconn.Config) *Socket {
	cfg.RandomizeISN = true
	c := rconn.New(cfg, true)
	s := newSocket(conn, remote, c)
	s.Flush()
	return s
}

// Connection returns the underlying protocol state machine, through
// which the application reads Outbound()/Inbound() streams.
func (s *Socket) Connection() *rconn.Connection { return s.c }

// Outbound is a convenience accessor for the application write side.
func (s *Socket) Outbound() *bytestream.ByteStream { return s.c.Outbound() }

// Inbound is a convenience accessor for the application read side.
func (s *Socket) Inbound() *bytestream.ByteStream { return s.c.Inbound() }

// Read implements io.Reader (and thus net.Conn) over the inbound
// stream, blocking on ReadReady until bytes are available, the stream
// is finished, or it has errored. This lets a Socket stand in for the
// net.Conn a stream multiplexer like smux expects, the way
// UDPSession.Read stands in for kcp-go.
func (s *Socket) Read(p []byte) (int, error) {
	in := s.c.Inbound()
	for {
		if n := in.BytesBuffered(); n > 0 {
			return copy(p, in.Pop(len(p))), nil
		}
		if in.HasError() {
			return 0, errors.New("socket: inbound stream errored")
		}
		if in.IsFinished() {
			return 0, io.EOF
		}
		<-in.ReadReady()
	}
}

// Write implements io.Writer (and thus net.Conn) over the outbound
// stream, blocking on WriteReady until the stream has capacity.
func (s *Socket) Write(p []byte) (int, error) {
	out := s.c.Outbound()
	written := 0
	for written < len(p) {
		if out.HasError() {
			return written, errors.New("socket: outbound stream errored")
		}
		chunk := p[written:]
		if avail := out.AvailableCapacity(); avail < len(chunk) {
			chunk = chunk[:avail]
		}
		if len(chunk) == 0 {
			<-out.WriteReady()
			continue
		}
		if err := out.Push(chunk); err != nil {
			return written, errors.WithStack(err)
		}
		written += len(chunk)
		s.Flush()
	}
	return written, nil
}

// Flush drains whatever the outbound stream and window currently allow
// onto the wire.
func (s *Socket) Flush() {
	s.withConn(func(transmit rconn.Transmit) {
		s.c.Push(transmit)
	})
}

// LocalAddr and RemoteAddr satisfy net.Conn.
func (s *Socket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Socket) RemoteAddr() net.Addr { return s.remote }

// SetDeadline, SetReadDeadline, and SetWriteDeadline satisfy net.Conn
// but are not meaningful at this layer (the underlying ByteStream has
// no deadline concept); they are no-ops, matching how many in-process
// net.Conn adapters in the ecosystem treat deadlines they can't honor.
func (s *Socket) SetDeadline(t time.Time) error      { return nil }
func (s *Socket) SetReadDeadline(t time.Time) error  { return nil }
func (s *Socket) SetWriteDeadline(t time.Time) error { return nil }

// Close closes the outbound stream (scheduling a FIN) and flushes it,
// mirroring UDPSession.Close's graceful-shutdown intent; it does not
// tear down the read/tick goroutines, which stop on their own once the
// connection reaches CLOSED.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	s.mu.Unlock()

	s.c.Close()
	s.Flush()
	return nil
}

// withConn runs f holding the connection lock, collecting every segment
// f transmits and flushing them to the peer as one writeDatagrams batch.
// The lock also covers the flush, so batches from concurrent callers
// reach the wire in the order their state changes were applied.
func (s *Socket) withConn(f func(rconn.Transmit)) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	var payloads [][]byte
	f(func(msg segment.Message) {
		s.touch()
		payloads = append(payloads, wire.Marshal(msg))
	})
	if err := s.writeDatagrams(payloads); err != nil {
		s.c.Outbound().SetError()
	}
}

func (s *Socket) active() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.c.Active()
}

// readLoop is this package's analogue of kcp-go's readLoop: it pulls
// datagrams off the wire, decodes them, and feeds matching ones to the
// connection. Datagrams from an unexpected peer address are dropped
// silently, same as any other malformed input.
func (s *Socket) readLoop() {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.c.Outbound().SetError()
			s.c.Inbound().SetError()
			return
		}
		if s.remote != nil && addr.String() != s.remote.String() {
			continue
		}
		msg, err := wire.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		s.touch()
		s.withConn(func(transmit rconn.Transmit) {
			s.c.Receive(msg, transmit)
		})
		if !s.active() {
			return
		}
	}
}

// tickLoop drives retransmission and TIME_WAIT lingering at a fixed
// granularity, stopping once the connection reaches CLOSED.
func (s *Socket) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	ms := uint32(tickInterval / time.Millisecond)
	for range ticker.C {
		s.withConn(func(transmit rconn.Transmit) {
			s.c.Tick(ms, transmit)
		})
		if !s.active() {
			return
		}
		last := time.Unix(0, atomic.LoadInt64(&s.lastActivity))
		if time.Since(last) >= idleKeepAliveInterval {
			s.withConn(func(transmit rconn.Transmit) {
				s.c.Probe(transmit)
			})
		}
	}
}

// writeDatagrams flushes a batch of already-marshaled datagrams via
// WriteBatch when available, falling back to one WriteTo per datagram
// otherwise. This mirrors kcp-go's defaultTx/batched-tx split in
// tx_linux.go, simplified to this package's single-peer destination.
func (s *Socket) writeDatagrams(payloads [][]byte) error {
	if s.batch == nil || len(payloads) < 2 {
		for _, p := range payloads {
			if _, err := s.conn.WriteTo(p, s.remote); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	if cap(s.writeBuf) < len(payloads) {
		s.writeBuf = make([]ipv4.Message, len(payloads))
	}
	msgs := s.writeBuf[:len(payloads)]
	for i, p := range payloads {
		msgs[i].Buffers = [][]byte{p}
		msgs[i].Addr = s.remote
	}

	for len(msgs) > 0 {
		n, err := s.batch.WriteBatch(msgs, 0)
		if err != nil {
			return errors.WithStack(err)
		}
		msgs = msgs[n:]
	}
	return nil
}

// Listener accepts exactly one inbound connection; a second SYN from a
// different address is ignored once a Socket has been accepted.
type Listener struct {
	conn net.PacketConn
	cfg  rconn.Config

	mu       sync.Mutex
	accepted *Socket
	done     chan struct{}
}

// Listen creates a Listener bound to conn, waiting in LISTEN state for
// the first SYN.
func Listen(conn net.PacketConn, cfg rconn.Config) *Listener {
	return &Listener{conn: conn, cfg: cfg, done: make(chan struct{})}
}

// Accept blocks until a peer's SYN arrives, then returns the Socket
// bound to that peer.
func (l *Listener) Accept() (*Socket, error) {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		msg, err := wire.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		if !msg.Sender.SYN {
			continue
		}

		c := rconn.New(l.cfg, false)
		s := newSocket(l.conn, addr, c)
		s.withConn(func(transmit rconn.Transmit) {
			s.c.Receive(msg, transmit)
		})

		l.mu.Lock()
		l.accepted = s
		l.mu.Unlock()
		close(l.done)
		return s, nil
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.conn.Close() }
